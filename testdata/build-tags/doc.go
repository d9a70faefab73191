// Package tagged holds tests behind build tags.
package tagged
