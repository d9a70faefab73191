// Package usage holds tests with misused markers.
package usage
