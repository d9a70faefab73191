// Package host holds tests that depend on the host environment.
package host
