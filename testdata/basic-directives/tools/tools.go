// Package tools wraps command line tools.
package tools

// Version returns the wrapper version.
func Version() string { return "1.0.0" }
