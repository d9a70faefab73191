// Package platforms holds platform specific tests.
package platforms
