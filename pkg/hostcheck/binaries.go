package hostcheck

import (
	"fmt"
	"log/slog"
	"strings"
)

// BinariesMissing checks names against the search path. With requireAll every
// binary must resolve and the search stops at the first miss; otherwise one
// resolving binary is enough. A non-empty reason replaces the default message.
func (c *Checker) BinariesMissing(names []string, requireAll bool, reason string) (string, bool) {
	if !requireAll {
		for _, name := range names {
			if _, err := c.lookPath(name); err == nil {
				slog.Debug("found binary", "binary", name)
				return "", false
			}
		}
		if reason != "" {
			return reason, true
		}
		return "None of the following binaries was found: " + strings.Join(names, ", "), true
	}

	for _, name := range names {
		if _, err := c.lookPath(name); err != nil {
			if reason != "" {
				return reason, true
			}
			return fmt.Sprintf("The '%s' binary was not found", name), true
		}
	}
	slog.Debug("all binaries found", "binaries", names)
	return "", false
}
