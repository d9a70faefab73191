package hostcheck

import (
	"errors"
	"log/slog"
	"strings"
)

// ErrAdminCheckUnsupported is returned by AdminChecker implementations that
// cannot answer on the current host.
var ErrAdminCheckUnsupported = errors.New("administrator group lookup is not supported on this platform")

const (
	systemAccount = "SYSTEM"

	reasonNotRoot  = "You must be logged in as root to run this test"
	reasonNotAdmin = "You must be logged in as an Administrator to run this test"
)

// AdminChecker reports whether an account belongs to an administrative group.
type AdminChecker interface {
	IsAdmin(account string) (bool, error)
}

// NotPrivileged skips unless the process runs as root, or on Windows as the
// SYSTEM account or a member of an administrative group.
func (c *Checker) NotPrivileged() (string, bool) {
	if !c.windows {
		if c.geteuid() != 0 {
			return reasonNotRoot, true
		}
		return "", false
	}

	account, err := c.currentUser()
	if err != nil {
		slog.Debug("resolving current account", "error", err)
		return reasonNotAdmin, true
	}
	if strings.EqualFold(account, systemAccount) {
		return "", false
	}
	admin, err := c.admin.IsAdmin(account)
	if err != nil {
		slog.Debug("checking administrator membership", "account", account, "error", err)
		return reasonNotAdmin, true
	}
	if !admin {
		return reasonNotAdmin, true
	}
	return "", false
}
