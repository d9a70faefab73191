//go:build !windows

package hostcheck

import "os/user"

type unsupportedAdminChecker struct{}

// NewAdminChecker returns the host's AdminChecker. Outside Windows privilege is
// decided by the effective user id, so every lookup fails.
func NewAdminChecker() AdminChecker {
	return unsupportedAdminChecker{}
}

func (unsupportedAdminChecker) IsAdmin(string) (bool, error) {
	return false, ErrAdminCheckUnsupported
}

func currentAccount() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}
