//go:build windows

package hostcheck

import (
	"fmt"

	"golang.org/x/sys/windows"
)

type tokenAdminChecker struct{}

// NewAdminChecker returns an AdminChecker backed by the process token. Only the
// account running the process, or LocalSystem, can be answered.
func NewAdminChecker() AdminChecker {
	return tokenAdminChecker{}
}

func (tokenAdminChecker) IsAdmin(account string) (bool, error) {
	sid, _, _, err := windows.LookupSID("", account)
	if err != nil {
		return false, fmt.Errorf("looking up %q: %w", account, err)
	}
	if sid.IsWellKnown(windows.WinLocalSystemSid) {
		return true, nil
	}

	user, err := windows.GetCurrentProcessToken().GetTokenUser()
	if err != nil {
		return false, fmt.Errorf("reading process token: %w", err)
	}
	if !user.User.Sid.Equals(sid) {
		return false, fmt.Errorf("%w: %q is not the current account", ErrAdminCheckUnsupported, account)
	}

	admins, err := windows.CreateWellKnownSid(windows.WinBuiltinAdministratorsSid)
	if err != nil {
		return false, fmt.Errorf("creating administrators SID: %w", err)
	}
	// A zero token checks the calling thread's effective token.
	return windows.Token(0).IsMember(admins)
}

// currentAccount returns the process account name, or "SYSTEM" for LocalSystem.
func currentAccount() (string, error) {
	user, err := windows.GetCurrentProcessToken().GetTokenUser()
	if err != nil {
		return "", fmt.Errorf("reading process token: %w", err)
	}
	if user.User.Sid.IsWellKnown(windows.WinLocalSystemSid) {
		return systemAccount, nil
	}
	account, domain, _, err := user.User.Sid.LookupAccount("")
	if err != nil {
		return "", fmt.Errorf("looking up account: %w", err)
	}
	if domain == "" {
		return account, nil
	}
	return domain + `\` + account, nil
}
