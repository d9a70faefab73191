// Package hostcheck implements the environment predicates behind the skip
// markers: binaries on the search path, local and remote network reachability,
// environment variable conditions and process privilege.
//
// Each predicate returns a skip reason and whether the test must be skipped.
// Probe failures such as a refused bind or a missing tool are folded into that
// result and never returned as errors.
package hostcheck

import (
	"context"
	"net"
	"os"
	"os/exec"
	goruntime "runtime"
	"time"
)

// Options configures the host facilities a Checker uses. Zero fields fall back
// to the real host.
type Options struct {
	// LookPath resolves executables on the search path.
	LookPath func(file string) (string, error)

	// LookupEnv reads environment variables.
	LookupEnv func(key string) (string, bool)

	// Listen binds a listener for the local network check.
	Listen func(network, address string) (net.Listener, error)

	// Dial opens outbound connections for the remote network check.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)

	// DialTimeout bounds each outbound connection attempt.
	DialTimeout time.Duration

	// RemoteAddrs are the IPv4 addresses probed on port 80.
	RemoteAddrs []string

	// Windows selects the Windows privilege model. Defaults to runtime.GOOS.
	Windows *bool

	// Geteuid returns the effective user id on non-Windows hosts.
	Geteuid func() int

	// CurrentUser returns the account running the process on Windows hosts.
	CurrentUser func() (string, error)

	// Admin answers administrative group membership on Windows hosts.
	Admin AdminChecker
}

// Checker evaluates host predicates.
type Checker struct {
	lookPath    func(string) (string, error)
	lookupEnv   func(string) (string, bool)
	listen      func(string, string) (net.Listener, error)
	dial        func(context.Context, string, string) (net.Conn, error)
	dialTimeout time.Duration
	remoteAddrs []string
	windows     bool
	geteuid     func() int
	currentUser func() (string, error)
	admin       AdminChecker
}

// New creates a Checker from opts.
func New(opts Options) *Checker {
	c := &Checker{
		lookPath:    opts.LookPath,
		lookupEnv:   opts.LookupEnv,
		listen:      opts.Listen,
		dial:        opts.Dial,
		dialTimeout: opts.DialTimeout,
		remoteAddrs: opts.RemoteAddrs,
		windows:     goruntime.GOOS == "windows",
		geteuid:     opts.Geteuid,
		currentUser: opts.CurrentUser,
		admin:       opts.Admin,
	}
	if opts.Windows != nil {
		c.windows = *opts.Windows
	}
	if c.lookPath == nil {
		c.lookPath = exec.LookPath
	}
	if c.lookupEnv == nil {
		c.lookupEnv = os.LookupEnv
	}
	if c.listen == nil {
		c.listen = net.Listen
	}
	if c.dial == nil {
		var d net.Dialer
		c.dial = d.DialContext
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = DefaultDialTimeout
	}
	if c.remoteAddrs == nil {
		c.remoteAddrs = RemoteAddrs
	}
	if c.geteuid == nil {
		c.geteuid = os.Geteuid
	}
	if c.currentUser == nil {
		c.currentUser = currentAccount
	}
	if c.admin == nil {
		c.admin = NewAdminChecker()
	}
	return c
}

var defaultChecker = New(Options{})

// Default returns the checker backed by the real host.
func Default() *Checker {
	return defaultChecker
}

// BinariesMissing runs Checker.BinariesMissing on the real host.
func BinariesMissing(names []string, requireAll bool, reason string) (string, bool) {
	return defaultChecker.BinariesMissing(names, requireAll, reason)
}

// NoLocalNetwork runs Checker.NoLocalNetwork on the real host.
func NoLocalNetwork() (string, bool) { return defaultChecker.NoLocalNetwork() }

// NoRemoteNetwork runs Checker.NoRemoteNetwork on the real host.
func NoRemoteNetwork() (string, bool) { return defaultChecker.NoRemoteNetwork() }

// NotPrivileged runs Checker.NotPrivileged on the real host.
func NotPrivileged() (string, bool) { return defaultChecker.NotPrivileged() }

// Env runs Checker.EnvCondition on the real host.
func Env(cond EnvCondition) (string, bool, error) { return defaultChecker.EnvCondition(cond) }
