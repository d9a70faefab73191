// Package harness runs the scanner over annotated Go modules under testdata and
// checks the decisions against simulated hosts described in expected.yaml.
package harness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"

	"github.com/spf13/afero"

	"github.com/715d/skipmarkers/pkg/hostcheck"
	"github.com/715d/skipmarkers/pkg/markers"
	"github.com/715d/skipmarkers/pkg/platform"
)

// HostConfig describes a simulated machine.
type HostConfig struct {
	// GOOS is the OS identity string, e.g. "linux" or "sunos5".
	GOOS string `yaml:"goos"`

	// Machine is the uname hardware name.
	Machine string `yaml:"machine,omitempty"`

	// KernelVersion is the uname version string.
	KernelVersion string `yaml:"kernel_version,omitempty"`

	// EUID is the effective user id of the test process.
	EUID int `yaml:"euid"`

	// Binaries resolve on the search path.
	Binaries []string `yaml:"binaries,omitempty"`

	// Env is the process environment.
	Env map[string]string `yaml:"env,omitempty"`

	// Files are written to the simulated filesystem, e.g. /etc/os-release.
	Files map[string]string `yaml:"files,omitempty"`

	// Sysctl is the output of "sysctl crypto.fips_enabled". Empty means the
	// tool is not installed.
	Sysctl string `yaml:"sysctl,omitempty"`

	// FIPSModule is the cryptographic module FIPS flag.
	FIPSModule bool `yaml:"fips_module,omitempty"`

	// NoLocalNetwork makes every local bind fail.
	NoLocalNetwork bool `yaml:"no_local_network,omitempty"`

	// NoRemoteNetwork makes every outbound connection fail.
	NoRemoteNetwork bool `yaml:"no_remote_network,omitempty"`
}

// ToggleConfig mirrors markers.Toggles.
type ToggleConfig struct {
	RunDestructive bool `yaml:"run_destructive"`
	RunExpensive   bool `yaml:"run_expensive"`
}

func (tc ToggleConfig) toggles() markers.Toggles {
	return markers.Toggles{RunDestructive: tc.RunDestructive, RunExpensive: tc.RunExpensive}
}

type stubListener struct{}

func (stubListener) Accept() (net.Conn, error) { return nil, net.ErrClosed }
func (stubListener) Close() error              { return nil }
func (stubListener) Addr() net.Addr            { return &net.TCPAddr{} }

var errSimulated = errors.New("simulated failure")

// Evaluator builds an evaluator that answers every probe from the host
// description.
func (h HostConfig) Evaluator() (*markers.Evaluator, error) {
	fs := afero.NewMemMapFs()
	for path, content := range h.Files {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			return nil, err
		}
	}

	lookPath := func(file string) (string, error) {
		if slices.Contains(h.Binaries, file) || file == "sysctl" && h.Sysctl != "" {
			return "/usr/bin/" + file, nil
		}
		return "", errSimulated
	}

	probes := platform.New(platform.Options{
		GOOS: h.GOOS,
		Uname: func() (platform.Uname, error) {
			return platform.Uname{Sysname: h.GOOS, Machine: h.Machine, Version: h.KernelVersion}, nil
		},
		Fs:       fs,
		LookPath: lookPath,
		Run: func(string, ...string) ([]byte, error) {
			if h.Sysctl == "" {
				return nil, errSimulated
			}
			return []byte(h.Sysctl), nil
		},
		FIPSModule: func() bool { return h.FIPSModule },
		Digest:     func() error { return nil },
	})

	windows := probes.IsWindows()
	checks := hostcheck.New(hostcheck.Options{
		LookPath: lookPath,
		LookupEnv: func(key string) (string, bool) {
			v, ok := h.Env[key]
			return v, ok
		},
		Listen: func(string, string) (net.Listener, error) {
			if h.NoLocalNetwork {
				return nil, errSimulated
			}
			return stubListener{}, nil
		},
		Dial: func(context.Context, string, string) (net.Conn, error) {
			if h.NoRemoteNetwork {
				return nil, errSimulated
			}
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		},
		Windows: &windows,
		Geteuid: func() int { return h.EUID },
		CurrentUser: func() (string, error) {
			if h.EUID == 0 {
				return "SYSTEM", nil
			}
			return `HOST\tester`, nil
		},
		Admin: adminChecker{},
	})

	return markers.NewEvaluator(markers.EvaluatorOptions{
		Probes: probes,
		Checks: checks,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}), nil
}

// adminChecker treats every non SYSTEM account as unprivileged.
type adminChecker struct{}

func (adminChecker) IsAdmin(string) (bool, error) { return false, nil }
