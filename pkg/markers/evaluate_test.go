package markers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/715d/skipmarkers/pkg/hostcheck"
	"github.com/715d/skipmarkers/pkg/platform"
)

// host describes a simulated machine.
type host struct {
	goos     string
	machine  string
	binaries []string
	env      map[string]string
	noLocal  bool
	noRemote bool
	euid     int
	fips     bool
}

type stubListener struct{}

func (stubListener) Accept() (net.Conn, error) { return nil, net.ErrClosed }
func (stubListener) Close() error              { return nil }
func (stubListener) Addr() net.Addr            { return &net.TCPAddr{} }

func (h host) probes() *platform.Prober {
	return platform.New(platform.Options{
		GOOS:       h.goos,
		Uname:      func() (platform.Uname, error) { return platform.Uname{Machine: h.machine}, nil },
		Fs:         afero.NewMemMapFs(),
		LookPath:   func(string) (string, error) { return "", errors.New("not found") },
		Run:        func(string, ...string) ([]byte, error) { return nil, errors.New("not run") },
		FIPSModule: func() bool { return h.fips },
		Digest:     func() error { return nil },
	})
}

func (h host) checks() *hostcheck.Checker {
	windows := false
	return hostcheck.New(hostcheck.Options{
		LookPath: func(file string) (string, error) {
			if slices.Contains(h.binaries, file) {
				return "/usr/bin/" + file, nil
			}
			return "", errors.New("executable file not found in $PATH")
		},
		LookupEnv: func(key string) (string, bool) {
			v, ok := h.env[key]
			return v, ok
		},
		Listen: func(string, string) (net.Listener, error) {
			if h.noLocal {
				return nil, errors.New("bind: cannot assign requested address")
			}
			return stubListener{}, nil
		},
		Dial: func(context.Context, string, string) (net.Conn, error) {
			if h.noRemote {
				return nil, errors.New("connect: network is unreachable")
			}
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		},
		Windows: &windows,
		Geteuid: func() int { return h.euid },
	})
}

func (h host) evaluator() *Evaluator {
	return NewEvaluator(EvaluatorOptions{
		Probes: h.probes(),
		Checks: h.checks(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

var linuxHost = host{goos: "linux", machine: "x86_64", binaries: []string{"sh"}}

func TestEvaluateNoMarkers(t *testing.T) {
	out := linuxHost.evaluator().Evaluate(nil, Toggles{})
	require.Equal(t, Proceed, out.Kind)
	require.Empty(t, out.Reason)
	require.NoError(t, out.Err())
}

func TestToggleMarkers(t *testing.T) {
	tests := []struct {
		name    string
		marker  Marker
		toggles Toggles
		want    Kind
		reason  string
	}{
		{"destructive disabled", New("destructive_test"), Toggles{}, Skip, "Destructive tests are disabled"},
		{"destructive enabled", New("destructive_test"), Toggles{RunDestructive: true}, Proceed, ""},
		{"expensive disabled", New("expensive_test"), Toggles{RunDestructive: true}, Skip, "Expensive tests are disabled"},
		{"expensive enabled", New("expensive_test"), Toggles{RunExpensive: true}, Proceed, ""},
		{
			"destructive with argument",
			New("destructive_test", "x"),
			Toggles{RunDestructive: true},
			Error,
			"The 'destructive_test' marker does not accept any arguments or keyword arguments",
		},
		{
			"expensive with keyword",
			New("expensive_test").Reason("why"),
			Toggles{},
			Error,
			"The 'expensive_test' marker does not accept any arguments or keyword arguments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := linuxHost.evaluator().Evaluate([]Marker{tt.marker}, tt.toggles)
			require.Equal(t, tt.want, out.Kind)
			require.Equal(t, tt.reason, out.Reason)
		})
	}
}

func TestSkipIfNotRoot(t *testing.T) {
	root := linuxHost
	root.euid = 0
	out := root.evaluator().Evaluate([]Marker{New("skip_if_not_root")}, Toggles{})
	require.Equal(t, Proceed, out.Kind)

	user := linuxHost
	user.euid = 1000
	out = user.evaluator().Evaluate([]Marker{New("skip_if_not_root")}, Toggles{})
	require.Equal(t, Skip, out.Kind)
	require.Equal(t, "You must be logged in as root to run this test", out.Reason)
	require.Equal(t, "skip_if_not_root", out.Marker)

	out = root.evaluator().Evaluate([]Marker{New("skip_if_not_root").Reason("x")}, Toggles{})
	require.Equal(t, Error, out.Kind)
	require.Equal(t, "The 'skip_if_not_root' marker does not accept any arguments or keyword arguments", out.Reason)
}

func TestPlatformPairs(t *testing.T) {
	hosts := map[string]host{
		"windows":           {goos: "windows", machine: "AMD64"},
		"linux":             {goos: "linux", machine: "x86_64"},
		"darwin":            {goos: "darwin", machine: "arm64"},
		"sunos":             {goos: "sunos5", machine: "i86pc"},
		"freebsd":           {goos: "freebsd", machine: "amd64"},
		"netbsd":            {goos: "netbsd", machine: "amd64"},
		"openbsd":           {goos: "openbsd", machine: "amd64"},
		"aix":               {goos: "aix", machine: "ppc64"},
		"aarch64":           {goos: "linux", machine: "aarch64"},
		"spawning_platform": {goos: "darwin", machine: "x86_64"},
	}

	for key, h := range hosts {
		t.Run(key, func(t *testing.T) {
			pair, ok := findPair(key)
			require.True(t, ok)

			out := h.evaluator().Evaluate([]Marker{New("skip_on_" + key)}, Toggles{})
			require.Equal(t, Skip, out.Kind)
			require.Equal(t, pair.defaultSkip(), out.Reason)

			out = h.evaluator().Evaluate([]Marker{New("skip_unless_on_" + key)}, Toggles{})
			require.Equal(t, Proceed, out.Kind)

			out = h.evaluator().Evaluate([]Marker{New("skip_on_" + key).Reason("custom")}, Toggles{})
			require.Equal(t, Skip, out.Kind)
			require.Equal(t, "custom", out.Reason)
		})
	}
}

func findPair(key string) (platformPair, bool) {
	for _, p := range platformPairs {
		if p.key == key {
			return p, true
		}
	}
	return platformPair{}, false
}

func (pp platformPair) defaultSkip() string {
	if pp.skipReason != "" {
		return pp.skipReason
	}
	return "Skipped on " + pp.display
}

func TestPlatformPairDefaultReasons(t *testing.T) {
	tests := []struct {
		marker string
		reason string
	}{
		{"skip_unless_on_windows", "Platform is not Windows, skipped"},
		{"skip_unless_on_darwin", "Platform is not Darwin, skipped"},
		{"skip_unless_on_smartos", "Platform is not SmartOS, skipped"},
		{"skip_unless_on_aarch64", "Platform is not AArch64, skipped"},
		{"skip_unless_on_photonos", "Platform is not Photon OS, skipped"},
		{"skip_unless_on_spawning_platform", "Platform does not default multiprocessing to spawn, skipped"},
		{"skip_on_linux", "Skipped on Linux"},
	}

	for _, tt := range tests {
		t.Run(tt.marker, func(t *testing.T) {
			out := linuxHost.evaluator().Evaluate([]Marker{New(tt.marker)}, Toggles{})
			require.Equal(t, Skip, out.Kind)
			require.Equal(t, tt.reason, out.Reason)
			require.Equal(t, tt.marker, out.Marker)
		})
	}
}

func TestPlatformPairValidation(t *testing.T) {
	tests := []struct {
		name   string
		marker Marker
		want   string
	}{
		{
			"positional argument",
			New("skip_on_windows", "now"),
			"The skip_on_windows marker does not accept any arguments",
		},
		{
			"unknown keyword",
			New("skip_unless_on_linux").With("why", "x"),
			"The skip_unless_on_linux marker only accepts 'reason' as a keyword argument.",
		},
		{
			"reason not a string",
			New("skip_on_fips_enabled_platform").With("reason", 3),
			"The 'reason' keyword argument of the skip_on_fips_enabled_platform marker must be a string, got int",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := linuxHost.evaluator().Evaluate([]Marker{tt.marker}, Toggles{})
			require.Equal(t, Error, out.Kind)
			require.Equal(t, tt.want, out.Reason)
			require.ErrorIs(t, out.Err(), ErrUsage)

			ue, ok := AsUsageError(out.Err())
			require.True(t, ok)
			require.Equal(t, tt.marker.Name, ue.Marker)
		})
	}
}

func TestSkipOnFIPS(t *testing.T) {
	fips := linuxHost
	fips.fips = true
	out := fips.evaluator().Evaluate([]Marker{New("skip_on_fips_enabled_platform")}, Toggles{})
	require.Equal(t, Skip, out.Kind)
	require.Equal(t, "Skipped on FIPS enabled platform", out.Reason)

	out = linuxHost.evaluator().Evaluate([]Marker{New("skip_on_fips_enabled_platform")}, Toggles{})
	require.Equal(t, Proceed, out.Kind)
}

func TestPlatformsMarkers(t *testing.T) {
	tests := []struct {
		name   string
		marker Marker
		kind   Kind
		reason string
	}{
		{"skip on match", New("skip_on_platforms").With("linux", true), Skip, "Skipped on platform match"},
		{"skip on no match", New("skip_on_platforms").With("windows", true).With("darwin", true), Proceed, ""},
		{"false value ignored", New("skip_on_platforms").With("windows", true).With("linux", false), Proceed, ""},
		{"unless on match", New("skip_unless_on_platforms").With("linux", true), Proceed, ""},
		{
			"unless on no match",
			New("skip_unless_on_platforms").With("windows", true),
			Skip,
			"Platform(s) do not match, skipped",
		},
		{"custom reason", New("skip_on_platforms").With("linux", true).Reason("nope"), Skip, "nope"},
		{
			"no platforms",
			New("skip_on_platforms"),
			Error,
			"Pass at least one platform to skip_on_platforms as a keyword argument",
		},
		{
			"only reason",
			New("skip_unless_on_platforms").Reason("x"),
			Error,
			"Pass at least one platform to skip_unless_on_platforms as a keyword argument",
		},
		{
			"no true value",
			New("skip_on_platforms").With("linux", false),
			Error,
			"Pass at least one platform with a True value to skip_on_platforms as a keyword argument",
		},
		{
			"unknown platform",
			New("skip_on_platforms").With("car", true),
			Error,
			`Passed an invalid platform to skip_on_platforms: unknown platform "car"`,
		},
		{
			"positional argument",
			New("skip_on_platforms", "linux"),
			Error,
			"The skip_on_platforms marker does not accept any arguments",
		},
		{
			"value not a bool",
			New("skip_on_platforms").With("linux", "yes"),
			Error,
			`Passed an invalid platform to skip_on_platforms: the value of "linux" must be a boolean`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := linuxHost.evaluator().Evaluate([]Marker{tt.marker}, Toggles{})
			require.Equal(t, tt.kind, out.Kind)
			require.Equal(t, tt.reason, out.Reason)
		})
	}
}

func TestSkipIfBinariesMissing(t *testing.T) {
	tests := []struct {
		name   string
		marker Marker
		kind   Kind
		reason string
	}{
		{"present", New("skip_if_binaries_missing", "sh"), Proceed, ""},
		{
			"missing",
			New("skip_if_binaries_missing", "sh", "definitely-not-a-real-binary-xyz"),
			Skip,
			"The 'definitely-not-a-real-binary-xyz' binary was not found",
		},
		{
			"any present",
			New("skip_if_binaries_missing", "definitely-not-a-real-binary-xyz", "sh").With("check_all", false),
			Proceed,
			"",
		},
		{
			"none present",
			New("skip_if_binaries_missing", "foo", "bar").With("check_all", false),
			Skip,
			"None of the following binaries was found: foo, bar",
		},
		{"custom reason", New("skip_if_binaries_missing", "foo").Reason("need foo"), Skip, "need foo"},
		{
			"no binaries",
			New("skip_if_binaries_missing"),
			Error,
			"The 'skip_if_binaries_missing' marker needs at least one binary name to be passed",
		},
		{
			"list argument",
			New("skip_if_binaries_missing", []string{"sh", "bash"}),
			Error,
			"The 'skip_if_binaries_missing' marker only accepts strings as arguments. If you are " +
				"trying to pass multiple binaries, each binary should be an separate argument.",
		},
		{
			"check_all not a bool",
			New("skip_if_binaries_missing", "sh").With("check_all", "yes"),
			Error,
			"The 'check_all' keyword argument of the skip_if_binaries_missing marker must be a boolean, got string",
		},
		{
			"unknown keyword",
			New("skip_if_binaries_missing", "sh").With("all", true),
			Error,
			"The 'skip_if_binaries_missing' marker only accepts 'check_all' and 'reason' as keyword arguments, got 'all'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := linuxHost.evaluator().Evaluate([]Marker{tt.marker}, Toggles{})
			require.Equal(t, tt.kind, out.Kind)
			require.Equal(t, tt.reason, out.Reason)
			require.Empty(t, out.Warnings)
		})
	}
}

func TestSkipIfBinariesMissingDeprecatedMessage(t *testing.T) {
	var logs bytes.Buffer
	e := NewEvaluator(EvaluatorOptions{
		Probes: linuxHost.probes(),
		Checks: linuxHost.checks(),
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
	})

	m := New("skip_if_binaries_missing", "foo").With("message", "foo is gone")
	out := e.Evaluate([]Marker{m}, Toggles{})
	require.Equal(t, Skip, out.Kind)
	require.Equal(t, "foo is gone", out.Reason)
	require.Equal(t, []string{`Please stop passing 'message="foo is gone"' and instead pass 'reason="foo is gone"'`}, out.Warnings)
	require.Contains(t, logs.String(), "level=WARN")
	require.Contains(t, logs.String(), "marker=skip_if_binaries_missing")

	// Warnings are kept even when the binary is found.
	m = New("skip_if_binaries_missing", "sh").With("message", "sh is gone")
	out = e.Evaluate([]Marker{m}, Toggles{})
	require.Equal(t, Proceed, out.Kind)
	require.Len(t, out.Warnings, 1)
}

func TestRequiresNetwork(t *testing.T) {
	tests := []struct {
		name   string
		host   host
		marker Marker
		kind   Kind
		reason string
	}{
		{"all available", linuxHost, New("requires_network"), Proceed, ""},
		{
			"no local network",
			host{goos: "linux", noLocal: true},
			New("requires_network"),
			Skip,
			"No local network was detected",
		},
		{
			"no local network only local",
			host{goos: "linux", noLocal: true},
			New("requires_network").With("only_local_network", true),
			Skip,
			"No local network was detected",
		},
		{
			"no remote network",
			host{goos: "linux", noRemote: true},
			New("requires_network"),
			Skip,
			"No internet network connection was detected",
		},
		{
			"no remote network only local",
			host{goos: "linux", noRemote: true},
			New("requires_network").With("only_local_network", true),
			Proceed,
			"",
		},
		{
			"internet checks disabled",
			host{goos: "linux", env: map[string]string{hostcheck.DisableInternetEnv: "1"}},
			New("requires_network"),
			Skip,
			"Internet checks disabled by " + hostcheck.DisableInternetEnv,
		},
		{
			"positional argument",
			linuxHost,
			New("requires_network", true),
			Error,
			"The requires_network marker does not accept any arguments",
		},
		{
			"unknown keyword",
			linuxHost,
			New("requires_network").With("only_local", true),
			Error,
			"The requires_network marker only accepts 'only_local_network' as a keyword argument.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.host.evaluator().Evaluate([]Marker{tt.marker}, Toggles{})
			require.Equal(t, tt.kind, out.Kind)
			require.Equal(t, tt.reason, out.Reason)
		})
	}
}

func TestSkipOnEnv(t *testing.T) {
	h := linuxHost
	h.env = map[string]string{"FOO": "1"}

	tests := []struct {
		name   string
		marker Marker
		kind   Kind
		reason string
	}{
		{"present", New("skip_on_env", "FOO"), Skip, "Environment variable 'FOO' is present"},
		{"not present", New("skip_on_env", "BAR"), Proceed, ""},
		{"absent", New("skip_on_env", "BAR").With("present", false), Skip, "Environment variable 'BAR' is not present"},
		{"absent but set", New("skip_on_env", "FOO").With("present", false), Proceed, ""},
		{"eq match", New("skip_on_env", "FOO").With("eq", "1"), Skip, "Environment variable 'FOO' is equal to '1'"},
		{"eq mismatch", New("skip_on_env", "FOO").With("eq", "2"), Proceed, ""},
		{"ne mismatch", New("skip_on_env", "FOO").With("ne", "2"), Skip, "Environment variable 'FOO' is not equal to '2'"},
		{"ne match", New("skip_on_env", "FOO").With("ne", "1"), Proceed, ""},
		{"eq unquoted int", New("skip_on_env", "FOO").With("eq", 1), Skip, "Environment variable 'FOO' is equal to '1'"},
		{"ne unquoted int", New("skip_on_env", "FOO").With("ne", 1), Proceed, ""},
		{"eq unquoted bool", New("skip_on_env", "FOO").With("eq", true), Proceed, ""},
		{
			"reason not a string",
			New("skip_on_env", "FOO").With("reason", 1),
			Error,
			"The 'reason' keyword argument of the skip_on_env marker must be a string, got int",
		},
		{"custom reason", New("skip_on_env", "FOO").Reason("foo set"), Skip, "foo set"},
		{
			"eq and ne",
			New("skip_on_env", "FOO").With("eq", "1").With("ne", "1"),
			Error,
			"Invalid 'skip_on_env' marker: 'eq' and 'ne' are mutually exclusive",
		},
		{
			"absent with eq",
			New("skip_on_env", "FOO").With("present", false).With("eq", "1"),
			Error,
			"Invalid 'skip_on_env' marker: 'present=false' cannot be combined with 'eq' or 'ne'",
		},
		{
			"no name",
			New("skip_on_env"),
			Error,
			"The 'skip_on_env' marker needs exactly one environment variable name to be passed",
		},
		{
			"name not a string",
			New("skip_on_env", 1),
			Error,
			"The 'skip_on_env' marker only accepts a non empty string as the environment variable name",
		},
		{
			"unknown keyword",
			New("skip_on_env", "FOO").With("value", "1"),
			Error,
			"The 'skip_on_env' marker only accepts 'present', 'eq', 'ne' and 'reason' as keyword arguments, got 'value'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := h.evaluator().Evaluate([]Marker{tt.marker}, Toggles{})
			require.Equal(t, tt.kind, out.Kind)
			require.Equal(t, tt.reason, out.Reason)
		})
	}
}

func TestEvaluationOrder(t *testing.T) {
	tests := []struct {
		name    string
		markers []Marker
		kind    Kind
		marker  string
	}{
		{
			"run gating before platform",
			[]Marker{New("skip_on_linux"), New("destructive_test")},
			Skip,
			"destructive_test",
		},
		{
			"skip before later usage error",
			[]Marker{New("skip_on_env"), New("skip_unless_on_windows")},
			Skip,
			"skip_unless_on_windows",
		},
		{
			"usage error before later skip",
			[]Marker{New("skip_on_linux"), New("skip_if_binaries_missing")},
			Error,
			"skip_if_binaries_missing",
		},
		{
			"pairs before platforms",
			[]Marker{New("skip_on_platforms").With("linux", true), New("skip_on_linux")},
			Skip,
			"skip_on_linux",
		},
		{
			"env before fips",
			[]Marker{New("skip_on_fips_enabled_platform", "x"), New("skip_on_env", "HOME").With("present", false)},
			Skip,
			"skip_on_env",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := linuxHost.evaluator().Evaluate(tt.markers, Toggles{})
			require.Equal(t, tt.kind, out.Kind)
			require.Equal(t, tt.marker, out.Marker)
		})
	}
}

func TestUnknownMarker(t *testing.T) {
	out := linuxHost.evaluator().Evaluate([]Marker{New("skip_on_linux"), New("skip_on_plan9")}, Toggles{})
	require.Equal(t, Error, out.Kind)
	require.Equal(t, `Unknown marker "skip_on_plan9"`, out.Reason)
	require.ErrorIs(t, out.Err(), ErrUsage)
}

func TestDuplicateMarkerLastWins(t *testing.T) {
	ms := []Marker{
		New("skip_on_linux").Reason("module level"),
		New("skip_on_linux").Reason("function level"),
	}
	out := linuxHost.evaluator().Evaluate(ms, Toggles{})
	require.Equal(t, Skip, out.Kind)
	require.Equal(t, "function level", out.Reason)
}

func TestEvaluateIdempotent(t *testing.T) {
	e := linuxHost.evaluator()
	ms := []Marker{
		New("skip_if_binaries_missing", "sh").With("message", "gone"),
		New("skip_unless_on_platforms").With("linux", true).With("darwin", true),
		New("skip_on_windows"),
	}

	first := e.Evaluate(ms, Toggles{})
	second := e.Evaluate(ms, Toggles{})
	require.Equal(t, first, second)
	require.Equal(t, Proceed, first.Kind)

	// Validators must not consume the caller's keywords.
	require.Equal(t, "gone", ms[0].Kwargs["message"])
	require.Len(t, ms[1].Kwargs, 2)
}

func TestEvaluateDefaultHost(t *testing.T) {
	restore := platform.SetDefault(host{goos: "freebsd"}.probes())
	defer restore()

	out := Evaluate([]Marker{New("skip_unless_on_freebsd")}, Toggles{})
	require.Equal(t, Proceed, out.Kind)

	out = Evaluate([]Marker{New("skip_on_freebsd")}, Toggles{})
	require.Equal(t, Skip, out.Kind)
	require.Equal(t, "Skipped on FreeBSD", out.Reason)
}
