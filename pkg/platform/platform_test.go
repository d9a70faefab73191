package platform

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// newTestProber builds a prober for a simulated host that has no FIPS signals.
func newTestProber(goos string, uname Uname) *Prober {
	return New(Options{
		GOOS:       goos,
		Uname:      func() (Uname, error) { return uname, nil },
		Fs:         afero.NewMemMapFs(),
		LookPath:   func(string) (string, error) { return "", errors.New("not found") },
		Run:        func(string, ...string) ([]byte, error) { return nil, errors.New("not run") },
		FIPSModule: func() bool { return false },
		Digest:     func() error { return nil },
	})
}

func TestFamilyMutualExclusivity(t *testing.T) {
	tests := []struct {
		goos   string
		family Family
	}{
		{"win32", Windows},
		{"windows", Windows},
		{"linux", Linux},
		{"darwin", Darwin},
		{"sunos5", SunOS},
		{"solaris", SunOS},
		{"illumos", SunOS},
		{"freebsd", FreeBSD},
		{"freebsd14", FreeBSD},
		{"netbsd", NetBSD},
		{"openbsd", OpenBSD},
		{"aix", AIX},
	}

	families := []Family{Windows, Linux, Darwin, SunOS, FreeBSD, NetBSD, OpenBSD, AIX}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			p := newTestProber(tt.goos, Uname{})
			for _, f := range families {
				require.Equal(t, f == tt.family, p.Is(f), "family %s for GOOS %q", f, tt.goos)
			}
		})
	}
}

func TestFamilyPrefixIsCaseSensitive(t *testing.T) {
	p := newTestProber("Linux", Uname{})
	require.False(t, p.IsLinux())
}

func TestIsSmartOS(t *testing.T) {
	tests := []struct {
		name    string
		goos    string
		version string
		want    bool
	}{
		{"sunos with joyent", "sunos5", "joyent_20240101T000000Z", true},
		{"illumos with joyent", "illumos", "joyent_", true},
		{"sunos without joyent", "sunos5", "joy", false},
		{"linux with joyent", "linux", "joyent_20240101T000000Z", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProber(tt.goos, Uname{Version: tt.version})
			require.Equal(t, tt.want, p.IsSmartOS())
		})
	}
}

func TestIsSmartOSUnameFailure(t *testing.T) {
	p := New(Options{
		GOOS:  "sunos5",
		Uname: func() (Uname, error) { return Uname{}, errors.New("no uname") },
	})
	require.False(t, p.IsSmartOS())
}

func TestIsAArch64(t *testing.T) {
	tests := []struct {
		name    string
		goos    string
		machine string
		want    bool
	}{
		{"linux aarch64", "linux", "aarch64", true},
		{"linux aarch64_be", "linux", "aarch64_be", true},
		{"darwin aarch64", "darwin", "aarch64", true},
		{"darwin arm64", "darwin", "arm64", true},
		{"linux arm64", "linux", "arm64", false},
		{"freebsd arm64", "freebsd", "arm64", false},
		{"linux x86_64", "linux", "x86_64", false},
		{"darwin x86_64", "darwin", "x86_64", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProber(tt.goos, Uname{Machine: tt.machine})
			require.Equal(t, tt.want, p.IsAArch64())
		})
	}
}

func TestIsPhotonOS(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		osRelease string
		want      bool
	}{
		{
			name:      "double quoted",
			path:      "/etc/os-release",
			osRelease: "NAME=\"VMware Photon OS\"\nVERSION=\"5.0\"\nID=photon\n",
			want:      true,
		},
		{
			name:      "single quoted",
			path:      "/etc/os-release",
			osRelease: "NAME='VMware Photon OS'\nID=photon\n",
			want:      true,
		},
		{
			name:      "fallback location",
			path:      "/usr/lib/os-release",
			osRelease: "NAME=\"VMware Photon OS\"\n",
			want:      true,
		},
		{
			name:      "other distribution",
			path:      "/etc/os-release",
			osRelease: "NAME=\"Ubuntu\"\nVERSION_ID=\"24.04\"\n",
			want:      false,
		},
		{
			name: "no os-release",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProber("linux", Uname{})
			if tt.path != "" {
				require.NoError(t, afero.WriteFile(p.fs, tt.path, []byte(tt.osRelease), 0o644))
			}
			require.Equal(t, tt.want, p.IsPhotonOS())
		})
	}
}

func TestStartMethod(t *testing.T) {
	tests := []struct {
		goos     string
		method   string
		spawning bool
	}{
		{"windows", StartSpawn, true},
		{"darwin", StartSpawn, true},
		{"linux", StartFork, false},
		{"freebsd", StartFork, false},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			p := newTestProber(tt.goos, Uname{})
			require.Equal(t, tt.method, p.StartMethod())
			require.Equal(t, tt.spawning, p.IsSpawningPlatform())
		})
	}
}

func TestProbeMemoization(t *testing.T) {
	calls := 0
	machine := "aarch64"
	p := New(Options{
		GOOS: "linux",
		Uname: func() (Uname, error) {
			calls++
			return Uname{Machine: machine}, nil
		},
	})

	require.True(t, p.IsAArch64())
	machine = "x86_64"
	require.True(t, p.IsAArch64(), "memoized result should survive a host change")
	require.Equal(t, 1, calls)

	p.Reset()
	require.Zero(t, p.Cache().Len())
	require.False(t, p.IsAArch64())
	require.Equal(t, 2, calls)
}

func TestSetDefault(t *testing.T) {
	restore := SetDefault(newTestProber("aix", Uname{}))
	require.True(t, IsAIX())
	require.False(t, IsLinux())
	restore()
	require.NotEqual(t, "aix", Default().GOOS())
}

func TestNilCache(t *testing.T) {
	var c *Cache
	require.True(t, c.Do("k", func() bool { return true }))
	require.Zero(t, c.Len())
	c.Clear()
}
