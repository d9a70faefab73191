// Package platform answers identity questions about the running host: operating
// system family, CPU architecture, distribution, default worker start method and
// FIPS cryptographic mode.
//
// Probes are methods on a Prober whose raw inputs (OS identity string, uname,
// filesystem, command runner) are injectable, so every probe can be exercised
// against a simulated host. The package-level functions use Default.
package platform

import (
	"crypto/fips140"
	"os/exec"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Family is an operating system family recognized by the probes.
type Family string

// Families recognized by Is.
const (
	Windows Family = "windows"
	Linux   Family = "linux"
	Darwin  Family = "darwin"
	SunOS   Family = "sunos"
	FreeBSD Family = "freebsd"
	NetBSD  Family = "netbsd"
	OpenBSD Family = "openbsd"
	AIX     Family = "aix"
)

// familyPrefixes maps each family to the OS identity prefixes that select it.
// Matching is case-sensitive.
var familyPrefixes = map[Family][]string{
	Windows: {"win"},
	Linux:   {"linux"},
	Darwin:  {"darwin"},
	SunOS:   {"sunos", "solaris", "illumos"},
	FreeBSD: {"freebsd"},
	NetBSD:  {"netbsd"},
	OpenBSD: {"openbsd"},
	AIX:     {"aix"},
}

// Worker start methods reported by StartMethod.
const (
	StartSpawn = "spawn"
	StartFork  = "fork"
)

// PhotonOSName is the os-release NAME reported by VMware Photon OS.
const PhotonOSName = "VMware Photon OS"

// Uname mirrors the fields of the POSIX utsname structure.
type Uname struct {
	Sysname  string
	Nodename string
	Release  string
	Version  string
	Machine  string
}

// Options configures the raw host facts a Prober reads. Zero fields fall back
// to the real host.
type Options struct {
	// GOOS is the OS identity string. Defaults to runtime.GOOS.
	GOOS string

	// Uname returns the kernel identification tuple. Defaults to the uname(2) syscall.
	Uname func() (Uname, error)

	// Fs is the filesystem used for marker and kernel interface files.
	// Defaults to the OS filesystem.
	Fs afero.Fs

	// LookPath resolves executables on the search path. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)

	// Run executes a command and returns its standard output.
	Run func(name string, args ...string) ([]byte, error)

	// FIPSModule reports the Go cryptographic module's FIPS 140 flag.
	// Defaults to crypto/fips140.Enabled.
	FIPSModule func() bool

	// Digest computes a throwaway MD5 digest, returning the failure if any.
	Digest func() error
}

// Prober evaluates host identity probes, memoizing the pure ones.
type Prober struct {
	goos       string
	uname      func() (Uname, error)
	fs         afero.Fs
	lookPath   func(string) (string, error)
	run        func(string, ...string) ([]byte, error)
	fipsModule func() bool
	digest     func() error
	cache      *Cache
}

// New creates a Prober from opts.
func New(opts Options) *Prober {
	p := &Prober{
		goos:       opts.GOOS,
		uname:      opts.Uname,
		fs:         opts.Fs,
		lookPath:   opts.LookPath,
		run:        opts.Run,
		fipsModule: opts.FIPSModule,
		digest:     opts.Digest,
		cache:      NewCache(),
	}
	if p.goos == "" {
		p.goos = goruntime.GOOS
	}
	if p.uname == nil {
		p.uname = hostUname
	}
	if p.fs == nil {
		p.fs = afero.NewOsFs()
	}
	if p.lookPath == nil {
		p.lookPath = exec.LookPath
	}
	if p.run == nil {
		p.run = runCommand
	}
	if p.fipsModule == nil {
		p.fipsModule = fips140.Enabled
	}
	if p.digest == nil {
		p.digest = md5Digest
	}
	return p
}

func runCommand(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// GOOS returns the OS identity string the prober matches against.
func (p *Prober) GOOS() string {
	return p.goos
}

// Cache returns the prober's memoization cache.
func (p *Prober) Cache() *Cache {
	return p.cache
}

// Reset clears every memoized probe result.
func (p *Prober) Reset() {
	p.cache.Clear()
}

// Is reports whether the OS identity string belongs to family f.
func (p *Prober) Is(f Family) bool {
	return p.cache.Do("family:"+string(f), func() bool {
		for _, prefix := range familyPrefixes[f] {
			if strings.HasPrefix(p.goos, prefix) {
				return true
			}
		}
		return false
	})
}

// IsWindows and the following methods are shorthands for Is with each family.
func (p *Prober) IsWindows() bool { return p.Is(Windows) }
func (p *Prober) IsLinux() bool   { return p.Is(Linux) }
func (p *Prober) IsDarwin() bool  { return p.Is(Darwin) }
func (p *Prober) IsSunOS() bool   { return p.Is(SunOS) }
func (p *Prober) IsFreeBSD() bool { return p.Is(FreeBSD) }
func (p *Prober) IsNetBSD() bool  { return p.Is(NetBSD) }
func (p *Prober) IsOpenBSD() bool { return p.Is(OpenBSD) }
func (p *Prober) IsAIX() bool     { return p.Is(AIX) }

// IsSmartOS reports whether the host is SmartOS, a SunOS derivative whose kernel
// version string starts with "joyent_".
func (p *Prober) IsSmartOS() bool {
	return p.cache.Do("smartos", func() bool {
		if !p.IsSunOS() {
			return false
		}
		u, err := p.uname()
		if err != nil {
			return false
		}
		return strings.HasPrefix(u.Version, "joyent_")
	})
}

// Machine returns the hardware name reported by uname, or "" if unavailable.
func (p *Prober) Machine() string {
	u, err := p.uname()
	if err != nil {
		return ""
	}
	return u.Machine
}

// IsAArch64 reports whether the host CPU is 64-bit ARM. Apple Silicon reports
// "arm64" instead of "aarch64".
func (p *Prober) IsAArch64() bool {
	return p.cache.Do("aarch64", func() bool {
		machine := p.Machine()
		if strings.HasPrefix(machine, "aarch64") {
			return true
		}
		return p.IsDarwin() && machine == "arm64"
	})
}

// IsPhotonOS reports whether the Linux distribution is VMware Photon OS.
func (p *Prober) IsPhotonOS() bool {
	return p.cache.Do("photonos", func() bool {
		return p.DistroName() == PhotonOSName
	})
}

// StartMethod returns the default method used to start a new worker process:
// StartSpawn on Windows and macOS, StartFork elsewhere.
func (p *Prober) StartMethod() string {
	if p.IsWindows() || p.IsDarwin() {
		return StartSpawn
	}
	return StartFork
}

// IsSpawningPlatform reports whether new workers start from a fresh process image
// by default.
func (p *Prober) IsSpawningPlatform() bool {
	return p.cache.Do("spawning", func() bool {
		return p.StartMethod() == StartSpawn
	})
}

var (
	defaultMu     sync.RWMutex
	defaultProber = New(Options{})
)

// Default returns the prober used by the package-level functions.
func Default() *Prober {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultProber
}

// SetDefault replaces the package-level prober and returns a function restoring
// the previous one.
func SetDefault(p *Prober) (restore func()) {
	defaultMu.Lock()
	prev := defaultProber
	defaultProber = p
	defaultMu.Unlock()
	return func() {
		defaultMu.Lock()
		defaultProber = prev
		defaultMu.Unlock()
	}
}

// Reset clears the memoized results of the default prober.
func Reset() { Default().Reset() }

// IsWindows and the following functions run the Prober method of the same name
// on the default prober.
func IsWindows() bool          { return Default().IsWindows() }
func IsLinux() bool            { return Default().IsLinux() }
func IsDarwin() bool           { return Default().IsDarwin() }
func IsSunOS() bool            { return Default().IsSunOS() }
func IsSmartOS() bool          { return Default().IsSmartOS() }
func IsFreeBSD() bool          { return Default().IsFreeBSD() }
func IsNetBSD() bool           { return Default().IsNetBSD() }
func IsOpenBSD() bool          { return Default().IsOpenBSD() }
func IsAIX() bool              { return Default().IsAIX() }
func IsAArch64() bool          { return Default().IsAArch64() }
func IsPhotonOS() bool         { return Default().IsPhotonOS() }
func IsSpawningPlatform() bool { return Default().IsSpawningPlatform() }
func IsFIPSEnabled() bool      { return Default().IsFIPSEnabled() }
