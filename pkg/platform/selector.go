package platform

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnknownPlatform is returned when a Selector names a platform the probes do
// not know.
var ErrUnknownPlatform = errors.New("unknown platform")

// Selector maps platform names to whether they belong to the match set.
type Selector map[string]bool

// platformChecks lists every selectable platform in evaluation order.
var platformChecks = []struct {
	name  string
	check func(*Prober) bool
}{
	{"windows", (*Prober).IsWindows},
	{"linux", (*Prober).IsLinux},
	{"darwin", (*Prober).IsDarwin},
	{"sunos", (*Prober).IsSunOS},
	{"smartos", (*Prober).IsSmartOS},
	{"freebsd", (*Prober).IsFreeBSD},
	{"netbsd", (*Prober).IsNetBSD},
	{"openbsd", (*Prober).IsOpenBSD},
	{"aix", (*Prober).IsAIX},
	{"aarch64", (*Prober).IsAArch64},
	{"spawning", (*Prober).IsSpawningPlatform},
	{"photonos", (*Prober).IsPhotonOS},
}

// Platforms returns the selectable platform names in evaluation order.
func Platforms() []string {
	names := make([]string, 0, len(platformChecks))
	for _, c := range platformChecks {
		names = append(names, c.name)
	}
	return names
}

// KnownPlatform reports whether name may appear in a Selector.
func KnownPlatform(name string) bool {
	return slices.Contains(Platforms(), name)
}

// Validate returns an ErrUnknownPlatform error for the first unknown key in
// lexical order.
func (s Selector) Validate() error {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !KnownPlatform(k) {
			return fmt.Errorf("%w %q", ErrUnknownPlatform, k)
		}
	}
	return nil
}

// Any reports whether at least one platform is selected.
func (s Selector) Any() bool {
	for _, v := range s {
		if v {
			return true
		}
	}
	return false
}

// OnPlatforms reports whether the host matches any platform selected in s.
func (p *Prober) OnPlatforms(s Selector) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	for _, c := range platformChecks {
		if s[c.name] && c.check(p) {
			return true, nil
		}
	}
	return false, nil
}

// OnPlatforms reports whether the host matches any platform selected in s,
// using the default prober.
func OnPlatforms(s Selector) (bool, error) {
	return Default().OnPlatforms(s)
}
