package markers

import (
	"github.com/samber/lo"

	"github.com/715d/skipmarkers/pkg/platform"
)

// Spec describes a recognized marker: its name, accepted arguments and what it
// does.
type Spec struct {
	Name  string
	Usage string
	Help  string

	eval func(e *Evaluator, c *evalContext) (string, bool, error)
}

// platformPair drives the skip_on_X and skip_unless_on_X markers of one probe.
type platformPair struct {
	key          string
	display      string
	probe        func(Probes) bool
	skipReason   string
	unlessReason string
}

func family(f platform.Family) func(Probes) bool {
	return func(p Probes) bool { return p.Is(f) }
}

var platformPairs = []platformPair{
	{key: "windows", display: "Windows", probe: family(platform.Windows)},
	{key: "linux", display: "Linux", probe: family(platform.Linux)},
	{key: "darwin", display: "Darwin", probe: family(platform.Darwin)},
	{key: "sunos", display: "SunOS", probe: family(platform.SunOS)},
	{key: "smartos", display: "SmartOS", probe: Probes.IsSmartOS},
	{key: "freebsd", display: "FreeBSD", probe: family(platform.FreeBSD)},
	{key: "netbsd", display: "NetBSD", probe: family(platform.NetBSD)},
	{key: "openbsd", display: "OpenBSD", probe: family(platform.OpenBSD)},
	{key: "aix", display: "AIX", probe: family(platform.AIX)},
	{key: "aarch64", display: "AArch64", probe: Probes.IsAArch64},
	{
		key:          "spawning_platform",
		display:      "spawning platforms",
		probe:        Probes.IsSpawningPlatform,
		skipReason:   "Skipped on spawning platforms",
		unlessReason: "Platform does not default multiprocessing to spawn, skipped",
	},
	{key: "photonos", display: "Photon OS", probe: Probes.IsPhotonOS},
}

// registry lists every marker in evaluation order.
var registry = buildRegistry()

func buildRegistry() []Spec {
	specs := []Spec{
		{
			Name:  "destructive_test",
			Usage: "destructive_test",
			Help:  "Run destructive tests. These tests can include adding or removing users from your system for example.",
			eval:  evalToggle("Destructive tests are disabled", func(t Toggles) bool { return t.RunDestructive }),
		},
		{
			Name:  "expensive_test",
			Usage: "expensive_test",
			Help:  "Run expensive tests. These tests can include starting resources which cost money, like VMs, for example.",
			eval:  evalToggle("Expensive tests are disabled", func(t Toggles) bool { return t.RunExpensive }),
		},
		{
			Name:  "skip_if_not_root",
			Usage: "skip_if_not_root",
			Help:  "Skip if the current user is not root on non Windows platforms or not Administrator on Windows platforms.",
			eval:  evalNotRoot,
		},
		{
			Name:  "skip_if_binaries_missing",
			Usage: "skip_if_binaries_missing BINARY... [check_all=true] [reason=STRING]",
			Help: "Skip if binaries are missing from the search path. If 'check_all' is true, all binaries must exist. " +
				"If false, only one of the passed binaries needs to be found.",
			eval: evalBinaries,
		},
		{
			Name:  "requires_network",
			Usage: "requires_network [only_local_network=false]",
			Help:  "Skip if no networking is set up. If 'only_local_network' is true, only the local network is checked.",
			eval:  evalNetwork,
		},
	}

	for _, pair := range platformPairs {
		specs = append(specs, pair.specs()...)
	}

	platformKeywords := "[windows=BOOL] [linux=BOOL] ... [reason=STRING]"
	specs = append(specs,
		Spec{
			Name:  "skip_on_platforms",
			Usage: "skip_on_platforms " + platformKeywords,
			Help:  "Pass true to one or more platform keywords to get the test skipped.",
			eval:  evalPlatforms(false, "Skipped on platform match"),
		},
		Spec{
			Name:  "skip_unless_on_platforms",
			Usage: "skip_unless_on_platforms " + platformKeywords,
			Help:  "Pass true to one or more platform keywords to get the test skipped unless matched.",
			eval:  evalPlatforms(true, "Platform(s) do not match, skipped"),
		},
		Spec{
			Name:  "skip_on_env",
			Usage: "skip_on_env NAME [present=true] [eq=STRING | ne=STRING] [reason=STRING]",
			Help:  "Skip based on the presence or value of an environment variable.",
			eval:  evalEnv,
		},
		Spec{
			Name:  "skip_on_fips_enabled_platform",
			Usage: "skip_on_fips_enabled_platform [reason=STRING]",
			Help:  "Skip test on FIPS enabled platforms.",
			eval:  evalProbe(func(p Probes) bool { return p.IsFIPSEnabled() }, "Skipped on FIPS enabled platform"),
		},
	)
	return specs
}

func (pp platformPair) specs() []Spec {
	skipReason := pp.skipReason
	if skipReason == "" {
		skipReason = "Skipped on " + pp.display
	}
	unlessReason := pp.unlessReason
	if unlessReason == "" {
		unlessReason = "Platform is not " + pp.display + ", skipped"
	}
	probe := pp.probe
	return []Spec{
		{
			Name:  "skip_on_" + pp.key,
			Usage: "skip_on_" + pp.key + " [reason=STRING]",
			Help:  "Skip test on " + pp.display + ".",
			eval:  evalProbe(probe, skipReason),
		},
		{
			Name:  "skip_unless_on_" + pp.key,
			Usage: "skip_unless_on_" + pp.key + " [reason=STRING]",
			Help:  "Skip test unless on " + pp.display + ".",
			eval:  evalProbe(func(p Probes) bool { return !probe(p) }, unlessReason),
		},
	}
}

// Registry returns the recognized markers in evaluation order.
func Registry() []Spec {
	return append([]Spec(nil), registry...)
}

// Names returns the recognized marker names in evaluation order.
func Names() []string {
	return lo.Map(registry, func(s Spec, _ int) string { return s.Name })
}

// Lookup returns the spec registered under name.
func Lookup(name string) (Spec, bool) {
	return lo.Find(registry, func(s Spec) bool { return s.Name == name })
}
