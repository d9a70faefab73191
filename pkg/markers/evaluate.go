package markers

import (
	"log/slog"

	"github.com/715d/skipmarkers/pkg/hostcheck"
	"github.com/715d/skipmarkers/pkg/platform"
)

// Probes answers host identity questions. *platform.Prober implements it.
type Probes interface {
	Is(f platform.Family) bool
	IsSmartOS() bool
	IsAArch64() bool
	IsSpawningPlatform() bool
	IsPhotonOS() bool
	IsFIPSEnabled() bool
	OnPlatforms(s platform.Selector) (bool, error)
}

// Checks answers environment questions. *hostcheck.Checker implements it.
type Checks interface {
	BinariesMissing(names []string, requireAll bool, reason string) (string, bool)
	NoLocalNetwork() (string, bool)
	NoRemoteNetwork() (string, bool)
	NotPrivileged() (string, bool)
	EnvCondition(cond hostcheck.EnvCondition) (string, bool, error)
}

// EvaluatorOptions configures an Evaluator. Nil fields use the real host.
type EvaluatorOptions struct {
	Probes Probes
	Checks Checks
	Logger *slog.Logger
}

// Evaluator decides the Outcome for a set of markers. It holds no per-test
// state and may be shared.
type Evaluator struct {
	probes Probes
	checks Checks
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts EvaluatorOptions) *Evaluator {
	return &Evaluator{
		probes: opts.Probes,
		checks: opts.Checks,
		logger: opts.Logger,
	}
}

// The real-host defaults are resolved per call so that platform.SetDefault and
// slog.SetDefault take effect on evaluators created earlier.

func (e *Evaluator) probe() Probes {
	if e.probes != nil {
		return e.probes
	}
	return platform.Default()
}

func (e *Evaluator) check() Checks {
	if e.checks != nil {
		return e.checks
	}
	return hostcheck.Default()
}

func (e *Evaluator) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

// evalContext carries one marker through validation and evaluation.
type evalContext struct {
	marker   Marker
	toggles  Toggles
	warnings []string
}

func (c *evalContext) warn(msg string) {
	c.warnings = append(c.warnings, msg)
}

// Evaluate walks the registered markers in their fixed order and returns the
// first usage error or skip. Markers with unknown names are usage errors. When
// a name is attached more than once the last one applies.
func (e *Evaluator) Evaluate(ms []Marker, tg Toggles) Outcome {
	attached := make(map[string]Marker, len(ms))
	for _, m := range ms {
		if _, ok := Lookup(m.Name); !ok {
			err := usageErrorf(m.Name, "Unknown marker %q", m.Name)
			return Outcome{Kind: Error, Reason: err.Error(), Marker: m.Name, err: err}
		}
		attached[m.Name] = m
	}

	var warnings []string
	for _, spec := range registry {
		m, ok := attached[spec.Name]
		if !ok {
			continue
		}

		ctx := &evalContext{marker: m, toggles: tg}
		reason, skip, err := spec.eval(e, ctx)
		for _, w := range ctx.warnings {
			e.log().Warn(w, "marker", spec.Name)
		}
		warnings = append(warnings, ctx.warnings...)

		if err != nil {
			e.log().Debug("marker usage error", "marker", spec.Name, "error", err)
			return Outcome{Kind: Error, Reason: err.Error(), Marker: spec.Name, Warnings: warnings, err: err}
		}
		if skip {
			e.log().Debug("skipping test", "marker", spec.Name, "reason", reason)
			return Outcome{Kind: Skip, Reason: reason, Marker: spec.Name, Warnings: warnings}
		}
	}
	return Outcome{Kind: Proceed, Warnings: warnings}
}

var defaultEvaluator = NewEvaluator(EvaluatorOptions{})

// Evaluate decides the Outcome for ms against the real host.
func Evaluate(ms []Marker, tg Toggles) Outcome {
	return defaultEvaluator.Evaluate(ms, tg)
}
