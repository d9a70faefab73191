// Package skipmarkers binds skip markers to go test. Tests either list their
// markers explicitly:
//
//	func TestUsers(t *testing.T) {
//		skipmarkers.Check(t, markers.New("destructive_test"), markers.New("skip_if_not_root"))
//		...
//	}
//
// or declare them as //mark: directives on the test function and call Apply:
//
//	//mark:skip_if_binaries_missing git
//	func TestClone(t *testing.T) {
//		skipmarkers.Apply(t)
//		...
//	}
//
// Destructive and expensive tests only run when enabled with the
// -skipmarkers.run-destructive and -skipmarkers.run-expensive test flags, or
// the SKIPMARKERS_RUN_DESTRUCTIVE and SKIPMARKERS_RUN_EXPENSIVE environment
// variables.
package skipmarkers

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/715d/skipmarkers/pkg/directive"
	"github.com/715d/skipmarkers/pkg/markers"
)

const (
	RunDestructiveEnv = "SKIPMARKERS_RUN_DESTRUCTIVE"
	RunExpensiveEnv   = "SKIPMARKERS_RUN_EXPENSIVE"
)

var (
	runDestructive = flag.Bool("skipmarkers.run-destructive", false,
		"Run destructive tests. These tests can include adding or removing users from your system for example.")
	runExpensive = flag.Bool("skipmarkers.run-expensive", false,
		"Run expensive tests. These tests can include starting resources which cost money, like VMs, for example.")
)

// T is the part of testing.TB the runner needs.
type T interface {
	Helper()
	Name() string
	Logf(format string, args ...any)
	Fatalf(format string, args ...any)
	Skip(args ...any)
}

// CurrentToggles reads the run toggles from the test flags, falling back to
// the environment when a flag is unset.
func CurrentToggles() markers.Toggles {
	return markers.Toggles{
		RunDestructive: *runDestructive || envBool(RunDestructiveEnv),
		RunExpensive:   *runExpensive || envBool(RunExpensiveEnv),
	}
}

func envBool(key string) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && b
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Evaluator decides outcomes. Defaults to one backed by the real host.
	Evaluator *markers.Evaluator

	// Toggles supplies the run toggles. Defaults to CurrentToggles.
	Toggles func() markers.Toggles

	// Files caches parsed source files for Apply.
	Files *directive.FileCache
}

// Runner applies marker outcomes to running tests.
type Runner struct {
	eval    *markers.Evaluator
	toggles func() markers.Toggles
	files   *directive.FileCache
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		eval:    opts.Evaluator,
		toggles: opts.Toggles,
		files:   opts.Files,
	}
	if r.eval == nil {
		r.eval = markers.NewEvaluator(markers.EvaluatorOptions{})
	}
	if r.toggles == nil {
		r.toggles = CurrentToggles
	}
	if r.files == nil {
		r.files = directive.NewFileCache()
	}
	return r
}

// Evaluate returns the outcome for ms without acting on it.
func (r *Runner) Evaluate(ms ...markers.Marker) markers.Outcome {
	return r.eval.Evaluate(ms, r.toggles())
}

// Check evaluates ms and acts on the outcome: a usage error fails the test, a
// skip skips it. Deprecation warnings are logged to the test.
func (r *Runner) Check(t T, ms ...markers.Marker) markers.Outcome {
	t.Helper()
	return r.act(t, r.Evaluate(ms...))
}

// Apply reads the //mark: directives of the running test function from its
// source file and checks them.
func (r *Runner) Apply(t T) markers.Outcome {
	t.Helper()

	name, _, _ := strings.Cut(t.Name(), "/")
	file, ok := callerFile(name)
	if !ok {
		out := markers.Failed("", fmt.Errorf("cannot locate the source of test function %s", name))
		return r.act(t, out)
	}

	test, ok, err := r.files.Lookup(file, name)
	switch {
	case err != nil:
		return r.act(t, markers.Failed("", err))
	case !ok:
		return r.act(t, markers.Failed("", fmt.Errorf("test function %s not found in %s", name, file)))
	case test.Err != nil:
		return r.act(t, markers.Failed("", test.Err))
	}
	return r.Check(t, test.Markers...)
}

func (r *Runner) act(t T, out markers.Outcome) markers.Outcome {
	t.Helper()
	for _, w := range out.Warnings {
		t.Logf("skipmarkers: %s", w)
	}
	switch out.Kind {
	case markers.Error:
		t.Fatalf("skipmarkers: %s", out.Reason)
	case markers.Skip:
		t.Skip(out.Reason)
	}
	return out
}

// selfPrefix prefixes the function names of this package in stack frames.
const selfPrefix = "github.com/715d/skipmarkers/pkg/skipmarkers."

// callerFile walks the call stack for the frame of the test function name and
// returns its source file. Subtests run on their own goroutine, without the
// parent frame, so the file of the first caller outside this package is used
// when no frame matches.
func callerFile(name string) (string, bool) {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	suffix := "." + name

	var fallback string
	for {
		frame, more := frames.Next()
		if strings.HasSuffix(frame.Function, suffix) {
			return frame.File, true
		}
		if fallback == "" && frame.Function != "" && !strings.HasPrefix(frame.Function, selfPrefix) {
			fallback = frame.File
		}
		if !more {
			return fallback, fallback != ""
		}
	}
}

var defaultRunner = NewRunner(RunnerOptions{})

// Check runs Runner.Check against the real host.
func Check(t T, ms ...markers.Marker) markers.Outcome {
	t.Helper()
	return defaultRunner.Check(t, ms...)
}

// Apply runs Runner.Apply against the real host.
func Apply(t T) markers.Outcome {
	t.Helper()
	return defaultRunner.Apply(t)
}

// Evaluate runs Runner.Evaluate against the real host.
func Evaluate(ms ...markers.Marker) markers.Outcome {
	return defaultRunner.Evaluate(ms...)
}
