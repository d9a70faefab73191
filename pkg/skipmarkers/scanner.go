package skipmarkers

import (
	"cmp"
	"fmt"
	"go/ast"
	"go/token"
	"log/slog"
	goruntime "runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/packages"

	"github.com/715d/skipmarkers/pkg/directive"
	"github.com/715d/skipmarkers/pkg/markers"
)

// Decision is the outcome computed for one test function.
type Decision struct {
	Package  string          `json:"package"`
	Test     string          `json:"test"`
	Position token.Position  `json:"position"`
	Markers  []string        `json:"markers,omitempty"`
	Outcome  markers.Outcome `json:"outcome"`
}

// ScannerOptions configures a Scanner.
type ScannerOptions struct {
	// Evaluator decides outcomes. Defaults to one backed by the real host.
	Evaluator *markers.Evaluator

	// Toggles are the run toggles the decisions are computed for.
	Toggles markers.Toggles

	// All includes test functions that carry no marker.
	All bool
}

// Scanner computes, without running them, the decisions the tests of a set of
// packages would get on this host.
type Scanner struct {
	eval *markers.Evaluator
	opts ScannerOptions
}

// NewScanner creates a Scanner.
func NewScanner(opts ScannerOptions) *Scanner {
	eval := opts.Evaluator
	if eval == nil {
		eval = markers.NewEvaluator(markers.EvaluatorOptions{})
	}
	return &Scanner{eval: eval, opts: opts}
}

// annotatedTest is a test function with its markers, or the error met while
// parsing them.
type annotatedTest struct {
	pkg     string
	name    string
	pos     token.Position
	markers []markers.Marker
	err     error
}

// Scan collects the test functions of pkgs and evaluates their markers.
// Collection runs per package in parallel; evaluation is sequential in source
// order so that probes run once per distinct question.
func (s *Scanner) Scan(pkgs []*packages.Package) ([]Decision, error) {
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages provided")
	}

	results := make([][]annotatedTest, len(pkgs))
	var g errgroup.Group
	g.SetLimit(goruntime.NumCPU())
	for idx, pkg := range pkgs {
		g.Go(func() error {
			results[idx] = collectTests(pkg)
			return nil
		})
	}
	_ = g.Wait()

	tests := slices.Concat(results...)
	slices.SortFunc(tests, func(a, b annotatedTest) int {
		return cmp.Or(
			strings.Compare(a.pkg, b.pkg),
			strings.Compare(a.pos.Filename, b.pos.Filename),
			cmp.Compare(a.pos.Line, b.pos.Line),
		)
	})

	decisions := make([]Decision, 0, len(tests))
	for _, tt := range tests {
		if tt.err == nil && len(tt.markers) == 0 && !s.opts.All {
			continue
		}

		d := Decision{
			Package:  tt.pkg,
			Test:     tt.name,
			Position: tt.pos,
		}
		for _, m := range tt.markers {
			d.Markers = append(d.Markers, m.String())
		}
		if tt.err != nil {
			d.Outcome = markers.Failed("", tt.err)
		} else {
			d.Outcome = s.eval.Evaluate(tt.markers, s.opts.Toggles)
		}
		slog.Debug("evaluated test", "package", d.Package, "test", d.Test, "outcome", d.Outcome.Kind)
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// collectTests finds the test functions in the _test.go files of pkg. A
// malformed file level directive is reported on every test of the file.
func collectTests(pkg *packages.Package) []annotatedTest {
	var tests []annotatedTest
	for _, file := range pkg.Syntax {
		if file == nil {
			continue
		}
		filename := pkg.Fset.Position(file.Pos()).Filename
		if !strings.HasSuffix(filename, "_test.go") {
			continue
		}

		fileMarkers, fileErr := directive.FromFile(pkg.Fset, file)
		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || !directive.IsTestName(fn.Name.Name) {
				continue
			}

			tt := annotatedTest{
				pkg:  pkg.PkgPath,
				name: fn.Name.Name,
				pos:  pkg.Fset.Position(fn.Name.Pos()),
				err:  fileErr,
			}
			if tt.err == nil {
				own, err := directive.FromFuncDecl(pkg.Fset, fn)
				tt.err = err
				tt.markers = append(slices.Clip(fileMarkers), own...)
			}
			tests = append(tests, tt)
		}
	}
	return tests
}
