package skipmarkers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
)

func TestDeduplicatePackages(t *testing.T) {
	tests := []struct {
		name    string
		input   []*packages.Package
		wantIDs []string
	}{
		{
			name: "regular_and_test_variant",
			input: []*packages.Package{
				{PkgPath: "example.com/pkg", ID: "example.com/pkg"},
				{PkgPath: "example.com/pkg", ID: "example.com/pkg [example.com/pkg.test]"},
			},
			wantIDs: []string{"example.com/pkg [example.com/pkg.test]"},
		},
		{
			name: "test_variant_first",
			input: []*packages.Package{
				{PkgPath: "example.com/pkg", ID: "example.com/pkg [example.com/pkg.test]"},
				{PkgPath: "example.com/pkg", ID: "example.com/pkg"},
			},
			wantIDs: []string{"example.com/pkg [example.com/pkg.test]"},
		},
		{
			name: "test_binary_filtered",
			input: []*packages.Package{
				{PkgPath: "example.com/pkg", ID: "example.com/pkg"},
				{PkgPath: "example.com/pkg", ID: "example.com/pkg.test"},
			},
			wantIDs: []string{"example.com/pkg"},
		},
		{
			name: "external_test_package",
			input: []*packages.Package{
				{PkgPath: "example.com/pkg_test", ID: "example.com/pkg_test [example.com/pkg.test]"},
				{PkgPath: "example.com/pkg", ID: "example.com/pkg"},
			},
			wantIDs: []string{"example.com/pkg", "example.com/pkg_test [example.com/pkg.test]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, pkg := range deduplicatePackages(tt.input) {
				ids = append(ids, pkg.ID)
			}
			require.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestLoadPackages(t *testing.T) {
	if testing.Short() {
		t.Skip("loads packages with the go command")
	}

	dir, err := filepath.Abs(filepath.Join("..", "..", "testdata", "basic-directives"))
	require.NoError(t, err)

	pkgs, err := LoadPackages(context.Background(), LoaderOptions{Dir: dir})
	require.NoError(t, err)

	decisions, err := NewScanner(ScannerOptions{Evaluator: darwinEvaluator()}).Scan(pkgs)
	require.NoError(t, err)

	byTest := make(map[string]Decision)
	for _, d := range decisions {
		byTest[d.Test] = d
	}
	require.Contains(t, byTest, "TestNeedsGit")
	require.Contains(t, byTest, "TestExternal")
	require.Equal(t, "Skipped on Darwin", byTest["TestNotOnDarwin"].Outcome.Reason)
}
