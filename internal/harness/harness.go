package harness

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/skipmarkers/pkg/skipmarkers"
)

// HostConfiguration is one simulated host a test case is scanned on.
type HostConfiguration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// Host describes the simulated machine.
	Host HostConfig `yaml:"host"`

	// Toggles are the run toggles in effect.
	Toggles ToggleConfig `yaml:"toggles"`

	// BuildTags are the build tags to use when loading packages.
	BuildTags []string `yaml:"build_tags"`

	// All reports tests without markers too.
	All bool `yaml:"all"`

	// Expected lists the decisions expected for this configuration.
	Expected []ExpectedDecision `yaml:"expected"`

	// ExpectedErrors lists error substrings the scan may fail with.
	ExpectedErrors []string `yaml:"expected_errors"`
}

// TestCase represents a single test scenario.
type TestCase struct {
	// Dir is the directory containing the annotated module.
	Dir string `yaml:"-"`

	// Hosts defines the simulated hosts to scan on.
	Hosts []HostConfiguration `yaml:"hosts"`
}

// ExpectedDecision is the outcome expected for one test function.
type ExpectedDecision struct {
	// Test is the test function name.
	Test string `yaml:"test"`

	// Outcome is "proceed", "skip" or "error".
	Outcome string `yaml:"outcome"`

	// Reason must equal the skip reason or error message when set.
	Reason string `yaml:"reason,omitempty"`

	// ReasonContains must be a substring of the reason when set.
	ReasonContains string `yaml:"reason_contains,omitempty"`

	// Warnings are the expected deprecation warnings.
	Warnings []string `yaml:"warnings,omitempty"`
}

// TestHarness manages test execution.
type TestHarness struct {
	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root}
}

// Run executes a test case on all its hosts.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Hosts, "test case has no hosts")

	var results []ConfigurationResult
	allSuccess := true
	for _, cfg := range tc.Hosts {
		cfgResult := h.runConfiguration(t, tc, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d hosts passed", len(tc.Hosts))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d hosts failed:\n%s",
			failedCount, len(tc.Hosts), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

// runConfiguration scans the test case module for a single host.
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg HostConfiguration) *ConfigurationResult {
	t.Helper()

	pkgs := LoadPackages(t, &LoaderConfig{
		Dir:       filepath.Join(h.root, tc.Dir),
		BuildTags: cfg.BuildTags,
	})

	eval, err := cfg.Host.Evaluator()
	require.NoError(t, err)

	decisions, err := skipmarkers.NewScanner(skipmarkers.ScannerOptions{
		Evaluator: eval,
		Toggles:   cfg.Toggles.toggles(),
		All:       cfg.All,
	}).Scan(pkgs)
	if err != nil {
		for _, expectedErr := range cfg.ExpectedErrors {
			if strings.Contains(err.Error(), expectedErr) {
				return &ConfigurationResult{
					Configuration: cfg,
					Success:       true,
					Message:       fmt.Sprintf("Got expected error: %v", err),
				}
			}
		}
		require.NoError(t, err)
	}
	return validateConfigurationResults(cfg, decisions)
}

// ConfigurationResult represents the result of scanning for a single host.
type ConfigurationResult struct {
	// Configuration is the host configuration that was run.
	Configuration HostConfiguration

	// Decisions is the raw result from the scanner.
	Decisions []skipmarkers.Decision

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each host.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all hosts passed)
	Success bool

	// Message provides a summary of the result.
	Message string
}

// validateExpectedDecisions validates that expected decisions have required fields
func validateExpectedDecisions(expected []ExpectedDecision) error {
	for i, exp := range expected {
		if strings.TrimSpace(exp.Test) == "" {
			return fmt.Errorf("expected decision at index %d has empty or missing 'test' field", i)
		}
		switch exp.Outcome {
		case "proceed", "skip", "error":
		default:
			return fmt.Errorf("expected decision for %s has invalid outcome %q", exp.Test, exp.Outcome)
		}
	}
	return nil
}

func validateConfigurationResults(cfg HostConfiguration, decisions []skipmarkers.Decision) *ConfigurationResult {
	cfgResult := &ConfigurationResult{
		Configuration: cfg,
		Decisions:     decisions,
	}

	if err := validateExpectedDecisions(cfg.Expected); err != nil {
		cfgResult.Message = fmt.Sprintf("Invalid expected.yaml: %v", err)
		cfgResult.Details = []string{err.Error()}
		return cfgResult
	}

	validateResults(cfgResult, cfg.Expected, decisions)
	return cfgResult
}

func validateResults(cfgResult *ConfigurationResult, expected []ExpectedDecision, actual []skipmarkers.Decision) {
	expectedMap := make(map[string]ExpectedDecision)
	for _, e := range expected {
		expectedMap[e.Test] = e
	}

	actualMap := make(map[string]skipmarkers.Decision)
	for _, a := range actual {
		actualMap[a.Test] = a
	}

	var details []string
	success := true

	var missing []string
	for key := range expectedMap {
		if _, found := actualMap[key]; !found {
			missing = append(missing, key)
			success = false
		}
	}

	var unexpected []string
	for key, act := range actualMap {
		if _, found := expectedMap[key]; !found {
			unexpected = append(unexpected, fmt.Sprintf("%s (%s: %s)", key, act.Outcome.Kind, act.Outcome.Reason))
			success = false
		}
	}

	sort.Strings(missing)
	sort.Strings(unexpected)
	for _, m := range missing {
		details = append(details, "Should have been reported: "+m)
	}
	for _, u := range unexpected {
		details = append(details, "Should not have been reported: "+u)
	}

	for _, key := range sortedKeys(expectedMap) {
		exp := expectedMap[key]
		act, found := actualMap[key]
		if !found {
			continue
		}
		if mismatch := compareDecision(exp, act); mismatch != "" {
			details = append(details, fmt.Sprintf("%s: %s", key, mismatch))
			success = false
		}
	}

	var message string
	if success {
		message = fmt.Sprintf("All %d expected decisions found", len(expected))
	} else {
		message = fmt.Sprintf("Test failed: %d missing, %d unexpected", len(missing), len(unexpected))
	}

	cfgResult.Success = success
	cfgResult.Message = message
	cfgResult.Details = details
}

func compareDecision(exp ExpectedDecision, act skipmarkers.Decision) string {
	out := act.Outcome
	switch {
	case out.Kind.String() != exp.Outcome:
		return fmt.Sprintf("expected outcome %s, got %s (%s)", exp.Outcome, out.Kind, out.Reason)
	case exp.Reason != "" && out.Reason != exp.Reason:
		return fmt.Sprintf("expected reason %q, got %q", exp.Reason, out.Reason)
	case exp.ReasonContains != "" && !strings.Contains(out.Reason, exp.ReasonContains):
		return fmt.Sprintf("expected reason containing %q, got %q", exp.ReasonContains, out.Reason)
	case len(exp.Warnings) > 0 && strings.Join(exp.Warnings, "\n") != strings.Join(out.Warnings, "\n"):
		return fmt.Sprintf("expected warnings %q, got %q", exp.Warnings, out.Warnings)
	}
	return ""
}

func sortedKeys(m map[string]ExpectedDecision) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
