// Package main implements the CLI driver for skipmarkers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/715d/skipmarkers/pkg/markers"
	"github.com/715d/skipmarkers/pkg/skipmarkers"
)

// Config holds all command-line configuration options.
type Config struct {
	Packages       []string // the Go packages to scan
	Verbose        bool     // enables detailed output and logging
	JSON           bool     // enables JSON output format
	BuildTags      []string // build tags to use during package loading
	RunDestructive bool     // evaluate with destructive tests enabled
	RunExpensive   bool     // evaluate with expensive tests enabled
	All            bool     // report tests without markers too
}

const (
	exitConfigError = 1
	exitError       = 2

	envPrefix  = "SKIPMARKERS"
	configName = ".skipmarkers"
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "skipmarkers [packages...]",
		Short: "Report which tests run, skip or fail setup on this host",
		Long: `skipmarkers evaluates the //mark: directives of Go test functions against
the current host without running the tests.

For every annotated test it reports one of:
- proceed: the test would run
- skip: the test would be skipped, with the reason
- error: a marker is misused and the test would fail during setup`,
		Example: `  skipmarkers ./...                     # Scan all packages
  skipmarkers --run-expensive ./pkg/...  # Evaluate with expensive tests enabled
  skipmarkers --json . > report.json     # JSON output to file
  skipmarkers markers                    # List the available markers
  skipmarkers probe                      # Show the host facts markers use`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(v, args)
			return runScan(cmd.Context(), cmd.OutOrStdout(), &cfg)
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd, v, cfgFile)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("skipmarkers version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is ./.skipmarkers.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.Flags().StringSlice("build-tags", []string{}, "Build tags to use during package loading")
	rootCmd.Flags().Bool("run-destructive", false, "Evaluate with destructive tests enabled")
	rootCmd.Flags().Bool("run-expensive", false, "Evaluate with expensive tests enabled")
	rootCmd.Flags().Bool("all", false, "Also report tests that carry no marker")

	rootCmd.AddCommand(newMarkersCmd(v), newProbeCmd(v))
	return rootCmd
}

// setup binds flags, environment and the optional config file, then installs
// the logger.
func setup(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return errWithCode(fmt.Errorf("binding flags: %w", err), exitError)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return errWithCode(fmt.Errorf("reading config: %w", err), exitError)
		}
	}

	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if v.GetBool("verbose") {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
		if v.GetBool("json") {
			handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
		}
		slog.SetDefault(slog.New(handler))
		if used := v.ConfigFileUsed(); used != "" {
			slog.Info("using config file", "path", used)
		}
	}
	return nil
}

func loadConfig(v *viper.Viper, args []string) Config {
	cfg := Config{
		Packages:       args,
		Verbose:        v.GetBool("verbose"),
		JSON:           v.GetBool("json"),
		BuildTags:      v.GetStringSlice("build-tags"),
		RunDestructive: v.GetBool("run-destructive"),
		RunExpensive:   v.GetBool("run-expensive"),
		All:            v.GetBool("all"),
	}
	if len(cfg.Packages) == 0 {
		cfg.Packages = v.GetStringSlice("packages")
	}
	if len(cfg.Packages) == 0 {
		cfg.Packages = []string{"./..."}
	}
	return cfg
}

func (c *Config) toggles() markers.Toggles {
	return markers.Toggles{RunDestructive: c.RunDestructive, RunExpensive: c.RunExpensive}
}

func runScan(ctx context.Context, w io.Writer, cfg *Config) error {
	slog.Info("starting marker scan", "packages", cfg.Packages)

	result, err := scan(ctx, cfg)
	if err != nil {
		return errWithCode(fmt.Errorf("scan: %w", err), exitError)
	}

	if err := writeResults(w, result, cfg); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}

	if result.Stats.Errors > 0 {
		return errWithCode(nil, exitConfigError)
	}
	return nil
}

// Result holds the decisions of a scan and its statistics.
type Result struct {
	Decisions []skipmarkers.Decision `json:"decisions"`
	Stats     Stats                  `json:"stats"`
}

// Stats counts decisions by kind.
type Stats struct {
	Tests        int           `json:"tests"`
	Proceed      int           `json:"proceed"`
	Skipped      int           `json:"skipped"`
	Errors       int           `json:"errors"`
	ScanDuration time.Duration `json:"scan_duration"`
}

func scan(ctx context.Context, cfg *Config) (*Result, error) {
	start := time.Now()

	if len(cfg.BuildTags) > 0 {
		slog.Info("using build tags", "tags", cfg.BuildTags)
	}
	pkgs, err := skipmarkers.LoadPackages(ctx, skipmarkers.LoaderOptions{
		Packages:  cfg.Packages,
		BuildTags: cfg.BuildTags,
	})
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}
	slog.Info("loaded packages", "num", len(pkgs))

	decisions, err := skipmarkers.NewScanner(skipmarkers.ScannerOptions{
		Toggles: cfg.toggles(),
		All:     cfg.All,
	}).Scan(pkgs)
	if err != nil {
		return nil, fmt.Errorf("scan packages: %w", err)
	}

	r := newResult(decisions)
	r.Stats.ScanDuration = time.Since(start)
	slog.Info("scan completed", "dur", r.Stats.ScanDuration)
	return r, nil
}

func newResult(decisions []skipmarkers.Decision) *Result {
	counts := lo.CountValuesBy(decisions, func(d skipmarkers.Decision) markers.Kind {
		return d.Outcome.Kind
	})
	return &Result{
		Decisions: decisions,
		Stats: Stats{
			Tests:   len(decisions),
			Proceed: counts[markers.Proceed],
			Skipped: counts[markers.Skip],
			Errors:  counts[markers.Error],
		},
	}
}

func writeResults(w io.Writer, result *Result, cfg *Config) error {
	var output string
	var err error

	if cfg.JSON {
		output, err = formatJSONOutput(result)
	} else {
		output = formatTextOutput(result, cfg)
	}

	if err != nil {
		return err
	}

	_, err = fmt.Fprint(w, output)
	return err
}

func formatJSONOutput(result *Result) (string, error) {
	tests := make([]jTest, 0, len(result.Decisions))
	for _, d := range result.Decisions {
		tests = append(tests, jTest{
			Package:  d.Package,
			Test:     d.Test,
			File:     d.Position.Filename,
			Line:     d.Position.Line,
			Column:   d.Position.Column,
			Markers:  d.Markers,
			Outcome:  d.Outcome.Kind.String(),
			Reason:   d.Outcome.Reason,
			Marker:   d.Outcome.Marker,
			Warnings: d.Outcome.Warnings,
		})
	}

	data, err := json.MarshalIndent(jOutput{
		Tests:     tests,
		Stats:     result.Stats,
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling json output: %w", err)
	}
	return string(data) + "\n", nil
}

func formatTextOutput(result *Result, cfg *Config) string {
	var output strings.Builder

	if cfg.Verbose {
		slog.Info("",
			"tests", result.Stats.Tests,
			"proceed", result.Stats.Proceed,
			"skipped", result.Stats.Skipped,
			"errors", result.Stats.Errors,
			"scan_duration", result.Stats.ScanDuration.String())
	}

	if len(result.Decisions) == 0 {
		slog.Info("no annotated tests found")
		return output.String()
	}

	byPackage := lo.GroupBy(result.Decisions, func(d skipmarkers.Decision) string { return d.Package })
	pkgs := lo.Uniq(lo.Map(result.Decisions, func(d skipmarkers.Decision, _ int) string { return d.Package }))

	for _, pkg := range pkgs {
		indent := ""
		if cfg.Verbose {
			output.WriteString(fmt.Sprintf("%s:\n", pkg))
			indent = "  "
		}

		for _, d := range byPackage[pkg] {
			// Format: filename:line:column TestName outcome[: reason]
			output.WriteString(fmt.Sprintf("%s%s:%d:%d %s %s",
				indent, d.Position.Filename, d.Position.Line, d.Position.Column, d.Test, d.Outcome.Kind))
			if d.Outcome.Reason != "" {
				output.WriteString(": " + d.Outcome.Reason)
			}
			output.WriteString("\n")

			if cfg.Verbose && len(d.Markers) > 0 {
				output.WriteString(fmt.Sprintf("%s  markers: %s\n", indent, strings.Join(d.Markers, "; ")))
			}
			for _, w := range d.Outcome.Warnings {
				output.WriteString(fmt.Sprintf("%s  warning: %s\n", indent, w))
			}
		}
	}

	return output.String()
}

type jOutput struct {
	Tests     []jTest `json:"tests"`
	Stats     any     `json:"stats"`
	Version   string  `json:"version"`
	Timestamp string  `json:"timestamp"`
}

type jTest struct {
	Package  string   `json:"package"`
	Test     string   `json:"test"`
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	Markers  []string `json:"markers,omitempty"`
	Outcome  string   `json:"outcome"`
	Reason   string   `json:"reason,omitempty"`
	Marker   string   `json:"marker,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func errWithCode(err error, code int) error {
	return codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e codedError) Unwrap() error { return e.err }
