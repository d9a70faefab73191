package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/715d/skipmarkers/pkg/hostcheck"
	"github.com/715d/skipmarkers/pkg/markers"
	"github.com/715d/skipmarkers/pkg/platform"
)

func newMarkersCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "markers",
		Short: "List the available markers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := writeMarkers(cmd.OutOrStdout(), markers.Registry(), v.GetBool("json")); err != nil {
				return errWithCode(err, exitError)
			}
			return nil
		},
	}
}

type jMarker struct {
	Name  string `json:"name"`
	Usage string `json:"usage"`
	Help  string `json:"help"`
}

func writeMarkers(w io.Writer, specs []markers.Spec, asJSON bool) error {
	if asJSON {
		out := lo.Map(specs, func(s markers.Spec, _ int) jMarker {
			return jMarker{Name: s.Name, Usage: s.Usage, Help: s.Help}
		})
		return writeJSON(w, out)
	}

	var b strings.Builder
	for _, s := range specs {
		fmt.Fprintf(&b, "//mark:%s\n    %s\n", s.Usage, s.Help)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func newProbeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Show the host facts markers are evaluated against",
		Long: `probe prints the answer of every host probe the markers rely on.

The remote network check opens outbound connections and only runs with --network.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			facts := collectFacts(platform.Default(), hostcheck.Default(), v.GetBool("network"))
			if err := writeFacts(cmd.OutOrStdout(), facts, v.GetBool("json")); err != nil {
				return errWithCode(err, exitError)
			}
			return nil
		},
	}
	cmd.Flags().Bool("network", false, "Also probe local and remote network reachability")
	return cmd
}

type fact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// collectFacts gathers host facts in a stable order. Platform answers are
// reported by selector key.
func collectFacts(p *platform.Prober, c *hostcheck.Checker, network bool) []fact {
	facts := []fact{
		{"goos", p.GOOS()},
		{"machine", p.Machine()},
		{"distro", p.DistroName()},
		{"start_method", p.StartMethod()},
	}
	for _, name := range platform.Platforms() {
		on, err := p.OnPlatforms(platform.Selector{name: true})
		value := strconv.FormatBool(on)
		if err != nil {
			value = err.Error()
		}
		facts = append(facts, fact{"platform." + name, value})
	}
	facts = append(facts, fact{"fips_enabled", strconv.FormatBool(p.IsFIPSEnabled())})

	_, unprivileged := c.NotPrivileged()
	facts = append(facts, fact{"privileged", strconv.FormatBool(!unprivileged)})

	if network {
		_, noLocal := c.NoLocalNetwork()
		facts = append(facts, fact{"local_network", strconv.FormatBool(!noLocal)})
		_, noRemote := c.NoRemoteNetwork()
		facts = append(facts, fact{"remote_network", strconv.FormatBool(!noRemote)})
	}
	return facts
}

func writeFacts(w io.Writer, facts []fact, asJSON bool) error {
	if asJSON {
		return writeJSON(w, facts)
	}

	width := lo.Max(lo.Map(facts, func(f fact, _ int) int { return len(f.Name) }))
	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "%-*s  %s\n", width, f.Name, f.Value)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
