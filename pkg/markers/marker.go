// Package markers evaluates the skip markers attached to a test and turns them
// into a single Outcome: proceed, skip with a reason, or a usage error.
package markers

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Marker is a named annotation attached to a test, with ordered positional
// arguments and keyword arguments.
type Marker struct {
	Name   string
	Args   []any
	Kwargs map[string]any
}

// New returns a marker with the given positional arguments.
func New(name string, args ...any) Marker {
	return Marker{Name: name, Args: args}
}

// With returns a copy of m with the keyword key set to value.
func (m Marker) With(key string, value any) Marker {
	kw := make(map[string]any, len(m.Kwargs)+1)
	maps.Copy(kw, m.Kwargs)
	kw[key] = value
	m.Kwargs = kw
	return m
}

// Reason is shorthand for m.With("reason", reason).
func (m Marker) Reason(reason string) Marker {
	return m.With("reason", reason)
}

// String renders the marker in directive form, e.g.
// `skip_on_env FOO eq="1" reason="why"`.
func (m Marker) String() string {
	var b strings.Builder
	b.WriteString(m.Name)
	for _, a := range m.Args {
		b.WriteByte(' ')
		b.WriteString(formatValue(a))
	}
	for _, k := range slices.Sorted(maps.Keys(m.Kwargs)) {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatValue(m.Kwargs[k]))
	}
	return b.String()
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(v)
}

// Toggles are the run-gating switches configured by the caller, usually from
// command-line flags.
type Toggles struct {
	RunDestructive bool
	RunExpensive   bool
}
