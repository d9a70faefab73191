package markers

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/715d/skipmarkers/pkg/hostcheck"
	"github.com/715d/skipmarkers/pkg/platform"
)

// kwargs returns a copy of the marker keywords that the validators may pop from.
func (c *evalContext) kwargs() map[string]any {
	return maps.Clone(c.marker.Kwargs)
}

func (c *evalContext) name() string {
	return c.marker.Name
}

// popString removes key from kw and returns it as a string.
func (c *evalContext) popString(kw map[string]any, key string) (string, bool, error) {
	v, ok := kw[key]
	if !ok {
		return "", false, nil
	}
	delete(kw, key)
	s, ok := v.(string)
	if !ok {
		return "", false, usageErrorf(c.name(), "The '%s' keyword argument of the %s marker must be a string, got %T", key, c.name(), v)
	}
	return s, true, nil
}

// popValue removes key from kw and returns it as a string. Unquoted integers
// and booleans are formatted back, so eq=1 compares like eq="1".
func (c *evalContext) popValue(kw map[string]any, key string) (string, bool, error) {
	switch v := kw[key].(type) {
	case int, bool:
		delete(kw, key)
		return fmt.Sprint(v), true, nil
	}
	return c.popString(kw, key)
}

// popBool removes key from kw and returns it as a bool.
func (c *evalContext) popBool(kw map[string]any, key string, def bool) (bool, error) {
	v, ok := kw[key]
	if !ok {
		return def, nil
	}
	delete(kw, key)
	b, ok := v.(bool)
	if !ok {
		return false, usageErrorf(c.name(), "The '%s' keyword argument of the %s marker must be a boolean, got %T", key, c.name(), v)
	}
	return b, nil
}

func quoteKeys(kw map[string]any) string {
	keys := slices.Sorted(maps.Keys(kw))
	for i, k := range keys {
		keys[i] = "'" + k + "'"
	}
	return strings.Join(keys, ", ")
}

// noArguments rejects any positional or keyword argument.
func noArguments(c *evalContext) error {
	if len(c.marker.Args) > 0 || len(c.marker.Kwargs) > 0 {
		return usageErrorf(c.name(), "The '%s' marker does not accept any arguments or keyword arguments", c.name())
	}
	return nil
}

// reasonOnly validates markers that accept nothing but an optional reason and
// returns the reason, or def when none was given.
func reasonOnly(c *evalContext, def string) (string, error) {
	if len(c.marker.Args) > 0 {
		return "", usageErrorf(c.name(), "The %s marker does not accept any arguments", c.name())
	}
	kw := c.kwargs()
	reason, ok, err := c.popString(kw, "reason")
	if err != nil {
		return "", err
	}
	if len(kw) > 0 {
		return "", usageErrorf(c.name(), "The %s marker only accepts 'reason' as a keyword argument.", c.name())
	}
	if !ok {
		reason = def
	}
	return reason, nil
}

func evalToggle(reason string, enabled func(Toggles) bool) func(*Evaluator, *evalContext) (string, bool, error) {
	return func(_ *Evaluator, c *evalContext) (string, bool, error) {
		if err := noArguments(c); err != nil {
			return "", false, err
		}
		if enabled(c.toggles) {
			return "", false, nil
		}
		return reason, true, nil
	}
}

func evalNotRoot(e *Evaluator, c *evalContext) (string, bool, error) {
	if err := noArguments(c); err != nil {
		return "", false, err
	}
	reason, skip := e.check().NotPrivileged()
	return reason, skip, nil
}

func evalBinaries(e *Evaluator, c *evalContext) (string, bool, error) {
	if len(c.marker.Args) == 0 {
		return "", false, usageErrorf(c.name(), "The 'skip_if_binaries_missing' marker needs at least one binary name to be passed")
	}
	names := make([]string, 0, len(c.marker.Args))
	for _, a := range c.marker.Args {
		s, ok := a.(string)
		if !ok {
			return "", false, usageErrorf(c.name(),
				"The 'skip_if_binaries_missing' marker only accepts strings as arguments. If you are "+
					"trying to pass multiple binaries, each binary should be an separate argument.")
		}
		names = append(names, s)
	}

	kw := c.kwargs()
	message, hasMessage, err := c.popString(kw, "message")
	if err != nil {
		return "", false, err
	}
	reason, _, err := c.popString(kw, "reason")
	if err != nil {
		return "", false, err
	}
	if hasMessage && message != "" {
		c.warn(fmt.Sprintf(`Please stop passing 'message="%s"' and instead pass 'reason="%s"'`, message, message))
		reason = message
	}
	checkAll, err := c.popBool(kw, "check_all", true)
	if err != nil {
		return "", false, err
	}
	if len(kw) > 0 {
		return "", false, usageErrorf(c.name(),
			"The 'skip_if_binaries_missing' marker only accepts 'check_all' and 'reason' as keyword arguments, got %s", quoteKeys(kw))
	}

	reason, skip := e.check().BinariesMissing(names, checkAll, reason)
	return reason, skip, nil
}

func evalNetwork(e *Evaluator, c *evalContext) (string, bool, error) {
	if len(c.marker.Args) > 0 {
		return "", false, usageErrorf(c.name(), "The requires_network marker does not accept any arguments")
	}
	kw := c.kwargs()
	onlyLocal, err := c.popBool(kw, "only_local_network", false)
	if err != nil {
		return "", false, err
	}
	if len(kw) > 0 {
		return "", false, usageErrorf(c.name(), "The requires_network marker only accepts 'only_local_network' as a keyword argument.")
	}

	if reason, skip := e.check().NoLocalNetwork(); skip {
		return reason, true, nil
	}
	if onlyLocal {
		return "", false, nil
	}
	reason, skip := e.check().NoRemoteNetwork()
	return reason, skip, nil
}

func evalProbe(probe func(Probes) bool, def string) func(*Evaluator, *evalContext) (string, bool, error) {
	return func(e *Evaluator, c *evalContext) (string, bool, error) {
		reason, err := reasonOnly(c, def)
		if err != nil {
			return "", false, err
		}
		return reason, probe(e.probe()), nil
	}
}

func evalPlatforms(unless bool, def string) func(*Evaluator, *evalContext) (string, bool, error) {
	return func(e *Evaluator, c *evalContext) (string, bool, error) {
		if len(c.marker.Args) > 0 {
			return "", false, usageErrorf(c.name(), "The %s marker does not accept any arguments", c.name())
		}
		kw := c.kwargs()
		reason, ok, err := c.popString(kw, "reason")
		if err != nil {
			return "", false, err
		}
		if !ok {
			reason = def
		}
		if len(kw) == 0 {
			return "", false, usageErrorf(c.name(), "Pass at least one platform to %s as a keyword argument", c.name())
		}

		sel := make(platform.Selector, len(kw))
		for _, k := range slices.Sorted(maps.Keys(kw)) {
			b, ok := kw[k].(bool)
			if !ok {
				return "", false, usageErrorf(c.name(), "Passed an invalid platform to %s: the value of %q must be a boolean", c.name(), k)
			}
			sel[k] = b
		}
		if !sel.Any() {
			return "", false, usageErrorf(c.name(), "Pass at least one platform with a True value to %s as a keyword argument", c.name())
		}

		matched, err := e.probe().OnPlatforms(sel)
		if err != nil {
			return "", false, usageErrorf(c.name(), "Passed an invalid platform to %s: %v", c.name(), err)
		}
		return reason, matched != unless, nil
	}
}

func evalEnv(e *Evaluator, c *evalContext) (string, bool, error) {
	if len(c.marker.Args) != 1 {
		return "", false, usageErrorf(c.name(), "The 'skip_on_env' marker needs exactly one environment variable name to be passed")
	}
	name, ok := c.marker.Args[0].(string)
	if !ok || name == "" {
		return "", false, usageErrorf(c.name(), "The 'skip_on_env' marker only accepts a non empty string as the environment variable name")
	}

	cond := hostcheck.EnvCondition{Name: name}
	kw := c.kwargs()
	present, err := c.popBool(kw, "present", true)
	if err != nil {
		return "", false, err
	}
	cond.Absent = !present
	if v, ok, err := c.popValue(kw, "eq"); err != nil {
		return "", false, err
	} else if ok {
		cond.Eq = &v
	}
	if v, ok, err := c.popValue(kw, "ne"); err != nil {
		return "", false, err
	} else if ok {
		cond.Ne = &v
	}
	if cond.Reason, _, err = c.popString(kw, "reason"); err != nil {
		return "", false, err
	}
	if len(kw) > 0 {
		return "", false, usageErrorf(c.name(),
			"The 'skip_on_env' marker only accepts 'present', 'eq', 'ne' and 'reason' as keyword arguments, got %s", quoteKeys(kw))
	}

	reason, skip, err := e.check().EnvCondition(cond)
	if err != nil {
		return "", false, usageErrorf(c.name(), "Invalid 'skip_on_env' marker: %v", err)
	}
	return reason, skip, nil
}
