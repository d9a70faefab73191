package hostcheck

import (
	"errors"
	"fmt"
)

var (
	// ErrEqAndNe is returned when an EnvCondition sets both Eq and Ne.
	ErrEqAndNe = errors.New("'eq' and 'ne' are mutually exclusive")

	// ErrAbsentWithValue is returned when an EnvCondition combines Absent with Eq or Ne.
	ErrAbsentWithValue = errors.New("'present=false' cannot be combined with 'eq' or 'ne'")
)

// EnvCondition describes when a test must be skipped based on an environment
// variable.
type EnvCondition struct {
	// Name is the environment variable to inspect.
	Name string

	// Absent inverts the presence check: skip when the variable is not set.
	Absent bool

	// Eq skips when the variable is set to exactly this value.
	Eq *string

	// Ne skips when the variable is set to anything other than this value.
	Ne *string

	// Reason replaces the default skip message.
	Reason string
}

// Validate rejects mutually exclusive combinations.
func (e EnvCondition) Validate() error {
	if e.Eq != nil && e.Ne != nil {
		return ErrEqAndNe
	}
	if e.Absent && (e.Eq != nil || e.Ne != nil) {
		return ErrAbsentWithValue
	}
	return nil
}

// EnvCondition evaluates cond against the process environment.
func (c *Checker) EnvCondition(cond EnvCondition) (string, bool, error) {
	if err := cond.Validate(); err != nil {
		return "", false, err
	}

	value, set := c.lookupEnv(cond.Name)
	var reason string
	switch {
	case cond.Absent:
		if set {
			return "", false, nil
		}
		reason = fmt.Sprintf("Environment variable '%s' is not present", cond.Name)
	case !set:
		return "", false, nil
	case cond.Eq != nil:
		if value != *cond.Eq {
			return "", false, nil
		}
		reason = fmt.Sprintf("Environment variable '%s' is equal to '%s'", cond.Name, *cond.Eq)
	case cond.Ne != nil:
		if value == *cond.Ne {
			return "", false, nil
		}
		reason = fmt.Sprintf("Environment variable '%s' is not equal to '%s'", cond.Name, *cond.Ne)
	default:
		reason = fmt.Sprintf("Environment variable '%s' is present", cond.Name)
	}

	if cond.Reason != "" {
		reason = cond.Reason
	}
	return reason, true, nil
}
