package markers

// Kind is the decision taken for a test.
type Kind int

const (
	// Proceed lets the test run.
	Proceed Kind = iota

	// Skip stops the test with a reason.
	Skip

	// Error reports an invalid marker; the test fails during setup.
	Error
)

func (k Kind) String() string {
	switch k {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the result of evaluating the markers of one test.
type Outcome struct {
	Kind Kind `json:"kind"`

	// Reason is the skip reason or the usage error message.
	Reason string `json:"reason,omitempty"`

	// Marker names the marker that decided the outcome.
	Marker string `json:"marker,omitempty"`

	// Warnings collects deprecation notices raised while evaluating.
	Warnings []string `json:"warnings,omitempty"`

	err error
}

// Err returns the usage error behind an Error outcome, or nil.
func (o Outcome) Err() error {
	return o.err
}

// Failed returns an Error outcome for err, such as a malformed annotation that
// could not be turned into markers.
func Failed(marker string, err error) Outcome {
	return Outcome{Kind: Error, Reason: err.Error(), Marker: marker, err: err}
}
