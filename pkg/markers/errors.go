package markers

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrUsage is matched by every marker usage error.
var ErrUsage = errors.New("invalid marker usage")

// UsageError reports a marker whose arguments violate its accepted shape.
type UsageError struct {
	Marker  string
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// Unwrap lets errors.Is(err, ErrUsage) match.
func (e *UsageError) Unwrap() error {
	return ErrUsage
}

func usageErrorf(marker, format string, args ...any) error {
	return errors.WithStack(&UsageError{
		Marker:  marker,
		Message: fmt.Sprintf(format, args...),
	})
}

// AsUsageError extracts the UsageError from err.
func AsUsageError(err error) (*UsageError, bool) {
	var ue *UsageError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
