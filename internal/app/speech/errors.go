// Package speech provides the speech manager, the entry points for every
// request against the playback queue.
package speech

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("entry not found in history")
	ErrExpired        = errors.New("cached audio not found (may have expired)")
	ErrSynthesis      = errors.New("speech synthesis failed")
	ErrRejected       = errors.New("request rejected")
	ErrNotConfigured  = errors.New("ELEVENLABS_API_KEY not set")
)

// RejectedError reports a request refused by an admission filter.
type RejectedError struct {
	Code string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("request rejected: %s", e.Code)
}

// Is makes RejectedError match ErrRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// invalid builds an ErrInvalidRequest with a caller-facing message.
func invalid(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidRequest)
}
