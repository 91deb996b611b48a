package remote

import (
	"errors"
	"fmt"
)

// ReplayError describes a response the server actually produced for a
// replayed mutation. StatusCode 0 means the request never reached the server.
type ReplayError struct {
	StatusCode int
	Message    string
}

func (e *ReplayError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRetryable classifies a replay failure. Server 5xx responses, timeouts,
// and transport errors are retryable; a 4xx is a terminal application error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var replayErr *ReplayError
	if errors.As(err, &replayErr) {
		return replayErr.StatusCode == 0 || replayErr.StatusCode >= 500
	}
	// Transport failure: connection refused, DNS, context deadline.
	return true
}

// FailureMessage extracts the message recorded on a failed mutation.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var replayErr *ReplayError
	if errors.As(err, &replayErr) {
		return replayErr.Message
	}
	return err.Error()
}
