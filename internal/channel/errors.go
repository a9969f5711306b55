package channel

import (
	"errors"
	"fmt"
)

// Error codes surfaced to callers that branch on failure kind.
const (
	CodeTimeout      = "TIMEOUT"
	CodeDisconnected = "DISCONNECTED"
	CodeNotConnected = "NOT_CONNECTED"
	CodeBadResponse  = "BAD_RESPONSE"
)

// Error is a channel failure carrying a stable code.
type Error struct {
	Code  string
	Event string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel %s: %s: %v", e.Event, e.Code, e.Err)
	}
	return fmt.Sprintf("channel %s: %s", e.Event, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("channel closed")
	// ErrNoURL is returned when the config lists no endpoint.
	ErrNoURL = errors.New("no channel url configured")
)

// ErrorCode returns the code of a channel error, or "" for other errors.
func ErrorCode(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
