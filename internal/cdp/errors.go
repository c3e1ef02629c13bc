package cdp

import (
	"errors"
	"fmt"
	"time"
)

// ErrSocketClosed is delivered to every command still pending when a CDP
// socket closes or fails.
var ErrSocketClosed = errors.New("WebSocket closed")

// ConnectionError reports that a CDP endpoint could not be reached or
// attached after all retries.
type ConnectionError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TargetNotFoundError reports an unknown tab or an unknown element ref.
type TargetNotFoundError struct {
	TargetID string
	Msg      string
}

func (e *TargetNotFoundError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "tab not found"
}

// TimeoutError reports that a command or action exceeded its deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s: timeout %dms exceeded", e.Op, e.Timeout.Milliseconds())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ProtocolError is a CDP error reply or a frame that could not be decoded.
type ProtocolError struct {
	Method  string
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Method == "" {
		return "cdp: " + e.Message
	}
	return fmt.Sprintf("cdp %s: %s", e.Method, e.Message)
}

// ActionError reports an element-level failure (ambiguous match, detached
// node, not interactable) with guidance for the caller.
type ActionError struct {
	Msg string
	Err error
}

func (e *ActionError) Error() string { return e.Msg }

func (e *ActionError) Unwrap() error { return e.Err }
