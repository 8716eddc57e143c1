package progress

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected means there is no live session to send on.
	ErrNotConnected = errors.New("progress stream not connected")
	// ErrClosed means Disconnect was called.
	ErrClosed = errors.New("progress stream closed")
)

// ConnectivityError wraps dial, read and write failures. Fatal is set once
// reconnection has given up.
type ConnectivityError struct {
	Op       string
	Attempts int
	Fatal    bool
	Err      error
}

func (e *ConnectivityError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("progress stream unavailable after %d reconnect attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("progress stream %s failed: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ProtocolError is a malformed inbound frame. It never tears down a session.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SubscriptionError means a subscribe or unsubscribe command could not be queued.
type SubscriptionError struct {
	Action       Action
	Subscription Subscription
	Err          error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.Subscription, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
