package session

import (
	"errors"
	"fmt"
)

var (
	// ErrReconnectExhausted is terminal for the session: no further
	// reconnect attempt will be made.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrUnexpectedSignal   = errors.New("unexpected signal")
	ErrStaleNegotiation   = errors.New("stale negotiation")
	ErrChannelNotOpen     = errors.New("channel not open")
	ErrSessionClosed      = errors.New("session closed")
	ErrNoTransport        = errors.New("no transport")
	ErrNotInRoom          = errors.New("not in a room")
)

// NegotiationError reports a transport failure during one negotiation
// attempt. The state machine is back in Idle when it is returned.
type NegotiationError struct {
	Op         string
	Generation uint64
	Err        error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s (generation %d): %v", e.Op, e.Generation, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
