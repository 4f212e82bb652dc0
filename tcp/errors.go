package tcp

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Operation-invalid errors: the call is illegal in the engine's current state.
var (
	ErrInvalidState     = errors.New("tcp: invalid operation for current state")
	ErrInProgress       = errors.New("tcp: connect already in progress")
	ErrAlreadyConnected = errors.New("tcp: already connected")
	ErrNothingToAccept  = errors.New("tcp: no completed connection to accept")
)

// Flow-control errors.
var (
	ErrFull         = errors.New("tcp: send buffer full")
	ErrEmpty        = errors.New("tcp: nothing to read")
	ErrNotConnected = errors.New("tcp: not connected")
	ErrStreamClosed = errors.New("tcp: stream closed, FIN already queued")
)

// ErrNoPacket describes an empty egress queue. PopPacket does not return it;
// PopPacket reports an empty queue through its boolean result.
var ErrNoPacket = errors.New("tcp: no packet to pop")

// Internal admission errors, not exposed across the application boundary.
// The per-state handlers do not use them: they drop or answer a segment
// directly instead of returning an error.
var (
	errDropSegment    = errors.New("tcp: drop segment")
	errSeqNotInWindow = errors.New("tcp: seq not in window")
	errAckNotNext     = errors.New("tcp: ack does not cover expected range")
	errWindowTooLarge = errors.New("tcp: window exceeds 16 bits pre-scale")
)

// FailedAssociation wraps the error returned by the caller's associate_fn.
// The engine makes no state change when this is returned (see spec.md §7).
// It wraps with github.com/pkg/errors so the original cause and its stack
// remain inspectable by the caller, matching the wrapping idiom
// telepresenceio-telepresence uses for user-facing connector/cli errors.
type FailedAssociation struct {
	cause error
}

func newFailedAssociation(cause error) *FailedAssociation {
	return &FailedAssociation{cause: pkgerrors.Wrap(cause, "tcp: associate_fn failed")}
}

func (e *FailedAssociation) Error() string { return e.cause.Error() }
func (e *FailedAssociation) Unwrap() error { return e.cause }

// ConnError is a latched, connection-level error. At most one is latched on
// a ConnectionContext at any time; first writer wins (see spec.md §7).
type ConnError uint8

const (
	// NoError indicates nothing has been latched.
	NoError ConnError = iota
	// ResetSent indicates the engine itself sent an RST (forced/abnormal close).
	ResetSent
	// ResetReceived indicates the peer sent an RST that was admitted.
	ResetReceived
	// TimedOut indicates a retransmission or connect deadline expired.
	TimedOut
)

func (e ConnError) String() string {
	switch e {
	case NoError:
		return "<nil>"
	case ResetSent:
		return "ResetSent"
	case ResetReceived:
		return "ResetReceived"
	case TimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("ConnError(%d)", uint8(e))
	}
}

// Error implements the error interface so a latched ConnError can be
// returned directly from ClearError.
func (e ConnError) Error() string { return "tcp: " + e.String() }
