package tcp

//go:generate stringer -type=State -linecomment -output state_string.go .

// State enumerates the 13 states a connection progresses through during its
// lifetime. Unlike RFC 9293 (which has no pseudo-state preceding LISTEN or
// SYN-SENT), this engine makes the pre-handshake state explicit as StateInit
// so that "no operation has opened this connection yet" is an observable
// state rather than implicit. StateRst is defined as well, but no transition
// enters it.
type State uint8

const (
	// INIT - the connection has been allocated but neither connect nor
	// listen has been called. Not part of RFC 9293; exists so a freshly
	// constructed engine has a state to reject operations from.
	StateInit State = iota // INIT
	// LISTEN - waiting for a connection request from any remote TCP and port.
	StateListen // LISTEN
	// SYN-SENT - waiting for a matching connection request after having sent one.
	StateSynSent // SYN-SENT
	// SYN-RECEIVED - waiting for confirmation of a connection request that was
	// both received and sent.
	StateSynRcvd // SYN-RECEIVED
	// ESTABLISHED - open connection, data may flow in both directions.
	StateEstablished // ESTABLISHED
	// FIN-WAIT-1 - waiting for a termination request from the remote, or an
	// acknowledgment of the termination request we already sent.
	StateFinWait1 // FIN-WAIT-1
	// FIN-WAIT-2 - waiting for a termination request from the remote TCP.
	StateFinWait2 // FIN-WAIT-2
	// CLOSING - waiting for acknowledgment of our termination request, having
	// already seen the remote's.
	StateClosing // CLOSING
	// TIME-WAIT - waiting long enough to be sure the remote received the
	// acknowledgment of its termination request.
	StateTimeWait // TIME-WAIT
	// CLOSE-WAIT - remote has closed; local may still send.
	StateCloseWait // CLOSE-WAIT
	// LAST-ACK - waiting for acknowledgment of our termination request sent
	// after the remote's.
	StateLastAck // LAST-ACK
	// RST - no transition enters this state. An abnormal close (Abort)
	// queues an RST, latches ResetSent and moves straight to CLOSED.
	StateRst // RST
	// CLOSED - terminal. No operation is valid except draining residual egress.
	StateClosed // CLOSED
)

// IsPreestablished reports whether the connection is in a state preceding
// ESTABLISHED that still participates in the handshake.
func (s State) IsPreestablished() bool {
	return s == StateSynRcvd || s == StateSynSent || s == StateListen
}

// IsClosing reports whether the connection has begun an orderly teardown but
// has not yet reached a terminal state.
func (s State) IsClosing() bool {
	switch s {
	case StateFinWait1, StateFinWait2, StateClosing, StateTimeWait, StateCloseWait, StateLastAck, StateRst:
		return true
	}
	return false
}

// IsTerminal reports whether the state machine has reached CLOSED, from
// which it never departs.
func (s State) IsTerminal() bool { return s == StateClosed }

// TxDataOpen reports whether the local side may still queue bytes for send.
func (s State) TxDataOpen() bool {
	return s == StateEstablished || s == StateCloseWait
}

// RxDataOpen reports whether the local side may still receive new bytes.
func (s State) RxDataOpen() bool {
	switch s {
	case StateEstablished, StateFinWait1, StateFinWait2:
		return true
	}
	return false
}
