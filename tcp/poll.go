package tcp

// Readiness is a bitset describing what operations are currently sensible
// on an Engine, queried through Engine.Poll. Modeled after the readiness
// bitsets common to non-blocking socket APIs (epoll/kqueue style) rather
// than a single State value, since several bits can be true simultaneously
// (e.g. READABLE and SEND_CLOSED during a passive close).
type Readiness uint16

const (
	// Readable indicates Recv would return at least one byte without error.
	Readable Readiness = 1 << iota
	// Writable indicates Send would accept at least one byte.
	Writable
	// Errored indicates ClearError would return a non-nil latched error.
	Errored
	// RecvClosed indicates the peer's FIN has been delivered, or the
	// connection has closed or been reset; Recv will return io.EOF once the
	// receive buffer drains.
	RecvClosed
	// SendClosed indicates the local side has queued or sent its own FIN, or
	// the connection has closed or been reset; Send will return
	// ErrStreamClosed.
	SendClosed
	// ReadyToAccept indicates Accept would return a completed connection
	// without blocking.
	ReadyToAccept
	// EstablishedReady indicates the connection has completed its
	// handshake at least once during its lifetime.
	EstablishedReady
	// ClosedReady indicates the engine has reached the terminal CLOSED state.
	ClosedReady
)

func (r Readiness) Has(bit Readiness) bool { return r&bit != 0 }

// poll computes readiness from the current engine state each time Poll is
// called; nothing is cached between calls.
func (e *Engine) poll() Readiness {
	var r Readiness
	if e.recv != nil && e.recv.Readable() {
		r |= Readable
	}
	if e.ctx.state.TxDataOpen() && e.send != nil && e.send.HasRoom() {
		r |= Writable
	}
	if e.ctx.lastError != NoError {
		r |= Errored
	}
	closedForGood := e.ctx.state.IsTerminal() || e.ctx.lastError == ResetReceived || e.ctx.lastError == ResetSent
	if (e.recv != nil && e.recv.PeerFINDelivered()) || closedForGood {
		r |= RecvClosed
	}
	if (e.send != nil && e.send.FINQueued()) || closedForGood {
		r |= SendClosed
	}
	if e.accept != nil {
		e.accept.mu.Lock()
		for _, c := range e.accept.items {
			if c.ctx.state == StateEstablished || c.ctx.state == StateCloseWait {
				r |= ReadyToAccept
				break
			}
		}
		e.accept.mu.Unlock()
	}
	if e.ctx.everEstablished {
		r |= EstablishedReady
	}
	if e.ctx.state.IsTerminal() {
		r |= ClosedReady
	}
	return r
}
