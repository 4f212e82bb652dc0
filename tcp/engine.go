package tcp

import (
	"log/slog"
	"time"
)

// DefaultSMSS is used when a peer's MSS option is absent or the caller does
// not override it via Config.
const DefaultSMSS Size = 536 // RFC 9293 §3.7.1 default, absent a Maximum Segment Size option

// Config configures a new Engine. Every field except Dependencies may be
// left zero; unset fields fall back to the defaults noted per-field. New
// panics if Dependencies is nil.
type Config struct {
	Local  Endpoint
	Remote Endpoint // unused for a listening Engine until a child is spawned

	// SendBufferSize/RecvBufferSize default to 64KiB each when zero.
	SendBufferSize int
	RecvBufferSize int

	// Backlog is the accept queue depth for a listening Engine; defaults to 16.
	Backlog int

	// EnableCongestionControl turns on the optional New-Reno-style cwnd
	// logic; off by default so a caller gets a plain sliding window unless
	// they opt in, matching spec.md marking congestion control optional.
	EnableCongestionControl bool

	// WindowScale (0-14) is the receive window shift. An active open offers
	// it in its SYN only when non-zero; a listener's child includes it in
	// the SYN-ACK whenever the peer's SYN carried the option.
	WindowScale uint8

	// Dependencies is required; PushPacket/Poll/etc. all route through it.
	Dependencies Dependencies

	// ISSKey seeds ISS generation; see NewISSGenerator.
	ISSKey [32]byte

	Logger *slog.Logger

	// Metrics, if non-nil, receives connection-lifecycle callbacks; see
	// tcp/metrics for the Prometheus-backed implementation.
	Metrics MetricsSink
}

// MetricsSink receives connection lifecycle events. Implemented by
// tcp/metrics.Collector; kept as a small interface here so the core engine
// never imports the Prometheus client directly.
type MetricsSink interface {
	OnSegmentSent(local Endpoint, n int)
	OnSegmentReceived(local Endpoint, n int)
	OnRetransmit(local Endpoint)
	OnStateChange(local Endpoint, from, to State)
	OnAcceptQueueDepth(local Endpoint, depth int)
}

type noopMetrics struct{}

func (noopMetrics) OnSegmentSent(Endpoint, int)        {}
func (noopMetrics) OnSegmentReceived(Endpoint, int)    {}
func (noopMetrics) OnRetransmit(Endpoint)              {}
func (noopMetrics) OnStateChange(Endpoint, State, State) {}
func (noopMetrics) OnAcceptQueueDepth(Endpoint, int)   {}

// Engine is a single TCP connection's (or listener's) complete state: the
// BSD-socket-shaped application surface described in spec.md, implemented
// as an event-driven state machine that never blocks and never touches a
// wire format itself.
//
// Usage mirrors the original Dependencies-driven design:
//
//	eng := tcp.New(cfg)
//	eng.Listen()
//	...
//	for {
//	    if pkt, ok := eng.PopPacket(); ok { hostSend(pkt) }
//	    if seg, ok := hostRecv(); ok { eng.PushPacket(seg) }
//	}
type Engine struct {
	cfg Config
	log logger

	ctx  ConnectionContext
	send *SendBuffer
	recv *ReceiveBuffer

	accept *AcceptQueue // non-nil only for a listening Engine
	parent *Engine      // non-nil only for a child spawned off a listener

	// spawnedAt records when a listener-spawned child entered the accept
	// queue, used by AcceptQueue.PruneStale to evict handshakes that never
	// complete.
	spawnedAt time.Time

	iss ISSGenerator

	egress []Header // pending outbound segments awaiting PopPacket

	metrics MetricsSink
}

// New constructs an Engine in StateInit. Connect or Listen must be called
// before any other operation is meaningful.
func New(cfg Config) *Engine {
	if cfg.SendBufferSize == 0 {
		cfg.SendBufferSize = 64 * 1024
	}
	if cfg.RecvBufferSize == 0 {
		cfg.RecvBufferSize = 64 * 1024
	}
	if cfg.Backlog == 0 {
		cfg.Backlog = 16
	}
	if cfg.Dependencies == nil {
		panic("tcp: Config.Dependencies is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	e := &Engine{
		cfg:     cfg,
		log:     newLogger(cfg.Logger).with(slog.Uint64("local_port", uint64(cfg.Local.Port))),
		iss:     NewISSGenerator(cfg.ISSKey),
		metrics: metrics,
	}
	e.ctx.local = cfg.Local
	e.ctx.remote = cfg.Remote
	e.ctx.state = StateInit
	e.ctx.smss = DefaultSMSS
	e.ctx.rto = rtoInitial
	e.ctx.cong = newCongestion(cfg.EnableCongestionControl, DefaultSMSS)
	e.ctx.sndWindowShift = 0
	e.ctx.rcvWindowShift = cfg.WindowScale
	return e
}

func (e *Engine) setState(s State) {
	if e.ctx.state == s {
		return
	}
	from := e.ctx.state
	e.ctx.state = s
	if s == StateEstablished {
		e.ctx.everEstablished = true
	}
	e.metrics.OnStateChange(e.ctx.local, from, s)
	e.log.debug("state transition", "from", from, "to", s)
}

// State returns the engine's current state.
func (e *Engine) State() State { return e.ctx.state }

// LocalRemoteAddrs returns the connection's endpoints.
func (e *Engine) LocalRemoteAddrs() (local, remote Endpoint) { return e.ctx.local, e.ctx.remote }

// Stats returns a snapshot of the connection's counters.
func (e *Engine) Stats() Stats {
	s := e.ctx.stats
	s.State = e.ctx.state
	s.SRTT = e.ctx.srtt
	s.RTTVar = e.ctx.rttvar
	s.RTO = e.ctx.rto
	s.LastError = e.ctx.lastError
	if e.ctx.cong.enabled {
		s.CWnd = e.ctx.cong.cwnd
		s.SSThresh = e.ctx.cong.ssthresh
		s.DupAcks = e.ctx.cong.dupAcks
	}
	return s
}

// ClearError returns the latched connection-level error, if any, and resets
// the latch to NoError.
func (e *Engine) ClearError() error {
	if e.ctx.lastError == NoError {
		return nil
	}
	err := e.ctx.lastError
	e.ctx.lastError = NoError
	return err
}

func (e *Engine) latch(ce ConnError) {
	if e.ctx.lastError == NoError {
		e.ctx.lastError = ce
	}
}

// AssociateFunc binds a connection to a concrete local endpoint and returns
// an opaque application token T describing that binding (a socket handle, a
// routing key, whatever the caller's transport needs). The engine retains
// nothing from the call beyond the Endpoint it was already given; T flows
// straight back out through Connect/Listen to their caller.
type AssociateFunc[T any] func(local Endpoint) (T, error)

// Connect actively opens a connection to cfg.Remote, sending the initial
// SYN, after first resolving the caller's application-level token for
// cfg.Local via associate. Valid only from StateInit. If associate returns
// an error, Connect makes no state change and returns it wrapped in a
// *FailedAssociation.
func Connect[T any](e *Engine, associate AssociateFunc[T]) (T, error) {
	var zero T
	if e.ctx.state != StateInit {
		return zero, ErrInvalidState
	}
	token, err := associate(e.ctx.local)
	if err != nil {
		return zero, newFailedAssociation(err)
	}
	if err := e.Connect(); err != nil {
		return zero, err
	}
	return token, nil
}

// Listen puts the engine into a passive-open listening state after first
// resolving the caller's application-level token for cfg.Local via
// associate. Valid only from StateInit. If associate returns an error,
// Listen makes no state change and returns it wrapped in a
// *FailedAssociation.
func Listen[T any](e *Engine, associate AssociateFunc[T]) (T, error) {
	var zero T
	if e.ctx.state != StateInit {
		return zero, ErrInvalidState
	}
	token, err := associate(e.ctx.local)
	if err != nil {
		return zero, newFailedAssociation(err)
	}
	if err := e.Listen(); err != nil {
		return zero, err
	}
	return token, nil
}

// Connect actively opens a connection to cfg.Remote, sending the initial
// SYN. Valid only from StateInit. Callers needing an application token for
// the bound local endpoint should use the package-level Connect instead.
func (e *Engine) Connect() error {
	if e.ctx.state != StateInit {
		return ErrInvalidState
	}
	now := e.cfg.Dependencies.CurrentTime()
	e.ctx.iss = e.iss.Generate(e.ctx.local, e.ctx.remote, now)
	e.send = NewSendBuffer(e.cfg.SendBufferSize, Add(e.ctx.iss, 1)) // the SYN occupies ISS
	e.setState(StateSynSent)
	e.queueSYN()
	e.armRetransmitTimer()
	return nil
}

// Listen puts the engine into a passive-open listening state. Valid only
// from StateInit. Callers needing an application token for the bound local
// endpoint should use the package-level Listen instead.
func (e *Engine) Listen() error {
	if e.ctx.state != StateInit {
		return ErrInvalidState
	}
	e.accept = NewAcceptQueue(e.cfg.Backlog)
	e.setState(StateListen)
	return nil
}

// Accept removes and returns the oldest child connection that has completed
// its handshake (ESTABLISHED or CLOSE-WAIT) from this listener's accept
// queue. Call Finalize on the result before using it, to migrate timer
// ownership from parent to child and to clear the pre-Finalize debug guard.
func (e *Engine) Accept() (*Engine, error) {
	if e.accept == nil {
		return nil, ErrInvalidState
	}
	child := e.accept.Pop()
	if child == nil {
		return nil, ErrNothingToAccept
	}
	e.metrics.OnAcceptQueueDepth(e.ctx.local, e.accept.Len())
	return child, nil
}

// Finalize migrates a newly-accepted child's timer ownership from its
// parent listener to its own Dependencies handle. deps, if non-nil,
// substitutes the child's timer context outright (letting the caller hand
// it a Dependencies distinct from the Fork() the listener produced at
// spawn time); if nil, the forked Dependencies already on the child is
// kept. Calling Finalize on an engine that was not produced by Accept is a
// no-op.
func (e *Engine) Finalize(deps Dependencies) {
	if e.parent == nil || e.ctx.timerOwner == TimerRegisteredByChild {
		return
	}
	if deps != nil {
		e.cfg.Dependencies = deps
	}
	e.ctx.timerOwner = TimerRegisteredByChild
	e.armRetransmitTimer()
	e.parent = nil
}

// Send appends p to the outgoing stream, returning the number of bytes
// accepted. Valid only while TxDataOpen.
func (e *Engine) Send(p []byte) (int, error) {
	e.assertFinalized()
	if !e.ctx.state.TxDataOpen() {
		if e.ctx.state == StateInit || e.ctx.state == StateListen {
			return 0, ErrNotConnected
		}
		return 0, ErrStreamClosed
	}
	n, err := e.send.Write(p)
	if n > 0 {
		e.ctx.stats.BytesSent += uint64(n)
		e.pump()
	}
	return n, err
}

// Recv copies up to len(p) bytes of received data into p.
func (e *Engine) Recv(p []byte) (int, error) {
	e.assertFinalized()
	if e.recv == nil {
		return 0, ErrNotConnected
	}
	n, err := e.recv.Drain(p)
	if n > 0 {
		e.ctx.stats.BytesReceived += uint64(n)
		e.maybeSendWindowUpdate()
	}
	return n, err
}

// Close begins an orderly active close. From ESTABLISHED or CLOSE-WAIT it
// queues a FIN once pending data has drained. From SYN-SENT, LISTEN or INIT
// it moves straight to CLOSED; a listener first resets every child still in
// SYN-RECEIVED, queuing those RSTs on its own egress. In any other state it
// does nothing.
func (e *Engine) Close() error {
	e.assertFinalized()
	switch e.ctx.state {
	case StateListen:
		e.accept.mu.Lock()
		for _, c := range e.accept.items {
			if c.ctx.state == StateSynRcvd {
				c.Abort()
				e.egress = append(e.egress, c.egress...)
				c.egress = c.egress[:0]
			}
		}
		e.accept.mu.Unlock()
		e.setState(StateClosed)
		return nil
	case StateEstablished:
		e.send.QueueFIN()
		e.setState(StateFinWait1)
		e.pump()
		return nil
	case StateCloseWait:
		e.send.QueueFIN()
		e.setState(StateLastAck)
		e.pump()
		return nil
	case StateSynSent, StateInit:
		e.setState(StateClosed)
		return nil
	default:
		return nil // already closing or closed; idempotent per spec.md
	}
}

// Abort forces an immediate abnormal close: sends RST (if a connection
// exists) and latches ResetSent.
func (e *Engine) Abort() {
	if e.ctx.state.IsTerminal() {
		return
	}
	if e.send != nil {
		seq := e.send.Nxt()
		e.egress = append(e.egress, WithRST(e.ctx.local, e.ctx.remote, seq, 0, false))
	}
	e.latch(ResetSent)
	e.setState(StateClosed)
}

// PushPacket admits an inbound segment addressed to this engine. The
// caller is responsible for all demultiplexing (matching src/dst
// endpoints to the right Engine); PushPacket assumes seg already belongs
// to this connection or, for a listener, may spawn a new child. A listener
// hands a segment from the remote endpoint of a child still in its accept
// queue to that child and queues the child's replies on its own egress.
func (e *Engine) PushPacket(seg *Header) {
	e.ctx.stats.SegmentsRecv++
	e.metrics.OnSegmentReceived(e.ctx.local, len(seg.Payload))
	e.dispatch(seg)
}

// PopPacket removes and returns the oldest pending outbound segment.
func (e *Engine) PopPacket() (Header, bool) {
	if len(e.egress) == 0 {
		return Header{}, false
	}
	h := e.egress[0]
	e.egress = e.egress[1:]
	e.ctx.stats.SegmentsSent++
	e.metrics.OnSegmentSent(e.ctx.local, len(h.Payload))
	return h, true
}

// WantsToSend reports whether PopPacket would return a segment.
func (e *Engine) WantsToSend() bool { return len(e.egress) > 0 }

// Poll computes the engine's current readiness bitset.
func (e *Engine) Poll() Readiness {
	e.assertFinalized()
	return e.poll()
}

// pump drains as much of the send buffer as the peer's window and (if
// enabled) cwnd allow, queuing resulting segments for PopPacket. Called
// after Send, after an ACK advances SND.UNA, and after a retransmit timer
// fires.
func (e *Engine) pump() {
	canPump := e.ctx.state.TxDataOpen() || e.ctx.state == StateFinWait1 || e.ctx.state == StateLastAck
	if e.send == nil || !canPump {
		return
	}
	for {
		data, seq, fin := e.send.NextTransmittable(e.ctx.smss, e.ctx.peerWindow())
		if len(data) == 0 && !fin {
			return
		}
		flags := FlagACK
		if fin {
			flags |= FlagFIN
		}
		if len(data) > 0 {
			flags |= FlagPSH
		}
		h := Header{
			Source:     e.ctx.local,
			Dest:       e.ctx.remote,
			Seq:        seq,
			Ack:        e.recvNxtOrZero(),
			Flags:      flags,
			WindowSize: e.advertisedWindow(),
			Payload:    data,
		}
		e.send.MarkTransmitted(Size(len(data)), fin)
		if e.ctx.rttSeq == 0 && !e.ctx.rttValid {
			e.ctx.rttSeq = seq
			e.ctx.rttSent = e.cfg.Dependencies.CurrentTime()
			e.ctx.rttValid = true
		}
		e.egress = append(e.egress, h)
	}
}

func (e *Engine) recvNxtOrZero() Value {
	if e.recv == nil {
		return 0
	}
	return e.recv.Nxt()
}

func (e *Engine) advertisedWindow() uint16 {
	if e.recv == nil {
		return 0
	}
	w := e.recv.Wnd() >> e.ctx.rcvWindowShift
	if w > 0xffff {
		w = 0xffff
	}
	return uint16(w)
}

func (e *Engine) maybeSendWindowUpdate() {
	if e.recv == nil || !e.ctx.state.RxDataOpen() {
		return
	}
	e.egress = append(e.egress, WithACK(e.ctx.local, e.ctx.remote, e.sndNxtOrIss(), e.recv.Nxt(), e.advertisedWindow()))
}

func (e *Engine) sndNxtOrIss() Value {
	if e.send == nil {
		return e.ctx.iss
	}
	return e.send.Nxt()
}

func (e *Engine) queueSYN() {
	h := WithSYN(e.ctx.local, e.ctx.remote, e.ctx.iss, e.advertisedWindowPreRecv())
	h.HasWindowScale = e.cfg.WindowScale != 0
	h.WindowScale = e.cfg.WindowScale
	h.SACKPermitted = true
	e.egress = append(e.egress, h)
}

func (e *Engine) advertisedWindowPreRecv() uint16 {
	if e.cfg.RecvBufferSize > 0xffff {
		return 0xffff
	}
	return uint16(e.cfg.RecvBufferSize)
}

// timerDeps returns the Dependencies whose timer table currently owns this
// engine's pending timers: the parent listener's until Finalize runs, this
// engine's own Dependencies after. Used so a not-yet-finalized child never
// registers its own closure with a Dependencies it doesn't yet fully own.
func (e *Engine) timerDeps() Dependencies {
	if e.parent != nil && e.ctx.timerOwner == TimerRegisteredByParent {
		return e.parent.cfg.Dependencies
	}
	return e.cfg.Dependencies
}

// armRetransmitTimer (re)registers the retransmission timer through
// Dependencies, rooted at the owner appropriate for this engine's
// TimerOwner (parent listener until Finalize runs, self after). The timer
// is registered against a free function plus this engine and its owner
// tag, rather than a closure bound to e, so the registering Dependencies
// never needs e to hold a pointer back to itself beyond what it is handed
// explicitly at fire time.
func (e *Engine) armRetransmitTimer() {
	deps := e.timerDeps()
	owner := e.ctx.timerOwner
	at := e.cfg.Dependencies.CurrentTime().Add(e.ctx.rto)
	deps.RegisterTimer(at, e, owner, retransmitTimerFn)
}

func retransmitTimerFn(now time.Time, eng *Engine, owner TimerOwner) time.Time {
	return eng.onRetransmitTimer(now)
}

// onRetransmitTimer fires when no ACK has advanced SND.UNA within RTO. It
// rewinds the send buffer for full retransmission, doubles RTO, and resets
// cwnd if congestion control is enabled.
func (e *Engine) onRetransmitTimer(now time.Time) time.Time {
	if e.ctx.state.IsTerminal() || e.send == nil || e.send.Empty() {
		return time.Time{}
	}
	e.ctx.stats.Retransmits++
	e.metrics.OnRetransmit(e.ctx.local)
	e.ctx.backoffRTO()
	e.ctx.cong.onRTO(e.ctx.smss)
	e.send.ResetForRetransmit()
	e.pump()
	if e.ctx.state == StateSynSent || e.ctx.state == StateSynRcvd {
		e.latch(TimedOut)
	}
	return now.Add(e.ctx.rto)
}
