package tcp

import "time"

// dispatch routes an inbound segment to the handler for the engine's
// current state, following the same "validate sequence/ack, then act"
// shape the teacher's control.go switches on, generalized here to cover
// the 13 states plus SACK/window-scale/backlog handling this engine adds.
func (e *Engine) dispatch(seg *Header) {
	switch e.ctx.state {
	case StateInit:
		// No operation has opened this connection; RFC 9293 has no
		// state here, so treat it the same as CLOSED: RST unless it's
		// itself an RST.
		e.rcvClosed(seg)
	case StateListen:
		e.rcvListen(seg)
	case StateSynSent:
		e.rcvSynSent(seg)
	case StateSynRcvd:
		e.rcvSynRcvd(seg)
	case StateEstablished:
		e.rcvEstablished(seg)
	case StateFinWait1:
		e.rcvFinWait1(seg)
	case StateFinWait2:
		e.rcvFinWait2(seg)
	case StateCloseWait:
		e.rcvCloseWait(seg)
	case StateClosing:
		e.rcvClosing(seg)
	case StateLastAck:
		e.rcvLastAck(seg)
	case StateTimeWait:
		e.rcvTimeWait(seg)
	case StateRst, StateClosed:
		e.rcvClosed(seg)
	}
}

// rcvClosed answers any arriving segment with an RST, per RFC 9293 §3.5.2,
// unless the segment is itself an RST (in which case it is dropped
// silently to avoid an RST/RST loop).
func (e *Engine) rcvClosed(seg *Header) {
	if seg.hasRST() {
		return
	}
	e.egress = append(e.egress, rstFromClosed(seg))
}

// rcvListen handles an inbound segment on a passively-open listener: a
// segment from the remote endpoint of a child still in the accept queue is
// handed to that child, whose replies are queued on the listener's egress; a
// bare SYN spawns a child in SYN-RECEIVED (subject to backlog admission) and
// queues its SYN-ACK on the listener's egress; any other segment is answered
// per RFC 9293 §3.10.7.2.
func (e *Engine) rcvListen(seg *Header) {
	if seg.hasRST() {
		return
	}
	e.accept.mu.Lock()
	var known *Engine
	for _, c := range e.accept.items {
		if c.ctx.remote == seg.Source {
			known = c
			break
		}
	}
	e.accept.mu.Unlock()
	if known != nil {
		known.dispatch(seg)
		e.egress = append(e.egress, known.egress...)
		known.egress = known.egress[:0]
		return
	}
	if seg.hasACK() {
		e.egress = append(e.egress, rstFromClosed(seg))
		return
	}
	if !seg.hasSYN() {
		return
	}
	child := e.spawnChild(seg)
	if child == nil {
		e.log.debug("accept queue full, dropping SYN")
		return // silently drop; no RST, no SYN cookie (see DESIGN.md)
	}
	if !e.accept.TryAdmit(child) {
		e.log.debug("accept queue full, dropping SYN")
		return
	}
	child.ctx.irs = seg.Seq
	child.recv = NewReceiveBuffer(child.cfg.RecvBufferSize, Add(seg.Seq, 1))
	child.ctx.sackOK = seg.SACKPermitted
	if seg.HasWindowScale {
		child.ctx.windowScaleOK = true
		child.ctx.sndWindowShift = seg.WindowScale
	}
	child.ctx.sndWnd = Size(seg.WindowSize)
	now := e.cfg.Dependencies.CurrentTime()
	child.ctx.iss = child.iss.Generate(child.ctx.local, child.ctx.remote, now)
	child.send = NewSendBuffer(child.cfg.SendBufferSize, Add(child.ctx.iss, 1))
	child.setState(StateSynRcvd)
	synack := WithSYNACK(child.ctx.local, child.ctx.remote, child.ctx.iss, child.recv.Nxt(), child.advertisedWindowPreRecv())
	synack.SACKPermitted = child.ctx.sackOK
	if child.ctx.windowScaleOK {
		synack.HasWindowScale = true
		synack.WindowScale = child.cfg.WindowScale
	}
	e.egress = append(e.egress, synack)
	child.armRetransmitTimer()
	e.metrics.OnAcceptQueueDepth(e.ctx.local, e.accept.Len())
}

// spawnChild builds a not-yet-synchronized child Engine for an inbound SYN,
// inheriting this listener's configuration and forking fresh Dependencies
// per spec.md's TimerRegisteredBy{Parent,Child} handoff.
func (e *Engine) spawnChild(seg *Header) *Engine {
	childCfg := e.cfg
	childCfg.Local = e.ctx.local
	childCfg.Remote = seg.Source
	childCfg.Dependencies = e.cfg.Dependencies.Fork()
	child := New(childCfg)
	child.parent = e
	child.ctx.timerOwner = TimerRegisteredByParent
	child.spawnedAt = e.cfg.Dependencies.CurrentTime()
	return child
}

// rcvSynSent implements RFC 9293 §3.10.7.3.
func (e *Engine) rcvSynSent(seg *Header) {
	if seg.hasACK() {
		if !seg.Ack.GreaterThan(e.ctx.iss) || seg.Ack.GreaterThan(e.send.Nxt()) {
			if !seg.hasRST() {
				e.egress = append(e.egress, rstFromClosed(seg))
			}
			return
		}
	}
	if seg.hasRST() {
		if seg.hasACK() {
			e.latch(ResetReceived)
			e.setState(StateClosed)
		}
		return
	}
	if !seg.hasSYN() {
		return
	}
	e.ctx.irs = seg.Seq
	e.ctx.sndWnd = Size(seg.WindowSize)
	e.ctx.sndWL1 = seg.Seq
	e.ctx.sndWL2 = seg.Ack
	e.ctx.sackOK = seg.SACKPermitted
	if seg.HasWindowScale {
		e.ctx.windowScaleOK = true
		e.ctx.sndWindowShift = seg.WindowScale
	}
	e.recv = NewReceiveBuffer(e.cfg.RecvBufferSize, Add(seg.Seq, 1))

	if seg.hasACK() {
		e.send.OnCumulativeAck(seg.Ack)
		e.ctx.sampleRTT(e.cfg.Dependencies.CurrentTime())
		e.setState(StateEstablished)
		e.egress = append(e.egress, WithACK(e.ctx.local, e.ctx.remote, e.send.Nxt(), e.recv.Nxt(), e.advertisedWindow()))
		e.pump()
		return
	}
	// Simultaneous open (RFC 9293 §3.5): both sides sent SYN with no ACK.
	e.setState(StateSynRcvd)
	synack := WithSYNACK(e.ctx.local, e.ctx.remote, e.ctx.iss, e.recv.Nxt(), e.advertisedWindowPreRecv())
	e.egress = append(e.egress, synack)
}

// admitInSequence validates seg's SEQ/ACK against the established sequence
// spaces, returning false (and, for a serious violation, queuing a
// response) if the segment should be dropped without further processing.
// This is the generalized form of the teacher's per-state "is this segment
// acceptable" check (RFC 9293 §3.10.7.4 steps 1-5).
func (e *Engine) admitInSequence(seg *Header) bool {
	rcvWnd := e.recv.Wnd()
	segLen := seg.segLen()
	var acceptable bool
	switch {
	case segLen == 0 && rcvWnd == 0:
		acceptable = seg.Seq == e.recv.Nxt()
	case segLen == 0 && rcvWnd > 0:
		acceptable = seg.Seq.InWindow(e.recv.Nxt(), rcvWnd)
	case segLen > 0 && rcvWnd == 0:
		acceptable = false
	default:
		acceptable = seg.Seq.InWindow(e.recv.Nxt(), rcvWnd) ||
			Add(seg.Seq, segLen-1).InWindow(e.recv.Nxt(), rcvWnd)
	}
	if !acceptable {
		if !seg.hasRST() {
			e.egress = append(e.egress, WithACK(e.ctx.local, e.ctx.remote, e.send.Nxt(), e.recv.Nxt(), e.advertisedWindow()))
		}
		return false
	}
	return true
}

// rcvSynRcvd implements RFC 9293 §3.10.7.4's SYN-RECEIVED branch.
func (e *Engine) rcvSynRcvd(seg *Header) {
	if !e.admitInSequence(seg) {
		return
	}
	if seg.hasRST() {
		if e.parent != nil {
			e.parent.accept.Remove(e)
		}
		e.setState(StateClosed)
		return
	}
	if seg.hasSYN() {
		// Stale/duplicate SYN inside the window: answer with a reset and
		// close this connection (a listener that spawned it keeps
		// listening) rather than silently drop, since
		// otherwise a retransmitted preestablished SYN can wedge the
		// handshake (see SPEC_FULL.md §11 and DESIGN.md).
		e.egress = append(e.egress, rstFromClosed(seg))
		e.setState(StateClosed)
		return
	}
	if !seg.hasACK() {
		return
	}
	if !seg.Ack.GreaterThanEq(e.send.Una()) || seg.Ack.GreaterThan(e.send.Nxt()) {
		e.egress = append(e.egress, rstFromClosed(seg))
		return
	}
	e.send.OnCumulativeAck(seg.Ack)
	e.ctx.sndWnd = Size(seg.WindowSize)
	e.ctx.sndWL1 = seg.Seq
	e.ctx.sndWL2 = seg.Ack
	e.setState(StateEstablished)
	e.processPayload(seg)
}

// rcvEstablished implements RFC 9293 §3.10.7.4's ESTABLISHED branch,
// including cumulative ACK processing, SACK scoreboard updates, duplicate
// ACK detection (for optional fast retransmit), and payload delivery.
func (e *Engine) rcvEstablished(seg *Header) {
	if !e.admitInSequence(seg) {
		return
	}
	if seg.hasRST() {
		e.latch(ResetReceived)
		e.setState(StateClosed)
		return
	}
	if seg.hasSYN() {
		e.egress = append(e.egress, rstFromClosed(seg))
		e.latch(ResetSent)
		e.setState(StateClosed)
		return
	}
	if seg.hasACK() {
		e.onAck(seg)
	}
	e.processPayload(seg)
	if seg.hasFIN() {
		e.setState(StateCloseWait)
		e.egress = append(e.egress, WithACK(e.ctx.local, e.ctx.remote, e.send.Nxt(), e.recv.Nxt(), e.advertisedWindow()))
	}
}

// onAck folds a segment's ACK field into SND.UNA, window, RTT, and
// congestion-control state. Shared by every post-handshake state.
func (e *Engine) onAck(seg *Header) {
	una := e.send.Una()
	if seg.Ack.GreaterThan(e.send.Nxt()) {
		// ACKs something not yet sent; ack the current state and drop.
		e.egress = append(e.egress, WithACK(e.ctx.local, e.ctx.remote, e.send.Nxt(), e.recv.Nxt(), e.advertisedWindow()))
		return
	}
	if seg.Ack.LessThanEq(una) {
		if seg.Ack == una && seg.segLen() == 0 {
			if e.ctx.cong.onDupAck(e.ctx.smss) {
				e.send.ResetForRetransmit()
				e.pump()
			}
		}
	} else {
		acked, _ := e.send.OnCumulativeAck(seg.Ack)
		e.ctx.cong.onAckAdvance(acked, e.ctx.smss)
		if e.ctx.rttValid && !seg.Ack.LessThan(e.ctx.rttSeq) {
			e.ctx.sampleRTT(e.cfg.Dependencies.CurrentTime())
		}
		e.armRetransmitTimer()
	}
	if e.ctx.sackOK {
		e.send.OnSACK(seg.SACK)
	}
	// RFC 9293 §3.10.7.4 window update rule: only accept a window update
	// from a segment that is newer (or as new) in both SEQ and ACK.
	if seg.Seq.GreaterThan(e.ctx.sndWL1) || (seg.Seq == e.ctx.sndWL1 && !seg.Ack.LessThan(e.ctx.sndWL2)) {
		e.ctx.sndWnd = Size(seg.WindowSize)
		e.ctx.sndWL1 = seg.Seq
		e.ctx.sndWL2 = seg.Ack
	}
	e.pump()
}

// processPayload delivers in-order/out-of-order payload bytes to the
// receive buffer and, for every segment carrying payload or a FIN, queues an
// ACK reflecting the new RCV.NXT/window/SACK.
func (e *Engine) processPayload(seg *Header) {
	if len(seg.Payload) == 0 && !seg.hasFIN() {
		return
	}
	e.recv.Insert(seg)
	ack := WithACK(e.ctx.local, e.ctx.remote, e.send.Nxt(), e.recv.Nxt(), e.advertisedWindow())
	if e.ctx.sackOK {
		ack.SACK = e.recv.AdvertiseSACK()
		ack.SACKPermitted = true
	}
	e.egress = append(e.egress, ack)
}

// rcvFinWait1 implements RFC 9293's FIN-WAIT-1 branch: our FIN may be acked,
// the peer's FIN may arrive (possibly simultaneously), or both.
func (e *Engine) rcvFinWait1(seg *Header) {
	if !e.admitInSequence(seg) {
		return
	}
	if seg.hasRST() {
		e.latch(ResetReceived)
		e.setState(StateClosed)
		return
	}
	if seg.hasACK() {
		e.onAck(seg)
	}
	e.processPayload(seg)
	finAcked := e.send.FINAcked()
	if seg.hasFIN() && finAcked {
		e.setState(StateTimeWait)
		e.armTimeWait()
	} else if seg.hasFIN() {
		e.setState(StateClosing)
	} else if finAcked {
		e.setState(StateFinWait2)
	}
}

func (e *Engine) rcvFinWait2(seg *Header) {
	if !e.admitInSequence(seg) {
		return
	}
	if seg.hasRST() {
		e.latch(ResetReceived)
		e.setState(StateClosed)
		return
	}
	if seg.hasACK() {
		e.onAck(seg)
	}
	e.processPayload(seg)
	if seg.hasFIN() {
		e.setState(StateTimeWait)
		e.armTimeWait()
	}
}

func (e *Engine) rcvCloseWait(seg *Header) {
	if !e.admitInSequence(seg) {
		return
	}
	if seg.hasRST() {
		e.latch(ResetReceived)
		e.setState(StateClosed)
		return
	}
	if seg.hasACK() {
		e.onAck(seg)
	}
	// A FIN re-arriving here is a retransmission (we already saw the
	// peer's FIN to get into CLOSE-WAIT); just re-ack.
	if seg.hasFIN() {
		e.egress = append(e.egress, WithACK(e.ctx.local, e.ctx.remote, e.send.Nxt(), e.recv.Nxt(), e.advertisedWindow()))
	}
}

func (e *Engine) rcvClosing(seg *Header) {
	if !e.admitInSequence(seg) {
		return
	}
	if seg.hasRST() {
		e.latch(ResetReceived)
		e.setState(StateClosed)
		return
	}
	if seg.hasACK() {
		e.onAck(seg)
	}
	if e.send.FINAcked() {
		e.setState(StateTimeWait)
		e.armTimeWait()
	}
}

func (e *Engine) rcvLastAck(seg *Header) {
	if !e.admitInSequence(seg) {
		return
	}
	if seg.hasRST() {
		e.setState(StateClosed)
		return
	}
	if seg.hasACK() {
		e.onAck(seg)
	}
	if e.send.FINAcked() {
		e.setState(StateClosed)
	}
}

func (e *Engine) rcvTimeWait(seg *Header) {
	if seg.hasRST() {
		return
	}
	if seg.hasFIN() {
		// Retransmitted peer FIN: re-ack and restart the 2MSL timer, per
		// RFC 9293 §3.10.7.4's TIME-WAIT guidance.
		e.egress = append(e.egress, WithACK(e.ctx.local, e.ctx.remote, e.send.Nxt(), e.recv.Nxt(), e.advertisedWindow()))
		e.armTimeWait()
	}
}

// msl is the Maximum Segment Lifetime; TIME-WAIT lasts 2*MSL per
// RFC 9293 §3.3.2.
const msl = 60 * time.Second

func (e *Engine) armTimeWait() {
	deps := e.timerDeps()
	owner := e.ctx.timerOwner
	at := e.cfg.Dependencies.CurrentTime().Add(2 * msl)
	deps.RegisterTimer(at, e, owner, timeWaitTimerFn)
}

func timeWaitTimerFn(now time.Time, eng *Engine, owner TimerOwner) time.Time {
	return eng.onTimeWaitExpire(now)
}

func (e *Engine) onTimeWaitExpire(now time.Time) time.Time {
	if e.ctx.state == StateTimeWait {
		e.setState(StateClosed)
	}
	return time.Time{}
}
