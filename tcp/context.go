package tcp

import "time"

// RFC 6298 constants governing RTT estimation and RTO bounds.
const (
	rttAlpha         = 0.125 // RFC 6298 §2: SRTT smoothing gain
	rttBeta          = 0.25  // RFC 6298 §2: RTTVAR smoothing gain
	rtoMin           = time.Second
	rtoMax           = 60 * time.Second
	rtoInitial       = time.Second
	clockGranularity = 100 * time.Millisecond
)

// Stats is a point-in-time snapshot of a connection's counters, exported
// through Engine.Stats. The Prometheus collector in tcp/metrics does not
// read it; it is fed through MetricsSink callbacks instead.
type Stats struct {
	State         State
	BytesSent     uint64
	BytesReceived uint64
	SegmentsSent  uint64
	SegmentsRecv  uint64
	Retransmits   uint64
	DupAcks       uint32
	SRTT          time.Duration
	RTTVar        time.Duration
	RTO           time.Duration
	CWnd          Size
	SSThresh      Size
	LastError     ConnError
}

// congestion holds the optional New-Reno-style congestion control state.
// It is zero-valued (and its logic short-circuited) unless a connection was
// constructed with congestion control enabled, since spec.md marks it
// optional and many embedded deployments run with a fixed window instead.
type congestion struct {
	enabled        bool
	cwnd           Size
	ssthresh       Size
	dupAcks        uint32
	inFastRecovery bool
}

const initialWindowSegments = 2 // RFC 5681 permits 2-4 SMSS initial cwnd

func newCongestion(enabled bool, smss Size) congestion {
	if !enabled {
		return congestion{}
	}
	return congestion{
		enabled:  true,
		cwnd:     smss * initialWindowSegments,
		ssthresh: 1 << 30, // effectively unbounded until first loss
	}
}

// onAckAdvance updates cwnd per slow-start/congestion-avoidance rules for
// ackedBytes newly cumulative-acknowledged bytes, given the sender MSS.
func (c *congestion) onAckAdvance(ackedBytes Size, smss Size) {
	if !c.enabled || smss == 0 {
		return
	}
	c.dupAcks = 0
	c.inFastRecovery = false
	if c.cwnd < c.ssthresh {
		c.cwnd += minSize(ackedBytes, smss) // slow start: +1 SMSS per ACK
	} else {
		// congestion avoidance: +SMSS*SMSS/cwnd per ACK (RFC 5681 §3.1)
		inc := (smss * smss) / maxSize(c.cwnd, 1)
		if inc == 0 {
			inc = 1
		}
		c.cwnd += inc
	}
}

// onDupAck registers a duplicate ACK; returns true the moment the 3rd one
// triggers fast retransmit.
func (c *congestion) onDupAck(smss Size) (fastRetransmit bool) {
	if !c.enabled {
		return false
	}
	c.dupAcks++
	if c.dupAcks == 3 && !c.inFastRecovery {
		c.ssthresh = maxSize(c.cwnd/2, 2*smss)
		c.cwnd = c.ssthresh + 3*smss
		c.inFastRecovery = true
		return true
	}
	if c.inFastRecovery {
		c.cwnd += smss // inflate window for each further dup ACK
	}
	return false
}

// onRTO resets cwnd to one segment and halves ssthresh, per RFC 5681 §3.1.
func (c *congestion) onRTO(smss Size) {
	if !c.enabled {
		return
	}
	c.ssthresh = maxSize(c.cwnd/2, 2*smss)
	c.cwnd = smss
	c.inFastRecovery = false
	c.dupAcks = 0
}

// ConnectionContext is the per-connection control block: endpoints, send
// and receive sequence spaces, negotiated options, and RTT/RTO estimation.
// It deliberately holds no I/O state (no sockets, no timers) since those
// live behind Dependencies; this mirrors the teacher's separation of
// ControlBlock (pure state) from Handler (the thing that owns a NIC).
type ConnectionContext struct {
	local, remote Endpoint

	state State

	iss, irs Value

	sndWnd         Size // SND.WND, unscaled as received
	sndWindowShift uint8
	rcvWindowShift uint8
	sndWL1, sndWL2 Value

	windowScaleOK bool
	sackOK        bool
	smss          Size // sender MSS, negotiated or defaulted

	srtt     time.Duration
	rttvar   time.Duration
	rto      time.Duration
	rttSeq   Value // sequence number being timed (zero value = none in flight)
	rttSent  time.Time
	rttValid bool

	cong congestion

	lastError ConnError

	timerOwner TimerOwner

	// everEstablished latches true the first time this connection reaches
	// ESTABLISHED and never clears, so EstablishedReady in poll.go can
	// report "synchronized at least once" even after the connection has
	// since closed, per spec.md's poll table.
	everEstablished bool

	stats Stats
}

// peerWindow returns the peer's currently advertised window scaled by the
// negotiated shift, clamped additionally by cwnd when congestion control is
// enabled.
func (c *ConnectionContext) peerWindow() Size {
	w := c.sndWnd << c.sndWindowShift
	if c.cong.enabled {
		w = minSize(w, c.cong.cwnd)
	}
	return w
}

// sampleRTT feeds a fresh RTT sample (per RFC 6298 §2) measured from a
// single in-flight probe seq to the acknowledgment covering it.
func (c *ConnectionContext) sampleRTT(now time.Time) {
	if !c.rttValid {
		return
	}
	measured := now.Sub(c.rttSent)
	if !c.haveFirstSample() {
		c.srtt = measured
		c.rttvar = measured / 2
	} else {
		delta := measured - c.srtt
		if delta < 0 {
			delta = -delta
		}
		c.rttvar = time.Duration((1-rttBeta)*float64(c.rttvar) + rttBeta*float64(delta))
		c.srtt = time.Duration((1-rttAlpha)*float64(c.srtt) + rttAlpha*float64(measured))
	}
	c.rto = c.srtt + maxDuration(clockGranularity, 4*c.rttvar)
	if c.rto < rtoMin {
		c.rto = rtoMin
	} else if c.rto > rtoMax {
		c.rto = rtoMax
	}
	c.rttValid = false
	c.rttSeq = 0
}

func (c *ConnectionContext) haveFirstSample() bool { return c.srtt != 0 }

// backoffRTO doubles RTO on retransmission timeout, per RFC 6298 §5.5,
// up to rtoMax; grounded on the doubling shape of internal.Backoff without
// reusing its blocking Sleep, since an event-driven engine must never block.
func (c *ConnectionContext) backoffRTO() {
	c.rto *= 2
	if c.rto > rtoMax {
		c.rto = rtoMax
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
