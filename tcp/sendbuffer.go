package tcp

import (
	"github.com/soypat/tcpcore/internal"
)

// sackHole is a half-open range, relative to the buffer's base, that the
// peer has selectively acknowledged as received beyond SND.UNA. Holes are
// recorded by OnSACK and rebased by OnCumulativeAck; NextTransmittable does
// not consult them, so a retransmission resends the whole unacknowledged
// tail, and ResetForRetransmit discards them.
type sackHole struct {
	left, right Size // offsets from base
}

// SendBuffer holds the outgoing byte stream between SND.UNA and the
// application's write frontier, plus enough bookkeeping to answer "what
// should go out next" under cumulative ACK, SACK, and retransmission.
// Storage is an internal.Ring, the same fixed-capacity circular buffer the
// teacher uses for connection byte buffering.
type SendBuffer struct {
	ring internal.Ring

	base Value // SND.UNA: sequence number of ring.Buf[ring.Off]
	next Size  // offset (from base) of the next byte never yet transmitted

	holes [MaxSACKBlocks]sackHole
	nholes int

	finQueued bool
	finSeq    Value // valid iff finQueued
	finSent   bool
	finAcked  bool
}

// NewSendBuffer allocates a SendBuffer backed by a capacity-sized ring, with
// iss as the sequence number of the first byte that will ever be written.
func NewSendBuffer(capacity int, iss Value) *SendBuffer {
	return &SendBuffer{
		ring: internal.Ring{Buf: make([]byte, capacity)},
		base: iss,
	}
}

// HasRoom reports whether Write would accept at least one byte.
func (b *SendBuffer) HasRoom() bool { return b.ring.Free() > 0 && !b.finQueued }

// Write appends application bytes to the stream, returning the number
// accepted (which may be less than len(p) if the buffer is near full).
func (b *SendBuffer) Write(p []byte) (int, error) {
	if b.finQueued {
		return 0, ErrStreamClosed
	}
	free := b.ring.Free()
	if free == 0 {
		return 0, ErrFull
	}
	if len(p) > free {
		p = p[:free]
	}
	n, err := b.ring.Write(p)
	return n, err
}

// QueueFIN marks that no more application data will be written and a FIN
// should be sent once all preceding bytes are transmitted.
func (b *SendBuffer) QueueFIN() {
	if b.finQueued {
		return
	}
	b.finQueued = true
	b.finSeq = Add(b.base, Size(b.ring.Buffered()))
}

func (b *SendBuffer) FINQueued() bool { return b.finQueued }
func (b *SendBuffer) FINSent() bool   { return b.finSent }
func (b *SendBuffer) FINAcked() bool  { return b.finAcked }

// Una returns SND.UNA, the sequence number of the oldest unacknowledged byte.
func (b *SendBuffer) Una() Value { return b.base }

// Nxt returns SND.NXT: one past the highest sequence number transmitted
// since the last ResetForRetransmit, which rewinds it to SND.UNA.
func (b *SendBuffer) Nxt() Value {
	nxt := Add(b.base, b.next)
	if b.finSent {
		return Add(nxt, 1) // FIN consumes one sequence number
	}
	return nxt
}

// NextTransmittable returns up to maxLen bytes (and whether a FIN should
// accompany them) starting at SND.NXT that fit within the peer's
// advertised window peerWnd. SACKed holes are not skipped. A zero length
// with fin=true means "send a bare FIN now".
func (b *SendBuffer) NextTransmittable(maxLen Size, peerWnd Size) (data []byte, seq Value, fin bool) {
	buffered := Size(b.ring.Buffered())
	var avail Size
	if b.next < buffered {
		avail = minSize(buffered-b.next, peerWnd)
	}
	n := minSize(avail, maxLen)
	seq = Add(b.base, b.next)
	if n > 0 {
		data = make([]byte, n)
		b.ring.ReadAt(data, int64(b.next))
	}
	fin = n == 0 && b.finQueued && !b.finSent && b.next >= buffered
	return data, seq, fin
}

// MarkTransmitted advances the "never yet transmitted" frontier after a
// successful call to NextTransmittable; fin marks that the returned segment
// carried the queued FIN.
func (b *SendBuffer) MarkTransmitted(n Size, fin bool) {
	b.next += n
	if fin {
		b.finSent = true
	}
}

// OnCumulativeAck processes a cumulative ACK for ackNum, discarding
// acknowledged bytes from the ring and returning the number of data bytes
// newly acknowledged (i.e. ignoring the FIN's own sequence slot). It also
// drops any SACK holes now covered by the cumulative point.
func (b *SendBuffer) OnCumulativeAck(ackNum Value) (ackedData Size, dup bool) {
	if !ackNum.GreaterThan(b.base) {
		return 0, ackNum == b.base
	}
	advance := Sizeof(b.base, ackNum)
	buffered := Size(b.ring.Buffered())

	dataAdvance := advance
	if b.finQueued && b.finSent && ackNum == Add(b.finSeq, 1) {
		dataAdvance = advance - 1
		b.finAcked = true
	}
	if dataAdvance > buffered {
		dataAdvance = buffered
	}
	if dataAdvance > 0 {
		b.ring.ReadDiscard(int(dataAdvance))
	}
	b.base = Add(b.base, Size(dataAdvance))
	if b.next > dataAdvance {
		b.next -= dataAdvance
	} else {
		b.next = 0
	}
	for i := 0; i < b.nholes; i++ {
		h := &b.holes[i]
		if h.right <= dataAdvance {
			*h = sackHole{} // dropped by compactHoles
			continue
		}
		h.left -= minSize(h.left, dataAdvance)
		h.right -= dataAdvance
	}
	b.compactHoles()
	return dataAdvance, false
}

// OnSACK records peer-reported SACK blocks as holes, replacing any recorded
// before; NextTransmittable does not consult them. Blocks outside
// [SND.UNA, SND.NXT) are ignored.
func (b *SendBuffer) OnSACK(blocks [MaxSACKBlocks]SACKBlock) {
	b.nholes = 0
	nxt := b.Nxt()
	for _, blk := range blocks {
		if blk.empty() || !blk.Right.GreaterThan(blk.Left) {
			continue
		}
		if blk.Left.LessThan(b.base) || blk.Right.GreaterThan(nxt) {
			continue
		}
		if b.nholes >= len(b.holes) {
			break
		}
		b.holes[b.nholes] = sackHole{left: Sizeof(b.base, blk.Left), right: Sizeof(b.base, blk.Right)}
		b.nholes++
	}
}

func (b *SendBuffer) compactHoles() {
	n := 0
	for i := 0; i < b.nholes; i++ {
		if b.holes[i].right > 0 {
			b.holes[n] = b.holes[i]
			n++
		}
	}
	b.nholes = n
}

// ResetForRetransmit rewinds the "never yet transmitted" frontier back to
// SND.UNA, forcing NextTransmittable to resend from the oldest unacked byte.
// Called on RTO expiry.
func (b *SendBuffer) ResetForRetransmit() {
	b.next = 0
	b.finSent = false
	b.nholes = 0
}

// Empty reports whether every byte ever written, including a queued FIN,
// has been acknowledged.
func (b *SendBuffer) Empty() bool {
	return b.ring.Buffered() == 0 && (!b.finQueued || b.finAcked)
}
