package tcp

import (
	"sort"

	"github.com/soypat/tcpcore/internal"
)

// ooRegion is an out-of-order segment held pending reassembly, recorded as
// an offset range relative to the buffer's current rcvNxt; offsets are
// rebased each time RCV.NXT advances.
// Payload is copied into the shared scratch ring immediately, so a region
// only needs its bounds, not a separate backing array.
type ooRegion struct {
	left, right Size // offsets from RCV.NXT
}

// ReceiveBuffer assembles inbound octets into an in-order stream, holding
// out-of-order arrivals until the gap preceding them closes. There is no
// equivalent in the teacher's ControlBlock, which is sequential-only; this
// type is grounded instead on the reassembly queue shape described in
// RFC 9293 §3.8.1 and exercised against the scenarios in spec.md §8.
type ReceiveBuffer struct {
	ring internal.Ring // in-order, application-deliverable bytes

	rcvNxt Value // RCV.NXT: next octet expected in sequence

	oo     [MaxSACKBlocks]ooRegion
	noo    int
	ooData []byte // scratch holding bytes for entries in oo, indexed by offset from rcvNxt

	peerFINSeq       Value
	peerFINKnown     bool
	peerFINDelivered bool
}

// NewReceiveBuffer allocates a ReceiveBuffer backed by a capacity-sized
// ring and an out-of-order scratch area of the same size, with irs+1 as the
// first expected octet.
func NewReceiveBuffer(capacity int, rcvNxt Value) *ReceiveBuffer {
	return &ReceiveBuffer{
		ring:   internal.Ring{Buf: make([]byte, capacity)},
		rcvNxt: rcvNxt,
		ooData: make([]byte, capacity),
	}
}

// Nxt returns RCV.NXT.
func (b *ReceiveBuffer) Nxt() Value { return b.rcvNxt }

// Wnd returns the currently advertisable receive window: the room left in
// the in-order ring, since out-of-order data already consumes scratch space
// the peer has no visibility into.
func (b *ReceiveBuffer) Wnd() Size { return Size(b.ring.Free()) }

// Readable reports whether Drain would return at least one byte.
func (b *ReceiveBuffer) Readable() bool { return b.ring.Buffered() > 0 }

// PeerFINDelivered reports whether the peer's FIN has both been admitted
// and the application has drained every byte preceding it.
func (b *ReceiveBuffer) PeerFINDelivered() bool { return b.peerFINDelivered }

// Insert admits seg (already validated to be within the receive window) into
// the buffer. If seg.Seq == RCV.NXT, bytes are delivered directly and any
// now-contiguous out-of-order regions are folded in; otherwise the bytes are
// parked as an out-of-order region. Returns the number of in-order bytes
// that became deliverable as a result of this call.
func (b *ReceiveBuffer) Insert(seg *Header) (delivered Size) {
	data := seg.Payload
	fin := seg.hasFIN()
	seq := seg.Seq

	if seq == b.rcvNxt {
		n, _ := b.ring.Write(data)
		b.rcvNxt = Add(b.rcvNxt, Size(n))
		delivered = Size(n)
		b.rebaseRegions(Size(n))
		if fin {
			b.peerFINSeq = Add(seq, Size(len(data)))
			b.peerFINKnown = true
		}
		delivered += b.foldContiguous()
		b.checkFINDelivery()
		return delivered
	}

	if seq.GreaterThan(b.rcvNxt) && len(data) > 0 {
		off := Sizeof(b.rcvNxt, seq)
		end := off + Size(len(data))
		if int(end) <= len(b.ooData) {
			copy(b.ooData[off:end], data)
			b.addRegion(ooRegion{left: off, right: end})
		}
	}
	if fin && seq.GreaterThanEq(b.rcvNxt) {
		finAt := Add(seq, Size(len(data)))
		if !b.peerFINKnown || finAt.GreaterThan(b.peerFINSeq) {
			b.peerFINSeq = finAt
			b.peerFINKnown = true
		}
	}
	return 0
}

// addRegion inserts r into oo, merging with any overlapping/adjacent
// existing region, and keeps the slice sorted by left offset.
func (b *ReceiveBuffer) addRegion(r ooRegion) {
	out := make([]ooRegion, 0, b.noo+1)
	out = append(out, r)
	out = append(out, b.oo[:b.noo]...)
	sort.Slice(out, func(i, j int) bool { return out[i].left < out[j].left })

	result := out[:0]
	for _, cur := range out {
		if len(result) > 0 && cur.left <= result[len(result)-1].right {
			if cur.right > result[len(result)-1].right {
				result[len(result)-1].right = cur.right
			}
			continue
		}
		result = append(result, cur)
	}
	n := copy(b.oo[:], result)
	b.noo = n
}

// foldContiguous folds any out-of-order region now touching RCV.NXT into the
// in-order ring, repeating until no further region is contiguous.
func (b *ReceiveBuffer) foldContiguous() (delivered Size) {
	progressed := true
	for progressed {
		progressed = false
		for i := 0; i < b.noo; i++ {
			if b.oo[i].left != 0 {
				continue // not contiguous with current RCV.NXT (offsets are relative, re-based below)
			}
			length := b.oo[i].right - b.oo[i].left
			n, _ := b.ring.Write(b.ooData[b.oo[i].left:b.oo[i].right])
			b.rcvNxt = Add(b.rcvNxt, Size(n))
			delivered += Size(n)
			b.noo--
			b.oo[i] = b.oo[b.noo]
			b.rebaseRegions(length)
			progressed = true
			break
		}
	}
	return delivered
}

// rebaseRegions shifts every remaining out-of-order region's offsets back
// by delta now that RCV.NXT has advanced by delta.
func (b *ReceiveBuffer) rebaseRegions(delta Size) {
	kept := 0
	for i := 0; i < b.noo; i++ {
		r := b.oo[i]
		if r.right <= delta {
			continue // every byte of the region was already delivered in order
		}
		r.left -= minSize(r.left, delta)
		r.right -= delta
		b.oo[kept] = r
		kept++
	}
	b.noo = kept
	copy(b.ooData, b.ooData[delta:])
}

func (b *ReceiveBuffer) checkFINDelivery() {
	if b.peerFINKnown && b.rcvNxt == b.peerFINSeq {
		b.rcvNxt = Add(b.rcvNxt, 1) // the FIN occupies one sequence number
	}
	if b.peerFINKnown && b.rcvNxt == Add(b.peerFINSeq, 1) && b.ring.Buffered() == 0 {
		// Delivery completes only once Drain has emptied the bytes before the FIN.
		b.peerFINDelivered = true
	}
}

// Drain copies up to len(p) deliverable bytes into p.
func (b *ReceiveBuffer) Drain(p []byte) (int, error) {
	n, err := b.ring.Read(p)
	if n > 0 {
		b.checkFINDelivery()
	}
	return n, err
}

// AdvertiseSACK returns up to MaxSACKBlocks out-of-order regions as absolute
// SACKBlocks, suitable for attaching to the next outgoing ACK. Blocks are
// ordered from the highest sequence range to the lowest; arrival order is
// not recorded, so the most recently received block is not necessarily
// listed first.
func (b *ReceiveBuffer) AdvertiseSACK() [MaxSACKBlocks]SACKBlock {
	var out [MaxSACKBlocks]SACKBlock
	n := b.noo
	if n > MaxSACKBlocks {
		n = MaxSACKBlocks
	}
	for i := 0; i < n; i++ {
		src := b.oo[b.noo-1-i] // oo is sorted by left offset, so this walks from the highest
		out[i] = SACKBlock{Left: Add(b.rcvNxt, src.left), Right: Add(b.rcvNxt, src.right)}
	}
	return out
}
