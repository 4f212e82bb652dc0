package tcp

import "fmt"

// MaxSACKBlocks is the maximum number of SACK blocks a single header may
// carry, fixed by the 40 byte TCP options budget (RFC 2018): two bytes of
// kind/length plus up to four 8 byte edge pairs.
const MaxSACKBlocks = 4

// SACKBlock is a contiguous run of octets the receiver holds but which is
// not contiguous with RCV.NXT, per RFC 2018.
type SACKBlock struct {
	Left  Value // first sequence number of the block
	Right Value // first sequence number past the end of the block
}

// Len reports the block's size; zero for a block that was never filled.
func (b SACKBlock) Len() Size {
	if b.Right.LessThanEq(b.Left) {
		return 0
	}
	return Sizeof(b.Left, b.Right)
}

func (b SACKBlock) empty() bool { return b.Left == 0 && b.Right == 0 }

// Header is the fully decoded representation of a TCP segment's control
// information. It carries full IPv4 source/destination endpoints (not just
// ports): this engine is handed already-demultiplexed segments by its
// caller and never touches a byte-level wire encoding itself (see spec.md
// Non-goals), but it does retain the addressing those segments arrived
// with so Src()/Dst() can report a complete socket address pair.
type Header struct {
	Source Endpoint
	Dest   Endpoint

	Seq   Value
	Ack   Value
	Flags Flags

	// WindowSize is the advertised window before any scale factor is
	// applied; callers that negotiated window scaling must shift it
	// themselves when comparing against unscaled peer state.
	WindowSize uint16

	// SACK holds up to MaxSACKBlocks entries. ReceiveBuffer.AdvertiseSACK
	// fills it from the highest sequence range to the lowest, not by arrival
	// order. Unused trailing entries are the zero value.
	SACK [MaxSACKBlocks]SACKBlock

	// WindowScale is present (HasWindowScale=true) only on SYN/SYN-ACK
	// segments that negotiate RFC 1323 window scaling, range 0-14.
	WindowScale    uint8
	HasWindowScale bool

	// SACKPermitted, when true on a SYN/SYN-ACK, negotiates the use of the
	// SACK option for the lifetime of the connection.
	SACKPermitted bool

	// TSVal/TSEcho implement the RFC 1323 timestamp option.
	TSVal, TSEcho uint32
	HasTimestamp  bool

	// Payload is the segment's data octets. The header does not own the
	// backing array; callers must not mutate it after handing it to the
	// engine via PushPacket.
	Payload []byte
}

// Port is a TCP port number.
type Port uint16

// IPv4 is a 4 octet IPv4 address, per spec.md's segment descriptor
// ("IPv4 source/destination"); this engine never routes or resolves
// addresses, it only threads them through PushPacket/PopPacket.
type IPv4 [4]byte

func (ip IPv4) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
}

// Endpoint is a complete IPv4 socket address: an (ip, port) pair.
type Endpoint struct {
	IP   IPv4
	Port Port
}

func (e Endpoint) String() string { return fmt.Sprintf("%s:%d", e.IP, e.Port) }

// Src reports the segment's source (ip, port) pair.
func (h *Header) Src() Endpoint { return h.Source }

// Dst reports the segment's destination (ip, port) pair.
func (h *Header) Dst() Endpoint { return h.Dest }

func (h *Header) hasSYN() bool { return h.Flags.HasAny(FlagSYN) }
func (h *Header) hasACK() bool { return h.Flags.HasAny(FlagACK) }
func (h *Header) hasFIN() bool { return h.Flags.HasAny(FlagFIN) }
func (h *Header) hasRST() bool { return h.Flags.HasAny(FlagRST) }

// segLen is RFC 9293's SEG.LEN: payload octets plus one for each of SYN/FIN.
func (h *Header) segLen() Size {
	n := Size(len(h.Payload))
	if h.hasSYN() {
		n++
	}
	if h.hasFIN() {
		n++
	}
	return n
}

// WithSYN builds a bare SYN header opening a connection from local to remote.
func WithSYN(src, dst Endpoint, iss Value, wnd uint16) Header {
	return Header{Source: src, Dest: dst, Seq: iss, Flags: FlagSYN, WindowSize: wnd}
}

// WithSYNACK builds a SYN|ACK header responding to a received SYN.
func WithSYNACK(src, dst Endpoint, iss, irsPlus1 Value, wnd uint16) Header {
	return Header{Source: src, Dest: dst, Seq: iss, Ack: irsPlus1, Flags: flagSynAck, WindowSize: wnd}
}

// WithFINACK builds a FIN|ACK header, used to begin an active close or to
// answer one already underway.
func WithFINACK(src, dst Endpoint, seq, ack Value, wnd uint16) Header {
	return Header{Source: src, Dest: dst, Seq: seq, Ack: ack, Flags: flagFinAck, WindowSize: wnd}
}

// WithRST builds a bare RST header, per RFC 9293 §3.5.2: if ACK was not set
// on the segment that provoked the reset, SEQ is zero and ACK carries
// SEG.SEQ+SEG.LEN; otherwise SEQ carries the acknowledgment and ACK is unset.
// Callers pass the already-resolved seq/ack pair; see rst.go's computeRST.
func WithRST(src, dst Endpoint, seq, ack Value, ackSet bool) Header {
	h := Header{Source: src, Dest: dst, Seq: seq, Flags: FlagRST}
	if ackSet {
		h.Flags |= FlagACK
		h.Ack = ack
	}
	return h
}

// WithACK builds a bare ACK header carrying no payload, used for pure
// acknowledgments (window updates, duplicate-ACK generation, keepalives).
func WithACK(src, dst Endpoint, seq, ack Value, wnd uint16) Header {
	return Header{Source: src, Dest: dst, Seq: seq, Ack: ack, Flags: FlagACK, WindowSize: wnd}
}
