package tcp

import "math/bits"

// Flags is a TCP flags bit-masked implementation, i.e. SYN, FIN, ACK.
// Layout follows the teacher's FIN-first, LSB-to-MSB ordering so the
// common combinations (SYN, SYN|ACK, FIN|ACK, PSH|ACK) stay the cheapest
// to construct and compare.
type Flags uint16

const (
	FlagFIN Flags = 1 << iota // FlagFIN - no more data from sender.
	FlagSYN                   // FlagSYN - synchronize sequence numbers.
	FlagRST                   // FlagRST - reset the connection.
	FlagPSH                   // FlagPSH - push function.
	FlagACK                   // FlagACK - acknowledgment field significant.
	FlagURG                   // FlagURG - urgent pointer field significant.
	FlagECE                   // FlagECE - ECN-Echo.
	FlagCWR                   // FlagCWR - congestion window reduced.
)

const flagMask = 0x00ff

// Common flag combinations given shorthands since they recur throughout the
// state handlers.
const (
	flagSynAck  = FlagSYN | FlagACK
	flagFinAck  = FlagFIN | FlagACK
	flagPshAck  = FlagPSH | FlagACK
	flagRstAck  = FlagRST | FlagACK
)

// HasAll reports whether all bits in mask are set in flags.
func (flags Flags) HasAll(mask Flags) bool { return flags&mask == mask }

// HasAny reports whether one or more bits in mask are set in flags.
func (flags Flags) HasAny(mask Flags) bool { return flags&mask != 0 }

// Mask clears any bits outside the defined flag range.
func (flags Flags) Mask() Flags { return flags & flagMask }

// String returns a human readable flag string, e.g. "[SYN,ACK]".
func (flags Flags) String() string {
	switch flags {
	case 0:
		return "[]"
	case flagSynAck:
		return "[SYN,ACK]"
	case flagFinAck:
		return "[FIN,ACK]"
	case flagPshAck:
		return "[PSH,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagSYN:
		return "[SYN]"
	case FlagFIN:
		return "[FIN]"
	case FlagRST:
		return "[RST]"
	}
	buf := make([]byte, 0, 2+4*bits.OnesCount16(uint16(flags)))
	buf = append(buf, '[')
	buf = flags.AppendFormat(buf)
	buf = append(buf, ']')
	return string(buf)
}

// AppendFormat appends a human readable flag string to b, returning the
// extended buffer.
func (flags Flags) AppendFormat(b []byte) []byte {
	if flags == 0 {
		return b
	}
	const strflags = "FIN SYN RST PSH ACK URG ECE CWR "
	const flaglen = 4
	var addcommas bool
	for flags != 0 {
		i := bits.TrailingZeros16(uint16(flags))
		if addcommas {
			b = append(b, ',')
		} else {
			addcommas = true
		}
		name := strflags[i*flaglen : i*flaglen+flaglen-1]
		b = append(b, name...)
		flags &= ^(1 << i)
	}
	return b
}
