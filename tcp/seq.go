package tcp

// Value is a TCP sequence or acknowledgment number. Arithmetic on Value wraps
// modulo 2**32 and all comparisons are performed with signed-difference
// semantics per RFC 9293 section 3.4 ("Sequence Numbers"); naive unsigned
// comparison of two Values is a correctness bug since the space wraps.
type Value uint32

// Size is a window size or segment/stream length in octets, always < 2**32
// and in practice bounded by the (possibly scaled) 16 bit TCP window field.
type Size uint32

// Add returns v+n wrapping modulo 2**32.
func Add(v Value, n Size) Value { return v + Value(n) }

// Sizeof returns the wrapped distance from a to b, i.e. the number of octets
// from (and including) a up to (but excluding) b. Callers must ensure a
// precedes b in the sequence space they intend to measure or the result is
// meaningless (it is always computed, never negative, since Size is unsigned).
func Sizeof(a, b Value) Size { return Size(b - a) }

// LessThan reports whether v precedes other in the sequence space, per the
// signed difference comparison of RFC 9293: v < other iff (v-other) interpreted
// as a signed 32 bit value is negative.
func (v Value) LessThan(other Value) bool { return int32(v-other) < 0 }

// LessThanEq reports whether v precedes or equals other.
func (v Value) LessThanEq(other Value) bool { return v == other || v.LessThan(other) }

// GreaterThan reports whether v follows other in the sequence space.
func (v Value) GreaterThan(other Value) bool { return other.LessThan(v) }

// GreaterThanEq reports whether v follows or equals other.
func (v Value) GreaterThanEq(other Value) bool { return v == other || other.LessThan(v) }

// InWindow reports whether v lies in [start, start+size) modulo 2**32.
// A zero size window contains no sequence numbers.
func (v Value) InWindow(start Value, size Size) bool {
	if size == 0 {
		return false
	}
	return Sizeof(start, v) < size
}

// UpdateForward advances *v by n, wrapping modulo 2**32.
func (v *Value) UpdateForward(n Size) { *v = Add(*v, n) }

// min/max helpers for Size, kept local since the stdlib generic min/max
// operate on ordered types but we want these spelled out at call sites that
// mix Size with plain int without extra casts scattered everywhere.
func minSize(a, b Size) Size {
	if a < b {
		return a
	}
	return b
}

func maxSize(a, b Size) Size {
	if a > b {
		return a
	}
	return b
}
