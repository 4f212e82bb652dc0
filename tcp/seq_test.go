package tcp

import (
	"math"
	"testing"
	"testing/quick"
)

func TestValueLessThanWraps(t *testing.T) {
	cases := []struct {
		a, b Value
		want bool
	}{
		{0, 1, true},
		{1, 0, false},
		{math.MaxUint32, 0, true},  // wraps: MaxUint32 precedes 0
		{0, math.MaxUint32, false},
		{100, 100, false},
	}
	for _, c := range cases {
		if got := c.a.LessThan(c.b); got != c.want {
			t.Errorf("Value(%d).LessThan(%d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestValueInWindow(t *testing.T) {
	if !Value(5).InWindow(0, 10) {
		t.Error("5 should be in window [0,10)")
	}
	if Value(10).InWindow(0, 10) {
		t.Error("10 should not be in window [0,10)")
	}
	if Value(0).InWindow(0, 0) {
		t.Error("zero-size window should contain nothing")
	}
	// Wraparound window.
	start := Value(math.MaxUint32 - 2)
	if !Value(1).InWindow(start, 10) {
		t.Error("1 should be in wrapping window starting near MaxUint32")
	}
}

// TestValueOrderingIsTransitiveNearby checks the RFC 9293 §3.4 ordering
// property holds for values that are close together in the sequence space,
// which is the only regime it's meaningful in (the comparison is undefined
// for values more than 2^31 apart).
func TestValueOrderingIsTransitiveNearby(t *testing.T) {
	f := func(base Value, d1, d2 uint16) bool {
		a := base
		b := Add(base, Size(d1))
		c := Add(base, Size(d1)+Size(d2))
		if !a.LessThanEq(b) || !b.LessThanEq(c) {
			return true // not applicable ordering for this triple
		}
		return a.LessThanEq(c)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestSizeofRoundTrip(t *testing.T) {
	f := func(a Value, n uint16) bool {
		b := Add(a, Size(n))
		return Sizeof(a, b) == Size(n)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}
