package tcp

import "testing"

func TestReceiveBufferInOrderDelivery(t *testing.T) {
	const irsPlus1 = Value(100)
	rb := NewReceiveBuffer(1024, irsPlus1)

	seg := &Header{Seq: irsPlus1, Payload: []byte("hello")}
	delivered := rb.Insert(seg)
	if delivered != 5 {
		t.Fatalf("delivered = %d, want 5", delivered)
	}
	if rb.Nxt() != Add(irsPlus1, 5) {
		t.Fatalf("Nxt() = %d, want %d", rb.Nxt(), Add(irsPlus1, 5))
	}

	buf := make([]byte, 16)
	n, err := rb.Drain(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("drained %q, want %q", buf[:n], "hello")
	}
}

func TestReceiveBufferOutOfOrderFoldsIn(t *testing.T) {
	const start = Value(0)
	rb := NewReceiveBuffer(1024, start)

	// Segment 2 arrives before segment 1: [5,10) ahead of RCV.NXT=0.
	rb.Insert(&Header{Seq: Add(start, 5), Payload: []byte("world")})
	if rb.Nxt() != start {
		t.Fatal("RCV.NXT must not advance on an out-of-order arrival")
	}

	delivered := rb.Insert(&Header{Seq: start, Payload: []byte("hello")})
	if delivered != 10 {
		t.Fatalf("delivered = %d, want 10 (both segments fold in)", delivered)
	}
	if rb.Nxt() != Add(start, 10) {
		t.Fatalf("Nxt() = %d, want %d", rb.Nxt(), Add(start, 10))
	}

	buf := make([]byte, 16)
	n, _ := rb.Drain(buf)
	if string(buf[:n]) != "helloworld" {
		t.Fatalf("drained %q, want %q", buf[:n], "helloworld")
	}
}

func TestReceiveBufferSACKAdvertisesHole(t *testing.T) {
	const start = Value(0)
	rb := NewReceiveBuffer(1024, start)
	rb.Insert(&Header{Seq: Add(start, 10), Payload: []byte("gap")})

	blocks := rb.AdvertiseSACK()
	if blocks[0].Left != Add(start, 10) || blocks[0].Right != Add(start, 13) {
		t.Fatalf("unexpected SACK block: %+v", blocks[0])
	}
}

func TestReceiveBufferPeerFINDelivery(t *testing.T) {
	const start = Value(0)
	rb := NewReceiveBuffer(1024, start)
	rb.Insert(&Header{Seq: start, Payload: []byte("bye"), Flags: FlagFIN})
	if rb.PeerFINDelivered() {
		t.Fatal("FIN should not be considered delivered while preceding bytes are still buffered")
	}
	buf := make([]byte, 16)
	rb.Drain(buf)
	if !rb.PeerFINDelivered() {
		t.Fatal("FIN should be delivered once the bytes preceding it have been drained")
	}
}
