package tcp

import (
	"bytes"
	"testing"
)

func TestSendBufferBasicFlow(t *testing.T) {
	const iss = Value(1000)
	sb := NewSendBuffer(1024, iss)

	n, err := sb.Write([]byte("hello world"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 11 {
		t.Fatalf("wrote %d, want 11", n)
	}
	if sb.Una() != iss {
		t.Fatalf("Una() = %d, want %d", sb.Una(), iss)
	}
	if sb.Nxt() != iss {
		t.Fatalf("Nxt() before transmit should equal Una(), got %d want %d", sb.Nxt(), iss)
	}

	data, seq, fin := sb.NextTransmittable(5, 1000)
	if fin {
		t.Fatal("fin should not be set yet")
	}
	if seq != iss {
		t.Fatalf("seq = %d, want %d", seq, iss)
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Fatalf("data = %q, want %q", data, "hello")
	}
	sb.MarkTransmitted(Size(len(data)), false)
	if sb.Nxt() != Add(iss, 5) {
		t.Fatalf("Nxt() = %d, want %d", sb.Nxt(), Add(iss, 5))
	}

	acked, _ := sb.OnCumulativeAck(Add(iss, 5))
	if acked != 5 {
		t.Fatalf("acked = %d, want 5", acked)
	}
	if sb.Una() != Add(iss, 5) {
		t.Fatalf("Una() = %d, want %d", sb.Una(), Add(iss, 5))
	}
}

func TestSendBufferQueueFIN(t *testing.T) {
	const iss = Value(0)
	sb := NewSendBuffer(64, iss)
	sb.Write([]byte("abc"))
	sb.QueueFIN()

	if _, err := sb.Write([]byte("x")); err != ErrStreamClosed {
		t.Fatalf("Write after QueueFIN = %v, want ErrStreamClosed", err)
	}

	data, seq, fin := sb.NextTransmittable(10, 10)
	if fin {
		t.Fatal("FIN should not ride with data until data is exhausted")
	}
	if seq != iss || !bytes.Equal(data, []byte("abc")) {
		t.Fatalf("unexpected first transmit: seq=%d data=%q", seq, data)
	}
	sb.MarkTransmitted(Size(len(data)), false)

	_, finSeq, fin := sb.NextTransmittable(10, 10)
	if !fin {
		t.Fatal("expected bare FIN to be transmittable once data drains")
	}
	if finSeq != Add(iss, 3) {
		t.Fatalf("FIN seq = %d, want %d", finSeq, Add(iss, 3))
	}
	sb.MarkTransmitted(0, true)
	if !sb.FINSent() {
		t.Fatal("FINSent() should be true after MarkTransmitted(_, true)")
	}

	if _, dup := sb.OnCumulativeAck(Add(iss, 4)); dup {
		t.Fatal("ack covering FIN should not be reported a dup")
	}
	if !sb.FINAcked() {
		t.Fatal("FINAcked() should be true once the FIN's sequence slot is acked")
	}
	if !sb.Empty() {
		t.Fatal("Empty() should be true once all data and FIN are acked")
	}
}

func TestSendBufferRespectsPeerWindow(t *testing.T) {
	sb := NewSendBuffer(64, 0)
	sb.Write([]byte("0123456789"))
	data, _, _ := sb.NextTransmittable(100, 4)
	if len(data) != 4 {
		t.Fatalf("len(data) = %d, want 4 (bounded by peer window)", len(data))
	}
}

func TestSendBufferResetForRetransmit(t *testing.T) {
	sb := NewSendBuffer(64, 0)
	sb.Write([]byte("hello"))
	data, _, _ := sb.NextTransmittable(100, 100)
	sb.MarkTransmitted(Size(len(data)), false)
	if sb.Nxt() == sb.Una() {
		t.Fatal("expected Nxt() to have advanced past Una()")
	}
	sb.ResetForRetransmit()
	if sb.Nxt() != sb.Una() {
		t.Fatal("ResetForRetransmit should rewind Nxt() back to Una()")
	}
}
