package tcp

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// TestStatsReflectsTransfer checks the Stats snapshot taken before and
// after a data transfer differs exactly in the counters the transfer
// should move, using go-cmp to pinpoint any unexpected field drift instead
// of asserting on each field by hand.
func TestStatsReflectsTransfer(t *testing.T) {
	clock := newTestClock()
	client, server := newPair(t, clock)
	var serverConn *Engine
	pumpUntil(t, clock, client, server, 20, func() bool {
		var err error
		serverConn, err = server.Accept()
		return err == nil
	})
	serverConn.Finalize(nil)

	before := client.Stats()
	client.Send([]byte("payload"))
	pumpUntil(t, clock, client, serverConn, 20, func() bool {
		return serverConn.Poll().Has(Readable)
	})
	after := client.Stats()

	diff := cmp.Diff(before, after, cmpopts.IgnoreFields(Stats{},
		"BytesSent", "SegmentsSent", "SegmentsRecv", "State", "SRTT", "RTTVar", "RTO"))
	if diff != "" {
		t.Errorf("unexpected Stats fields changed beyond the transfer-related ones (-before +after):\n%s", diff)
	}
	if after.SegmentsRecv <= before.SegmentsRecv {
		t.Errorf("SegmentsRecv did not increase: before=%d after=%d", before.SegmentsRecv, after.SegmentsRecv)
	}
	if after.BytesSent <= before.BytesSent {
		t.Errorf("BytesSent did not increase: before=%d after=%d", before.BytesSent, after.BytesSent)
	}
}
