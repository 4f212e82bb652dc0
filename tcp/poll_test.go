package tcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPollEstablishedReadyPersistsAfterClose checks that EstablishedReady,
// once set by a successful handshake, stays set even after the connection
// has fully closed, per the documented "may be set even if closed" poll
// semantics.
func TestPollEstablishedReadyPersistsAfterClose(t *testing.T) {
	clock := newTestClock()
	client, server := newPair(t, clock)
	var serverConn *Engine
	pumpUntil(t, clock, client, server, 20, func() bool {
		var err error
		serverConn, err = server.Accept()
		return err == nil
	})
	serverConn.Finalize(nil)
	require.True(t, client.Poll().Has(EstablishedReady))

	client.Abort()
	require.True(t, client.Poll().Has(EstablishedReady),
		"EstablishedReady must persist after the connection closes")
}

// TestPollAbortReportsBothHalvesClosed checks that a connection torn down
// via Abort (RST, no FIN ever queued) still reports RecvClosed/SendClosed,
// since it is fully and terminally closed even though no FIN exchange
// occurred.
func TestPollAbortReportsBothHalvesClosed(t *testing.T) {
	clock := newTestClock()
	client, server := newPair(t, clock)
	var serverConn *Engine
	pumpUntil(t, clock, client, server, 20, func() bool {
		var err error
		serverConn, err = server.Accept()
		return err == nil
	})
	serverConn.Finalize(nil)

	client.Abort()
	r := client.Poll()
	require.True(t, r.Has(RecvClosed), "aborted connection should report RecvClosed")
	require.True(t, r.Has(SendClosed), "aborted connection should report SendClosed")
	require.True(t, r.Has(ClosedReady))
}

// TestPollAcceptQueuePopsCloseWaitChild checks that a child which received
// a FIN before being accepted (ESTABLISHED -> CLOSE-WAIT while still in the
// backlog) remains acceptable rather than being permanently skipped.
func TestPollAcceptQueuePopsCloseWaitChild(t *testing.T) {
	clock := newTestClock()
	client, server := newPair(t, clock)
	pumpUntil(t, clock, client, server, 20, func() bool {
		return client.State() == StateEstablished
	})

	// Peer (client) closes before the server ever calls Accept.
	require.NoError(t, client.Close())
	pumpUntil(t, clock, client, server, 20, func() bool {
		return server.accept.Len() == 1 && server.accept.items[0].ctx.state == StateCloseWait
	})

	child, err := server.Accept()
	require.NoError(t, err)
	require.Equal(t, StateCloseWait, child.State())
}
