package tcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestEngineRetransmitsOnTimeout drops the first copy of a data segment in
// flight and verifies the sender retransmits it once its RTO fires, without
// any help from the receiver's ACK.
func TestEngineRetransmitsOnTimeout(t *testing.T) {
	clock := newTestClock()
	client, server := newPair(t, clock)
	var serverConn *Engine
	pumpUntil(t, clock, client, server, 20, func() bool {
		var err error
		serverConn, err = server.Accept()
		return err == nil
	})
	serverConn.Finalize(nil)

	_, err := client.Send([]byte("payload"))
	require.NoError(t, err)

	// Drop the first transmission on the floor instead of delivering it.
	first, ok := client.PopPacket()
	require.True(t, ok)
	require.True(t, first.Flags.HasAny(FlagPSH))

	require.False(t, client.WantsToSend())

	clock.advance(2 * time.Second) // force the retransmission timer to fire

	retransmitted, ok := client.PopPacket()
	require.True(t, ok, "expected a retransmitted segment after RTO")
	require.Equal(t, first.Seq, retransmitted.Seq)
	require.Equal(t, first.Payload, retransmitted.Payload)
	require.Greater(t, client.Stats().Retransmits, uint64(0))
}
