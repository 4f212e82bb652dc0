package tcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcceptQueuePruneStaleAbortsHalfOpenChildren(t *testing.T) {
	clock := newTestClock()
	server := New(Config{Local: Endpoint{Port: 80}, Dependencies: clock.deps(), Backlog: 4})
	require.NoError(t, server.Listen())

	client := New(Config{Local: Endpoint{Port: 1}, Remote: Endpoint{Port: 80}, Dependencies: clock.deps()})
	require.NoError(t, client.Connect())
	syn, ok := client.PopPacket()
	require.True(t, ok)
	server.PushPacket(&syn) // spawns a half-open child, never completes the handshake

	require.Equal(t, 1, server.accept.Len())

	clock.advance(time.Hour)
	err := server.accept.PruneStale(clock.now, time.Minute)
	require.Error(t, err, "pruning a half-open child should report the RST it sent via Abort")
	require.Equal(t, 0, server.accept.Len())
}
