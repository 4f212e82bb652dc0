package tcp

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testTimerEntry/testTimerHeap back a minimal in-process Dependencies
// implementation shared by the scenario tests below.
type testTimerEntry struct {
	at    time.Time
	eng   *Engine
	owner TimerOwner
	fn    TimerFunc
}

type testTimerHeap []testTimerEntry

func (h testTimerHeap) Len() int            { return len(h) }
func (h testTimerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h testTimerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *testTimerHeap) Push(x interface{}) { *h = append(*h, x.(testTimerEntry)) }
func (h *testTimerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type testClock struct {
	now    time.Time
	timers testTimerHeap
}

func newTestClock() *testClock { return &testClock{now: time.Unix(0, 0)} }

func (c *testClock) deps() Dependencies { return &testDeps{clock: c} }

func (c *testClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
	for len(c.timers) > 0 && !c.timers[0].at.After(c.now) {
		e := heap.Pop(&c.timers).(testTimerEntry)
		if next := e.fn(c.now, e.eng, e.owner); !next.IsZero() {
			heap.Push(&c.timers, testTimerEntry{at: next, eng: e.eng, owner: e.owner, fn: e.fn})
		}
	}
}

type testDeps struct{ clock *testClock }

func (d *testDeps) CurrentTime() time.Time { return d.clock.now }
func (d *testDeps) RegisterTimer(at time.Time, eng *Engine, owner TimerOwner, fn TimerFunc) {
	heap.Push(&d.clock.timers, testTimerEntry{at: at, eng: eng, owner: owner, fn: fn})
}
func (d *testDeps) Fork() Dependencies { return &testDeps{clock: d.clock} }

// pumpUntil exchanges packets between a and b until neither has anything
// pending, then nudges the clock forward once; repeats up to maxRounds
// times or until cond reports completion.
func pumpUntil(t *testing.T, clock *testClock, a, b *Engine, maxRounds int, cond func() bool) {
	t.Helper()
	for round := 0; round < maxRounds; round++ {
		for {
			moved := false
			if h, ok := a.PopPacket(); ok {
				b.PushPacket(&h)
				moved = true
			}
			if h, ok := b.PopPacket(); ok {
				a.PushPacket(&h)
				moved = true
			}
			if !moved {
				break
			}
		}
		if cond() {
			return
		}
		clock.advance(50 * time.Millisecond)
	}
	t.Fatalf("condition not met within %d rounds", maxRounds)
}

func newPair(t *testing.T, clock *testClock) (client, server *Engine) {
	t.Helper()
	client = New(Config{
		Local:        Endpoint{Port: 4000},
		Remote:       Endpoint{Port: 80},
		Dependencies: clock.deps(),
	})
	server = New(Config{
		Local:        Endpoint{Port: 80},
		Dependencies: clock.deps(),
		Backlog:      4,
	})
	require.NoError(t, server.Listen())
	require.NoError(t, client.Connect())
	return client, server
}

func TestEngineHandshakeCompletes(t *testing.T) {
	clock := newTestClock()
	client, server := newPair(t, clock)

	var serverConn *Engine
	pumpUntil(t, clock, client, server, 20, func() bool {
		var err error
		serverConn, err = server.Accept()
		return err == nil
	})
	serverConn.Finalize(nil)

	require.Equal(t, StateEstablished, client.State())
	require.Equal(t, StateEstablished, serverConn.State())
}

func TestEngineDataTransfer(t *testing.T) {
	clock := newTestClock()
	client, server := newPair(t, clock)
	var serverConn *Engine
	pumpUntil(t, clock, client, server, 20, func() bool {
		var err error
		serverConn, err = server.Accept()
		return err == nil
	})
	serverConn.Finalize(nil)

	msg := []byte("the quick brown fox")
	n, err := client.Send(msg)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)

	pumpUntil(t, clock, client, serverConn, 20, func() bool {
		return serverConn.Poll().Has(Readable)
	})

	buf := make([]byte, 64)
	n, err = serverConn.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, msg, buf[:n])
}

func TestEngineOrderlyClose(t *testing.T) {
	clock := newTestClock()
	client, server := newPair(t, clock)
	var serverConn *Engine
	pumpUntil(t, clock, client, server, 20, func() bool {
		var err error
		serverConn, err = server.Accept()
		return err == nil
	})
	serverConn.Finalize(nil)

	require.NoError(t, client.Close())
	require.Equal(t, StateFinWait1, client.State())

	pumpUntil(t, clock, client, serverConn, 20, func() bool {
		return serverConn.State() == StateCloseWait
	})
	require.NoError(t, serverConn.Close())

	pumpUntil(t, clock, client, serverConn, 20, func() bool {
		return serverConn.State() == StateClosed
	})
	// Client lingers in TIME-WAIT; advance the clock past 2*MSL to flush it.
	clock.advance(2 * time.Minute)
	require.Equal(t, StateClosed, client.State())
}

func TestEngineAbortSendsRST(t *testing.T) {
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
	require.Equal(t, StateClosed, client.State())
	err := client.ClearError()
	require.ErrorIs(t, err, ResetSent)

	pumpUntil(t, clock, client, serverConn, 5, func() bool { return true })
	require.Equal(t, StateClosed, serverConn.State())
	require.ErrorIs(t, serverConn.ClearError(), ResetReceived)
}

func TestEngineAcceptQueueBacklog(t *testing.T) {
	clock := newTestClock()
	server := New(Config{
		Local:        Endpoint{Port: 80},
		Dependencies: clock.deps(),
		Backlog:      1,
	})
	require.NoError(t, server.Listen())

	c1 := New(Config{Local: Endpoint{Port: 1}, Remote: Endpoint{Port: 80}, Dependencies: clock.deps()})
	c2 := New(Config{Local: Endpoint{Port: 2}, Remote: Endpoint{Port: 80}, Dependencies: clock.deps()})
	require.NoError(t, c1.Connect())
	require.NoError(t, c2.Connect())

	syn1, _ := c1.PopPacket()
	syn2, _ := c2.PopPacket()
	server.PushPacket(&syn1)
	server.PushPacket(&syn2) // should be silently dropped: backlog is 1

	require.Equal(t, 1, server.accept.Len())
}
