package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeat_ClosesOnlyAfterFullMissedInterval(t *testing.T) {
	h, _ := newSyncHub(t, newMemBroker(), "ns", BroadcastPolicy{})
	s := &mockSession{}
	c := h.Connect(context.Background(), s, Identity{Room: "x"})

	// tick n: ping goes out, nobody is declared dead
	assert.Equal(t, 0, h.heartbeat.Sweep())
	assert.Equal(t, 1, s.getPings())
	assert.False(t, c.Alive())
	assert.False(t, s.isTerminated())
	assert.Equal(t, []*Conn{c}, h.registry.Members("x"))

	// tick n+1 without a pong: closed, and not pinged again
	assert.Equal(t, 1, h.heartbeat.Sweep())
	assert.True(t, s.isTerminated())
	assert.Equal(t, 1, s.getPings())
	assert.Nil(t, h.registry.Members("x"))
	assert.Equal(t, 0, h.heartbeat.Len())

	// gone for good
	assert.Equal(t, 0, h.heartbeat.Sweep())
	assert.Equal(t, 1, s.getPings())
}

func TestHeartbeat_PongKeepsConnectionAlive(t *testing.T) {
	h, _ := newSyncHub(t, newMemBroker(), "ns", BroadcastPolicy{})
	s := &mockSession{}
	c := h.Connect(context.Background(), s, Identity{Room: "x"})

	for tick := 0; tick < 5; tick++ {
		require.Equal(t, 0, h.heartbeat.Sweep(), "tick %d", tick)
		s.pong()
		require.True(t, c.Alive())
	}
	assert.Equal(t, 5, s.getPings())
	assert.False(t, s.isTerminated())
}

func TestHeartbeat_MixedConnections(t *testing.T) {
	h, _ := newSyncHub(t, newMemBroker(), "ns", BroadcastPolicy{})
	good, bad := &mockSession{}, &mockSession{}
	h.Connect(context.Background(), good, Identity{Room: "x"})
	h.Connect(context.Background(), bad, Identity{Room: "x"})

	h.heartbeat.Sweep()
	good.pong()

	assert.Equal(t, 1, h.heartbeat.Sweep())
	assert.False(t, good.isTerminated())
	assert.True(t, bad.isTerminated())
	assert.Equal(t, 2, good.getPings())
	assert.Equal(t, 1, bad.getPings())
	assert.Len(t, h.registry.Members("x"), 1)
}

func TestHeartbeat_Run(t *testing.T) {
	deadCh := make(chan *Conn, 1)
	var hb *Heartbeat
	hb = NewHeartbeat(10*time.Millisecond, func(c *Conn) {
		hb.Untrack(c)
		deadCh <- c
	}, func(*Conn) {}, testLogger())
	c := NewConn(&mockSession{})
	hb.Track(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hb.Run(ctx)

	select {
	case got := <-deadCh:
		assert.Same(t, c, got)
	case <-time.After(2 * time.Second):
		t.Fatal("connection never declared dead")
	}
	assert.Equal(t, 0, hb.Len())
}

func TestHeartbeat_DefaultInterval(t *testing.T) {
	hb := NewHeartbeat(0, func(*Conn) {}, func(*Conn) {}, testLogger())
	assert.Equal(t, 30*time.Second, hb.Interval())
}
