package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/philipyoungg/ws-pubsub/pkg/metrics"
)

// DefaultHeartbeatInterval is the sweep period when none is configured
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat sweeps every tracked connection once per interval.
// A connection that has not answered the previous sweep's ping is handed to
// onDead; everything else is marked not-alive and pinged again. That gives
// each connection one full interval to pong.
type Heartbeat struct {
	interval time.Duration
	onDead   func(*Conn)
	onPong   func(*Conn)
	log      *slog.Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewHeartbeat creates a monitor; onDead must run the normal close path
func NewHeartbeat(interval time.Duration, onDead, onPong func(*Conn), log *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		interval: interval,
		onDead:   onDead,
		onPong:   onPong,
		log:      log,
		conns:    map[*Conn]struct{}{},
	}
}

func (h *Heartbeat) Interval() time.Duration { return h.interval }

func (h *Heartbeat) Track(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Heartbeat) Untrack(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// Len is the number of tracked connections
func (h *Heartbeat) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Snapshot returns the tracked connections
func (h *Heartbeat) Snapshot() []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

// Sweep runs one tick and returns how many connections were declared dead.
// A connection declared dead is not pinged in the same sweep.
func (h *Heartbeat) Sweep() int {
	var dead, alive []*Conn
	for _, c := range h.Snapshot() {
		if c.Alive() {
			alive = append(alive, c)
		} else {
			dead = append(dead, c)
		}
	}

	for _, c := range dead {
		h.log.Info("heartbeat.dead", "conn", c.ID(), "room", c.Room())
		metrics.HeartbeatClosed.Inc()
		h.onDead(c)
	}

	for _, c := range alive {
		c.alive.Store(false)
		c.session.Ping(func() { h.onPong(c) })
	}

	h.log.Debug("heartbeat.sweep", "alive", len(alive), "dead", len(dead))
	return len(dead)
}

// Run sweeps on every tick until ctx is cancelled
func (h *Heartbeat) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			h.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
