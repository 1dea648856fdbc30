package ws

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"github.com/philipyoungg/ws-pubsub/pkg/metrics"
	"golang.org/x/time/rate"
)

// Identity is what admission resolved for a connecting client
type Identity struct {
	Subject     string
	Room        string
	Subprotocol string // echoed back during the upgrade when set
}

type identityKey struct{}

// WithIdentity stores the admitted identity on the request context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity placed by admission, if any
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Policy is the application protocol on top of the relay.
// OnConnect decides which room to join and what to send first;
// OnMessage decides what an inbound client message means.
type Policy interface {
	OnConnect(ctx context.Context, h *Hub, c *Conn, id Identity)
	OnMessage(ctx context.Context, h *Hub, c *Conn, msg []byte)
}

type HubConfig struct {
	Namespace         string
	HeartbeatInterval time.Duration
	SendBuffer        int        // per-connection outbound queue
	MessageRate       rate.Limit // inbound messages/sec per connection, 0 = unlimited
	MessageBurst      int
}

// Hub wires transport events to the registry, heartbeat and relay
type Hub struct {
	log    *slog.Logger
	cfg    HubConfig
	policy Policy

	registry  *Registry
	relay     *Relay
	heartbeat *Heartbeat
}

// NewHub sets up the hub with broker handles + policy + logger
func NewHub(logger *slog.Logger, cfg HubConfig, pub Publisher, sub Subscriber, policy Policy) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	h := &Hub{log: logger, cfg: cfg, policy: policy}
	h.relay = NewRelay(cfg.Namespace, pub, sub, logger)
	h.registry = NewRegistry(h.relay)
	h.relay.members = h.registry
	h.heartbeat = NewHeartbeat(cfg.HeartbeatInterval, h.Close, h.Pong, logger)
	return h
}

// Run drives the relay and heartbeat; on shutdown every connection is closed
func (h *Hub) Run(ctx context.Context) {
	go h.relay.Run(ctx)
	go h.heartbeat.Run(ctx)
	<-ctx.Done()

	for _, c := range h.heartbeat.Snapshot() {
		h.Close(c)
	}
}

func (h *Hub) Logger() *slog.Logger { return h.log }
func (h *Hub) Registry() *Registry { return h.registry }
func (h *Hub) Relay() *Relay { return h.relay }
func (h *Hub) Heartbeat() *Heartbeat { return h.heartbeat }

// Connect registers a new session and hands it to the policy
func (h *Hub) Connect(ctx context.Context, s Session, id Identity) *Conn {
	c := NewConn(s)
	if h.cfg.MessageRate > 0 {
		c.limiter = rate.NewLimiter(h.cfg.MessageRate, max(h.cfg.MessageBurst, 1))
	}
	h.heartbeat.Track(c)
	metrics.Connections.Inc()
	h.log.Debug("ws.connect", "conn", c.ID(), "subject", id.Subject)

	h.policy.OnConnect(ctx, h, c, id)
	return c
}

// Pong marks c alive again
func (h *Hub) Pong(c *Conn) { c.alive.Store(true) }

// Message passes one client message to the policy, subject to the rate limit
func (h *Hub) Message(ctx context.Context, c *Conn, msg []byte) {
	if !c.allow() {
		metrics.Dropped.WithLabelValues("rate_limited").Inc()
		h.log.Warn("ws.rate_limited", "conn", c.ID())
		return
	}
	h.policy.OnMessage(ctx, h, c, msg)
}

// Close leaves the room and drops the transport. Safe to call more than once.
func (h *Hub) Close(c *Conn) {
	c.closeOnce.Do(func() {
		h.registry.Remove(c)
		h.heartbeat.Untrack(c)
		c.session.Terminate()
		metrics.Connections.Dec()
		h.log.Debug("ws.close", "conn", c.ID())
	})
}

// Join moves c into room
func (h *Hub) Join(room string, c *Conn) error { return h.registry.Join(room, c) }

// Leave takes c out of its room
func (h *Hub) Leave(c *Conn) { h.registry.Leave(c) }

// Broadcast relays payload to every other member of c's room, on every instance
func (h *Hub) Broadcast(ctx context.Context, c *Conn, payload []byte) error {
	room := c.Room()
	if room == "" {
		return ErrNoRoom
	}
	return h.relay.Publish(ctx, room, Envelope{
		Type:     TypeBroadcastEmit,
		Payload:  string(payload),
		SenderID: c.ID(),
	})
}

// Stats returns local room and connection counts
func (h *Hub) Stats() (rooms, conns int) {
	return h.registry.Len(), h.heartbeat.Len()
}

// Ready reports whether cross-instance delivery currently works
func (h *Hub) Ready(ctx context.Context) error { return h.relay.Check(ctx) }

// ServeWS upgrades an admitted request and pumps its events until it closes
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := IdentityFrom(ctx)

	conn, err := Accept(w, r, id.Subprotocol)
	if err != nil {
		h.log.Error("ws.accept", "err", err)
		return
	}

	s := newWSSession(ctx, conn, h.cfg.SendBuffer, 2*h.heartbeat.Interval())
	go s.WriteLoop()

	c := h.Connect(ctx, s, id)
	for {
		payload, ok := s.Read()
		if !ok {
			break
		}
		h.Message(ctx, c, payload)
	}

	h.Close(c)
}
