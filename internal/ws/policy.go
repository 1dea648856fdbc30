package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// BroadcastPolicy joins the room named by the identity and relays every
// client message verbatim to the other members of that room.
type BroadcastPolicy struct {
	Greeting []byte // sent on connect when set
}

func (p BroadcastPolicy) OnConnect(ctx context.Context, h *Hub, c *Conn, id Identity) {
	if id.Room != "" {
		if err := h.Join(id.Room, c); err != nil {
			h.Logger().Warn("policy.join", "conn", c.ID(), "err", err)
		}
	}
	if len(p.Greeting) > 0 {
		_ = c.Send(p.Greeting)
	}
}

func (p BroadcastPolicy) OnMessage(ctx context.Context, h *Hub, c *Conn, msg []byte) {
	// the backplane carries payloads as JSON strings
	if !utf8.Valid(msg) {
		h.Logger().Warn("policy.invalid_payload", "conn", c.ID(), "bytes", len(msg))
		return
	}
	if err := h.Broadcast(ctx, c, msg); err != nil {
		h.Logger().Warn("policy.broadcast", "conn", c.ID(), "err", err)
	}
}

var syncMessage = []byte(`{"type":"SYNC"}`)

// SyncPolicy tells everyone else in the room to resync whenever a member
// sends {"type":"SYNC"}. Members get a SYNC on connect too.
type SyncPolicy struct{}

func (SyncPolicy) OnConnect(ctx context.Context, h *Hub, c *Conn, id Identity) {
	if err := h.Join(id.Room, c); err != nil {
		h.Logger().Warn("policy.join", "conn", c.ID(), "err", err)
	}
	_ = c.Send(syncMessage)
}

func (SyncPolicy) OnMessage(ctx context.Context, h *Hub, c *Conn, msg []byte) {
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &m); err != nil {
		h.Logger().Warn("policy.invalid_event", "conn", c.ID(), "err", err)
		return
	}
	if m.Type != "SYNC" {
		h.Logger().Debug("policy.ignored_event", "conn", c.ID(), "type", m.Type)
		return
	}
	if err := h.Broadcast(ctx, c, syncMessage); err != nil {
		h.Logger().Warn("policy.broadcast", "conn", c.ID(), "err", err)
	}
}

// PolicyByName maps a config value to a policy
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "broadcast":
		return BroadcastPolicy{}, nil
	case "sync":
		return SyncPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown policy %q", name)
}
