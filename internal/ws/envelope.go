package ws

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TypeBroadcastEmit asks every receiving instance to hand Payload to its
// local room members, skipping the sender
const TypeBroadcastEmit = "BROADCAST_EMIT"

// DefaultNamespace prefixes channel keys when none is configured
const DefaultNamespace = "REDIS_PUBSUB"

// Envelope is what travels over the backplane
type Envelope struct {
	Type     string `json:"type"`
	Payload  string `json:"payload"`
	SenderID string `json:"sender_id"`
}

// Encode renders the envelope as the JSON string published to the broker
func (e Envelope) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(raw), nil
}

// DecodeEnvelope parses a broker message body
func DecodeEnvelope(data string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// ChannelKey is the backplane topic for a room: "<namespace>:<room>"
func ChannelKey(namespace, room string) string { return namespace + ":" + room }

// SplitChannelKey splits a channel at the first ':'.
// Namespaces never contain ':' so room keys may.
func SplitChannelKey(channel string) (namespace, room string, ok bool) {
	return strings.Cut(channel, ":")
}
