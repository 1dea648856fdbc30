package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/philipyoungg/ws-pubsub/pkg/metrics"
)

const (
	brokerTimeout = 5 * time.Second
	brokerRetry   = time.Second // delay before retrying a failed subscribe/unsubscribe
)

// BusMessage is one message received from the broker
type BusMessage struct {
	Channel string
	Payload string
}

// Publisher is the publish-only broker handle
type Publisher interface {
	Publish(ctx context.Context, channel, message string) error
}

// Subscriber is the subscribe-only broker handle.
// A failed Subscribe or Unsubscribe is retried with the same channel, in
// order, until it succeeds, so both must be safe to repeat.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Messages() <-chan BusMessage
}

// Pinger is implemented by brokers that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemberLister gives the relay read access to local room membership
type MemberLister interface {
	Members(room string) []*Conn
}

type subOp struct {
	channel   string
	subscribe bool
}

// Relay moves envelopes between local rooms and the backplane.
// It subscribes to a room's channel while the room exists locally and hands
// inbound envelopes to local members other than the sender.
type Relay struct {
	namespace string
	pub       Publisher
	sub       Subscriber
	members   MemberLister
	log       *slog.Logger

	healthy atomic.Bool

	opsMu   sync.Mutex
	pending []subOp
	wake    chan struct{}
	applyMu sync.Mutex
}

// NewRelay creates a relay; members is attached by the hub once the registry exists
func NewRelay(namespace string, pub Publisher, sub Subscriber, log *slog.Logger) *Relay {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	r := &Relay{
		namespace: namespace,
		pub:       pub,
		sub:       sub,
		log:       log,
		wake:      make(chan struct{}, 1),
	}
	r.healthy.Store(true)
	metrics.BackplaneUp.Set(1)
	return r
}

func (r *Relay) Namespace() string { return r.namespace }

// RoomCreated queues a subscribe for the room's channel
func (r *Relay) RoomCreated(room string) {
	metrics.Rooms.Inc()
	r.enqueue(subOp{channel: ChannelKey(r.namespace, room), subscribe: true})
}

// RoomDestroyed queues an unsubscribe for the room's channel
func (r *Relay) RoomDestroyed(room string) {
	metrics.Rooms.Dec()
	r.enqueue(subOp{channel: ChannelKey(r.namespace, room)})
}

// enqueue never blocks; the registry calls it under its lock
func (r *Relay) enqueue(op subOp) {
	r.opsMu.Lock()
	r.pending = append(r.pending, op)
	r.opsMu.Unlock()
	r.poke()
}

// flush applies queued subscription changes in the order they were queued.
// On the first failure the failed op and everything after it go back to the
// front of the queue and flush reports false.
func (r *Relay) flush(ctx context.Context) bool {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.opsMu.Lock()
	ops := r.pending
	r.pending = nil
	r.opsMu.Unlock()

	for i, op := range ops {
		if err := r.apply(ctx, op); err != nil {
			r.opsMu.Lock()
			r.pending = append(ops[i:len(ops):len(ops)], r.pending...)
			r.opsMu.Unlock()
			return false
		}
	}
	return true
}

func (r *Relay) apply(ctx context.Context, op subOp) error {
	ctx, cancel := context.WithTimeout(ctx, brokerTimeout)
	defer cancel()

	name, call := "subscribe", r.sub.Subscribe
	if !op.subscribe {
		name, call = "unsubscribe", r.sub.Unsubscribe
	}

	if err := call(ctx, op.channel); err != nil {
		metrics.Subscriptions.WithLabelValues(name, "error").Inc()
		r.log.Error("relay."+name, "channel", op.channel, "err", err)
		r.setHealthy(false)
		return err
	}
	metrics.Subscriptions.WithLabelValues(name, "ok").Inc()
	r.log.Debug("relay."+name, "channel", op.channel)
	r.setHealthy(true)
	return nil
}

// Publish sends env to every instance subscribed to room, this one included
func (r *Relay) Publish(ctx context.Context, room string, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, brokerTimeout)
	defer cancel()

	if err := r.pub.Publish(ctx, ChannelKey(r.namespace, room), data); err != nil {
		metrics.Published.WithLabelValues("error").Inc()
		r.setHealthy(false)
		return fmt.Errorf("publish %s: %w", room, err)
	}
	metrics.Published.WithLabelValues("ok").Inc()
	r.setHealthy(true)
	return nil
}

// HandleMessage processes one inbound broker message.
// Channels from another namespace are ignored; undecodable bodies are logged
// and dropped; unknown envelope types are ignored.
func (r *Relay) HandleMessage(channel, data string) {
	ns, room, ok := SplitChannelKey(channel)
	if !ok || ns != r.namespace {
		return
	}

	env, err := DecodeEnvelope(data)
	if err != nil {
		metrics.Dropped.WithLabelValues("malformed_envelope").Inc()
		r.log.Warn("relay.decode", "channel", channel, "err", err)
		return
	}

	switch env.Type {
	case TypeBroadcastEmit:
		r.deliver(room, env)
	default:
		r.log.Debug("relay.unknown_type", "type", env.Type, "channel", channel)
	}
}

func (r *Relay) deliver(room string, env Envelope) {
	if r.members == nil {
		return
	}
	payload := []byte(env.Payload)
	for _, c := range r.members.Members(room) {
		if c.ID() == env.SenderID || !c.Open() {
			continue
		}
		if err := c.Send(payload); err != nil {
			metrics.Dropped.WithLabelValues("send_failed").Inc()
			r.log.Debug("relay.send", "conn", c.ID(), "room", room, "err", err)
			continue
		}
		metrics.Delivered.Inc()
	}
}

// Run applies subscription changes and dispatches inbound messages until ctx is done
func (r *Relay) Run(ctx context.Context) {
	go func() {
		var retry <-chan time.Time
		for {
			select {
			case <-r.wake:
			case <-retry:
			case <-ctx.Done():
				return
			}
			retry = nil
			if !r.flush(ctx) {
				retry = time.After(brokerRetry)
			}
		}
	}()

	// wake once in case rooms were created before Run
	r.poke()

	msgs := r.sub.Messages()
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				r.log.Warn("relay.inbound_closed")
				r.setHealthy(false)
				return
			}
			r.HandleMessage(m.Channel, m.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Healthy reports whether the last broker operation succeeded
func (r *Relay) Healthy() bool { return r.healthy.Load() }

// Check pings the broker when it supports it and updates the health state
func (r *Relay) Check(ctx context.Context) error {
	for _, b := range []any{r.pub, r.sub} {
		p, ok := b.(Pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			r.setHealthy(false)
			return fmt.Errorf("backplane: %w", err)
		}
	}
	r.setHealthy(true)
	return nil
}

func (r *Relay) setHealthy(ok bool) {
	if prev := r.healthy.Swap(ok); prev != ok {
		if ok {
			r.log.Info("relay.backplane_up")
		} else {
			r.log.Error("relay.backplane_down")
		}
	}
	if ok {
		metrics.BackplaneUp.Set(1)
	} else {
		metrics.BackplaneUp.Set(0)
	}
}
