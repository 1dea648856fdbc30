package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockSession struct {
	mu         sync.Mutex
	sent       [][]byte
	pings      int
	onPong     func()
	terminated bool
	sendErr    error
}

func (m *mockSession) Send(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminated {
		return ErrSessionClosed
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, b)
	return nil
}

func (m *mockSession) Ping(onPong func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	m.onPong = onPong
}

func (m *mockSession) Terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = true
}

func (m *mockSession) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.terminated
}

// pong answers the last ping
func (m *mockSession) pong() {
	m.mu.Lock()
	f := m.onPong
	m.mu.Unlock()
	if f != nil {
		f()
	}
}

func (m *mockSession) getSent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, b := range m.sent {
		out[i] = string(b)
	}
	return out
}

func (m *mockSession) getPings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

func (m *mockSession) isTerminated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated
}

// memBroker is an in-process backplane shared by several test instances
type memBroker struct {
	mu        sync.Mutex
	subs      []*memSub
	published []BusMessage
}

func newMemBroker() *memBroker { return &memBroker{} }

func (b *memBroker) Publish(ctx context.Context, channel, message string) error {
	b.mu.Lock()
	b.published = append(b.published, BusMessage{Channel: channel, Payload: message})
	subs := append([]*memSub(nil), b.subs...)
	b.mu.Unlock()

	for _, s := range subs {
		if s.has(channel) {
			s.receive(BusMessage{Channel: channel, Payload: message})
		}
	}
	return nil
}

// inject delivers a raw message to every subscriber of channel, as another publisher would
func (b *memBroker) inject(channel, message string) {
	_ = b.Publish(context.Background(), channel, message)
}

func (b *memBroker) getPublished() []BusMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BusMessage(nil), b.published...)
}

type subCall struct {
	channel   string
	subscribe bool
}

// memSub is one instance's subscribe handle. With deliver set, messages are
// handed over synchronously; otherwise they go to the Messages channel.
type memSub struct {
	mu       sync.Mutex
	channels map[string]bool
	calls    []subCall
	msgs     chan BusMessage
	deliver  func(BusMessage)
	failures int // calls left to fail before the broker "recovers"
}

var errBrokerDown = errors.New("broker down")

// failNext makes the next n Subscribe/Unsubscribe calls fail without effect
func (s *memSub) failNext(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

func (b *memBroker) newSub() *memSub {
	s := &memSub{channels: map[string]bool{}, msgs: make(chan BusMessage, 64)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

func (s *memSub) Subscribe(ctx context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errBrokerDown
	}
	for _, ch := range channels {
		s.channels[ch] = true
		s.calls = append(s.calls, subCall{channel: ch, subscribe: true})
	}
	return nil
}

func (s *memSub) Unsubscribe(ctx context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errBrokerDown
	}
	for _, ch := range channels {
		delete(s.channels, ch)
		s.calls = append(s.calls, subCall{channel: ch})
	}
	return nil
}

func (s *memSub) Messages() <-chan BusMessage { return s.msgs }

func (s *memSub) has(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[channel]
}

func (s *memSub) receive(m BusMessage) {
	s.mu.Lock()
	deliver := s.deliver
	s.mu.Unlock()
	if deliver != nil {
		deliver(m)
		return
	}
	s.msgs <- m
}

func (s *memSub) getCalls() []subCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]subCall(nil), s.calls...)
}

// count returns how many subscribe (or unsubscribe) calls hit channel
func (s *memSub) count(channel string, subscribe bool) int {
	n := 0
	for _, c := range s.getCalls() {
		if c.channel == channel && c.subscribe == subscribe {
			n++
		}
	}
	return n
}

// newSyncHub builds a hub whose inbound path runs synchronously inside Publish
func newSyncHub(t *testing.T, b *memBroker, namespace string, policy Policy) (*Hub, *memSub) {
	t.Helper()
	sub := b.newSub()
	h := NewHub(testLogger(), HubConfig{Namespace: namespace}, b, sub, policy)
	sub.deliver = func(m BusMessage) { h.relay.HandleMessage(m.Channel, m.Payload) }
	return h, sub
}

// settle applies queued subscription changes; false if one of them failed
func settle(h *Hub) bool { return h.relay.flush(context.Background()) }
