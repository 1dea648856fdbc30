package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// Session is the transport half of a connection
type Session interface {
	// Send queues b for delivery without waiting for the write
	Send(b []byte) error
	// Ping sends a ping and calls onPong if the peer answers
	Ping(onPong func())
	// Terminate drops the connection immediately
	Terminate()
	// Open reports whether the session can still carry messages
	Open() bool
}

// Conn is one client connection as the hub sees it.
// The registry only references it; the transport owns its lifetime.
type Conn struct {
	id      string
	session Session
	alive   atomic.Bool
	limiter *rate.Limiter

	mu   sync.Mutex
	room string

	closed    bool // set by Registry.Remove, guarded by the registry lock
	closeOnce sync.Once
}

// NewConn wraps a session with a fresh id, marked alive
func NewConn(s Session) *Conn {
	c := &Conn{id: uuid.NewString(), session: s}
	c.alive.Store(true)
	return c
}

func (c *Conn) ID() string { return c.id }

// Room returns the room the connection is in, or "" when it has none
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Conn) setRoom(room string) {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
}

// Alive reports the liveness flag checked by the heartbeat sweep
func (c *Conn) Alive() bool { return c.alive.Load() }

func (c *Conn) Send(b []byte) error { return c.session.Send(b) }

func (c *Conn) Open() bool { return c.session.Open() }

// allow applies the per-connection inbound rate limit, if any
func (c *Conn) allow() bool { return c.limiter == nil || c.limiter.Allow() }

// Accept upgrades HTTP to websocket (allow all origins, CORS is handled upstream).
// A non-empty subprotocol is echoed back so browsers finish the handshake.
func Accept(w http.ResponseWriter, r *http.Request, subprotocol string) (*websocket.Conn, error) {
	opts := &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	}
	if subprotocol != "" {
		opts.Subprotocols = []string{subprotocol}
	}
	return websocket.Accept(w, r, opts)
}

// wsSession is a Session over an nhooyr websocket
type wsSession struct {
	ws          *websocket.Conn
	out         chan []byte
	ctx         context.Context
	cancel      context.CancelFunc
	pingTimeout time.Duration
	open        atomic.Bool
}

func newWSSession(parent context.Context, ws *websocket.Conn, buffer int, pingTimeout time.Duration) *wsSession {
	ctx, cancel := context.WithCancel(parent)
	s := &wsSession{
		ws:          ws,
		out:         make(chan []byte, buffer),
		ctx:         ctx,
		cancel:      cancel,
		pingTimeout: pingTimeout,
	}
	s.open.Store(true)
	return s
}

// Read blocks until it receives a text/binary message
// Returns false if connection is closed
func (s *wsSession) Read() ([]byte, bool) {
	for {
		typ, data, err := s.ws.Read(s.ctx)
		if err != nil {
			return nil, false
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return data, true
		}
	}
}

// WriteLoop drains the outbound queue until the session ends
func (s *wsSession) WriteLoop() {
	for {
		select {
		case b := <-s.out:
			if err := s.ws.Write(s.ctx, websocket.MessageText, b); err != nil {
				s.Terminate()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Send adds to the outbound queue without blocking
func (s *wsSession) Send(b []byte) error {
	if !s.open.Load() {
		return ErrSessionClosed
	}
	select {
	case s.out <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Ping waits for the pong in its own goroutine; nhooyr needs the read loop running for that
func (s *wsSession) Ping(onPong func()) {
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.pingTimeout)
		defer cancel()
		if err := s.ws.Ping(ctx); err == nil {
			onPong()
		}
	}()
}

func (s *wsSession) Terminate() {
	if !s.open.Swap(false) {
		return
	}
	s.cancel()
	_ = s.ws.CloseNow()
}

func (s *wsSession) Open() bool { return s.open.Load() }
