// Package realtime keeps a single WebSocket connection alive and delivers its
// messages in arrival order.
package realtime

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection state.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "disconnected"
	}
}

// Options configures a Conn.
type Options struct {
	// URL of the WebSocket endpoint.
	URL string
	// Header, if set, is evaluated before every dial.
	Header func() http.Header

	// Delay before a reconnect attempt, plus a random [0, Jitter) share.
	Delay  time.Duration
	Jitter time.Duration
	// MaxAttempts caps consecutive failed reconnects; 0 means unlimited.
	MaxAttempts int

	// OnOpen runs on every successful (re)connect, before the first message.
	OnOpen func()
	// OnMessage receives every text or binary message in arrival order.
	OnMessage func(data []byte)
	// OnState is notified of every state change.
	OnState func(State)

	Dialer *websocket.Dialer
}

// Conn is a reconnecting WebSocket client. At most one underlying socket
// exists at any time.
type Conn struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	state State
	cur   *session
	last  *session
}

// session is one Connect..Close lifetime.
type session struct {
	cancel context.CancelFunc
	ws     *websocket.Conn
	done   chan struct{}
}

// New creates a disconnected Conn.
func New(opts Options, logger *slog.Logger) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Conn{opts: opts, logger: logger.With("url", opts.URL)}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop. It is a no-op while a loop is already
// running.
func (c *Conn) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, done: make(chan struct{})}
	c.cur = s
	c.last = s
	go c.run(ctx, s)
}

// Close stops the loop and closes the socket without scheduling a reconnect.
// It does not wait; use Done for that.
func (c *Conn) Close() {
	c.mu.Lock()
	s := c.cur
	c.cur = nil
	var ws *websocket.Conn
	if s != nil {
		ws = s.ws
	}
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	if ws != nil {
		_ = ws.Close()
	}
}

// Done returns a channel closed when the most recently started loop has
// exited.
func (c *Conn) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.last.done
}

func (c *Conn) run(ctx context.Context, s *session) {
	defer close(s.done)
	defer c.finish(s)

	failures := 0
	for {
		c.setState(s, StateConnecting)
		ws, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("websocket dial failed", "error", err)
		} else {
			failures = 0
			if !c.attach(s, ws) {
				_ = ws.Close()
				return
			}
			c.setState(s, StateOpen)
			c.logger.Debug("websocket open")
			if c.opts.OnOpen != nil {
				c.opts.OnOpen()
			}
			err = c.read(ctx, ws)
			c.detach(s)
			_ = ws.Close()
			if ctx.Err() == nil {
				c.logger.Info("websocket closed", "error", err)
			}
		}

		c.setState(s, StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		failures++
		if c.opts.MaxAttempts > 0 && failures > c.opts.MaxAttempts {
			c.logger.Error("websocket reconnect attempts exhausted", "attempts", c.opts.MaxAttempts)
			return
		}

		t := time.NewTimer(c.backoff())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	var header http.Header
	if c.opts.Header != nil {
		header = c.opts.Header()
	}
	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return ws, err
}

func (c *Conn) read(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(data)
		}
	}
}

func (c *Conn) backoff() time.Duration {
	d := c.opts.Delay
	if c.opts.Jitter > 0 {
		d += rand.N(c.opts.Jitter)
	}
	return d
}

// attach publishes ws as the session's socket unless the session was closed
// meanwhile.
func (c *Conn) attach(s *session, ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != s {
		return false
	}
	s.ws = ws
	return true
}

func (c *Conn) detach(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.ws = nil
}

// finish releases the Conn when the loop ends on its own, so a later Connect
// can start over.
func (c *Conn) finish(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == s {
		c.cur = nil
		s.cancel()
	}
}

// setState records and reports a state change of the live session only.
func (c *Conn) setState(s *session, st State) {
	c.mu.Lock()
	if c.cur != s && (c.cur != nil || st != StateDisconnected) {
		c.mu.Unlock()
		return
	}
	changed := c.state != st
	c.state = st
	c.mu.Unlock()

	if changed && c.opts.OnState != nil {
		c.opts.OnState(st)
	}
}
