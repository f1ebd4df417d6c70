package feed

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"cnsniper/internal/model"
	"cnsniper/internal/realtime"
)

// ChangeFunc receives a snapshot of the list after every mutation.
type ChangeFunc func(offers []model.Offer)

// Feed is the live offer list of the offers view. It is connected only while
// the view is active; each socket open starts from an empty list.
type Feed struct {
	conn     *realtime.Conn
	onChange ChangeFunc
	logger   *slog.Logger

	mu     sync.Mutex
	offers []model.Offer
	active bool
}

// New creates an inactive Feed. opts carries the socket settings and an
// optional OnState; its OnOpen and OnMessage are replaced by the Feed.
func New(opts realtime.Options, onChange ChangeFunc, logger *slog.Logger) *Feed {
	f := &Feed{onChange: onChange, logger: logger}
	opts.OnOpen = f.reset
	opts.OnMessage = f.handle
	f.conn = realtime.New(opts, logger)
	return f
}

// Activate connects the socket. Calling it while active is a no-op.
func (f *Feed) Activate(ctx context.Context) {
	f.mu.Lock()
	f.active = true
	f.mu.Unlock()
	f.conn.Connect(ctx)
}

// Deactivate closes the socket without scheduling a reconnect.
func (f *Feed) Deactivate() {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
	f.conn.Close()
}

// Active reports whether the feed is supposed to be connected.
func (f *Feed) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// State returns the socket state.
func (f *Feed) State() realtime.State {
	return f.conn.State()
}

// Done is closed when the socket loop has stopped.
func (f *Feed) Done() <-chan struct{} {
	return f.conn.Done()
}

// Offers returns a copy of the current list, newest delta first.
func (f *Feed) Offers() []model.Offer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.offers)
}

func (f *Feed) reset() {
	f.mu.Lock()
	f.offers = nil
	f.mu.Unlock()
	f.notify()
}

func (f *Feed) handle(data []byte) {
	msg, err := Decode(data)
	if err != nil {
		f.logger.Warn("drop malformed offer message", "error", err)
		return
	}
	f.Apply(msg)
}

// Apply merges a decoded message into the list. Messages that arrive while
// the feed is inactive are ignored.
func (f *Feed) Apply(msg Message) {
	f.mu.Lock()
	if !f.active {
		f.mu.Unlock()
		return
	}
	switch m := msg.(type) {
	case InitMessage:
		f.offers = slices.Clone(m.Offers)
		if m.Skipped > 0 {
			f.logger.Warn("init skipped invalid offers", "count", m.Skipped)
		}
	case NewMessage:
		f.offers = slices.Insert(f.offers, 0, m.Offer)
	default:
		f.mu.Unlock()
		if u, ok := msg.(UnknownMessage); ok {
			f.logger.Debug("ignore offer message", "type", u.Type)
		}
		return
	}
	f.mu.Unlock()
	f.notify()
}

func (f *Feed) notify() {
	if f.onChange != nil {
		f.onChange(f.Offers())
	}
}
