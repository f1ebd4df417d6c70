package feed

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"cnsniper/internal/model"
	"cnsniper/internal/offer"
	"cnsniper/internal/realtime"
)

// Rejected is the stream of offers the scanner rejected in one category.
// Offers are deduplicated by source and oid; offers without an oid are never
// considered duplicates.
type Rejected struct {
	Category string

	conn     *realtime.Conn
	onChange ChangeFunc
	logger   *slog.Logger

	mu     sync.Mutex
	offers []model.Offer
	seen   map[string]struct{}
}

// NewRejected creates a Rejected stream for category.
func NewRejected(category string, opts realtime.Options, onChange ChangeFunc, logger *slog.Logger) *Rejected {
	r := &Rejected{
		Category: category,
		onChange: onChange,
		logger:   logger.With("category", category),
		seen:     make(map[string]struct{}),
	}
	opts.OnMessage = r.handle
	r.conn = realtime.New(opts, r.logger)
	return r
}

// Connect opens the stream.
func (r *Rejected) Connect(ctx context.Context) { r.conn.Connect(ctx) }

// Close stops the stream.
func (r *Rejected) Close() { r.conn.Close() }

// Done is closed when the socket loop has stopped.
func (r *Rejected) Done() <-chan struct{} { return r.conn.Done() }

// Offers returns a copy of the current list.
func (r *Rejected) Offers() []model.Offer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.offers)
}

// Seed merges a REST snapshot, appending offers not seen yet.
func (r *Rejected) Seed(offers []model.Offer) {
	r.mu.Lock()
	for _, o := range offer.NormalizeAll(offers) {
		if r.markSeen(o) {
			r.offers = append(r.offers, o)
		}
	}
	r.mu.Unlock()
	r.notify()
}

func (r *Rejected) handle(data []byte) {
	msg, err := Decode(data)
	if err != nil {
		r.logger.Warn("drop malformed rejected message", "error", err)
		return
	}
	r.Apply(msg)
}

// Apply merges a decoded message.
func (r *Rejected) Apply(msg Message) {
	r.mu.Lock()
	switch m := msg.(type) {
	case InitMessage:
		r.offers = make([]model.Offer, 0, len(m.Offers))
		r.seen = make(map[string]struct{}, len(m.Offers))
		for _, o := range m.Offers {
			if r.markSeen(o) {
				r.offers = append(r.offers, o)
			}
		}
	case NewMessage:
		if !r.markSeen(m.Offer) {
			r.mu.Unlock()
			return
		}
		r.offers = slices.Insert(r.offers, 0, m.Offer)
	default:
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.notify()
}

// markSeen records o and reports whether it was new. Callers hold mu.
func (r *Rejected) markSeen(o model.Offer) bool {
	key := offer.RejectedKey(o)
	if key == "" {
		return true
	}
	if _, dup := r.seen[key]; dup {
		return false
	}
	r.seen[key] = struct{}{}
	return true
}

func (r *Rejected) notify() {
	if r.onChange != nil {
		r.onChange(r.Offers())
	}
}
