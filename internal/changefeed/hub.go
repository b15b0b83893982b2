package changefeed

import (
	"context"
	"log/slog"
	"sync"
)

// compile-time checks
var (
	_ Publisher = (*Hub)(nil)
	_ Source    = (*Hub)(nil)
)

// Hub fans events out to subscriptions inside one process.
//
// Publish delivers synchronously on the caller's goroutine. Handlers are
// expected to be small in-memory patches; anything slow should hand off to
// its own goroutine.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

// Subscribe registers h for events matching f. The caller owns the returned
// subscription and must Close it when the consuming view goes away.
func (h *Hub) Subscribe(f Filter, fn Handler) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		hub:    h,
		id:     h.nextID,
		filter: f,
		fn:     fn,
	}
	h.subs[sub.id] = sub
	return sub
}

// Publish delivers e to every matching subscription. It never fails; the
// error return satisfies Publisher.
func (h *Hub) Publish(_ context.Context, e Event) error {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s.filter.Matches(e) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.deliver(e)
	}
	return nil
}

// Len is the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Subscription is a cancellable registration on a Hub.
type Subscription struct {
	hub    *Hub
	id     uint64
	filter Filter

	mu     sync.Mutex // serialises delivery and Close
	fn     Handler
	closed bool
}

// Filter returns the scope the subscription was created with.
func (s *Subscription) Filter() Filter { return s.filter }

// Close releases the subscription. Once Close returns the handler will not
// run again. Safe to call more than once, but not from inside the handler.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.fn = nil
	s.mu.Unlock()

	s.hub.remove(s.id)
}

// Closed reports whether Close has been called.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	defer func() {
		if r := recover(); r != nil && s.hub.logger != nil {
			s.hub.logger.Error("change feed handler panicked",
				slog.String("table", e.Table),
				slog.String("type", string(e.Type)),
				slog.Any("panic", r),
			)
		}
	}()
	s.fn(e)
}
