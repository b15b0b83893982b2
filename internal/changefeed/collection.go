package changefeed

import (
	"log/slog"
	"sync"
)

// LiveCollection is the in-memory list behind a rendered view. It is loaded
// once and then kept current by applying change events:
//
//	insert → append (or replace, if the id is already present)
//	update → replace by id
//	delete → remove by id
//
// An optional keep predicate scopes the collection, e.g. to one category.
// An update that makes a record stop matching removes it, and an update that
// makes one start matching adds it.
type LiveCollection[T Record] struct {
	mu    sync.RWMutex
	items []T
	keep  func(T) bool
}

// NewLiveCollection copies initial into a new collection. keep may be nil.
func NewLiveCollection[T Record](initial []T, keep func(T) bool) *LiveCollection[T] {
	items := make([]T, 0, len(initial))
	for _, it := range initial {
		if keep == nil || keep(it) {
			items = append(items, it)
		}
	}
	return &LiveCollection[T]{items: items, keep: keep}
}

// Items returns a snapshot in collection order.
func (c *LiveCollection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Len is the current number of records.
func (c *LiveCollection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Get returns the record with the given id.
func (c *LiveCollection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexOf(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Apply patches the collection with one event. Events for other tables must
// be filtered out by the caller (Attach does this).
func (c *LiveCollection[T]) Apply(e Event) error {
	if e.Type == Delete {
		c.mu.Lock()
		c.removeLocked(e.ID)
		c.mu.Unlock()
		return nil
	}

	var rec T
	if err := e.Decode(&rec); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keep != nil && !c.keep(rec) {
		c.removeLocked(rec.RecordID())
		return nil
	}
	if i := c.indexOf(rec.RecordID()); i >= 0 {
		c.items[i] = rec
		return nil
	}
	c.items = append(c.items, rec)
	return nil
}

// Attach subscribes the collection to table events on src. Close the returned
// subscription when the view deactivates. Events that fail to apply are
// logged to logger and dropped.
func (c *LiveCollection[T]) Attach(src Source, table string, logger *slog.Logger) *Subscription {
	return src.Subscribe(Filter{Table: table, Type: All}, func(e Event) {
		if err := c.Apply(e); err != nil {
			logger.Warn("dropping change event",
				slog.String("table", e.Table),
				slog.String("id", e.ID),
				slog.String("error", err.Error()),
			)
		}
	})
}

func (c *LiveCollection[T]) indexOf(id string) int {
	for i := range c.items {
		if c.items[i].RecordID() == id {
			return i
		}
	}
	return -1
}

func (c *LiveCollection[T]) removeLocked(id string) {
	if i := c.indexOf(id); i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
}
