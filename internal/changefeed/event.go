// Package changefeed carries insert/update/delete notifications from the store
// to in-memory views.
//
// The store publishes one Event per committed write. Views hold a
// LiveCollection and attach it to a Source for as long as they are active;
// each event patches the collection in place instead of reloading it.
//
//	store ──Publish──▶ Hub (or RedisBroker ─▶ Hub in every process)
//	                    │
//	                    ├─▶ Subscription ─▶ LiveCollection.Apply
//	                    └─▶ Subscription ─▶ websocket client
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Tables that publish events.
const (
	TablePosts          = "posts"
	TableCategories     = "categories"
	TableProfiles       = "profiles"
	TableReadingHistory = "reading_history"
)

// EventType classifies a change. All is only meaningful in a Filter.
type EventType string

const (
	Insert EventType = "insert"
	Update EventType = "update"
	Delete EventType = "delete"
	All    EventType = "*"
)

// ParseEventType accepts the wire names, with "" meaning All.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case Insert, Update, Delete, All:
		return EventType(s), nil
	case "":
		return All, nil
	}
	return "", fmt.Errorf("changefeed: unknown event type %q", s)
}

// Record is anything a change event can carry and a collection can key.
type Record interface {
	RecordID() string
}

// Event is one committed change. Record holds the row after an insert or
// update, and the last known row for a delete.
type Event struct {
	Table  string          `json:"table"`
	Type   EventType       `json:"type"`
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record,omitempty"`
	At     time.Time       `json:"at"`
}

// NewEvent encodes rec into an event for table.
func NewEvent(table string, typ EventType, rec Record) (Event, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return Event{}, fmt.Errorf("changefeed: encoding %s record: %w", table, err)
	}
	return Event{
		Table:  table,
		Type:   typ,
		ID:     rec.RecordID(),
		Record: raw,
		At:     time.Now().UTC(),
	}, nil
}

// Decode unmarshals the event's record into dst.
func (e Event) Decode(dst any) error {
	if len(e.Record) == 0 {
		return fmt.Errorf("changefeed: %s %s event %s has no record", e.Table, e.Type, e.ID)
	}
	if err := json.Unmarshal(e.Record, dst); err != nil {
		return fmt.Errorf("changefeed: decoding %s record %s: %w", e.Table, e.ID, err)
	}
	return nil
}

// Filter scopes a subscription to one table and one event type (or All).
type Filter struct {
	Table string
	Type  EventType
}

// Matches reports whether e passes the filter. An empty Table matches every table.
func (f Filter) Matches(e Event) bool {
	if f.Table != "" && f.Table != e.Table {
		return false
	}
	return f.Type == "" || f.Type == All || f.Type == e.Type
}

// Handler receives events for one subscription. Calls for a given
// subscription never overlap.
type Handler func(Event)

// Publisher accepts committed changes.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Source hands out subscriptions.
type Source interface {
	Subscribe(f Filter, h Handler) *Subscription
}
