package changefeed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/inkwell/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postEvent(t *testing.T, typ EventType, p model.Post) Event {
	t.Helper()
	e, err := NewEvent(TablePosts, typ, p)
	require.NoError(t, err)
	return e
}

func TestFilterMatches(t *testing.T) {
	e := Event{Table: TablePosts, Type: Update, ID: "p1"}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"same table, all types", Filter{Table: TablePosts, Type: All}, true},
		{"same table, empty type", Filter{Table: TablePosts}, true},
		{"same table, same type", Filter{Table: TablePosts, Type: Update}, true},
		{"same table, other type", Filter{Table: TablePosts, Type: Delete}, false},
		{"other table", Filter{Table: TableProfiles, Type: All}, false},
		{"any table", Filter{Type: Update}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(e))
		})
	}
}

func TestParseEventType(t *testing.T) {
	for _, s := range []string{"insert", "update", "delete", "*"} {
		got, err := ParseEventType(s)
		require.NoError(t, err)
		assert.Equal(t, EventType(s), got)
	}

	got, err := ParseEventType("")
	require.NoError(t, err)
	assert.Equal(t, All, got)

	_, err = ParseEventType("upsert")
	assert.Error(t, err)
}

func TestHub_DeliversOnlyMatchingEvents(t *testing.T) {
	hub := NewHub(testLogger())

	var posts, deletes []Event
	hub.Subscribe(Filter{Table: TablePosts, Type: All}, func(e Event) { posts = append(posts, e) })
	hub.Subscribe(Filter{Table: TablePosts, Type: Delete}, func(e Event) { deletes = append(deletes, e) })

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, postEvent(t, Insert, model.Post{ID: "p1"})))
	require.NoError(t, hub.Publish(ctx, postEvent(t, Delete, model.Post{ID: "p1"})))
	require.NoError(t, hub.Publish(ctx, Event{Table: TableProfiles, Type: Delete, ID: "u1"}))

	assert.Len(t, posts, 2)
	require.Len(t, deletes, 1)
	assert.Equal(t, "p1", deletes[0].ID)
}

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	hub := NewHub(testLogger())

	calls := 0
	sub := hub.Subscribe(Filter{Table: TablePosts}, func(Event) { calls++ })
	require.Equal(t, 1, hub.Len())

	ctx := context.Background()
	_ = hub.Publish(ctx, postEvent(t, Insert, model.Post{ID: "p1"}))
	sub.Close()
	sub.Close() // idempotent
	_ = hub.Publish(ctx, postEvent(t, Insert, model.Post{ID: "p2"}))

	assert.Equal(t, 1, calls)
	assert.True(t, sub.Closed())
	assert.Equal(t, 0, hub.Len())
}

func TestHub_HandlerPanicDoesNotBreakPublish(t *testing.T) {
	hub := NewHub(testLogger())

	hub.Subscribe(Filter{Table: TablePosts}, func(Event) { panic("boom") })
	got := 0
	hub.Subscribe(Filter{Table: TablePosts}, func(Event) { got++ })

	assert.NotPanics(t, func() {
		_ = hub.Publish(context.Background(), postEvent(t, Insert, model.Post{ID: "p1"}))
	})
	assert.Equal(t, 1, got)
}

func TestHub_ConcurrentPublishAndClose(t *testing.T) {
	hub := NewHub(testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		sub := hub.Subscribe(Filter{Table: TablePosts}, func(Event) {})
		go func() {
			defer wg.Done()
			_ = hub.Publish(ctx, Event{Table: TablePosts, Type: Insert, ID: "x"})
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Len())
}
