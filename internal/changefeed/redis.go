package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	_ Publisher = (*RedisBroker)(nil)
	_ Source    = (*RedisBroker)(nil)
)

// DefaultChannelPrefix namespaces the Redis channels, one per table.
const DefaultChannelPrefix = "inkwell:changes:"

// RedisBroker relays events between processes. Publish sends to Redis only;
// Start pattern-subscribes to every table channel and replays what it
// receives into a local Hub, so this process's own writes come back the same
// way everyone else's do.
type RedisBroker struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	local      *Hub
	logger     *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRedisBroker connects to redisURL (redis://host:port/db).
func NewRedisBroker(redisURL, prefix string, local *Hub, logger *slog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("changefeed: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("changefeed: connect to redis: %w", err)
	}

	b := NewRedisBrokerWithClient(client, prefix, local, logger)
	b.ownsClient = true
	return b, nil
}

// NewRedisBrokerWithClient builds a broker on an existing client. The caller
// keeps ownership of the client.
func NewRedisBrokerWithClient(client *redis.Client, prefix string, local *Hub, logger *slog.Logger) *RedisBroker {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisBroker{
		client: client,
		prefix: prefix,
		local:  local,
		logger: logger,
	}
}

func (b *RedisBroker) channel(table string) string {
	return b.prefix + table
}

// Publish sends e to the table's channel.
func (b *RedisBroker) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("changefeed: marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(e.Table), payload).Err(); err != nil {
		return fmt.Errorf("changefeed: publish %s event: %w", e.Table, err)
	}
	return nil
}

// Subscribe registers on the local hub.
func (b *RedisBroker) Subscribe(f Filter, h Handler) *Subscription {
	return b.local.Subscribe(f, h)
}

// Start subscribes to all table channels and returns once Redis has
// confirmed the subscription. Relaying runs until Close.
func (b *RedisBroker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return nil
	}

	ps := b.client.PSubscribe(ctx, b.prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("changefeed: subscribe %s*: %w", b.prefix, err)
	}
	b.pubsub = ps

	b.wg.Add(1)
	go b.relay(ps.Channel())

	b.logger.Info("change feed relay started", slog.String("pattern", b.prefix+"*"))
	return nil
}

func (b *RedisBroker) relay(ch <-chan *redis.Message) {
	defer b.wg.Done()
	for msg := range ch {
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			b.logger.Warn("discarding malformed change event",
				slog.String("channel", msg.Channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		_ = b.local.Publish(context.Background(), e)
	}
}

// Close stops relaying and, if the broker dialled Redis itself, closes the client.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	ps := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	if ps != nil {
		if err := ps.Close(); err != nil {
			b.logger.Warn("closing redis subscription", slog.String("error", err.Error()))
		}
		b.wg.Wait()
	}
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}
