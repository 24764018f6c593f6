package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/barterline/swapd/internal/domain"
)

// transcriptMaxLen caps each chat transcript stream, enforced approximately
// via XADD MAXLEN ~.
const transcriptMaxLen int64 = 10000

// ChatBus implements domain.MessageBus on Redis: Pub/Sub for live per-room
// message delivery and Streams for the durable chat transcript.
type ChatBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewChatBus creates a ChatBus backed by the given Client.
func NewChatBus(c *Client) *ChatBus {
	return &ChatBus{rdb: c.Underlying(), maxLen: transcriptMaxLen}
}

// Publish sends a raw message body to a chat channel.
func (b *ChatBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription and returns a read-only channel of
// deliveries. Patterns (e.g. "chat:*") use PSUBSCRIBE; each delivery still
// names the concrete channel it was published on. The subscription closes,
// along with the returned channel, when ctx is cancelled.
func (b *ChatBus) Subscribe(ctx context.Context, channel string) (<-chan domain.BusMessage, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = b.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = b.rdb.Subscribe(ctx, channel)
	}

	// Wait for the subscription confirmation so callers never publish into
	// a half-open subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan domain.BusMessage, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- domain.BusMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// StreamAppend appends a message body to a transcript stream, trimming the
// stream to roughly transcriptMaxLen entries.
func (b *ChatBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count transcript entries after lastID, without
// blocking. Use "0" as lastID to read from the beginning. An empty result is
// not an error.
func (b *ChatBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}

	results, err := b.rdb.XRead(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			v, ok := msg.Values["payload"]
			if !ok {
				continue
			}
			var data []byte
			switch p := v.(type) {
			case string:
				data = []byte(p)
			case []byte:
				data = p
			default:
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}

var _ domain.MessageBus = (*ChatBus)(nil)
