package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// BusMessage carries an encoded event between server instances
type BusMessage struct {
	Origin  string `json:"origin"`
	NoteID  string `json:"noteId"`
	Payload []byte `json:"payload"`
}

// Bus relays content updates to the other instances serving the same note
type Bus interface {
	Publish(ctx context.Context, m BusMessage) error
	Subscribe(ctx context.Context, fn func(BusMessage))
	Close() error
}

type RedisBus struct {
	rdb *redis.Client
	log *slog.Logger
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBus connects to redis and verifies connectivity
func NewRedisBus(ctx context.Context, opts RedisOptions, log *slog.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisBus{rdb: rdb, log: log}, nil
}

// Publish sends a message to the redis channel for a note
func (b *RedisBus) Publish(ctx context.Context, m BusMessage) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis bus: marshal: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel(m.NoteID), raw).Err(); err != nil {
		return fmt.Errorf("redis bus: publish: %w", err)
	}
	return nil
}

// Subscribe listens to all note channels and invokes fn for each message
// until ctx is cancelled
func (b *RedisBus) Subscribe(ctx context.Context, fn func(BusMessage)) {
	pubsub := b.rdb.PSubscribe(ctx, channel("*"))
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
			var bm BusMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				b.log.Warn("redis bus: bad message", "channel", msg.Channel, "err", err)
				continue
			}
			if bm.NoteID != "" {
				fn(bm)
			}
		}
	}
}

// Close shuts down the redis connection
func (b *RedisBus) Close() error { return b.rdb.Close() }

// channel namespacing for note pub/sub
func channel(noteID string) string { return "note:" + noteID }
