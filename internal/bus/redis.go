package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher is the subset of *redis.Client the mirror uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// mirrorMessage is the JSON published on the Redis channel.
type mirrorMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	At      int64  `json:"at"`
}

// RedisMirror republishes bus events on a Redis pub/sub channel so
// out-of-process consumers (presence, scrobbling) can follow playback
// without a companion token. Events are queued and published by Run; a full
// queue drops events rather than stalling the bus.
type RedisMirror struct {
	pub     Publisher
	channel string
	queue   chan []byte
}

// DialRedis parses a redis:// URL and pings the server, retrying per cfg
// while it is unreachable.
func DialRedis(ctx context.Context, url string, cfg RetryConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	attempts, err := withRetry(ctx, cfg, func() error {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(pctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis after %d attempt(s): %w", attempts, err)
	}
	return client, nil
}

func NewRedisMirror(pub Publisher, channel string, queueSize int) *RedisMirror {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &RedisMirror{
		pub:     pub,
		channel: channel,
		queue:   make(chan []byte, queueSize),
	}
}

// Handle is an EventHandler; subscribe it on the bus.
func (m *RedisMirror) Handle(ev Event) {
	data, err := json.Marshal(mirrorMessage{Event: ev.Name, Payload: ev.Payload, At: time.Now().UnixMilli()})
	if err != nil {
		slog.Warn("bus.redis_marshal_failed", "event", ev.Name, "error", err)
		return
	}
	select {
	case m.queue <- data:
	default:
		slog.Warn("bus.redis_queue_full", "event", ev.Name)
	}
}

// Run publishes queued events until ctx is done.
func (m *RedisMirror) Run(ctx context.Context) error {
	slog.Info("bus.redis_mirror_started", "channel", m.channel)
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-m.queue:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := m.pub.Publish(pctx, m.channel, data).Err()
			cancel()
			if err != nil {
				slog.Warn("bus.redis_publish_failed", "channel", m.channel, "error", err)
			}
		}
	}
}
