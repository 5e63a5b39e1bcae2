package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel progress events are published on.
const DefaultChannel = "jobingest:events"

const publishTimeout = 2 * time.Second

// RedisPublisher publishes events as JSON on a Redis pub/sub channel so
// listeners in other processes can follow an import.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends ev in the background. Failures are logged and otherwise ignored.
func (p *RedisPublisher) Publish(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("encode progress event", "type", ev.Type, "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
			slog.Warn("publish progress event", "type", ev.Type, "channel", p.channel, "error", err)
		}
	}()
}
