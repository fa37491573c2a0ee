package engine

import (
	"context"
	"encoding/json"
	"log"

	"github.com/warden/backend/internal/cache"
	"github.com/warden/backend/internal/models"
)

// Consumer feeds the engine from the platform event channel on Redis.
type Consumer struct {
	redis   *cache.RedisClient
	engine  *Engine
	channel string
}

func NewConsumer(redis *cache.RedisClient, engine *Engine, channel string) *Consumer {
	return &Consumer{redis: redis, engine: engine, channel: channel}
}

// Run subscribes to the event channel and ingests until ctx is done.
// Malformed payloads are logged and skipped; the subscription stays up.
func (c *Consumer) Run(ctx context.Context) {
	pubsub := c.redis.SubscribeToEvents(c.channel)
	defer pubsub.Close()

	log.Printf("Event consumer listening on %s", c.channel)
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Event consumer stopping: %v", ctx.Err())
			return
		case msg, ok := <-ch:
			if !ok {
				log.Printf("Event subscription closed")
				return
			}
			var raw models.RawEvent
			if err := json.Unmarshal([]byte(msg.Payload), &raw); err != nil {
				log.Printf("Skipping malformed platform event: %v", err)
				continue
			}
			c.engine.Handle(raw)
		}
	}
}
