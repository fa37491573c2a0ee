package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warden/backend/internal/models"
)

type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		ctx:    ctx,
	}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Verdict cache

// SetVerdict caches a verdict under its content fingerprint with a TTL.
// Entries are immutable once written; a racing double-write stores an
// equivalent value, so last write wins is safe.
func (r *RedisClient) SetVerdict(fingerprint string, verdict *models.RiskVerdict, ttl time.Duration) error {
	key := fmt.Sprintf("verdict:%s", fingerprint)
	data, err := json.Marshal(verdict)
	if err != nil {
		return err
	}
	return r.client.Set(r.ctx, key, data, ttl).Err()
}

// GetVerdict returns the cached verdict for a fingerprint, or nil on miss
func (r *RedisClient) GetVerdict(fingerprint string) (*models.RiskVerdict, error) {
	key := fmt.Sprintf("verdict:%s", fingerprint)
	data, err := r.client.Get(r.ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var verdict models.RiskVerdict
	if err := json.Unmarshal([]byte(data), &verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

// Pub/Sub

// PublishEvent publishes a raw platform event onto the ingest channel
func (r *RedisClient) PublishEvent(channel string, event *models.RawEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(r.ctx, channel, data).Err()
}

// SubscribeToEvents subscribes to the platform event ingest channel
func (r *RedisClient) SubscribeToEvents(channel string) *redis.PubSub {
	return r.client.Subscribe(r.ctx, channel)
}

// PublishAudit publishes an audit entry for live operator feeds
func (r *RedisClient) PublishAudit(channel string, msg *models.FeedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(r.ctx, channel, data).Err()
}

// SubscribeToAudit subscribes to the audit feed channel
func (r *RedisClient) SubscribeToAudit(channel string) *redis.PubSub {
	return r.client.Subscribe(r.ctx, channel)
}

// Engine counters, persisted so stats survive restarts

// IncrStat increments a named engine counter
func (r *RedisClient) IncrStat(name string) error {
	key := fmt.Sprintf("stat:%s", name)
	return r.client.Incr(r.ctx, key).Err()
}

// GetStat reads a named engine counter, 0 when unset
func (r *RedisClient) GetStat(name string) (int64, error) {
	key := fmt.Sprintf("stat:%s", name)
	val, err := r.client.Get(r.ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// GetClient returns the underlying Redis client
func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}
