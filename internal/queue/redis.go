package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "docchat:ingest"

// Redis is a reliable list queue: consumers atomically move a message into a
// processing list and remove it from there on Ack.
type Redis struct {
	client     *redis.Client
	key        string
	processing string
	pollWait   time.Duration
}

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = defaultRedisKey
	}
	return &Redis{
		client:     client,
		key:        key,
		processing: key + ":processing",
		pollWait:   5 * time.Second,
	}
}

// NewRedisFromURL parses a redis:// URL and verifies connectivity.
func NewRedisFromURL(ctx context.Context, url, key string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, key), nil
}

// Client exposes the underlying connection for other Redis consumers.
func (q *Redis) Client() *redis.Client {
	return q.client
}

func (q *Redis) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

func (q *Redis) Receive(ctx context.Context) ([]Delivery, error) {
	payload, err := q.client.BRPopLPush(ctx, q.key, q.processing, q.pollWait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("redis brpoplpush: %w", err)
	}
	return []Delivery{&redisDelivery{q: q, payload: payload}}, nil
}

// Requeue moves everything left in the processing list back onto the queue.
// Only safe when no consumer is running.
func (q *Redis) Requeue(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.RPopLPush(ctx, q.processing, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("redis rpoplpush: %w", err)
		}
		moved++
	}
}

type redisDelivery struct {
	q       *Redis
	payload string
}

func (d *redisDelivery) ID() string {
	sum := sha256.Sum256([]byte(d.payload))
	return hex.EncodeToString(sum[:8])
}

func (d *redisDelivery) Body() []byte      { return []byte(d.payload) }
func (d *redisDelivery) ReceiveCount() int { return 0 }

func (d *redisDelivery) Ack(ctx context.Context) error {
	if err := d.q.client.LRem(ctx, d.q.processing, 1, d.payload).Err(); err != nil {
		return fmt.Errorf("redis lrem: %w", err)
	}
	return nil
}

func (d *redisDelivery) Nack(ctx context.Context) error {
	_, err := d.q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, d.q.processing, 1, d.payload)
		p.LPush(ctx, d.q.key, d.payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis requeue: %w", err)
	}
	return nil
}

var (
	_ Client   = (*Redis)(nil)
	_ Consumer = (*Redis)(nil)
)
