package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the live fabric backend over Redis streams. Entries are appended
// with XADD MAXLEN ~ and read with blocking XREAD, one field "data" holding
// the JSON document.
type Redis struct {
	client  *redis.Client
	maxLen  int64
	block   time.Duration
	auditor *Auditor
	log     *slog.Logger
}

// RedisOption tweaks a Redis bus.
type RedisOption func(*Redis)

// WithRedisMaxLen overrides the approximate trim bound.
func WithRedisMaxLen(n int64) RedisOption { return func(r *Redis) { r.maxLen = n } }

// WithRedisBlock overrides the XREAD block interval.
func WithRedisBlock(d time.Duration) RedisOption { return func(r *Redis) { r.block = d } }

// WithRedisAuditor mirrors every publish into the given auditor.
func WithRedisAuditor(a *Auditor) RedisOption { return func(r *Redis) { r.auditor = a } }

// NewRedis connects to the Redis at url (redis://host:port/db) and verifies
// the connection with a ping.
func NewRedis(ctx context.Context, url string, logger *slog.Logger, opts ...RedisOption) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	r := &Redis{
		client: client,
		maxLen: DefaultMaxLen,
		block:  time.Second,
		log:    logger.With("component", "bus"),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Publish appends payload with approximate trimming and returns the
// Redis-assigned entry ID.
func (r *Redis) Publish(ctx context.Context, stream string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", stream, err)
	}
	if r.auditor != nil {
		r.auditor.Record(stream, data)
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// Consume blocks on XREAD from start and feeds each entry to fn in order.
func (r *Redis) Consume(ctx context.Context, stream, start string, fn Handler) error {
	last := start
	if last == "" {
		last = StartBeginning
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, last},
			Count:   100,
			Block:   r.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("xread failed", "stream", stream, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.block):
			}
			continue
		}
		for _, str := range res {
			for _, msg := range str.Messages {
				payload, ok := msg.Values["data"].(string)
				if ok {
					if err := fn(ctx, Entry{ID: msg.ID, Payload: []byte(payload)}); err != nil {
						r.log.Warn("handler failed", "stream", stream, "id", msg.ID, "err", err)
					}
				}
				last = msg.ID
			}
		}
	}
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.client.Close() }
