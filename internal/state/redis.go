package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the keys written by Redis.
const DefaultRedisPrefix = "dwnsync:"

// Redis stores sync state in a Redis server: one hash of watermarks and a
// sorted set of identities scored by registration time.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// NewRedisFromURL connects to url and pings the server.
func NewRedisFromURL(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, ""), nil
}

func (r *Redis) watermarksKey() string { return r.prefix + "watermarks" }
func (r *Redis) identitiesKey() string { return r.prefix + "identities" }

func watermarkField(did, endpoint, direction string) string {
	return strings.Join([]string{did, endpoint, direction}, "\x00")
}

func (r *Redis) Watermark(ctx context.Context, did, endpoint, direction string) (string, bool, error) {
	wm, err := r.client.HGet(ctx, r.watermarksKey(), watermarkField(did, endpoint, direction)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read watermark: %w", err)
	}
	return wm, true, nil
}

func (r *Redis) SetWatermark(ctx context.Context, did, endpoint, direction, watermark string) error {
	if err := r.client.HSet(ctx, r.watermarksKey(), watermarkField(did, endpoint, direction), watermark).Err(); err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

func (r *Redis) RegisterIdentity(ctx context.Context, did string) error {
	err := r.client.ZAddNX(ctx, r.identitiesKey(), redis.Z{
		Score:  float64(time.Now().UnixMicro()),
		Member: did,
	}).Err()
	if err != nil {
		return fmt.Errorf("register identity: %w", err)
	}
	return nil
}

func (r *Redis) DeregisterIdentity(ctx context.Context, did string) error {
	if err := r.client.ZRem(ctx, r.identitiesKey(), did).Err(); err != nil {
		return fmt.Errorf("deregister identity: %w", err)
	}
	return nil
}

func (r *Redis) Identities(ctx context.Context) ([]string, error) {
	dids, err := r.client.ZRange(ctx, r.identitiesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return dids, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.watermarksKey(), r.identitiesKey()).Err(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
