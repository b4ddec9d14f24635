package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"raffle/internal/models"
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// Redis is a ProductCache backed by redis string keys with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, id uint64) (*models.Product, error) {
	raw, err := r.client.Get(ctx, productKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get product %d: %w", id, err)
	}
	var p models.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode cached product %d: %w", id, err)
	}
	return &p, nil
}

func (r *Redis) Set(ctx context.Context, p *models.Product) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode product %d: %w", p.ID, err)
	}
	return r.client.Set(ctx, productKey(p.ID), raw, r.ttl).Err()
}

func (r *Redis) Invalidate(ctx context.Context, id uint64) error {
	return r.client.Del(ctx, productKey(id)).Err()
}
