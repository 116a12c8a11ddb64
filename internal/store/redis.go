// Package store provides storage backends for SkyRelay.
//
// This file implements a Redis-backed store. Keys match the layout used by
// earlier deployments so existing state is picked up unchanged.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/models"
	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewRedisStore invoked", "url_set", cfg.RedisURL != "")
	if cfg.RedisURL == "" {
		slog.Error("RedisStore URL not set")
		return nil, fmt.Errorf("redis url not set")
	}

	client, err := Connect(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to configure Redis client", "error", err)
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Debug("Redis ping successful")
	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SaveConversationState(ctx context.Context, postID string, state models.ConversationState) error {
	raw, err := encodeState(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, ConversationKeyPrefix+postID, raw, 0).Err(); err != nil {
		slog.Error("RedisStore SaveConversationState failed", "error", err, "post_uri", postID)
		return fmt.Errorf("save conversation state for %s: %w", postID, err)
	}
	slog.Debug("RedisStore SaveConversationState succeeded", "post_uri", postID)
	return nil
}

func (s *RedisStore) GetConversationState(ctx context.Context, postID string) (*models.ConversationState, error) {
	raw, err := s.client.Get(ctx, ConversationKeyPrefix+postID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation state for %s: %w", postID, err)
	}
	return decodeState(postID, raw), nil
}

func (s *RedisStore) MarkProcessing(ctx context.Context, deliveryID string, at time.Time, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, MarkerKeyPrefix+deliveryID, at.UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark processing %s: %w", deliveryID, err)
	}
	return ok, nil
}

func (s *RedisStore) GetDMWatermark(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, DMWatermarkKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("get dm watermark: %w", err)
	}
	return v, nil
}

func (s *RedisStore) SetDMWatermark(ctx context.Context, value string) error {
	if err := s.client.Set(ctx, DMWatermarkKey, value, 0).Err(); err != nil {
		return fmt.Errorf("set dm watermark: %w", err)
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, SessionKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("get session: %w", err)
	}
	return v, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, value string) error {
	if err := s.client.Set(ctx, SessionKey, value, SessionTTL).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	slog.Debug("Closing Redis client")
	return s.client.Close()
}
