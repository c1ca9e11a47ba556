// Package cache provides a Redis read-through cache for active intake
// sessions. The database remains the source of truth; the cache only absorbs
// the per-turn read load of busy conversations.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/triage-intake-server/internal/domain"
)

const (
	sessionKeyPrefix  = "triage:session:"
	defaultSessionTTL = 30 * time.Minute
)

// SessionCache implements domain.SessionCache on Redis.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Logger
}

// NewSessionCache connects to Redis and verifies the connection.
func NewSessionCache(ctx context.Context, redisURL string, ttl time.Duration, logger *logrus.Logger) (*SessionCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	logger.WithField("ttl", ttl).Info("Session cache connected")

	return &SessionCache{client: client, ttl: ttl, log: logger}, nil
}

// Get returns the cached session, or (nil, nil) on a miss.
func (c *SessionCache) Get(ctx context.Context, id string) (*domain.Session, error) {
	payload, err := c.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cached session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		c.log.WithError(err).WithField("session_id", id).Warn("Dropping corrupt cached session")
		c.client.Del(ctx, sessionKeyPrefix+id)
		return nil, nil
	}
	return &session, nil
}

// Set stores the session with the configured TTL.
func (c *SessionCache) Set(ctx context.Context, session *domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := c.client.Set(ctx, sessionKeyPrefix+session.ID, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching session: %w", err)
	}
	return nil
}

// Delete evicts a session from the cache.
func (c *SessionCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("evicting session: %w", err)
	}
	return nil
}

// Health checks the Redis connection.
func (c *SessionCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *SessionCache) Close() error {
	return c.client.Close()
}
