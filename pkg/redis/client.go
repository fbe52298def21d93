// Package redis keeps the bridge's channel rosters in Redis, so they survive
// bridge restarts and can be inspected from outside the process.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds every roster operation
const DefaultTimeout = 2 * time.Second

// Client wraps the Redis client used for roster storage
type Client struct {
	rdb     *redis.Client
	prefix  string // Key namespace, e.g. "girc-bridge"
	timeout time.Duration
}

// NewClient connects to the Redis server at redisURL and verifies the
// connection. All keys written by the client start with prefix.
func NewClient(redisURL, prefix string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	// Test connection with shorter timeout for faster failures
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:     rdb,
		prefix:  prefix,
		timeout: DefaultTimeout,
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks if Redis connection is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}
