package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis client shared by the rate limiter and the
// documentation snapshot store.
type Client struct {
	*redis.Client
}

const pingTimeout = 5 * time.Second

// NewClient creates a new Redis client from a URL and pings it.
// URL format: redis://[:password@]host:port[/db]
func NewClient(url string) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{Client: client}, nil
}

// Healthy reports whether Redis answers a ping within the context deadline.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.Ping(ctx).Err() == nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.Client.Close()
}
