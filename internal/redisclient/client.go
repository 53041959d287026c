package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb           *redis.Client
	completionTTL time.Duration
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int, completionTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb, completionTTL: completionTTL}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func completionKey(invoiceID string) string {
	return fmt.Sprintf("invoice:completed:%s", invoiceID)
}

// MarkCompleted records that an invoice settled, letting later polls skip
// the gateway round-trip. Best effort with TTL; the database stays the
// source of truth.
func (c *Client) MarkCompleted(ctx context.Context, invoiceID string) error {
	return c.rdb.Set(ctx, completionKey(invoiceID), "1", c.completionTTL).Err()
}

// IsCompleted reports whether an invoice is known to have settled.
func (c *Client) IsCompleted(ctx context.Context, invoiceID string) (bool, error) {
	result, err := c.rdb.Exists(ctx, completionKey(invoiceID)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}
