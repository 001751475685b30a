// Package redis is the shared-state boundary between the gateway core
// and the rest of the device: the scheduler exports subsystem counters
// through it for the UI and external tooling, and cmd/gatewaycore
// caches its bootstrap device identifier in it so every restart
// presents the same identity to the cloud auth handshake.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Client wraps the single go-redis connection the gateway core holds.
// Hash keys are one-per-concern ("gatewaycore", "gatewaycore:gateway",
// "gatewaycore:sync", ...), with counter updates doubled onto a pub/sub
// channel of the same name.
type Client struct {
	rdb *goredis.Client
	ctx context.Context
}

// New connects to the Redis server at addr and verifies it is
// reachable before any subsystem starts depending on it.
func New(addr string, password string, db int) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &Client{rdb: rdb, ctx: ctx}, nil
}

// WriteString stores value in a hash field. Used for small state that
// must survive restarts without deserving a storage-engine record; the
// only current caller persists the device identifier minted for the
// first auth handshake.
func (c *Client) WriteString(key, field, value string) error {
	return c.rdb.HSet(c.ctx, key, field, value).Err()
}

// GetString reads back a hash field written by WriteString.
func (c *Client) GetString(key, field string) (string, error) {
	val, err := c.rdb.HGet(c.ctx, key, field).Result()
	if err == goredis.Nil {
		return "", fmt.Errorf("redis key %s field %s not set", key, field)
	}
	return val, err
}

// WriteAndPublishInt updates a counter hash field and announces the new
// value on the channel named after key, pipelined into one round trip
// so the hash and the channel cannot drift apart. This is how the
// scheduler's stats-publish task exports every subsystem's counters
// without the UI having to poll.
func (c *Client) WriteAndPublishInt(key, field string, value int) error {
	pipe := c.rdb.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, fmt.Sprintf("%s:%d", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
