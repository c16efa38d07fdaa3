// Package redis is the key-value client the api-service and the worker-service share
// for job records. A key is a request id and its value encodes the job state.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	ResultTTL    time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// Addr returns host:port
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client wraps go-redis with the operations job records need
type Client struct {
	rdb    *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// setIfOpen writes ARGV[1] when the key is absent or still holds the empty placeholder.
// ARGV[2] is the TTL in milliseconds; 0 means no expiry.
var setIfOpen = goredis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current ~= false and current ~= '' then
  return 0
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// NewClient connects to Redis and verifies the connection with PING
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	logger.Info("Connecting to Redis",
		slog.String("addr", config.Addr()),
		slog.Int("db", config.DB),
	)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         config.Addr(),
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
	})

	client := NewFromClient(rdb, config.ResultTTL, logger)

	if err := client.Ping(ctx); err != nil {
		logger.Error("Failed to ping Redis",
			slog.Any("error", err),
		)
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Successfully connected to Redis",
		slog.Duration("result_ttl", config.ResultTTL),
	)

	return client, nil
}

// NewFromClient wraps an existing go-redis client
func NewFromClient(rdb *goredis.Client, ttl time.Duration, logger *slog.Logger) *Client {
	return &Client{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// Set writes value under key with the configured TTL
func (c *Client) Set(ctx context.Context, key, value string) error {
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// SetNX writes value under key only if the key does not exist.
// It reports whether the write happened.
func (c *Client) SetNX(ctx context.Context, key, value string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return ok, nil
}

// SetIfOpen writes value only when key is absent or holds the empty placeholder.
// It reports whether the write happened; a key holding any other value is left alone.
func (c *Client) SetIfOpen(ctx context.Context, key, value string) (bool, error) {
	written, err := setIfOpen.Run(ctx, c.rdb, []string{key}, value, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to update key %s: %w", key, err)
	}
	return written == 1, nil
}

// Get returns the value for key and whether the key exists
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, true, nil
}

// Exists reports whether key exists
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete removes key
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection pool
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")

	if err := c.rdb.Close(); err != nil {
		c.logger.Error("Failed to close Redis connection",
			slog.Any("error", err),
		)
		return err
	}

	c.logger.Info("Redis connection closed successfully")
	return nil
}
