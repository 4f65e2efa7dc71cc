package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"fulfillment-service/internal/geo"

	"github.com/go-redis/redis/v8"
)

// Client wraps Redis access for the fulfillment core. Its main job is the
// courier position cache: last-reported coordinates with an explicit
// staleness bound enforced by key TTL. A courier whose key has expired is
// treated as having no known location and is skipped by assignment.
type Client struct {
	rdb         *redis.Client
	positionTTL time.Duration
}

// NewClient creates a Redis client. positionTTL is the staleness bound for
// courier positions.
func NewClient(addr, password string, db int, positionTTL time.Duration) (*Client, error) {
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

	return &Client{rdb: rdb, positionTTL: positionTTL}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func positionKey(courierID int64) string {
	return fmt.Sprintf("courier:pos:%d", courierID)
}

// SetCourierPosition stores a courier's last-reported location and refreshes
// its staleness deadline
func (c *Client) SetCourierPosition(ctx context.Context, courierID int64, p geo.Point) error {
	key := positionKey(courierID)

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, "lat", p.Lat, "lon", p.Lon, "updated_at", time.Now().Unix())
	pipe.Expire(ctx, key, c.positionTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store courier position: %w", err)
	}
	return nil
}

// GetCourierPosition retrieves a courier's last-reported location. The second
// return value is false when no fresh position is known.
func (c *Client) GetCourierPosition(ctx context.Context, courierID int64) (geo.Point, bool, error) {
	result, err := c.rdb.HGetAll(ctx, positionKey(courierID)).Result()
	if err != nil {
		return geo.Point{}, false, err
	}
	if len(result) == 0 {
		return geo.Point{}, false, nil
	}

	lat, err := strconv.ParseFloat(result["lat"], 64)
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("corrupt courier position: %w", err)
	}
	lon, err := strconv.ParseFloat(result["lon"], 64)
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("corrupt courier position: %w", err)
	}

	return geo.Point{Lat: lat, Lon: lon}, true, nil
}

// SetIdempotencyKey stores a payload under an idempotency key with a TTL;
// duplicate requests inside the window are served from it
func (c *Client) SetIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey retrieves the payload stored under an idempotency key.
// The second return value is false when the key is unknown or expired.
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	value, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
