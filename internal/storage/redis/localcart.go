// Package redis stores anonymous device carts in Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/mercadochaco/storefront/internal/domain/cart"
)

// LocalCarts hands out per-device cart storage backed by one Redis key each.
type LocalCarts struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLocalCarts creates LocalCarts. Every save refreshes the key's ttl; a
// zero ttl keeps carts forever.
func NewLocalCarts(client *redis.Client, ttl time.Duration) *LocalCarts {
	return &LocalCarts{client: client, ttl: ttl}
}

// ForDevice returns the storage of one device.
func (c *LocalCarts) ForDevice(deviceID string) cart.LocalStorage {
	return &DeviceCart{client: c.client, key: cartKey(deviceID), ttl: c.ttl}
}

var _ cart.LocalStorage = (*DeviceCart)(nil)

// DeviceCart is the cart.LocalStorage of a single device. The whole line set
// lives in one JSON value so every save is a single SET.
type DeviceCart struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// Load implements cart.LocalStorage. A missing key is an empty cart.
func (d *DeviceCart) Load(ctx context.Context) ([]cart.Line, error) {
	data, err := d.client.Get(ctx, d.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	lines, err := decodeLines(data)
	if err != nil {
		return nil, errors.Wrapf(err, "key %s", d.key)
	}
	return lines, nil
}

// Save implements cart.LocalStorage. An empty line set deletes the key.
func (d *DeviceCart) Save(ctx context.Context, lines []cart.Line) error {
	if len(lines) == 0 {
		return d.Clear(ctx)
	}
	if err := d.client.Set(ctx, d.key, encodeLines(lines), d.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Clear implements cart.LocalStorage.
func (d *DeviceCart) Clear(ctx context.Context) error {
	if err := d.client.Del(ctx, d.key).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func cartKey(deviceID string) string {
	return fmt.Sprintf("cart:device:%s", deviceID)
}

// NewClient parses a redis:// URL and verifies the server answers.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}
