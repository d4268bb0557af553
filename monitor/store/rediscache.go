package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	settingsTTL = 60 * time.Second
	detailTTL   = 30 * time.Second
)

// RedisCache is a read-through wrapper over a Store. Only the hot read paths
// of the notification flow are cached (user settings, endpoint display
// details); every write and every scan passes straight through. Cache
// failures degrade to the underlying store, never to an error.
type RedisCache struct {
	Store
	client *redis.Client
}

// NewRedisCache connects to redis and wraps the given store.
func NewRedisCache(inner Store, addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{Store: inner, client: client}, nil
}

func settingsKey(userID string) string {
	return "lookout:cache:settings:" + userID
}

func detailKey(endpointID string) string {
	return "lookout:cache:endpoint:" + endpointID
}

// SelectUserNotificationSettings serves from cache when possible. A cached
// empty object marks "no settings row" so missing users do not hammer the
// database once per failure event.
func (c *RedisCache) SelectUserNotificationSettings(ctx context.Context, userID string) (*NotificationSettings, error) {
	key := settingsKey(userID)
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		if raw == "null" {
			return nil, nil
		}
		var ns NotificationSettings
		if err := json.Unmarshal([]byte(raw), &ns); err == nil {
			return &ns, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		// Redis down: fall through to the store.
		return c.Store.SelectUserNotificationSettings(ctx, userID)
	}

	ns, err := c.Store.SelectUserNotificationSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if payload, merr := json.Marshal(ns); merr == nil {
		c.client.Set(ctx, key, payload, settingsTTL)
	}
	return ns, nil
}

// SelectEndpointsWithWorkspaceNames caches per-endpoint detail entries and
// fetches only the misses from the store.
func (c *RedisCache) SelectEndpointsWithWorkspaceNames(ctx context.Context, ids []string) ([]*EndpointDetail, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	details := make([]*EndpointDetail, 0, len(ids))
	var misses []string
	for _, id := range ids {
		raw, err := c.client.Get(ctx, detailKey(id)).Result()
		if err != nil {
			misses = append(misses, id)
			continue
		}
		var d EndpointDetail
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			misses = append(misses, id)
			continue
		}
		details = append(details, &d)
	}

	if len(misses) > 0 {
		fetched, err := c.Store.SelectEndpointsWithWorkspaceNames(ctx, misses)
		if err != nil {
			return nil, err
		}
		for _, d := range fetched {
			if payload, merr := json.Marshal(d); merr == nil {
				c.client.Set(ctx, detailKey(d.ID), payload, detailTTL)
			}
			details = append(details, d)
		}
	}
	return details, nil
}

// InvalidateEndpoint drops the cached display entry for an endpoint.
// Registry update/delete events call this.
func (c *RedisCache) InvalidateEndpoint(ctx context.Context, endpointID string) {
	c.client.Del(ctx, detailKey(endpointID))
}

// InvalidateUser drops the cached settings for a user. The notification
// settings API calls this after a write.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID string) {
	c.client.Del(ctx, settingsKey(userID))
}

// Close releases the redis connection and the wrapped store.
func (c *RedisCache) Close() {
	c.client.Close()
	c.Store.Close()
}
