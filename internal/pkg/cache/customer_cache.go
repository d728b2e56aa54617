package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	customerKeyPrefix  = "paymirror:customer:"
	defaultCustomerTTL = 24 * time.Hour
)

// CustomerCache maps user ids to gateway customer ids.
type CustomerCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewCustomerCache(client redis.Cmdable, ttl time.Duration) *CustomerCache {
	if ttl <= 0 {
		ttl = defaultCustomerTTL
	}
	return &CustomerCache{client: client, ttl: ttl}
}

func (c *CustomerCache) GetCustomerID(ctx context.Context, userID string) (string, bool, error) {
	id, err := c.client.Get(ctx, customerKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (c *CustomerCache) SetCustomerID(ctx context.Context, userID, customerID string) error {
	return c.client.Set(ctx, customerKey(userID), customerID, c.ttl).Err()
}

func (c *CustomerCache) Forget(ctx context.Context, userID string) error {
	return c.client.Del(ctx, customerKey(userID)).Err()
}

func customerKey(userID string) string {
	return customerKeyPrefix + userID
}
