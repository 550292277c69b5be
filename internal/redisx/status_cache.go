package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

type CachedStatus struct {
	Status    orders.Status `json:"status"`
	UserID    string        `json:"user_id"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type StatusCache struct {
	rdb *redis.Client
}

func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb}
}

// Get returns ok=false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedStatus{}, false, nil
	}
	if err != nil {
		return CachedStatus{}, false, err
	}
	var cs CachedStatus
	if err := json.Unmarshal(b, &cs); err != nil {
		return CachedStatus{}, false, fmt.Errorf("decode cached status: %w", err)
	}
	return cs, true, nil
}

func (c *StatusCache) Put(ctx context.Context, o orders.Order) error {
	b, err := json.Marshal(CachedStatus{Status: o.Status, UserID: o.UserID, UpdatedAt: o.UpdatedAt})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, o.ID), b, TTLStatusCache).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
