package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrRequestInFlight means another request with the same key is still being
// processed.
var ErrRequestInFlight = errors.New("request with this idempotency key is in progress")

// Idempotency maps a client supplied Idempotency-Key to the order it created.
type Idempotency struct {
	rdb *redis.Client
}

func NewIdempotency(rdb *redis.Client) *Idempotency {
	return &Idempotency{rdb: rdb}
}

// Claim reserves key for userID. It returns the order id when the key was
// already used successfully, and ErrRequestInFlight while the first request
// has not finished.
func (i *Idempotency) Claim(ctx context.Context, userID, key string) (orderID string, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, userID, key)
	ok, err := i.rdb.SetNX(ctx, k, "", TTLIdemPending).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}

	v, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		ok, err := i.rdb.SetNX(ctx, k, "", TTLIdemPending).Result()
		if err != nil {
			return "", false, err
		}
		if ok {
			return "", true, nil
		}
		return "", false, ErrRequestInFlight
	}
	if err != nil {
		return "", false, err
	}
	if v == "" {
		return "", false, ErrRequestInFlight
	}
	return v, false, nil
}

// Complete stores the created order id for the claimed key.
func (i *Idempotency) Complete(ctx context.Context, userID, key, orderID string) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), orderID, TTLIdempotency).Err()
}

// Release drops a claim whose request failed so the client can retry.
func (i *Idempotency) Release(ctx context.Context, userID, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key)).Err()
}
