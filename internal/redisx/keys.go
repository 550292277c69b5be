package redisx

import "time"

const (
	// Idempotency create order: idem:order:create:{user_id}:{key} -> order_id ("" selama masih diproses)
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "user_id": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLIdemPending = 30 * time.Second
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
