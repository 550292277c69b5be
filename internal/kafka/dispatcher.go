package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/clock"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header) bool
}

// Dispatcher publishes committed order changes as envelopes. It implements
// orders.Notifier and never blocks the order path.
type Dispatcher struct {
	pub     Publisher
	service string
	clock   clock.Clock
	log     *zap.Logger
}

var _ orders.Notifier = (*Dispatcher)(nil)

func NewDispatcher(pub Publisher, service string, c clock.Clock, log *zap.Logger) *Dispatcher {
	if c == nil {
		c = clock.NewSystem()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{pub: pub, service: service, clock: c, log: log}
}

func (d *Dispatcher) NotifyOrderCreated(ctx context.Context, o orders.Order, buyer orders.Principal) {
	d.dispatch(ctx, orders.EventOrderCreated, o, buyer)
}

func (d *Dispatcher) NotifyOrderCancelled(ctx context.Context, o orders.Order, buyer orders.Principal) {
	d.dispatch(ctx, orders.EventOrderCancelled, o, buyer)
}

func (d *Dispatcher) NotifyOrderStatusChanged(ctx context.Context, o orders.Order, buyer orders.Principal) {
	d.dispatch(ctx, orders.EventOrderStatusChanged, o, buyer)
}

func (d *Dispatcher) dispatch(ctx context.Context, eventType string, o orders.Order, buyer orders.Principal) {
	env, err := NewEnvelope(uuid.NewString(), eventType, d.service, orders.OrderEventPayload{Order: o, Buyer: buyer})
	if err != nil {
		d.log.Error("build event", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	env.OccurredAt = d.clock.Now().UTC().Truncate(time.Millisecond)
	env.TraceID = middleware.GetReqID(ctx)
	env.CorrelationID = o.ID

	value, err := encode(env)
	if err != nil {
		d.log.Error("encode event", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	ok := d.pub.Publish(orders.TopicFor(eventType), orders.PartitionKey(o.ID), value,
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
	if !ok {
		d.log.Warn("order event dropped", zap.String("order_id", o.ID), zap.String("event_type", eventType))
	}
}
