package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/clock"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
	block  chan struct{}
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestProducer_FlushesOnClose(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p := newProducer(w, 16, zap.NewNop())
	p.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.True(t, p.Publish("t", []byte("k"), []byte{byte(i)}))
	}
	p.Close()
	p.Close()
	p.WaitClosed()

	assert.Len(t, w.written(), 5)
	assert.True(t, w.closed)
	assert.False(t, p.Publish("t", nil, []byte("late")), "publish after close is dropped")
}

func TestProducer_PublishNeverBlocks(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{block: make(chan struct{})}
	p := newProducer(w, 1, zap.NewNop())
	p.Start(context.Background())

	done := make(chan int)
	go func() {
		accepted := 0
		for i := 0; i < 50; i++ {
			if p.Publish("t", nil, []byte("x")) {
				accepted++
			}
		}
		done <- accepted
	}()

	select {
	case accepted := <-done:
		assert.Less(t, accepted, 50)
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
	close(w.block)
	p.Close()
	p.WaitClosed()
}

type capturePublisher struct {
	topic   string
	key     []byte
	value   []byte
	headers []kafka.Header
}

func (c *capturePublisher) Publish(topic string, key, value []byte, headers ...kafka.Header) bool {
	c.topic, c.key, c.value, c.headers = topic, key, value, headers
	return true
}

func TestDispatcher(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	pub := &capturePublisher{}
	d := NewDispatcher(pub, "order-api", clock.NewFixed(now), nil)
	o := orders.Order{ID: "o-1", UserID: "u1", Status: orders.StatusCancelled}
	buyer := orders.Principal{UserID: "u1", Email: "a@example.com"}

	d.NotifyOrderCancelled(context.Background(), o, buyer)

	assert.Equal(t, orders.TopicOrderCancelled, pub.topic)
	assert.Equal(t, []byte("o-1"), pub.key)
	require.Len(t, pub.headers, 2)
	assert.Equal(t, orders.EventOrderCancelled, string(pub.headers[0].Value))

	env, err := DecodeEnvelope(pub.value)
	require.NoError(t, err)
	assert.Equal(t, orders.EventOrderCancelled, env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "order-api", env.Producer)
	assert.Equal(t, "o-1", env.CorrelationID)
	assert.NotEmpty(t, env.EventID)
	assert.True(t, now.Equal(env.OccurredAt))

	p, err := UnwrapPayload[orders.OrderEventPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, o.ID, p.Order.ID)
	assert.Equal(t, buyer.Email, p.Buyer.Email)
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestConsumer_CommitsOnlySuccess(t *testing.T) {
	t.Parallel()

	r := &fakeReader{msgs: []kafka.Message{
		{Key: []byte("a"), Offset: 1},
		{Key: []byte("b"), Offset: 2},
		{Key: []byte("a"), Offset: 3},
	}}
	c := newConsumer(r, 2, zap.NewNop())
	c.backoff = time.Millisecond

	var mu sync.Mutex
	seen := 0
	ctx, cancel := context.WithCancel(context.Background())
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen == 3 {
			defer cancel()
		}
		if m.Offset == 2 {
			return errors.New("boom")
		}
		return nil
	}

	require.NoError(t, c.Start(ctx, h))
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.ElementsMatch(t, []int64{1, 3}, r.committed)
	assert.True(t, r.closed)
}

func TestConsumer_SameKeySameWorker(t *testing.T) {
	t.Parallel()

	c := newConsumer(&fakeReader{}, 8, nil)
	assert.Equal(t, c.slot([]byte("order-1")), c.slot([]byte("order-1")))
	assert.Equal(t, 0, c.slot(nil))
}

func TestEnvelopeJSON(t *testing.T) {
	t.Parallel()

	env, err := NewEnvelope("ev-1", orders.EventOrderCreated, "svc", map[string]string{"a": "b"})
	require.NoError(t, err)
	b, err := encode(env)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "ev-1", raw["event_id"])
	assert.Equal(t, "OrderCreated", raw["event_type"])

	_, err = DecodeEnvelope([]byte("nope"))
	assert.Error(t, err)
}
