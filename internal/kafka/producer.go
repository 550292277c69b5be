package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in memory and writes them from one goroutine.
// Publish never blocks: when the buffer is full or the producer is closed
// the message is dropped and logged.
type Producer struct {
	w     messageWriter
	inbox chan kafka.Message
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
	log   *zap.Logger
}

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true, // fire-and-forget untuk throughput; error dilog di Completion
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Error("kafka write failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
	return newProducer(w, buf, log)
}

func newProducer(w messageWriter, buf int, log *zap.Logger) *Producer {
	if buf <= 0 {
		buf = 1
	}
	return &Producer{
		w:     w,
		inbox: make(chan kafka.Message, buf),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Start runs the write loop until ctx is done or Close is called. Buffered
// messages are flushed before the writer is closed.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for {
			select {
			case m := <-p.inbox:
				p.write(m)
			case <-ctx.Done():
				p.shutdown()
				return
			case <-p.quit:
				p.shutdown()
				return
			}
		}
	}()
}

func (p *Producer) shutdown() {
	p.once.Do(func() { close(p.quit) })
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.log.Warn("kafka writer close", zap.Error(err))
			}
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error("kafka write", zap.String("topic", m.Topic), zap.ByteString("key", m.Key), zap.Error(err))
	}
}

// Publish enqueues a message and reports whether it was accepted.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) bool {
	select {
	case <-p.quit:
		p.log.Warn("producer closed, dropping message", zap.String("topic", topic), zap.ByteString("key", key))
		return false
	default:
	}

	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
		return true
	default:
		p.log.Warn("producer buffer full, dropping message", zap.String("topic", topic), zap.ByteString("key", key))
		return false
	}
}

// Close stops accepting messages. Safe to call more than once.
func (p *Producer) Close() { p.once.Do(func() { close(p.quit) }) }

// Tunggu sampai goroutine selesai flush.
func (p *Producer) WaitClosed() { <-p.done }
