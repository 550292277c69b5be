// Package notify turns committed order events into customer emails, invoice
// records and email logs. Failures here never affect the order itself.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/clock"
	"github.com/ariefcatur/go-storefront-orders/internal/invoice"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type InvoiceRenderer interface {
	Render(o orders.Order, buyer orders.Principal) ([]byte, error)
}

// Deduper claims event ids so redelivered events are processed once.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Observer interface {
	EventHandled(eventType, outcome string)
	EmailAttempted(kind Kind, ok bool)
}

type Service struct {
	Mailer    Mailer
	Records   Recorder
	Invoices  InvoiceRenderer
	Dedup     Deduper  // optional
	Observer  Observer // optional
	Clock     clock.Clock
	Log       *zap.Logger
	StoreName string
}

// HandleMessage dipasang sebagai handler consumer. It returns an error only
// when ctx is cancelled mid-way, so the message is redelivered after restart.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	log := s.logger()

	// 1) decode envelope
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		log.Warn("drop malformed event", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		s.handled("unknown", "malformed")
		return nil
	}
	log = log.With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType))

	// 2) dedup via Redis (pakai event_id)
	if s.Dedup != nil && env.EventID != "" {
		fresh, err := s.Dedup.Claim(ctx, env.EventID)
		if err != nil {
			log.Warn("dedup unavailable, processing anyway", zap.Error(err))
		} else if !fresh {
			s.handled(env.EventType, "duplicate")
			return nil
		}
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[orders.OrderEventPayload](env.Payload)
	if err != nil {
		log.Warn("drop event with malformed payload", zap.Error(err))
		s.handled(env.EventType, "malformed")
		return nil
	}
	log = log.With(zap.String("order_id", p.Order.ID))

	switch env.EventType {
	case orders.EventOrderCreated:
		err = s.orderCreated(ctx, log, p)
	case orders.EventOrderCancelled:
		err = s.send(ctx, log, KindOrderCancelled, p, nil)
	case orders.EventOrderStatusChanged:
		kind, ok := kindForStatus(p.Order.Status)
		if !ok {
			s.handled(env.EventType, "ignored")
			return nil
		}
		err = s.send(ctx, log, kind, p, nil)
	default:
		s.handled(env.EventType, "ignored")
		return nil
	}

	if err != nil {
		if s.Dedup != nil && env.EventID != "" {
			_ = s.Dedup.Forget(context.WithoutCancel(ctx), env.EventID)
		}
		s.handled(env.EventType, "interrupted")
		return err
	}
	s.handled(env.EventType, "processed")
	return nil
}

func (s *Service) orderCreated(ctx context.Context, log *zap.Logger, p orders.OrderEventPayload) error {
	var attachments []Attachment
	pdf, err := s.Invoices.Render(p.Order, p.Buyer)
	if err != nil {
		log.Error("render invoice", zap.Error(err))
	} else {
		attachments = append(attachments, Attachment{Name: "Invoice-" + invoice.ShortID(p.Order.ID) + ".pdf", Content: pdf})
		rec := InvoiceRecord{
			OrderID:   p.Order.ID,
			Number:    invoice.Number(p.Order.ID),
			Amount:    p.Order.Total,
			CreatedAt: s.now(),
		}
		if err := s.Records.RecordInvoice(ctx, rec); err != nil {
			log.Error("record invoice", zap.Error(err))
		}
	}
	return s.send(ctx, log, KindOrderConfirmation, p, attachments)
}

// send renders and sends one email and logs the attempt. Delivery failures
// are recorded and swallowed.
func (s *Service) send(ctx context.Context, log *zap.Logger, kind Kind, p orders.OrderEventPayload, attachments []Attachment) error {
	if p.Buyer.Email == "" {
		log.Warn("buyer has no email, skipping", zap.String("kind", string(kind)), zap.String("user_id", p.Buyer.UserID))
		return nil
	}

	msg, err := render(s.StoreName, kind, p.Order, p.Buyer)
	if err == nil {
		err = s.Mailer.Send(ctx, Email{
			To:          p.Buyer.Email,
			ToName:      p.Buyer.Name,
			Subject:     msg.Subject,
			HTML:        msg.HTML,
			Attachments: attachments,
		})
	}
	if err != nil && ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}

	rec := EmailRecord{
		UserID:    p.Buyer.UserID,
		OrderID:   p.Order.ID,
		Kind:      kind,
		Recipient: p.Buyer.Email,
		Subject:   msg.Subject,
		Success:   err == nil,
		SentAt:    s.now(),
	}
	if err != nil {
		rec.Error = err.Error()
		log.Error("email failed", zap.String("kind", string(kind)), zap.Error(err))
	} else {
		log.Info("email sent", zap.String("kind", string(kind)), zap.String("to", p.Buyer.Email))
	}
	if s.Observer != nil {
		s.Observer.EmailAttempted(kind, err == nil)
	}
	if rerr := s.Records.RecordEmail(ctx, rec); rerr != nil {
		log.Error("record email log", zap.Error(rerr))
	}
	return nil
}

func (s *Service) handled(eventType, outcome string) {
	if s.Observer != nil {
		s.Observer.EventHandled(eventType, outcome)
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
