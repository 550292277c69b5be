package postgres

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/notify"
)

var _ notify.Recorder = (*Store)(nil)

func (s *Store) RecordInvoice(ctx context.Context, r notify.InvoiceRecord) error {
	const stmt = `
INSERT INTO invoices (order_id, invoice_number, amount, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (order_id) DO NOTHING`

	if _, err := s.exec(ctx, stmt, r.OrderID, r.Number, r.Amount, r.CreatedAt); err != nil {
		return fmt.Errorf("record invoice: %w", err)
	}
	return nil
}

func (s *Store) RecordEmail(ctx context.Context, r notify.EmailRecord) error {
	const stmt = `
INSERT INTO email_logs (user_id, order_id, kind, recipient, subject, success, error, sent_at)
VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, NULLIF($7, ''), $8)`

	_, err := s.exec(ctx, stmt, r.UserID, r.OrderID, r.Kind, r.Recipient, r.Subject, r.Success, r.Error, r.SentAt)
	if err != nil {
		return fmt.Errorf("record email: %w", err)
	}
	return nil
}
