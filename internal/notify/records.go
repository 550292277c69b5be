package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindOrderConfirmation Kind = "ORDER_CONFIRMATION"
	KindOrderCancelled    Kind = "ORDER_CANCELLED"
	KindOrderShipped      Kind = "ORDER_SHIPPED"
	KindOrderDelivered    Kind = "ORDER_DELIVERED"
)

type InvoiceRecord struct {
	OrderID   string
	Number    string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// EmailRecord is written for every attempted email, successful or not.
type EmailRecord struct {
	UserID    string
	OrderID   string
	Kind      Kind
	Recipient string
	Subject   string
	Success   bool
	Error     string
	SentAt    time.Time
}

// Recorder persists invoice and email outcomes. RecordInvoice must be
// idempotent per order.
type Recorder interface {
	RecordInvoice(ctx context.Context, r InvoiceRecord) error
	RecordEmail(ctx context.Context, r EmailRecord) error
}
