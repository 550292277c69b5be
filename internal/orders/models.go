package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	IsDeleted bool            `json:"isDeleted"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Purchasable reports whether the product can be put on a new order.
func (p Product) Purchasable() bool { return !p.IsDeleted }

type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "Cash on Delivery"
	PaymentOnline         PaymentMethod = "Online Payment"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCashOnDelivery || m == PaymentOnline
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Status          Status          `json:"status"` // lihat status.go
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	ShippingCost    decimal.Decimal `json:"shippingCost"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	TransactionID   *string         `json:"transactionId"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	Items           []OrderItem     `json:"items"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// OrderItem is immutable once written. Name and Price are captured when the
// order is placed; ProductID is a lookup-only reference.
type OrderItem struct {
	OrderID   string          `json:"orderId"`
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (it OrderItem) LineTotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Principal is the authenticated caller. It doubles as the buyer handed to
// the notification dispatcher.
type Principal struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}

// CanAccess reports whether p may read or cancel o.
func (p Principal) CanAccess(o Order) bool {
	return p.IsAdmin() || (p.UserID != "" && p.UserID == o.UserID)
}
