package orders

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	TaxRate              = decimal.RequireFromString("0.10")
	ShippingInsideDhaka  = decimal.NewFromInt(100)
	ShippingOutsideDhaka = decimal.NewFromInt(150)
)

// PricedLine is a line item carrying a unit price resolved from the catalog.
type PricedLine struct {
	ProductID string
	UnitPrice decimal.Decimal
	Quantity  int
}

type Quote struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	Total        decimal.Decimal `json:"total"`
}

// ShippingCost is a two-zone flat rate keyed on the destination city.
func ShippingCost(city string) decimal.Decimal {
	if strings.Contains(strings.ToLower(city), "dhaka") {
		return ShippingInsideDhaka
	}
	return ShippingOutsideDhaka
}

// QuoteOrder computes the authoritative order total. Tax is rounded to
// two decimal places.
func QuoteOrder(lines []PricedLine, addr ShippingAddress) (Quote, error) {
	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity < 1 {
			return Quote{}, &ValidationError{Field: "quantity", Reason: "must be at least 1 for product " + l.ProductID, Err: ErrInvalidQuantity}
		}
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	tax := subtotal.Mul(TaxRate).Round(2)
	shipping := ShippingCost(addr.City)
	return Quote{
		Subtotal:     subtotal,
		Tax:          tax,
		ShippingCost: shipping,
		Total:        subtotal.Add(tax).Add(shipping),
	}, nil
}
