package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/ariefcatur/go-storefront-orders/internal/invoice"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
)

type emailData struct {
	Store   string
	Buyer   orders.Principal
	Order   orders.Order
	ShortID string
	Heading string
	Message string
}

var funcs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return "Tk " + d.StringFixed(2) },
}

var orderEmail = template.Must(template.New("order").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; line-height: 1.6;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2 style="color: #2563eb;">{{.Heading}}</h2>
    <p>Hi {{if .Buyer.Name}}{{.Buyer.Name}}{{else}}there{{end}},</p>
    <p>{{.Message}}</p>
    <p><strong>Order #{{.ShortID}}</strong> &middot; Status: {{.Order.Status}}</p>
    <table style="width: 100%; border-collapse: collapse;">
      <tr style="background: #f3f4f6;"><th align="left">Item</th><th>Qty</th><th align="right">Price</th></tr>
      {{range .Order.Items}}<tr><td>{{if .Name}}{{.Name}}{{else}}{{.ProductID}}{{end}}</td><td align="center">{{.Quantity}}</td><td align="right">{{money .Price}}</td></tr>
      {{end}}
    </table>
    <p>Subtotal: {{money .Order.Subtotal}}<br>
       Tax: {{money .Order.Tax}}<br>
       Shipping: {{money .Order.ShippingCost}}<br>
       <strong>Total: {{money .Order.Total}}</strong></p>
    <p>Shipping to: {{.Order.ShippingAddress.Address}}, {{.Order.ShippingAddress.City}} {{.Order.ShippingAddress.PostalCode}}, {{.Order.ShippingAddress.Country}}</p>
    <p style="color: #666; font-size: 12px;">{{.Store}}</p>
  </div>
</body>
</html>`))

// message is a rendered email for one order event.
type message struct {
	Kind    Kind
	Subject string
	HTML    string
}

func render(store string, kind Kind, o orders.Order, buyer orders.Principal) (message, error) {
	short := invoice.ShortID(o.ID)
	d := emailData{Store: store, Buyer: buyer, Order: o, ShortID: short}
	var subject string
	switch kind {
	case KindOrderConfirmation:
		subject = fmt.Sprintf("Order Confirmation #%s - %s", short, store)
		d.Heading = "Thank you for your order!"
		d.Message = "We have received your order. Your invoice is attached."
	case KindOrderCancelled:
		subject = fmt.Sprintf("Order Cancellation Confirmed - #%s", short)
		d.Heading = "Your order has been cancelled"
		d.Message = "Your order was cancelled. If you paid online, the refund will follow."
	case KindOrderShipped:
		subject = fmt.Sprintf("Your Order #%s Has Shipped!", short)
		d.Heading = "Your order is on its way"
		d.Message = "Good news, your order has been shipped."
	case KindOrderDelivered:
		subject = fmt.Sprintf("Your Order #%s Has Been Delivered!", short)
		d.Heading = "Your order has been delivered"
		d.Message = "Your order was delivered. We hope you enjoy it."
	default:
		return message{}, fmt.Errorf("no email template for %s", kind)
	}

	var buf bytes.Buffer
	if err := orderEmail.Execute(&buf, d); err != nil {
		return message{}, fmt.Errorf("render %s email: %w", kind, err)
	}
	return message{Kind: kind, Subject: subject, HTML: buf.String()}, nil
}

// kindForStatus returns the email sent when an order enters s, if any.
func kindForStatus(s orders.Status) (Kind, bool) {
	switch s {
	case orders.StatusShipped:
		return KindOrderShipped, true
	case orders.StatusDelivered:
		return KindOrderDelivered, true
	}
	return "", false
}
