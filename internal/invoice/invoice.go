// Package invoice renders order invoices as PDF.
package invoice

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// Number is the human facing invoice number of an order.
func Number(orderID string) string {
	return "INV-" + ShortID(orderID)
}

// ShortID is the first eight characters of an id, upper-cased.
func ShortID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}

type Renderer struct {
	StoreName string
	Contact   string
}

func NewRenderer(storeName, contact string) *Renderer {
	return &Renderer{StoreName: storeName, Contact: contact}
}

func money(d decimal.Decimal) string { return "Tk " + d.StringFixed(2) }

// Render produces the invoice PDF for o billed to buyer.
func (r *Renderer) Render(o orders.Order, buyer orders.Principal) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(Number(o.ID), true)
	pdf.SetCreator(r.StoreName, true)
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	// header
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(37, 99, 235)
	pdf.CellFormat(110, 10, tr(r.StoreName), "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(70, 10, tr(r.Contact), "", 1, "R", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetTextColor(30, 30, 30)
	pdf.CellFormat(120, 12, "INVOICE", "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(60, 12, string(o.Status), "1", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(90, 5, "INVOICE NUMBER", "", 0, "L", false, 0, "")
	pdf.CellFormat(90, 5, "BILL TO", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetTextColor(30, 30, 30)
	pdf.CellFormat(90, 6, Number(o.ID), "", 0, "L", false, 0, "")
	name := buyer.Name
	if name == "" {
		name = "Customer"
	}
	pdf.CellFormat(90, 6, tr(name), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(90, 6, o.CreatedAt.Format("January 2, 2006"), "", 0, "L", false, 0, "")
	pdf.CellFormat(90, 6, tr(buyer.Email), "", 1, "L", false, 0, "")

	addr := o.ShippingAddress
	pdf.CellFormat(90, 6, tr(string(o.PaymentMethod)), "", 0, "L", false, 0, "")
	pdf.CellFormat(90, 6, tr(fmt.Sprintf("%s, %s %s, %s", addr.Address, addr.City, addr.PostalCode, addr.Country)), "", 1, "L", false, 0, "")
	if o.TransactionID != nil {
		ref := *o.TransactionID
		if len(ref) > 20 {
			ref = ref[:20]
		}
		pdf.SetFont("Helvetica", "", 8)
		pdf.CellFormat(90, 5, "", "", 0, "L", false, 0, "")
		pdf.CellFormat(90, 5, tr("TXN: "+ref), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	// items
	pdf.SetFillColor(243, 244, 246)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(95, 8, "ITEM DESCRIPTION", "B", 0, "L", true, 0, "")
	pdf.CellFormat(30, 8, "PRICE", "B", 0, "R", true, 0, "")
	pdf.CellFormat(20, 8, "QTY", "B", 0, "C", true, 0, "")
	pdf.CellFormat(35, 8, "AMOUNT", "B", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, it := range o.Items {
		label := it.Name
		if label == "" {
			label = "Product " + ShortID(it.ProductID)
		}
		if len(label) > 45 {
			label = label[:45]
		}
		pdf.CellFormat(95, 7, tr(label), "", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, money(it.Price), "", 0, "R", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprintf("x%d", it.Quantity), "", 0, "C", false, 0, "")
		pdf.CellFormat(35, 7, money(it.LineTotal()), "", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	// totals
	totals := []struct {
		label string
		value decimal.Decimal
	}{
		{"Subtotal:", o.Subtotal},
		{fmt.Sprintf("Tax (%s%%):", orders.TaxRate.Shift(2).String()), o.Tax},
		{"Shipping:", o.ShippingCost},
	}
	for _, row := range totals {
		pdf.CellFormat(125, 6, "", "", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, row.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, money(row.value), "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(125, 8, "", "", 0, "L", false, 0, "")
	pdf.CellFormat(25, 8, "TOTAL:", "T", 0, "L", false, 0, "")
	pdf.CellFormat(30, 8, money(o.Total), "T", 1, "R", false, 0, "")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(180, 5, "Thank you for your business!", "", 1, "C", false, 0, "")
	pdf.CellFormat(180, 5, "This is a computer-generated invoice. No signature required.", "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", o.ID, err)
	}
	return buf.Bytes(), nil
}
