package parsing

import (
	"github.com/shopspring/decimal"
)

// Tolerance is the width of the band, centred on the stated total, that the
// computed total must fall in. A receipt reconciles when the two differ by at
// most half of it.
var Tolerance = decimal.RequireFromString("0.10")

// Totals are the monetary figures derived from a receipt.
type Totals struct {
	Subtotal              decimal.Decimal
	Discount              decimal.Decimal
	SubtotalAfterDiscount decimal.Decimal
	Tax                   decimal.Decimal
	TotalAmount           decimal.Decimal

	// Computed is what the items plus tax add up to.
	Computed decimal.Decimal
	// ReportedTax is set when the OCR service returned a tax field.
	ReportedTax *decimal.Decimal
	// ReportedSubtotal is set when the OCR service returned a subtotal field.
	ReportedSubtotal *decimal.Decimal
	HasTotal         bool
	Mismatch         bool
	// SubtotalMismatch means the items do not add up to the reported subtotal.
	SubtotalMismatch bool
}

// Reconcile sums the items and derives tax as the residual between the
// stated total and the discounted subtotal. When the receipt states its own
// tax, the consistency check uses that figure instead of the residual.
func Reconcile(items []LineItem, ex *Extraction) Totals {
	var t Totals

	t.Subtotal = decimal.Zero
	for _, item := range items {
		t.Subtotal = t.Subtotal.Add(item.LineTotal())
	}

	discount, _ := ex.Amount(DiscountTypes...)
	t.Discount = discount.Abs()
	t.SubtotalAfterDiscount = t.Subtotal.Sub(t.Discount)

	t.TotalAmount, t.HasTotal = ex.Amount(TotalTypes...)
	t.Tax = t.TotalAmount.Sub(t.SubtotalAfterDiscount).Round(2)

	t.Computed = t.SubtotalAfterDiscount.Add(t.Tax)
	if tax, ok := ex.Amount(TaxTypes...); ok {
		t.ReportedTax = &tax
		t.Computed = t.SubtotalAfterDiscount.Add(tax)
	}
	t.Mismatch = !WithinTolerance(t.TotalAmount, t.Computed)

	if subtotal, ok := ex.Amount(SubtotalTypes...); ok {
		t.ReportedSubtotal = &subtotal
		t.SubtotalMismatch = len(items) > 0 && !WithinTolerance(subtotal, t.Subtotal)
	}
	return t
}

// WithinTolerance reports whether computed lies inside the tolerance band
// around total, so 10.05 reconciles against 10.00 and 10.09 does not.
func WithinTolerance(total, computed decimal.Decimal) bool {
	return total.Sub(computed).Abs().Mul(decimal.NewFromInt(2)).LessThanOrEqual(Tolerance)
}
