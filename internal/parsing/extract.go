package parsing

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Type synonyms tried in order when looking up a logical field.
var (
	TotalTypes    = []string{"TOTAL", "BALANCE_DUE", "TOTAL_AMOUNT", "AMOUNT_DUE", "AMOUNT_PAID"}
	TaxTypes      = []string{"TAX", "TAX_AMOUNT"}
	DiscountTypes = []string{"DISCOUNT", "DISCOUNT_AMOUNT"}
	SubtotalTypes = []string{"SUBTOTAL"}
	DateTypes     = []string{"INVOICE_RECEIPT_DATE", "DATE"}
	VendorTypes   = []string{"VENDOR_NAME", "NAME"}
	AddressTypes  = []string{"VENDOR_ADDRESS", "ADDRESS"}
	PhoneTypes    = []string{"VENDOR_PHONE", "SUPPLIER_PHONE"}
)

// priceSlack absorbs the rounding of a printed unit price.
var priceSlack = decimal.RequireFromString("0.01")

// Extraction is the flattened view of an OCR response.
type Extraction struct {
	// Transcript is deterministic for a given response; it feeds the fingerprint.
	Transcript string

	// Summary maps normalized field type to value. Later duplicates win.
	Summary map[string]string

	fields []Field
	items  []ItemFields
}

// NormalizeType upper-cases a field type and turns spaces and hyphens into
// underscores, so "Balance Due" and "BALANCE_DUE" compare equal.
func NormalizeType(t string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return '_'
		}
		return unicode.ToUpper(r)
	}, strings.TrimSpace(t))
}

// Extract walks every document of resp. A nil or empty response yields an
// empty extraction.
func Extract(resp *Response) *Extraction {
	ex := &Extraction{Summary: make(map[string]string)}
	if resp == nil {
		return ex
	}

	var lines []string
	for _, doc := range resp.Documents {
		for _, f := range doc.SummaryFields {
			if f.Label != "" || f.Value != "" {
				lines = append(lines, f.Label+": "+f.Value)
			}
			t := NormalizeType(f.Type)
			if t == "" {
				continue
			}
			ex.Summary[t] = f.Value
			ex.fields = append(ex.fields, Field{Type: t, Label: f.Label, Value: f.Value})
		}

		for _, group := range doc.LineItemGroups {
			for _, item := range group.Items {
				var parts []string
				for _, f := range item.Fields {
					if f.Type != "" && f.Value != "" {
						parts = append(parts, f.Type+": "+f.Value)
					}
				}
				if len(parts) > 0 {
					lines = append(lines, strings.Join(parts, " | "))
				}
				ex.items = append(ex.items, item)
			}
		}
	}
	ex.Transcript = strings.Join(lines, "\n")
	return ex
}

// Text returns the first non-blank value whose type matches a synonym,
// trying synonyms in order and fields in document order.
func (ex *Extraction) Text(synonyms ...string) (string, bool) {
	for _, s := range synonyms {
		want := NormalizeType(s)
		for _, f := range ex.fields {
			if f.Type != want {
				continue
			}
			if v := strings.TrimSpace(f.Value); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// Amount is like Text but skips values that do not parse as money.
// Absence yields zero and false.
func (ex *Extraction) Amount(synonyms ...string) (decimal.Decimal, bool) {
	for _, s := range synonyms {
		want := NormalizeType(s)
		for _, f := range ex.fields {
			if f.Type != want {
				continue
			}
			if d, ok := ParseAmount(f.Value); ok {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

// LineItems converts the OCR line-item groups. Items without a name are
// skipped; repeated names stay separate entries. Without UNIT_PRICE the
// unit price is PRICE divided by the quantity, and PRICE also wins when
// UNIT_PRICE times the quantity disagrees with it. A fractional QUANTITY is
// a weight or volume: the item counts once at the charged PRICE.
func (ex *Extraction) LineItems() []LineItem {
	var out []LineItem
	for _, item := range ex.items {
		var (
			name                          string
			unit, price, measure          decimal.Decimal
			hasUnit, hasPrice, hasMeasure bool
		)
		for _, f := range item.Fields {
			switch NormalizeType(f.Type) {
			case "ITEM":
				if name == "" {
					name = strings.TrimSpace(f.Value)
				}
			case "UNIT_PRICE":
				if d, ok := ParseAmount(f.Value); ok && !hasUnit {
					unit, hasUnit = d, true
				}
			case "PRICE":
				if d, ok := ParseAmount(f.Value); ok && !hasPrice {
					price, hasPrice = d, true
				}
			case "QUANTITY":
				if d, ok := ParseMeasure(f.Value); ok && d.IsPositive() {
					measure, hasMeasure = d, true
				}
			}
		}
		if name == "" {
			continue
		}

		weighed := hasMeasure && !measure.Equal(measure.Truncate(0))
		li := LineItem{Name: name, Quantity: 1, UnitPrice: decimal.Zero}
		if hasMeasure && !weighed {
			li.Quantity = int(measure.IntPart())
		}
		quantity := decimal.NewFromInt(int64(li.Quantity))

		switch {
		case weighed && hasPrice:
			li.UnitPrice = price
		case weighed && hasUnit:
			li.UnitPrice = unit.Mul(measure).Round(2)
		case hasUnit && hasPrice && unit.Mul(quantity).Sub(price).Abs().GreaterThan(priceSlack):
			li.UnitPrice = price.DivRound(quantity, 4)
		case hasUnit:
			li.UnitPrice = unit
		case hasPrice:
			li.UnitPrice = price.DivRound(quantity, 4)
		}
		out = append(out, li)
	}
	return out
}
