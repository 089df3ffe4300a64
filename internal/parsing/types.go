package parsing

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Labels produced by the entity recognizer that pairing understands.
const (
	LabelItem  = "ITEM"
	LabelPrice = "PRICE"
)

// DateUnknown is the purchase date used when no date field parses.
const DateUnknown = "unknown"

// Where the items of a ParsedReceipt came from.
const (
	SourceNone      = "none"
	SourceLineItems = "line_items"
	SourceEntities  = "entities"
)

// Field is one typed key/value pair reported by the OCR service.
// Label is the text printed on the receipt next to the value, if any.
type Field struct {
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

// ItemFields holds the fields the OCR service grouped into one line item.
type ItemFields struct {
	Fields []Field `json:"fields"`
}

type LineItemGroup struct {
	Items []ItemFields `json:"items"`
}

type Document struct {
	SummaryFields  []Field         `json:"summary_fields"`
	LineItemGroups []LineItemGroup `json:"line_item_groups"`
}

// Response is the OCR service output, reduced to what extraction reads.
type Response struct {
	Documents []Document `json:"documents"`
}

// Entity is one span found by the entity recognizer, in text order.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// LineItem is one purchased product. The line total is always derived.
type LineItem struct {
	Name      string          `json:"name" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	Category  string          `json:"category"`
}

// LineTotal returns UnitPrice × Quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// MarshalJSON adds the derived line_total. It is ignored on decode.
func (li LineItem) MarshalJSON() ([]byte, error) {
	type plain LineItem
	return json.Marshal(struct {
		plain
		LineTotal decimal.Decimal `json:"line_total"`
	}{plain(li), li.LineTotal()})
}

// ParsedReceipt is the canonical result of one pipeline run.
type ParsedReceipt struct {
	Transcript            string          `json:"transcript"`
	Items                 []LineItem      `json:"items" validate:"dive"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	Discount              decimal.Decimal `json:"discount" validate:"gte=0"`
	SubtotalAfterDiscount decimal.Decimal `json:"subtotal_after_discount"`
	Tax                   decimal.Decimal `json:"tax"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	PurchaseDate          string          `json:"purchase_date" validate:"required"`
	ContentHash           string          `json:"content_hash" validate:"len=64,hexadecimal"`
	VendorName            *string         `json:"vendor_name"`
	VendorAddress         *string         `json:"vendor_address"`
	VendorPhone           *string         `json:"vendor_phone"`
	ItemSource            string          `json:"item_source"`
	Mismatch              bool            `json:"mismatch"`
	Warnings              []string        `json:"warnings,omitempty"`
}
