package receipt

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/smartreceipt/internal/parsing"
)

// DefaultOwner owns receipts uploaded while authentication is disabled
const DefaultOwner = "default"

var (
	// ErrNotFound is returned when a receipt, item or store does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when another owner already saved the same receipt
	ErrDuplicate = errors.New("receipt was already uploaded by another account")
)

// Receipt is a persisted ParsedReceipt plus storage metadata
type Receipt struct {
	ID                    string             `json:"id"`
	OwnerID               string             `json:"owner_id"`
	StoreID               string             `json:"store_id,omitempty"`
	ContentHash           string             `json:"content_hash"`
	PurchaseDate          string             `json:"purchase_date"`
	VendorName            *string            `json:"vendor_name"`
	VendorAddress         *string            `json:"vendor_address"`
	VendorPhone           *string            `json:"vendor_phone"`
	Items                 []parsing.LineItem `json:"items"`
	Subtotal              decimal.Decimal    `json:"subtotal"`
	Discount              decimal.Decimal    `json:"discount"`
	SubtotalAfterDiscount decimal.Decimal    `json:"subtotal_after_discount"`
	Tax                   decimal.Decimal    `json:"tax"`
	TotalAmount           decimal.Decimal    `json:"total_amount"`
	ItemSource            string             `json:"item_source"`
	Mismatch              bool               `json:"mismatch"`
	Warnings              []string           `json:"warnings,omitempty"`
	TranscriptPath        string             `json:"transcript_path"` // Storage path of <content_hash>.txt
	Filename              string             `json:"filename"`        // Storage path of the uploaded image
	ContentType           string             `json:"content_type"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// Store is a vendor, created the first time a receipt from it is saved
type Store struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Item is one persisted line item, addressed by its position on the receipt
type Item struct {
	ReceiptID string          `json:"receipt_id"`
	Index     int             `json:"index"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Category  string          `json:"category"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// CategoryTotal is the amount spent in one category
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Items    int             `json:"items"`
}

func newItem(receiptID string, index int, li parsing.LineItem) Item {
	return Item{
		ReceiptID: receiptID,
		Index:     index,
		Name:      li.Name,
		UnitPrice: li.UnitPrice,
		Quantity:  li.Quantity,
		Category:  li.Category,
		LineTotal: li.LineTotal(),
	}
}

// fromParsed copies the pipeline result into a new, unsaved record
func fromParsed(parsed *parsing.ParsedReceipt) *Receipt {
	return &Receipt{
		ContentHash:           parsed.ContentHash,
		PurchaseDate:          parsed.PurchaseDate,
		VendorName:            parsed.VendorName,
		VendorAddress:         parsed.VendorAddress,
		VendorPhone:           parsed.VendorPhone,
		Items:                 parsed.Items,
		Subtotal:              parsed.Subtotal,
		Discount:              parsed.Discount,
		SubtotalAfterDiscount: parsed.SubtotalAfterDiscount,
		Tax:                   parsed.Tax,
		TotalAmount:           parsed.TotalAmount,
		ItemSource:            parsed.ItemSource,
		Mismatch:              parsed.Mismatch,
		Warnings:              parsed.Warnings,
	}
}

// storeKey folds case and whitespace so "CORNER  Market" and "corner market"
// map to one store.
func storeKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// newStore builds the store for a receipt, or returns nil when the vendor is unknown
func newStore(id string, r *Receipt, now time.Time) *Store {
	if r.VendorName == nil || storeKey(*r.VendorName) == "" {
		return nil
	}
	s := &Store{ID: id, Name: strings.TrimSpace(*r.VendorName), CreatedAt: now}
	if r.VendorAddress != nil {
		s.Address = *r.VendorAddress
	}
	if r.VendorPhone != nil {
		s.Phone = *r.VendorPhone
	}
	return s
}
