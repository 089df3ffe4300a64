package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zombor/smartreceipt/internal/parsing"
)

type storeRow struct {
	ID        string `gorm:"primaryKey"`
	NameKey   string `gorm:"uniqueIndex;not null"`
	Name      string
	Address   string
	Phone     string
	CreatedAt time.Time
}

func (storeRow) TableName() string { return "stores" }

type receiptRow struct {
	ID                    string `gorm:"primaryKey"`
	OwnerID               string `gorm:"index"`
	StoreID               *string
	ContentHash           string `gorm:"uniqueIndex;size:64;not null"`
	PurchaseDate          string
	VendorName            *string
	VendorAddress         *string
	VendorPhone           *string
	Subtotal              decimal.Decimal `gorm:"type:numeric(12,2)"`
	Discount              decimal.Decimal `gorm:"type:numeric(12,2)"`
	SubtotalAfterDiscount decimal.Decimal `gorm:"type:numeric(12,2)"`
	Tax                   decimal.Decimal `gorm:"type:numeric(12,2)"`
	TotalAmount           decimal.Decimal `gorm:"type:numeric(12,2)"`
	ItemSource            string
	Mismatch              bool
	Warnings              string
	TranscriptPath        string
	Filename              string
	ContentType           string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Items                 []itemRow `gorm:"foreignKey:ReceiptID;constraint:OnDelete:CASCADE"`
}

func (receiptRow) TableName() string { return "receipts" }

type itemRow struct {
	ReceiptID string          `gorm:"primaryKey"`
	Position  int             `gorm:"primaryKey;autoIncrement:false"`
	Name      string          `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(12,4)"`
	Quantity  int
	Category  string
}

func (itemRow) TableName() string { return "receipt_items" }

// GormDB implements the DB interface on a relational database through gorm
type GormDB struct {
	db *gorm.DB
}

// NewGormDB connects to Postgres and migrates the schema
func NewGormDB(dsn string) (*GormDB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return NewGormDBWithConn(db)
}

// NewGormDBWithConn wraps an open gorm connection and migrates the schema
func NewGormDBWithConn(db *gorm.DB) (*GormDB, error) {
	if err := db.AutoMigrate(&storeRow{}, &receiptRow{}, &itemRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &GormDB{db: db}, nil
}

func toReceiptRow(r *Receipt) receiptRow {
	row := receiptRow{
		ID:                    r.ID,
		OwnerID:               r.OwnerID,
		ContentHash:           r.ContentHash,
		PurchaseDate:          r.PurchaseDate,
		VendorName:            r.VendorName,
		VendorAddress:         r.VendorAddress,
		VendorPhone:           r.VendorPhone,
		Subtotal:              r.Subtotal,
		Discount:              r.Discount,
		SubtotalAfterDiscount: r.SubtotalAfterDiscount,
		Tax:                   r.Tax,
		TotalAmount:           r.TotalAmount,
		ItemSource:            r.ItemSource,
		Mismatch:              r.Mismatch,
		Warnings:              strings.Join(r.Warnings, "\n"),
		TranscriptPath:        r.TranscriptPath,
		Filename:              r.Filename,
		ContentType:           r.ContentType,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	if r.StoreID != "" {
		row.StoreID = &r.StoreID
	}
	for i, item := range r.Items {
		row.Items = append(row.Items, itemRow{
			ReceiptID: r.ID,
			Position:  i,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Category:  item.Category,
		})
	}
	return row
}

func (row receiptRow) toReceipt() *Receipt {
	r := &Receipt{
		ID:                    row.ID,
		OwnerID:               row.OwnerID,
		ContentHash:           row.ContentHash,
		PurchaseDate:          row.PurchaseDate,
		VendorName:            row.VendorName,
		VendorAddress:         row.VendorAddress,
		VendorPhone:           row.VendorPhone,
		Items:                 make([]parsing.LineItem, 0, len(row.Items)),
		Subtotal:              row.Subtotal,
		Discount:              row.Discount,
		SubtotalAfterDiscount: row.SubtotalAfterDiscount,
		Tax:                   row.Tax,
		TotalAmount:           row.TotalAmount,
		ItemSource:            row.ItemSource,
		Mismatch:              row.Mismatch,
		TranscriptPath:        row.TranscriptPath,
		Filename:              row.Filename,
		ContentType:           row.ContentType,
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
	}
	if row.StoreID != nil {
		r.StoreID = *row.StoreID
	}
	if row.Warnings != "" {
		r.Warnings = strings.Split(row.Warnings, "\n")
	}
	for _, item := range row.Items {
		r.Items = append(r.Items, item.toLineItem())
	}
	return r
}

func (row itemRow) toLineItem() parsing.LineItem {
	return parsing.LineItem{
		Name:      row.Name,
		UnitPrice: row.UnitPrice,
		Quantity:  row.Quantity,
		Category:  row.Category,
	}
}

func orderedItems(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

// UpsertReceipt inserts the receipt with ON CONFLICT (content_hash) DO NOTHING
// and loads the existing row when the insert was skipped.
func (g *GormDB) UpsertReceipt(receipt *Receipt) (*Receipt, bool, error) {
	var created bool
	err := g.db.Transaction(func(tx *gorm.DB) error {
		if s := newStore(uuid.NewString(), receipt, receipt.CreatedAt); s != nil {
			store := storeRow{ID: s.ID, NameKey: storeKey(s.Name), Name: s.Name, Address: s.Address, Phone: s.Phone, CreatedAt: s.CreatedAt}
			if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name_key"}}, DoNothing: true}).Create(&store).Error; err != nil {
				return fmt.Errorf("creating store: %w", err)
			}
			if err := tx.Where("name_key = ?", store.NameKey).First(&store).Error; err != nil {
				return fmt.Errorf("loading store: %w", err)
			}
			receipt.StoreID = store.ID
		}

		row := toReceiptRow(receipt)
		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "content_hash"}}, DoNothing: true}).
			Create(&row)
		if res.Error != nil {
			return fmt.Errorf("inserting receipt: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if len(row.Items) > 0 {
			if err := tx.Create(&row.Items).Error; err != nil {
				return fmt.Errorf("inserting items: %w", err)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("upserting receipt: %w", err)
	}
	if !created {
		existing, err := g.FindByContentHash(receipt.ContentHash)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return receipt, true, nil
}

func (g *GormDB) findReceipt(query string, arg string) (*Receipt, error) {
	var row receiptRow
	err := g.db.Preload("Items", orderedItems).Where(query, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: receipt %s", ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("loading receipt: %w", err)
	}
	return row.toReceipt(), nil
}

// FindByContentHash retrieves a receipt by its transcript fingerprint
func (g *GormDB) FindByContentHash(hash string) (*Receipt, error) {
	return g.findReceipt("content_hash = ?", hash)
}

// GetReceipt retrieves a receipt by ID
func (g *GormDB) GetReceipt(id string) (*Receipt, error) {
	return g.findReceipt("id = ?", id)
}

// ListReceipts returns the owner's receipts, oldest first
func (g *GormDB) ListReceipts(ownerID string) ([]*Receipt, error) {
	var rows []receiptRow
	q := g.db.Preload("Items", orderedItems).Order("created_at")
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	receipts := make([]*Receipt, 0, len(rows))
	for _, row := range rows {
		receipts = append(receipts, row.toReceipt())
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its items
func (g *GormDB) DeleteReceipt(id string) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("receipt_id = ?", id).Delete(&itemRow{}).Error; err != nil {
			return fmt.Errorf("deleting items: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&receiptRow{})
		if res.Error != nil {
			return fmt.Errorf("deleting receipt: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: receipt %s", ErrNotFound, id)
		}
		return nil
	})
}

// ListItems returns the line items of a receipt
func (g *GormDB) ListItems(receiptID string) ([]Item, error) {
	var count int64
	if err := g.db.Model(&receiptRow{}).Where("id = ?", receiptID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("loading receipt: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: receipt %s", ErrNotFound, receiptID)
	}

	var rows []itemRow
	if err := orderedItems(g.db.Where("receipt_id = ?", receiptID)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, newItem(receiptID, row.Position, row.toLineItem()))
	}
	return items, nil
}

// UpdateItemCategory re-categorizes one line item
func (g *GormDB) UpdateItemCategory(receiptID string, index int, category string) error {
	res := g.db.Model(&itemRow{}).
		Where("receipt_id = ? AND position = ?", receiptID, index).
		Update("category", category)
	if res.Error != nil {
		return fmt.Errorf("updating item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: item %d of receipt %s", ErrNotFound, index, receiptID)
	}
	return nil
}

// ListStores returns all known stores ordered by name
func (g *GormDB) ListStores() ([]*Store, error) {
	var rows []storeRow
	if err := g.db.Order("name_key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing stores: %w", err)
	}
	stores := make([]*Store, 0, len(rows))
	for _, row := range rows {
		stores = append(stores, &Store{ID: row.ID, Name: row.Name, Address: row.Address, Phone: row.Phone, CreatedAt: row.CreatedAt})
	}
	return stores, nil
}

// Close closes the database connection
func (g *GormDB) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
