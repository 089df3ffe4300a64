package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/zombor/smartreceipt/internal/parsing"
)

const (
	bucketName      = "receipts"
	hashBucketName  = "receipt_hashes"
	itemBucketName  = "items"
	storeBucketName = "stores"
)

// DB defines the interface for database operations
type DB interface {
	// UpsertReceipt saves a receipt unless one with the same content hash
	// exists, in which case the existing receipt is returned with false
	UpsertReceipt(receipt *Receipt) (*Receipt, bool, error)

	// FindByContentHash retrieves a receipt by its transcript fingerprint
	FindByContentHash(hash string) (*Receipt, error)

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns the owner's receipts, or all receipts for an empty owner
	ListReceipts(ownerID string) ([]*Receipt, error)

	// DeleteReceipt removes a receipt, its hash entry and its items
	DeleteReceipt(id string) error

	// ListItems returns the line items of a receipt in receipt order
	ListItems(receiptID string) ([]Item, error)

	// UpdateItemCategory re-categorizes one line item
	UpdateItemCategory(receiptID string, index int, category string) error

	// ListStores returns all known stores
	ListStores() ([]*Store, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketName, hashBucketName, itemBucketName, storeBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// itemKey sorts items of one receipt together and in order
func itemKey(receiptID string, index int) []byte {
	return []byte(fmt.Sprintf("%s/%06d", receiptID, index))
}

func itemPrefix(receiptID string) []byte {
	return []byte(receiptID + "/")
}

// UpsertReceipt saves a receipt, its store and its items in one transaction
func (b *BoltDB) UpsertReceipt(receipt *Receipt) (*Receipt, bool, error) {
	var (
		existing *Receipt
		created  bool
	)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		hashes := tx.Bucket([]byte(hashBucketName))
		if id := hashes.Get([]byte(receipt.ContentHash)); id != nil {
			r, err := getReceipt(tx, string(id))
			if err != nil {
				return err
			}
			existing = r
			return nil
		}

		if store := newStore(uuid.NewString(), receipt, receipt.CreatedAt); store != nil {
			saved, err := getOrCreateStore(tx, store)
			if err != nil {
				return err
			}
			receipt.StoreID = saved.ID
		}

		if err := putReceipt(tx, receipt); err != nil {
			return err
		}
		if err := hashes.Put([]byte(receipt.ContentHash), []byte(receipt.ID)); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("upserting receipt: %w", err)
	}
	if !created {
		return existing, false, nil
	}
	return receipt, true, nil
}

// putReceipt stores the receipt record and one key per line item
func putReceipt(tx *bbolt.Tx, receipt *Receipt) error {
	record := *receipt
	record.Items = nil
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	if err := tx.Bucket([]byte(bucketName)).Put([]byte(receipt.ID), data); err != nil {
		return err
	}

	items := tx.Bucket([]byte(itemBucketName))
	for i, item := range receipt.Items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		if err := items.Put(itemKey(receipt.ID, i), data); err != nil {
			return err
		}
	}
	return nil
}

// getOrCreateStore returns the stored vendor with the same name, saving s if there is none
func getOrCreateStore(tx *bbolt.Tx, s *Store) (*Store, error) {
	bucket := tx.Bucket([]byte(storeBucketName))
	key := []byte(storeKey(s.Name))
	if data := bucket.Get(key); data != nil {
		var existing Store
		if err := json.Unmarshal(data, &existing); err != nil {
			return nil, fmt.Errorf("unmarshaling store: %w", err)
		}
		return &existing, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling store: %w", err)
	}
	if err := bucket.Put(key, data); err != nil {
		return nil, err
	}
	return s, nil
}

func getReceipt(tx *bbolt.Tx, id string) (*Receipt, error) {
	data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: receipt %s", ErrNotFound, id)
	}
	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	items, err := getLineItems(tx, id)
	if err != nil {
		return nil, err
	}
	receipt.Items = items
	return &receipt, nil
}

func getLineItems(tx *bbolt.Tx, receiptID string) ([]parsing.LineItem, error) {
	items := make([]parsing.LineItem, 0)
	prefix := itemPrefix(receiptID)
	c := tx.Bucket([]byte(itemBucketName)).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var item parsing.LineItem
		if err := json.Unmarshal(v, &item); err != nil {
			return nil, fmt.Errorf("unmarshaling item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// FindByContentHash retrieves a receipt by its transcript fingerprint
func (b *BoltDB) FindByContentHash(hash string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(hashBucketName)).Get([]byte(hash))
		if id == nil {
			return fmt.Errorf("%w: content hash %s", ErrNotFound, hash)
		}
		var err error
		receipt, err = getReceipt(tx, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		receipt, err = getReceipt(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns the owner's receipts, oldest first
func (b *BoltDB) ListReceipts(ownerID string) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if ownerID != "" && receipt.OwnerID != ownerID {
				return nil
			}
			items, err := getLineItems(tx, receipt.ID)
			if err != nil {
				return err
			}
			receipt.Items = items
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.Before(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		receipt, err := getReceipt(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(hashBucketName)).Delete([]byte(receipt.ContentHash)); err != nil {
			return err
		}

		items := tx.Bucket([]byte(itemBucketName))
		prefix := itemPrefix(id)
		var keys [][]byte
		c := items.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := items.Delete(k); err != nil {
				return err
			}
		}

		return tx.Bucket([]byte(bucketName)).Delete([]byte(id))
	})
}

// ListItems returns the line items of a receipt
func (b *BoltDB) ListItems(receiptID string) ([]Item, error) {
	var items []Item
	err := b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketName)).Get([]byte(receiptID)) == nil {
			return fmt.Errorf("%w: receipt %s", ErrNotFound, receiptID)
		}
		lineItems, err := getLineItems(tx, receiptID)
		if err != nil {
			return err
		}
		items = make([]Item, 0, len(lineItems))
		for i, li := range lineItems {
			items = append(items, newItem(receiptID, i, li))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateItemCategory re-categorizes one line item
func (b *BoltDB) UpdateItemCategory(receiptID string, index int, category string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(itemBucketName))
		key := itemKey(receiptID, index)
		data := bucket.Get(key)
		if data == nil {
			return fmt.Errorf("%w: item %d of receipt %s", ErrNotFound, index, receiptID)
		}
		var item parsing.LineItem
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("unmarshaling item: %w", err)
		}
		item.Category = category
		updated, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		return bucket.Put(key, updated)
	})
}

// ListStores returns all known stores ordered by name
func (b *BoltDB) ListStores() ([]*Store, error) {
	stores := make([]*Store, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(storeBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var store Store
			if err := json.Unmarshal(v, &store); err != nil {
				return fmt.Errorf("unmarshaling store: %w", err)
			}
			stores = append(stores, &store)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stores, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
