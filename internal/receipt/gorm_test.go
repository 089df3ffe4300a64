package receipt

import (
	"errors"
	"path/filepath"

	"github.com/glebarez/sqlite"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zombor/smartreceipt/internal/parsing"
)

var _ = Describe("GormDB rows", func() {
	var receipt *Receipt

	BeforeEach(func() {
		receipt = newTestReceipt("test-id", "alice", sampleTranscript)
		receipt.Warnings = []string{"no total field found", "stated total 9.20 differs from computed 9.50"}
	})

	It("should number items by their position on the receipt", func() {
		row := toReceiptRow(receipt)
		Expect(row.Items).To(HaveLen(2))
		Expect(row.Items[0].Position).To(Equal(0))
		Expect(row.Items[1].Position).To(Equal(1))
		Expect(row.Items[1].ReceiptID).To(Equal("test-id"))
	})

	It("should store a missing store as NULL", func() {
		Expect(toReceiptRow(receipt).StoreID).To(BeNil())

		receipt.StoreID = "store-1"
		Expect(*toReceiptRow(receipt).StoreID).To(Equal("store-1"))
	})

	It("should restore the receipt from its row", func() {
		receipt.StoreID = "store-1"
		got := toReceiptRow(receipt).toReceipt()

		Expect(got.StoreID).To(Equal("store-1"))
		Expect(got.Warnings).To(Equal(receipt.Warnings))
		Expect(got.Items).To(Equal(receipt.Items))
		Expect(got.TotalAmount.Equal(receipt.TotalAmount)).To(BeTrue())
		Expect(*got.VendorName).To(Equal("Corner Market"))
	})

	It("should restore an empty warning list as nil", func() {
		receipt.Warnings = nil
		Expect(toReceiptRow(receipt).toReceipt().Warnings).To(BeNil())
	})
})

var _ = Describe("GormDB", func() {
	var db *GormDB

	BeforeEach(func() {
		conn, err := gorm.Open(sqlite.Open(filepath.Join(GinkgoT().TempDir(), "test.db")), &gorm.Config{
			Logger: logger.Discard,
		})
		Expect(err).NotTo(HaveOccurred())
		db, err = NewGormDBWithConn(conn)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(db.Close()).To(Succeed())
	})

	countItems := func() int64 {
		var n int64
		Expect(db.db.Model(&itemRow{}).Count(&n).Error).To(Succeed())
		return n
	}

	Describe("UpsertReceipt", func() {
		var (
			saved   *Receipt
			created bool
			err     error
		)

		JustBeforeEach(func() {
			saved, created, err = db.UpsertReceipt(newTestReceipt("test-id", "alice", sampleTranscript))
		})

		When("the content hash is new", func() {
			It("should create the receipt with its items and store", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(created).To(BeTrue())
				Expect(saved.StoreID).NotTo(BeEmpty())
				Expect(countItems()).To(Equal(int64(2)))

				got, getErr := db.GetReceipt("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(got.StoreID).To(Equal(saved.StoreID))
				Expect(got.Items).To(HaveLen(2))
				Expect(got.Items[0].Name).To(Equal("Milk"))
				Expect(got.Items[1].Quantity).To(Equal(2))
				Expect(got.TotalAmount.Equal(decimal.RequireFromString("9.20"))).To(BeTrue())
			})
		})

		When("a receipt with the same content hash exists", func() {
			BeforeEach(func() {
				_, _, setupErr := db.UpsertReceipt(newTestReceipt("first-id", "alice", sampleTranscript))
				Expect(setupErr).NotTo(HaveOccurred())
			})

			It("should return the first receipt", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(created).To(BeFalse())
				Expect(saved.ID).To(Equal("first-id"))
				Expect(saved.Items).To(HaveLen(2))
			})

			It("should add no rows", func() {
				Expect(countItems()).To(Equal(int64(2)))
				receipts, listErr := db.ListReceipts("")
				Expect(listErr).NotTo(HaveOccurred())
				Expect(receipts).To(HaveLen(1))
				_, getErr := db.GetReceipt("test-id")
				Expect(errors.Is(getErr, ErrNotFound)).To(BeTrue())
			})
		})

		When("another receipt comes from the same vendor", func() {
			BeforeEach(func() {
				other := newTestReceipt("first-id", "alice", "another transcript")
				other.VendorName = strPtr("  CORNER   market ")
				_, _, setupErr := db.UpsertReceipt(other)
				Expect(setupErr).NotTo(HaveOccurred())
			})

			It("should reuse the store", func() {
				Expect(created).To(BeTrue())
				stores, listErr := db.ListStores()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(stores).To(HaveLen(1))
				Expect(stores[0].Name).To(Equal("CORNER   market"))
				Expect(saved.StoreID).To(Equal(stores[0].ID))
			})
		})
	})

	Describe("FindByContentHash", func() {
		It("should find a saved receipt", func() {
			_, _, err := db.UpsertReceipt(newTestReceipt("test-id", "alice", sampleTranscript))
			Expect(err).NotTo(HaveOccurred())

			found, err := db.FindByContentHash(parsing.Fingerprint(sampleTranscript))
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal("test-id"))
		})

		It("should return not found for an unknown hash", func() {
			_, err := db.FindByContentHash(parsing.Fingerprint("nothing"))
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("items", func() {
		BeforeEach(func() {
			_, _, err := db.UpsertReceipt(newTestReceipt("test-id", "alice", sampleTranscript))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should list them in receipt order", func() {
			items, err := db.ListItems("test-id")
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(2))
			Expect(items[1].Index).To(Equal(1))
			Expect(items[1].LineTotal.Equal(decimal.RequireFromString("5.00"))).To(BeTrue())
		})

		It("should return not found for an unknown receipt", func() {
			_, err := db.ListItems("missing")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should update one category", func() {
			Expect(db.UpdateItemCategory("test-id", 1, "breakfast")).To(Succeed())

			items, err := db.ListItems("test-id")
			Expect(err).NotTo(HaveOccurred())
			Expect(items[0].Category).To(Equal("dairy"))
			Expect(items[1].Category).To(Equal("breakfast"))
		})

		It("should return not found for a missing item", func() {
			err := db.UpdateItemCategory("test-id", 7, "breakfast")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("DeleteReceipt", func() {
		It("should remove the receipt and its items", func() {
			_, _, err := db.UpsertReceipt(newTestReceipt("test-id", "alice", sampleTranscript))
			Expect(err).NotTo(HaveOccurred())

			Expect(db.DeleteReceipt("test-id")).To(Succeed())
			Expect(countItems()).To(BeZero())
			_, err = db.FindByContentHash(parsing.Fingerprint(sampleTranscript))
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should return not found for an unknown id", func() {
			Expect(errors.Is(db.DeleteReceipt("missing"), ErrNotFound)).To(BeTrue())
		})
	})
})
