package parsing

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockAnalyzer returns one queued result per call, repeating the last one
type mockAnalyzer struct {
	results []analyzerResult
	calls   int
}

type analyzerResult struct {
	resp *Response
	err  error
}

func (m *mockAnalyzer) AnalyzeExpense(ctx context.Context, image []byte, contentType string) (*Response, error) {
	r := m.results[min(m.calls, len(m.results)-1)]
	m.calls++
	return r.resp, r.err
}

// mockRecognizer is a mock implementation of EntityRecognizer
type mockRecognizer struct {
	entities []Entity
	err      error
	text     string
}

func (m *mockRecognizer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	m.text = text
	return m.entities, m.err
}

func groceryResponse() *Response {
	return oneDocument(
		[]Field{
			{Type: "VENDOR_NAME", Label: "", Value: "Corner Market"},
			{Type: "INVOICE_RECEIPT_DATE", Label: "Date", Value: "03/15/2024"},
			{Type: "TOTAL", Label: "Total", Value: "$9.20"},
		},
		item(Field{Type: "ITEM", Value: "Milk"}, Field{Type: "PRICE", Value: "$3.50"}),
		item(Field{Type: "ITEM", Value: "Eggs"}, Field{Type: "PRICE", Value: "$5.00"}),
	)
}

var _ = Describe("Pipeline", func() {
	var (
		analyzer   *mockAnalyzer
		recognizer *mockRecognizer
		categories *stubCategorizer
		cfg        Config
		pipeline   *Pipeline
		ctx        context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		analyzer = &mockAnalyzer{results: []analyzerResult{{resp: groceryResponse()}}}
		recognizer = &mockRecognizer{}
		categories = &stubCategorizer{labels: map[string]string{"Milk": "dairy", "Eggs": "dairy"}}
		cfg = DefaultConfig()
		cfg.RetryInterval = 0
	})

	JustBeforeEach(func() {
		pipeline = NewPipeline(analyzer, recognizer, categories, cfg)
	})

	Describe("Process", func() {
		var (
			image   []byte
			receipt *ParsedReceipt
			err     error
		)

		BeforeEach(func() {
			image = []byte("fake image data")
		})

		JustBeforeEach(func() {
			receipt, err = pipeline.Process(ctx, image, "image/png")
		})

		When("OCR succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should call OCR once", func() {
				Expect(analyzer.calls).To(Equal(1))
			})

			It("should return a parsed receipt", func() {
				Expect(receipt.Items).To(HaveLen(2))
				Expect(receipt.TotalAmount.StringFixed(2)).To(Equal("9.20"))
			})
		})

		When("the image is empty", func() {
			BeforeEach(func() {
				image = nil
			})

			It("should return ErrInvalidInput without calling OCR", func() {
				Expect(err).To(MatchError(ErrInvalidInput))
				Expect(analyzer.calls).To(Equal(0))
			})
		})

		When("the image is too large", func() {
			BeforeEach(func() {
				cfg.MaxImageBytes = 4
			})

			It("should return ErrInvalidInput without calling OCR", func() {
				Expect(err).To(MatchError(ErrInvalidInput))
				Expect(analyzer.calls).To(Equal(0))
			})
		})

		When("OCR fails transiently and then recovers", func() {
			BeforeEach(func() {
				analyzer.results = []analyzerResult{
					{err: errors.New("throttled")},
					{err: errors.New("connection reset")},
					{resp: groceryResponse()},
				}
			})

			It("should retry until it succeeds", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(analyzer.calls).To(Equal(3))
				Expect(receipt.Items).To(HaveLen(2))
			})
		})

		When("OCR keeps failing", func() {
			BeforeEach(func() {
				analyzer.results = []analyzerResult{{err: errors.New("service down")}}
			})

			It("should give up after three attempts", func() {
				Expect(analyzer.calls).To(Equal(3))
			})

			It("should return ErrOCRUnavailable", func() {
				Expect(err).To(MatchError(ErrOCRUnavailable))
				Expect(err.Error()).To(ContainSubstring("service down"))
				Expect(receipt).To(BeNil())
			})
		})

		When("OCR returns no documents", func() {
			BeforeEach(func() {
				analyzer.results = []analyzerResult{{resp: &Response{}}}
			})

			It("should retry and then return ErrOCRUnavailable", func() {
				Expect(analyzer.calls).To(Equal(3))
				Expect(err).To(MatchError(ErrOCRUnavailable))
			})
		})

		When("OCR rejects the credentials", func() {
			BeforeEach(func() {
				analyzer.results = []analyzerResult{{err: fmt.Errorf("%w: AccessDenied", ErrOCRAuth)}}
			})

			It("should not retry", func() {
				Expect(analyzer.calls).To(Equal(1))
			})

			It("should return ErrOCRUnavailable wrapping the auth error", func() {
				Expect(err).To(MatchError(ErrOCRUnavailable))
				Expect(err).To(MatchError(ErrOCRAuth))
			})
		})

		When("OCR rejects the document", func() {
			BeforeEach(func() {
				analyzer.results = []analyzerResult{{err: fmt.Errorf("%w: unsupported document", ErrInvalidInput)}}
			})

			It("should return ErrInvalidInput without retrying", func() {
				Expect(analyzer.calls).To(Equal(1))
				Expect(err).To(MatchError(ErrInvalidInput))
				Expect(errors.Is(err, ErrOCRUnavailable)).To(BeFalse())
			})
		})

		When("the attempt budget is one", func() {
			BeforeEach(func() {
				cfg.OCRAttempts = 1
				analyzer.results = []analyzerResult{{err: errors.New("timeout")}}
			})

			It("should not retry", func() {
				Expect(analyzer.calls).To(Equal(1))
				Expect(err).To(MatchError(ErrOCRUnavailable))
			})
		})
	})

	Describe("Parse", func() {
		var (
			resp    *Response
			receipt *ParsedReceipt
		)

		BeforeEach(func() {
			resp = groceryResponse()
		})

		JustBeforeEach(func() {
			receipt = pipeline.Parse(ctx, resp)
		})

		When("the response has line items", func() {
			It("should use them", func() {
				Expect(receipt.ItemSource).To(Equal(SourceLineItems))
				Expect(receipt.Items[0].Name).To(Equal("Milk"))
				Expect(receipt.Items[1].Name).To(Equal("Eggs"))
			})

			It("should categorize each item", func() {
				Expect(receipt.Items[0].Category).To(Equal("dairy"))
			})

			It("should not call the recognizer", func() {
				Expect(recognizer.text).To(BeEmpty())
			})

			It("should reconcile the totals", func() {
				Expect(receipt.Subtotal.StringFixed(2)).To(Equal("8.50"))
				Expect(receipt.SubtotalAfterDiscount.Equal(receipt.Subtotal.Sub(receipt.Discount))).To(BeTrue())
				Expect(receipt.Tax.StringFixed(2)).To(Equal("0.70"))
				Expect(receipt.Mismatch).To(BeFalse())
			})

			It("should normalize the purchase date", func() {
				Expect(receipt.PurchaseDate).To(Equal("2024-03-15"))
			})

			It("should set the vendor name and leave missing vendor fields nil", func() {
				Expect(receipt.VendorName).NotTo(BeNil())
				Expect(*receipt.VendorName).To(Equal("Corner Market"))
				Expect(receipt.VendorAddress).To(BeNil())
				Expect(receipt.VendorPhone).To(BeNil())
			})

			It("should fingerprint the transcript", func() {
				Expect(receipt.ContentHash).To(Equal(Fingerprint(receipt.Transcript)))
				Expect(pipeline.Parse(ctx, groceryResponse()).ContentHash).To(Equal(receipt.ContentHash))
			})
		})

		When("the response has no line items", func() {
			BeforeEach(func() {
				resp = oneDocument([]Field{
					{Type: "OTHER", Label: "Milk", Value: "$3.50"},
					{Type: "TOTAL", Label: "Total", Value: "$3.50"},
				})
				recognizer.entities = []Entity{
					ent("Milk", LabelItem), ent("$3.50", LabelPrice),
					ent("Milk", LabelItem), ent("$1.50", LabelPrice),
				}
			})

			It("should pair entities from the transcript", func() {
				Expect(recognizer.text).To(Equal("Milk: $3.50\nTotal: $3.50"))
				Expect(receipt.ItemSource).To(Equal(SourceEntities))
				Expect(receipt.Items).To(HaveLen(1))
				Expect(receipt.Items[0].Quantity).To(Equal(2))
				Expect(receipt.Items[0].LineTotal().StringFixed(2)).To(Equal("5.00"))
				Expect(receipt.Items[0].Category).To(Equal("dairy"))
			})
		})

		When("the recognizer fails", func() {
			BeforeEach(func() {
				resp = oneDocument([]Field{{Type: "TOTAL", Label: "Total", Value: "$3.50"}})
				recognizer.err = errors.New("model offline")
			})

			It("should degrade to no items", func() {
				Expect(receipt.Items).To(BeEmpty())
				Expect(receipt.ItemSource).To(Equal(SourceNone))
				Expect(receipt.TotalAmount.StringFixed(2)).To(Equal("3.50"))
			})
		})

		When("the response has zero documents", func() {
			BeforeEach(func() {
				resp = &Response{}
			})

			It("should return an empty receipt", func() {
				Expect(receipt.Items).To(BeEmpty())
				Expect(receipt.Items).NotTo(BeNil())
				Expect(receipt.Subtotal.IsZero()).To(BeTrue())
				Expect(receipt.Tax.IsZero()).To(BeTrue())
				Expect(receipt.TotalAmount.IsZero()).To(BeTrue())
				Expect(receipt.PurchaseDate).To(Equal(DateUnknown))
				Expect(receipt.ContentHash).To(HaveLen(64))
				Expect(receipt.Warnings).To(BeEmpty())
			})
		})

		When("the stated tax does not add up", func() {
			BeforeEach(func() {
				resp.Documents[0].SummaryFields = append(resp.Documents[0].SummaryFields, Field{Type: "TAX", Label: "Tax", Value: "1.00"})
			})

			It("should flag the mismatch with a warning", func() {
				Expect(receipt.Mismatch).To(BeTrue())
				Expect(receipt.Warnings).To(ContainElement(ContainSubstring("differs from computed 9.50")))
			})
		})

		When("the stated subtotal does not match the items", func() {
			BeforeEach(func() {
				resp.Documents[0].SummaryFields = append(resp.Documents[0].SummaryFields, Field{Type: "SUBTOTAL", Label: "Subtotal", Value: "9.00"})
			})

			It("should warn without changing the totals", func() {
				Expect(receipt.Subtotal.StringFixed(2)).To(Equal("8.50"))
				Expect(receipt.Warnings).To(ContainElement("stated subtotal 9.00 differs from item sum 8.50"))
			})
		})

		When("there is no total field", func() {
			BeforeEach(func() {
				resp = oneDocument(nil, item(Field{Type: "ITEM", Value: "Milk"}, Field{Type: "PRICE", Value: "3.50"}))
			})

			It("should warn", func() {
				Expect(receipt.Warnings).To(ContainElement("no total field found"))
			})
		})

		When("no categorizer is configured", func() {
			BeforeEach(func() {
				categories = nil
			})

			It("should leave categories empty", func() {
				Expect(receipt.Items[0].Category).To(BeEmpty())
			})
		})
	})
})
