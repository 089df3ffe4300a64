package scanning

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/aws/smithy-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/smartreceipt/internal/parsing"
)

// mockTextractAPI is a mock implementation of TextractAPI
type mockTextractAPI struct {
	output *textract.AnalyzeExpenseOutput
	err    error
	input  *textract.AnalyzeExpenseInput
}

func (m *mockTextractAPI) AnalyzeExpense(ctx context.Context, params *textract.AnalyzeExpenseInput, optFns ...func(*textract.Options)) (*textract.AnalyzeExpenseOutput, error) {
	m.input = params
	return m.output, m.err
}

func expenseField(fieldType, label, value string) types.ExpenseField {
	f := types.ExpenseField{
		Type:           &types.ExpenseType{Text: aws.String(fieldType)},
		ValueDetection: &types.ExpenseDetection{Text: aws.String(value)},
	}
	if label != "" {
		f.LabelDetection = &types.ExpenseDetection{Text: aws.String(label)}
	}
	return f
}

var _ = Describe("Textract", func() {
	var (
		client  *mockTextractAPI
		scanner *Textract
		resp    *parsing.Response
		err     error
	)

	BeforeEach(func() {
		client = &mockTextractAPI{}
		scanner = NewTextractWithClient(client, ImageOptions{})
	})

	JustBeforeEach(func() {
		resp, err = scanner.AnalyzeExpense(context.Background(), []byte("fake png bytes"), "image/png")
	})

	When("Textract returns an expense document", func() {
		BeforeEach(func() {
			client.output = &textract.AnalyzeExpenseOutput{
				ExpenseDocuments: []types.ExpenseDocument{
					{
						SummaryFields: []types.ExpenseField{
							expenseField("VENDOR_NAME", "", "Corner Market"),
							expenseField("TOTAL", "Total", "$9.20"),
						},
						LineItemGroups: []types.LineItemGroup{
							{
								LineItems: []types.LineItemFields{
									{LineItemExpenseFields: []types.ExpenseField{
										expenseField("ITEM", "", "Milk"),
										expenseField("PRICE", "", "3.50"),
									}},
								},
							},
						},
					},
				},
			}
		})

		It("should send the image bytes unchanged", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(client.input.Document.Bytes).To(Equal([]byte("fake png bytes")))
		})

		It("should flatten summary fields", func() {
			Expect(resp.Documents).To(HaveLen(1))
			Expect(resp.Documents[0].SummaryFields).To(Equal([]parsing.Field{
				{Type: "VENDOR_NAME", Value: "Corner Market"},
				{Type: "TOTAL", Label: "Total", Value: "$9.20"},
			}))
		})

		It("should flatten line items", func() {
			groups := resp.Documents[0].LineItemGroups
			Expect(groups).To(HaveLen(1))
			Expect(groups[0].Items).To(HaveLen(1))
			Expect(groups[0].Items[0].Fields).To(Equal([]parsing.Field{
				{Type: "ITEM", Value: "Milk"},
				{Type: "PRICE", Value: "3.50"},
			}))
		})
	})

	When("Textract rejects the credentials", func() {
		BeforeEach(func() {
			client.err = &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "denied"}
		})

		It("should return an auth error", func() {
			Expect(errors.Is(err, parsing.ErrOCRAuth)).To(BeTrue())
			Expect(resp).To(BeNil())
		})
	})

	When("no credentials can be found", func() {
		BeforeEach(func() {
			client.err = &smithy.OperationError{
				ServiceID:     "Textract",
				OperationName: "AnalyzeExpense",
				Err:           &v4.SigningError{Err: errors.New("failed to retrieve credentials: no EC2 IMDS role found")},
			}
		})

		It("should return an auth error so the call is not retried", func() {
			Expect(errors.Is(err, parsing.ErrOCRAuth)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring("failed to retrieve credentials")))
		})
	})

	When("Textract rejects the document", func() {
		BeforeEach(func() {
			client.err = &smithy.GenericAPIError{Code: "UnsupportedDocumentException", Message: "bad format"}
		})

		It("should return an invalid input error", func() {
			Expect(errors.Is(err, parsing.ErrInvalidInput)).To(BeTrue())
		})
	})

	When("Textract is throttling", func() {
		BeforeEach(func() {
			client.err = &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
		})

		It("should return a plain error", func() {
			Expect(err).To(MatchError(ContainSubstring("calling textract")))
			Expect(errors.Is(err, parsing.ErrOCRAuth)).To(BeFalse())
			Expect(errors.Is(err, parsing.ErrInvalidInput)).To(BeFalse())
		})
	})

	When("the call fails without an API error", func() {
		BeforeEach(func() {
			client.err = errors.New("connection reset")
		})

		It("should wrap the error", func() {
			Expect(err).To(MatchError(ContainSubstring("connection reset")))
		})
	})

	When("the image cannot be prepared", func() {
		JustBeforeEach(func() {
			resp, err = scanner.AnalyzeExpense(context.Background(), []byte("not an image"), "image/gif")
		})

		It("should not call Textract", func() {
			Expect(errors.Is(err, parsing.ErrInvalidInput)).To(BeTrue())
			Expect(client.input).To(BeNil())
		})
	})

	It("should cap the upload limit", func() {
		s := NewTextractWithClient(client, ImageOptions{MaxBytes: 50 << 20})
		Expect(s.image.MaxBytes).To(Equal(TextractMaxBytes))
	})
})

var _ = Describe("DecodeTextractJSON", func() {
	It("should read a saved AnalyzeExpense response", func() {
		input := `{
			"ExpenseDocuments": [{
				"SummaryFields": [
					{"Type": {"Text": "TOTAL"}, "LabelDetection": {"Text": "TOTAL"}, "ValueDetection": {"Text": "7.24"}}
				],
				"LineItemGroups": [{
					"LineItems": [{
						"LineItemExpenseFields": [
							{"Type": {"Text": "ITEM"}, "ValueDetection": {"Text": "BREAD"}},
							{"Type": {"Text": "PRICE"}, "ValueDetection": {"Text": "7.70"}}
						]
					}]
				}]
			}]
		}`

		resp, err := DecodeTextractJSON(strings.NewReader(input))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Documents).To(HaveLen(1))
		Expect(resp.Documents[0].SummaryFields).To(ConsistOf(parsing.Field{Type: "TOTAL", Label: "TOTAL", Value: "7.24"}))
		Expect(resp.Documents[0].LineItemGroups[0].Items[0].Fields).To(HaveLen(2))
	})

	It("should fail on malformed JSON", func() {
		_, err := DecodeTextractJSON(strings.NewReader("{"))
		Expect(err).To(MatchError(ContainSubstring("decoding textract json")))
	})
})
