package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/aws/smithy-go"

	"github.com/zombor/smartreceipt/internal/parsing"
)

// TextractMaxBytes is the synchronous AnalyzeExpense upload limit.
const TextractMaxBytes = 5 << 20

// TextractAPI is the part of the Textract client used here
type TextractAPI interface {
	AnalyzeExpense(ctx context.Context, params *textract.AnalyzeExpenseInput, optFns ...func(*textract.Options)) (*textract.AnalyzeExpenseOutput, error)
}

// Textract reads receipts with AWS Textract AnalyzeExpense
type Textract struct {
	client TextractAPI
	image  ImageOptions
}

// NewTextract creates a Textract analyzer from an AWS configuration
func NewTextract(cfg aws.Config, image ImageOptions) *Textract {
	return NewTextractWithClient(textract.NewFromConfig(cfg), image)
}

// NewTextractWithClient creates a Textract analyzer with a custom client for testing
func NewTextractWithClient(client TextractAPI, image ImageOptions) *Textract {
	if image.MaxBytes <= 0 || image.MaxBytes > TextractMaxBytes {
		image.MaxBytes = TextractMaxBytes
	}
	return &Textract{client: client, image: image}
}

// AnalyzeExpense sends the image to Textract and flattens the expense documents
func (t *Textract) AnalyzeExpense(ctx context.Context, imageData []byte, contentType string) (*parsing.Response, error) {
	prepared, _, err := PrepareImage(imageData, contentType, t.image)
	if err != nil {
		return nil, err
	}

	out, err := t.client.AnalyzeExpense(ctx, &textract.AnalyzeExpenseInput{
		Document: &types.Document{Bytes: prepared},
	})
	if err != nil {
		return nil, textractError(err)
	}
	return fromExpenseDocuments(out.ExpenseDocuments), nil
}

// Close is a no-op; the SDK client holds no resources
func (t *Textract) Close() error {
	return nil
}

// DecodeTextractJSON reads a saved AnalyzeExpense response, as written by the
// AWS CLI, into the OCR response shape.
func DecodeTextractJSON(r io.Reader) (*parsing.Response, error) {
	var out textract.AnalyzeExpenseOutput
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding textract json: %w", err)
	}
	return fromExpenseDocuments(out.ExpenseDocuments), nil
}

func fromExpenseDocuments(docs []types.ExpenseDocument) *parsing.Response {
	resp := &parsing.Response{Documents: make([]parsing.Document, 0, len(docs))}
	for _, doc := range docs {
		var d parsing.Document
		for _, f := range doc.SummaryFields {
			d.SummaryFields = append(d.SummaryFields, fromExpenseField(f))
		}
		for _, group := range doc.LineItemGroups {
			var g parsing.LineItemGroup
			for _, item := range group.LineItems {
				var fields []parsing.Field
				for _, f := range item.LineItemExpenseFields {
					fields = append(fields, fromExpenseField(f))
				}
				g.Items = append(g.Items, parsing.ItemFields{Fields: fields})
			}
			d.LineItemGroups = append(d.LineItemGroups, g)
		}
		resp.Documents = append(resp.Documents, d)
	}
	return resp
}

func fromExpenseField(f types.ExpenseField) parsing.Field {
	var field parsing.Field
	if f.Type != nil {
		field.Type = aws.ToString(f.Type.Text)
	}
	if f.LabelDetection != nil {
		field.Label = aws.ToString(f.LabelDetection.Text)
	}
	if f.ValueDetection != nil {
		field.Value = aws.ToString(f.ValueDetection.Text)
	}
	return field
}

var (
	textractAuthCodes = map[string]bool{
		"AccessDenied":         true,
		"UnrecognizedClient":   true,
		"InvalidSignature":     true,
		"ExpiredToken":         true,
		"InvalidClientTokenId": true,
	}
	textractInputCodes = map[string]bool{
		"InvalidParameter":    true,
		"UnsupportedDocument": true,
		"DocumentTooLarge":    true,
		"BadDocument":         true,
	}
)

// textractError maps Textract error codes onto the pipeline's error kinds.
// A request that could not be signed means no usable credentials were found.
// Anything unrecognized is left as a transient failure.
func textractError(err error) error {
	var signErr *v4.SigningError
	if errors.As(err, &signErr) {
		return fmt.Errorf("%w: %w", parsing.ErrOCRAuth, err)
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("calling textract: %w", err)
	}
	code := strings.TrimSuffix(apiErr.ErrorCode(), "Exception")
	switch {
	case textractAuthCodes[code]:
		return fmt.Errorf("%w: %w", parsing.ErrOCRAuth, err)
	case textractInputCodes[code]:
		return fmt.Errorf("%w: %w", parsing.ErrInvalidInput, err)
	}
	return fmt.Errorf("calling textract: %w", err)
}
