package parsing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Analyzer is the OCR collaborator.
type Analyzer interface {
	AnalyzeExpense(ctx context.Context, image []byte, contentType string) (*Response, error)
}

// EntityRecognizer is the NER collaborator. No entities is a valid answer.
type EntityRecognizer interface {
	Recognize(ctx context.Context, text string) ([]Entity, error)
}

// Config controls input limits and OCR retries.
type Config struct {
	MaxImageBytes int
	OCRAttempts   int
	OCRTimeout    time.Duration
	RetryInterval time.Duration
	Pairing       PairingStrategy
}

// DefaultConfig allows 5 MiB images and three OCR attempts.
func DefaultConfig() Config {
	return Config{
		MaxImageBytes: 5 << 20,
		OCRAttempts:   3,
		OCRTimeout:    30 * time.Second,
		RetryInterval: 500 * time.Millisecond,
		Pairing:       AdjacentPairing{},
	}
}

// Pipeline turns receipt images into ParsedReceipts.
type Pipeline struct {
	analyzer   Analyzer
	recognizer EntityRecognizer
	categories Categorizer
	cfg        Config
}

// NewPipeline wires the collaborators. recognizer and categories may be nil;
// the pipeline then skips entity pairing or leaves categories empty.
func NewPipeline(analyzer Analyzer, recognizer EntityRecognizer, categories Categorizer, cfg Config) *Pipeline {
	if cfg.Pairing == nil {
		cfg.Pairing = AdjacentPairing{}
	}
	if cfg.OCRAttempts < 1 {
		cfg.OCRAttempts = 1
	}
	return &Pipeline{
		analyzer:   analyzer,
		recognizer: recognizer,
		categories: categories,
		cfg:        cfg,
	}
}

// Process validates the image, runs OCR with retries and parses the result.
// It fails with ErrInvalidInput or ErrOCRUnavailable; every later step degrades
// instead of failing.
func (p *Pipeline) Process(ctx context.Context, image []byte, contentType string) (*ParsedReceipt, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	if p.cfg.MaxImageBytes > 0 && len(image) > p.cfg.MaxImageBytes {
		return nil, fmt.Errorf("%w: image is %d bytes, limit is %d", ErrInvalidInput, len(image), p.cfg.MaxImageBytes)
	}
	if p.analyzer == nil {
		return nil, fmt.Errorf("%w: no analyzer configured", ErrOCRUnavailable)
	}

	resp, err := p.analyze(ctx, image, contentType)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, resp), nil
}

func (p *Pipeline) analyze(ctx context.Context, image []byte, contentType string) (*Response, error) {
	attempts := 0
	op := func() (*Response, error) {
		attempts++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.cfg.OCRTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.cfg.OCRTimeout)
		}
		defer cancel()

		resp, err := p.analyzer.AnalyzeExpense(callCtx, image, contentType)
		switch {
		case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrOCRAuth):
			return nil, backoff.Permanent(err)
		case err != nil:
			slog.Warn("OCR attempt failed", "attempt", attempts, "error", err)
			return nil, err
		case resp == nil || len(resp.Documents) == 0:
			slog.Warn("OCR attempt returned no documents", "attempt", attempts)
			return nil, errEmptyResponse
		}
		return resp, nil
	}

	resp, err := backoff.RetryWithData(op, p.backOff(ctx))
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: after %d attempt(s): %w", ErrOCRUnavailable, attempts, err)
	}
	return resp, nil
}

func (p *Pipeline) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.cfg.RetryInterval > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.cfg.RetryInterval
		exp.MaxElapsedTime = 0
		exp.Reset()
		b = exp
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.OCRAttempts-1)), ctx)
}

// Parse builds a ParsedReceipt from an OCR response. It never fails: missing
// fields become zero values and collaborator errors are logged.
func (p *Pipeline) Parse(ctx context.Context, resp *Response) *ParsedReceipt {
	ex := Extract(resp)
	receipt := &ParsedReceipt{
		Transcript:   ex.Transcript,
		PurchaseDate: DateUnknown,
		ItemSource:   SourceNone,
	}

	items := ex.LineItems()
	if len(items) > 0 {
		receipt.ItemSource = SourceLineItems
		for i := range items {
			items[i].Category = p.predict(ctx, items[i].Name)
		}
	} else if ex.Transcript != "" {
		paired := p.cfg.Pairing.Pair(ctx, p.recognize(ctx, ex.Transcript), p.categories)
		items = ToLineItems(paired)
		if len(items) > 0 {
			receipt.ItemSource = SourceEntities
		}
	}
	if items == nil {
		items = []LineItem{}
	}
	receipt.Items = items

	totals := Reconcile(items, ex)
	receipt.Subtotal = totals.Subtotal
	receipt.Discount = totals.Discount
	receipt.SubtotalAfterDiscount = totals.SubtotalAfterDiscount
	receipt.Tax = totals.Tax
	receipt.TotalAmount = totals.TotalAmount
	receipt.Mismatch = totals.Mismatch

	if ex.Transcript != "" && !totals.HasTotal {
		receipt.Warnings = append(receipt.Warnings, "no total field found")
	}
	if totals.Mismatch {
		receipt.Warnings = append(receipt.Warnings, fmt.Sprintf("stated total %s differs from computed %s", totals.TotalAmount.StringFixed(2), totals.Computed.StringFixed(2)))
		slog.Warn("Receipt totals do not reconcile", "total", totals.TotalAmount.String(), "computed", totals.Computed.String())
	}
	if totals.SubtotalMismatch {
		receipt.Warnings = append(receipt.Warnings, fmt.Sprintf("stated subtotal %s differs from item sum %s", totals.ReportedSubtotal.StringFixed(2), totals.Subtotal.StringFixed(2)))
	}

	if date, ok := ex.Text(DateTypes...); ok {
		receipt.PurchaseDate = NormalizeDate(date)
	}
	receipt.VendorName = optional(ex.Text(VendorTypes...))
	receipt.VendorAddress = optional(ex.Text(AddressTypes...))
	receipt.VendorPhone = optional(ex.Text(PhoneTypes...))

	receipt.ContentHash = Fingerprint(receipt.Transcript)
	return receipt
}

func (p *Pipeline) recognize(ctx context.Context, transcript string) []Entity {
	if p.recognizer == nil {
		return nil
	}
	entities, err := p.recognizer.Recognize(ctx, transcript)
	if err != nil {
		slog.Warn("Entity recognition failed", "error", fmt.Errorf("%w: %w", ErrModelUnavailable, err))
		return nil
	}
	return entities
}

func (p *Pipeline) predict(ctx context.Context, name string) string {
	if p.categories == nil {
		return ""
	}
	return p.categories.Predict(ctx, name)
}

func optional(v string, ok bool) *string {
	if !ok {
		return nil
	}
	return &v
}
