package parsing

import "errors"

var (
	// ErrInvalidInput marks empty, oversized, or undecodable images. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrOCRUnavailable is returned once the OCR retry budget is spent.
	ErrOCRUnavailable = errors.New("ocr unavailable")

	// ErrOCRAuth marks credential failures from the OCR service. Never retried.
	ErrOCRAuth = errors.New("ocr authentication failed")

	// ErrModelUnavailable wraps NER and classifier failures. The pipeline logs it and degrades.
	ErrModelUnavailable = errors.New("model unavailable")

	errEmptyResponse = errors.New("ocr returned no documents")
)
