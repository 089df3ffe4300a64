package scanning

import (
	"github.com/zombor/smartreceipt/internal/parsing"
)

// Scanner is an OCR backend that holds resources until closed.
type Scanner interface {
	parsing.Analyzer
	// Close closes the scanner and releases resources
	Close() error
}

var (
	_ Scanner = (*Textract)(nil)
	_ Scanner = (*Gemini)(nil)
	_ Scanner = (*Ollama)(nil)

	_ parsing.EntityRecognizer = (*Gemini)(nil)
	_ parsing.EntityRecognizer = (*Ollama)(nil)

	_ parsing.Classifier = (*Gemini)(nil)
	_ parsing.Classifier = (*Ollama)(nil)
	_ parsing.Classifier = (*KeywordClassifier)(nil)
)
