package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/zombor/smartreceipt/internal/parsing"
	"github.com/zombor/smartreceipt/internal/receipt"
	"github.com/zombor/smartreceipt/internal/scanning"
)

// backends builds the model clients lazily so OCR, NER and classification
// share one Gemini or Ollama client when they name the same backend.
type backends struct {
	aws         scanning.AWSOptions
	image       scanning.ImageOptions
	geminiKey   string
	geminiModel string
	ollamaURL   string
	ollamaModel string

	awsCfg  *aws.Config
	gemini  *scanning.Gemini
	ollama  *scanning.Ollama
	closers []scanning.Scanner
}

func (b *backends) awsConfig(ctx context.Context) (aws.Config, error) {
	if b.awsCfg != nil {
		return *b.awsCfg, nil
	}
	cfg, err := scanning.LoadAWSConfig(ctx, b.aws)
	if err != nil {
		return aws.Config{}, err
	}
	b.awsCfg = &cfg
	return cfg, nil
}

func (b *backends) geminiClient(ctx context.Context) (*scanning.Gemini, error) {
	if b.gemini != nil {
		return b.gemini, nil
	}
	key := b.geminiKey
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, errors.New("--gemini-key or GEMINI_API_KEY is required for the gemini backend")
	}
	g, err := scanning.NewGemini(ctx, key, b.geminiModel, b.image)
	if err != nil {
		return nil, err
	}
	b.gemini = g
	b.closers = append(b.closers, g)
	slog.Info("Using Gemini", "model", b.geminiModel)
	return g, nil
}

func (b *backends) ollamaClient() (*scanning.Ollama, error) {
	if b.ollama != nil {
		return b.ollama, nil
	}
	o, err := scanning.NewOllama(b.ollamaURL, b.ollamaModel, b.image)
	if err != nil {
		return nil, err
	}
	b.ollama = o
	b.closers = append(b.closers, o)
	slog.Info("Using Ollama", "url", b.ollamaURL, "model", b.ollamaModel)
	return o, nil
}

func (b *backends) analyzer(ctx context.Context, name string) (parsing.Analyzer, error) {
	switch name {
	case "textract":
		cfg, err := b.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		t := scanning.NewTextract(cfg, b.image)
		b.closers = append(b.closers, t)
		return t, nil
	case "gemini":
		return b.geminiClient(ctx)
	case "ollama":
		return b.ollamaClient()
	default:
		return nil, fmt.Errorf("invalid ocr backend %q (valid: textract, gemini, ollama)", name)
	}
}

func (b *backends) recognizer(ctx context.Context, name string) (parsing.EntityRecognizer, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gemini":
		return b.geminiClient(ctx)
	case "ollama":
		return b.ollamaClient()
	default:
		return nil, fmt.Errorf("invalid ner backend %q (valid: gemini, ollama, none)", name)
	}
}

func (b *backends) classifier(ctx context.Context, name, rulesPath string) (parsing.Classifier, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "keywords":
		k, err := scanning.LoadKeywordClassifier(rulesPath)
		if err != nil {
			return nil, err
		}
		slog.Info("Loaded keyword rules", "categories", k.Categories())
		return k, nil
	case "gemini":
		return b.geminiClient(ctx)
	case "ollama":
		return b.ollamaClient()
	default:
		return nil, fmt.Errorf("invalid classifier %q (valid: keywords, gemini, ollama, none)", name)
	}
}

func (b *backends) storage(ctx context.Context, driver, path, bucket, prefix string) (receipt.Storage, error) {
	switch driver {
	case "local":
		return receipt.NewLocalStorage(path)
	case "s3":
		if bucket == "" {
			return nil, errors.New("--s3-bucket is required for the s3 storage driver")
		}
		cfg, err := b.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return receipt.NewS3Storage(cfg, bucket, prefix), nil
	default:
		return nil, fmt.Errorf("invalid storage driver %q (valid: local, s3)", driver)
	}
}

// Close releases every client that was built.
func (b *backends) Close() {
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close backend", "error", err)
		}
	}
}
