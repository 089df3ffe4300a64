package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"github.com/zombor/smartreceipt/internal/parsing"
)

// Gemini reads receipts, finds entities and classifies items using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	image  ImageOptions
}

// NewGemini creates a new Gemini instance
func NewGemini(ctx context.Context, apiKey string, modelName string, image ImageOptions) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
		image:  image,
	}, nil
}

// AnalyzeExpense reads a receipt image into summary fields and line items
func (g *Gemini) AnalyzeExpense(ctx context.Context, imageData []byte, contentType string) (*parsing.Response, error) {
	prepared, mimeType, err := PrepareImage(imageData, contentType, g.image)
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	text, err := g.generate(ctx, genai.ImageData(imageFormat(mimeType), prepared), genai.Text(expensePrompt))
	if err != nil {
		return nil, geminiError(err)
	}

	resp, err := parseExpenseJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return resp, nil
}

// Recognize finds ITEM and PRICE spans in a transcript
func (g *Gemini) Recognize(ctx context.Context, text string) ([]parsing.Entity, error) {
	reply, err := g.generate(ctx, genai.Text(entityRequest(text)))
	if err != nil {
		return nil, err
	}
	entities, err := parseEntitiesJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("parsing entities: %w", err)
	}
	return entities, nil
}

// Classify scores shopping categories for an item name
func (g *Gemini) Classify(ctx context.Context, text string) (map[string]float64, error) {
	reply, err := g.generate(ctx, genai.Text(classifyRequest(text)))
	if err != nil {
		return nil, err
	}
	scores, err := parseScoresJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("parsing scores: %w", err)
	}
	return scores, nil
}

func (g *Gemini) generate(ctx context.Context, parts ...genai.Part) (string, error) {
	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// geminiError marks credential failures so the pipeline stops retrying
func geminiError(err error) error {
	var apiErr *apierror.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.HTTPCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", parsing.ErrOCRAuth, err)
	}
	switch apiErr.GRPCStatus().Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %w", parsing.ErrOCRAuth, err)
	}
	return err
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
