package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/smartreceipt/internal/parsing"
)

const ollamaSystemPrompt = "You are an expert at reading and extracting information from receipts and invoices. You must carefully read all text in images and extract accurate information."

// Ollama reads receipts, finds entities and classifies items using a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
	image   ImageOptions
}

// NewOllama creates a new Ollama instance
// Recommended vision models for receipts: llava:1.6, qwen2-vl:7b, llava-phi3
func NewOllama(baseURL string, modelName string, image ImageOptions) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava" // Default to llava, a popular vision model
	}

	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // Ollama can be slower, especially for vision models
		},
		image: image,
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// AnalyzeExpense reads a receipt image into summary fields and line items
func (o *Ollama) AnalyzeExpense(ctx context.Context, imageData []byte, contentType string) (*parsing.Response, error) {
	prepared, _, err := PrepareImage(imageData, contentType, o.image)
	if err != nil {
		return nil, err
	}

	text, err := o.chat(ctx, ollamaMessage{
		Role:    "user",
		Content: expensePrompt,
		Images:  []string{base64.StdEncoding.EncodeToString(prepared)},
	})
	if err != nil {
		return nil, err
	}

	resp, err := parseExpenseJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return resp, nil
}

// Recognize finds ITEM and PRICE spans in a transcript
func (o *Ollama) Recognize(ctx context.Context, text string) ([]parsing.Entity, error) {
	reply, err := o.chat(ctx, ollamaMessage{Role: "user", Content: entityRequest(text)})
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
func (o *Ollama) Classify(ctx context.Context, text string) (map[string]float64, error) {
	reply, err := o.chat(ctx, ollamaMessage{Role: "user", Content: classifyRequest(text)})
	if err != nil {
		return nil, err
	}
	scores, err := parseScoresJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("parsing scores: %w", err)
	}
	return scores, nil
}

func (o *Ollama) chat(ctx context.Context, msg ollamaMessage) (string, error) {
	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Messages: []ollamaMessage{
			{Role: "system", Content: ollamaSystemPrompt},
			msg,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", fmt.Errorf("%w: %w", parsing.ErrOCRAuth, err)
		}
		return "", err
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return strings.TrimSpace(chatResp.Message.Content), nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
