package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zombor/smartreceipt/internal/parsing"
)

// decodeModelJSON decodes the first JSON object in an LLM reply into v
func decodeModelJSON(text string, v any) error {
	// Remove markdown code blocks if present
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return fmt.Errorf("invalid JSON object in response")
	}

	if err := json.Unmarshal([]byte(text[startIdx:endIdx+1]), v); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}
	return nil
}

// modelValue accepts a JSON string, number or null and keeps its text
type modelValue string

func (m *modelValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*m = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = modelValue(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*m = modelValue(n.String())
	}
	return nil
}

type modelItem struct {
	Name      modelValue `json:"name"`
	Quantity  modelValue `json:"quantity"`
	UnitPrice modelValue `json:"unit_price"`
	Price     modelValue `json:"price"`
}

// modelExpense is the reply format requested by expensePrompt
type modelExpense struct {
	VendorName    modelValue  `json:"vendor_name"`
	VendorAddress modelValue  `json:"vendor_address"`
	VendorPhone   modelValue  `json:"vendor_phone"`
	Date          modelValue  `json:"date"`
	Items         []modelItem `json:"items"`
	Subtotal      modelValue  `json:"subtotal"`
	Discount      modelValue  `json:"discount"`
	Tax           modelValue  `json:"tax"`
	Total         modelValue  `json:"total"`
}

// parseExpenseJSON converts an LLM expense reply into the OCR response shape,
// labelling summary fields the way a printed receipt would.
func parseExpenseJSON(text string) (*parsing.Response, error) {
	var data modelExpense
	if err := decodeModelJSON(text, &data); err != nil {
		return nil, err
	}

	var doc parsing.Document
	summary := []struct {
		fieldType, label string
		value            modelValue
	}{
		{"VENDOR_NAME", "Vendor", data.VendorName},
		{"VENDOR_ADDRESS", "Address", data.VendorAddress},
		{"VENDOR_PHONE", "Phone", data.VendorPhone},
		{"INVOICE_RECEIPT_DATE", "Date", data.Date},
		{"SUBTOTAL", "Subtotal", data.Subtotal},
		{"DISCOUNT", "Discount", data.Discount},
		{"TAX", "Tax", data.Tax},
		{"TOTAL", "Total", data.Total},
	}
	for _, s := range summary {
		if s.value == "" {
			continue
		}
		doc.SummaryFields = append(doc.SummaryFields, parsing.Field{Type: s.fieldType, Label: s.label, Value: string(s.value)})
	}

	var group parsing.LineItemGroup
	for _, item := range data.Items {
		if item.Name == "" {
			continue
		}
		fields := []parsing.Field{{Type: "ITEM", Value: string(item.Name)}}
		if item.Price != "" {
			fields = append(fields, parsing.Field{Type: "PRICE", Value: string(item.Price)})
		}
		if item.UnitPrice != "" {
			fields = append(fields, parsing.Field{Type: "UNIT_PRICE", Value: string(item.UnitPrice)})
		}
		if item.Quantity != "" {
			fields = append(fields, parsing.Field{Type: "QUANTITY", Value: string(item.Quantity)})
		}
		group.Items = append(group.Items, parsing.ItemFields{Fields: fields})
	}
	if len(group.Items) > 0 {
		doc.LineItemGroups = []parsing.LineItemGroup{group}
	}

	if len(doc.SummaryFields) == 0 && len(doc.LineItemGroups) == 0 {
		return &parsing.Response{}, nil
	}
	return &parsing.Response{Documents: []parsing.Document{doc}}, nil
}

// parseEntitiesJSON reads {"entities": [{"text": ..., "label": ...}]}
func parseEntitiesJSON(text string) ([]parsing.Entity, error) {
	var data struct {
		Entities []parsing.Entity `json:"entities"`
	}
	if err := decodeModelJSON(text, &data); err != nil {
		return nil, err
	}
	entities := make([]parsing.Entity, 0, len(data.Entities))
	for _, e := range data.Entities {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		entities = append(entities, parsing.Entity{Text: strings.TrimSpace(e.Text), Label: strings.ToUpper(strings.TrimSpace(e.Label))})
	}
	return entities, nil
}

// parseScoresJSON reads {"scores": {...}} or a bare {"category": "..."}
func parseScoresJSON(text string) (map[string]float64, error) {
	var data struct {
		Scores   map[string]modelValue `json:"scores"`
		Category string                `json:"category"`
	}
	if err := decodeModelJSON(text, &data); err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(data.Scores))
	for label, v := range data.Scores {
		label = strings.ToLower(strings.TrimSpace(label))
		f, err := strconv.ParseFloat(string(v), 64)
		if label == "" || err != nil {
			continue
		}
		scores[label] = f
	}
	if len(scores) == 0 && strings.TrimSpace(data.Category) != "" {
		scores[strings.ToLower(strings.TrimSpace(data.Category))] = 1
	}
	return scores, nil
}
