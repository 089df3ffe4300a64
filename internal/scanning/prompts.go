package scanning

import "fmt"

// expensePrompt is the shared prompt used by all LLM providers for reading receipts
const expensePrompt = `You are analyzing a receipt or invoice document. Carefully read all text in the image and extract:

1. **Vendor**: the store or business name, its address and phone number if printed.
2. **Date**: the transaction date, converted to YYYY-MM-DD.
3. **Line items**: every purchased product with its name, quantity, unit price and line price.
4. **Totals**: subtotal, discount, tax and the final total (or balance due).

Return ONLY valid JSON in this exact format:
{
  "vendor_name": "Store Name",
  "vendor_address": "123 Main St",
  "vendor_phone": "555-0100",
  "date": "YYYY-MM-DD",
  "items": [
    {"name": "Item name", "quantity": 1, "unit_price": 0.00, "price": 0.00}
  ],
  "subtotal": 0.00,
  "discount": 0.00,
  "tax": 0.00,
  "total": 0.00
}

Important:
- Copy item names exactly as printed
- Amounts are numbers, not strings
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// entityPrompt asks for ITEM and PRICE spans in reading order.
const entityPrompt = `Find every purchased product name and every price in the receipt text below.
Return ONLY JSON in this format, listing spans in the order they appear in the text:
{"entities": [{"text": "Milk", "label": "ITEM"}, {"text": "$3.50", "label": "PRICE"}]}

Use the label ITEM for product names and PRICE for monetary amounts. Ignore totals, tax and payment lines.

Receipt text:
%s`

// classifyPrompt asks for a score per category.
const classifyPrompt = `Classify this receipt line item into a shopping category such as
groceries, dairy, produce, meat, bakery, beverages, household, personal care, pharmacy or other.
Return ONLY JSON in this format with a confidence between 0 and 1 for the likely categories:
{"scores": {"dairy": 0.9, "groceries": 0.4}}

Item: %s`

func entityRequest(text string) string {
	return fmt.Sprintf(entityPrompt, text)
}

func classifyRequest(text string) string {
	return fmt.Sprintf(classifyPrompt, text)
}
