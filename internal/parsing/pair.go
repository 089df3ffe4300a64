package parsing

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Categorizer maps an item name to a category. An empty result means unknown.
type Categorizer interface {
	Predict(ctx context.Context, text string) string
}

// PairedItem is the running total for one item name in a pairing pass.
type PairedItem struct {
	Name     string
	Price    decimal.Decimal
	Count    int
	Category string
}

// PairingStrategy rebuilds item/price associations from recognizer output.
// Results are ordered by first appearance of each name.
type PairingStrategy interface {
	Pair(ctx context.Context, entities []Entity, categories Categorizer) []PairedItem
}

// NewPairingStrategy returns the strategy registered under name.
// Unknown names fall back to adjacent pairing.
func NewPairingStrategy(name string, window int) PairingStrategy {
	if strings.EqualFold(name, "window") {
		return WindowPairing{Window: window}
	}
	return AdjacentPairing{}
}

// AdjacentPairing associates an ITEM with the PRICE immediately after it.
// An ITEM with no PRICE next to it counts as a zero-price occurrence, a PRICE
// with no ITEM before it is dropped, and a PRICE that does not parse drops the pair.
type AdjacentPairing struct{}

func (AdjacentPairing) Pair(ctx context.Context, entities []Entity, categories Categorizer) []PairedItem {
	acc := newPairAccumulator(ctx, categories)
	for i, e := range entities {
		if !hasLabel(e, LabelItem) {
			continue
		}
		if i+1 < len(entities) && hasLabel(entities[i+1], LabelPrice) {
			price, ok := ParseAmount(entities[i+1].Text)
			if !ok {
				continue
			}
			acc.add(e.Text, price)
			continue
		}
		acc.add(e.Text, decimal.Zero)
	}
	return acc.result()
}

// WindowPairing lets an ITEM take the first unclaimed PRICE within the next
// Window entities, stopping early at another ITEM.
type WindowPairing struct {
	Window int
}

func (w WindowPairing) Pair(ctx context.Context, entities []Entity, categories Categorizer) []PairedItem {
	window := w.Window
	if window < 1 {
		window = 1
	}

	acc := newPairAccumulator(ctx, categories)
	claimed := make(map[int]bool)
	for i, e := range entities {
		if !hasLabel(e, LabelItem) {
			continue
		}

		priceAt := -1
		for j := i + 1; j < len(entities) && j <= i+window; j++ {
			if hasLabel(entities[j], LabelItem) {
				break
			}
			if hasLabel(entities[j], LabelPrice) && !claimed[j] {
				priceAt = j
				break
			}
		}
		if priceAt < 0 {
			acc.add(e.Text, decimal.Zero)
			continue
		}

		claimed[priceAt] = true
		price, ok := ParseAmount(entities[priceAt].Text)
		if !ok {
			continue
		}
		acc.add(e.Text, price)
	}
	return acc.result()
}

// ToLineItems turns paired totals into line items whose unit price is the
// average price per occurrence.
func ToLineItems(paired []PairedItem) []LineItem {
	items := make([]LineItem, 0, len(paired))
	for _, p := range paired {
		count := max(p.Count, 1)
		items = append(items, LineItem{
			Name:      p.Name,
			UnitPrice: p.Price.DivRound(decimal.NewFromInt(int64(count)), 4),
			Quantity:  count,
			Category:  p.Category,
		})
	}
	return items
}

func hasLabel(e Entity, label string) bool {
	return NormalizeType(e.Label) == label
}

type pairAccumulator struct {
	ctx        context.Context
	categories Categorizer
	index      map[string]int
	items      []PairedItem
}

func newPairAccumulator(ctx context.Context, categories Categorizer) *pairAccumulator {
	return &pairAccumulator{ctx: ctx, categories: categories, index: make(map[string]int)}
}

func (a *pairAccumulator) add(name string, price decimal.Decimal) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	i, ok := a.index[name]
	if !ok {
		i = len(a.items)
		a.index[name] = i
		a.items = append(a.items, PairedItem{Name: name, Price: decimal.Zero})
	}
	a.items[i].Count++
	a.items[i].Price = a.items[i].Price.Add(price)
	if a.categories != nil {
		a.items[i].Category = a.categories.Predict(a.ctx, name)
	}
}

func (a *pairAccumulator) result() []PairedItem {
	return a.items
}
