package parsing

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// stubCategorizer records every prediction request
type stubCategorizer struct {
	labels map[string]string
	calls  []string
}

func (s *stubCategorizer) Predict(ctx context.Context, text string) string {
	if s == nil {
		return ""
	}
	s.calls = append(s.calls, text)
	return s.labels[text]
}

func ent(text, label string) Entity {
	return Entity{Text: text, Label: label}
}

var _ = Describe("AdjacentPairing", func() {
	var (
		entities   []Entity
		categories *stubCategorizer
		paired     []PairedItem
	)

	BeforeEach(func() {
		categories = &stubCategorizer{labels: map[string]string{"Milk": "dairy"}}
	})

	JustBeforeEach(func() {
		paired = AdjacentPairing{}.Pair(context.Background(), entities, categories)
	})

	When("the second price is malformed", func() {
		BeforeEach(func() {
			entities = []Entity{
				ent("Milk", LabelItem), ent("$3.50", LabelPrice),
				ent("Eggs", LabelItem), ent("bad", LabelPrice),
			}
		})

		It("should keep only the well-formed pair", func() {
			Expect(paired).To(HaveLen(1))
			Expect(paired[0].Name).To(Equal("Milk"))
			Expect(paired[0].Price.StringFixed(2)).To(Equal("3.50"))
			Expect(paired[0].Count).To(Equal(1))
		})

		It("should categorize the item", func() {
			Expect(paired[0].Category).To(Equal("dairy"))
		})
	})

	When("the same item appears twice", func() {
		BeforeEach(func() {
			entities = []Entity{
				ent("Milk", LabelItem), ent("$3.50", LabelPrice),
				ent("Milk", LabelItem), ent("$1.50", LabelPrice),
			}
		})

		It("should accumulate price and count", func() {
			Expect(paired).To(HaveLen(1))
			Expect(paired[0].Price.StringFixed(2)).To(Equal("5.00"))
			Expect(paired[0].Count).To(Equal(2))
		})

		It("should recompute the category on every occurrence", func() {
			Expect(categories.calls).To(Equal([]string{"Milk", "Milk"}))
		})
	})

	When("an item has no price after it", func() {
		BeforeEach(func() {
			entities = []Entity{
				ent("Bread", LabelItem), ent("Store #12", "ORG"),
				ent("Milk", LabelItem), ent("2.00", LabelPrice),
				ent("Bag", LabelItem),
			}
		})

		It("should record zero-price occurrences in order of appearance", func() {
			Expect(paired).To(HaveLen(3))
			Expect(paired[0].Name).To(Equal("Bread"))
			Expect(paired[0].Price.IsZero()).To(BeTrue())
			Expect(paired[0].Count).To(Equal(1))
			Expect(paired[1].Name).To(Equal("Milk"))
			Expect(paired[2].Name).To(Equal("Bag"))
			Expect(paired[2].Price.IsZero()).To(BeTrue())
		})
	})

	When("a price has no item before it", func() {
		BeforeEach(func() {
			entities = []Entity{
				ent("$9.99", LabelPrice),
				ent("Milk", LabelItem), ent("$1.00", LabelPrice),
				ent("$4.00", LabelPrice),
			}
		})

		It("should drop the orphan prices", func() {
			Expect(paired).To(HaveLen(1))
			Expect(paired[0].Price.StringFixed(2)).To(Equal("1.00"))
		})
	})

	When("labels are lower case", func() {
		BeforeEach(func() {
			entities = []Entity{ent("Tea", "item"), ent("2.50", "price")}
		})

		It("should still pair them", func() {
			Expect(paired).To(HaveLen(1))
			Expect(paired[0].Price.StringFixed(2)).To(Equal("2.50"))
		})
	})

	When("there are no entities", func() {
		BeforeEach(func() {
			entities = nil
		})

		It("should return nothing", func() {
			Expect(paired).To(BeEmpty())
		})
	})
})

var _ = Describe("WindowPairing", func() {
	var (
		entities []Entity
		window   int
		paired   []PairedItem
	)

	JustBeforeEach(func() {
		paired = WindowPairing{Window: window}.Pair(context.Background(), entities, nil)
	})

	When("a token sits between item and price", func() {
		BeforeEach(func() {
			window = 2
			entities = []Entity{ent("Milk", LabelItem), ent("2%", "OTHER"), ent("$3.50", LabelPrice)}
		})

		It("should look past it", func() {
			Expect(paired).To(HaveLen(1))
			Expect(paired[0].Price.StringFixed(2)).To(Equal("3.50"))
		})

		It("should differ from adjacent pairing", func() {
			adjacent := AdjacentPairing{}.Pair(context.Background(), entities, nil)
			Expect(adjacent[0].Price.IsZero()).To(BeTrue())
		})
	})

	When("another item comes first", func() {
		BeforeEach(func() {
			window = 3
			entities = []Entity{ent("Milk", LabelItem), ent("Eggs", LabelItem), ent("$2.00", LabelPrice)}
		})

		It("should leave the first item unpriced", func() {
			Expect(paired).To(HaveLen(2))
			Expect(paired[0].Price.IsZero()).To(BeTrue())
			Expect(paired[1].Name).To(Equal("Eggs"))
			Expect(paired[1].Price.StringFixed(2)).To(Equal("2.00"))
		})
	})

	When("the window is zero", func() {
		BeforeEach(func() {
			window = 0
			entities = []Entity{ent("Milk", LabelItem), ent("$3.50", LabelPrice)}
		})

		It("should behave like a window of one", func() {
			Expect(paired).To(HaveLen(1))
			Expect(paired[0].Price.StringFixed(2)).To(Equal("3.50"))
		})
	})
})

var _ = Describe("ToLineItems", func() {
	It("should average the price over the count", func() {
		paired := AdjacentPairing{}.Pair(context.Background(), []Entity{
			ent("Milk", LabelItem), ent("$3.50", LabelPrice),
			ent("Milk", LabelItem), ent("$1.50", LabelPrice),
		}, nil)

		items := ToLineItems(paired)
		Expect(items).To(HaveLen(1))
		Expect(items[0].Quantity).To(Equal(2))
		Expect(items[0].UnitPrice.StringFixed(2)).To(Equal("2.50"))
		Expect(items[0].LineTotal().StringFixed(2)).To(Equal("5.00"))
	})
})

var _ = Describe("NewPairingStrategy", func() {
	It("should select the window strategy by name", func() {
		Expect(NewPairingStrategy("window", 3)).To(Equal(WindowPairing{Window: 3}))
	})

	It("should default to adjacent pairing", func() {
		Expect(NewPairingStrategy("", 0)).To(Equal(AdjacentPairing{}))
	})
})
