package scanning

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v2"
)

//go:embed categories.yaml
var defaultKeywordRules []byte

const (
	strongWeight = 1.0
	weakWeight   = 0.25
	antiWeight   = 1.0
	strongCap    = 3
	weakCap      = 5
)

type keywordRuleSet struct {
	Strong []string `yaml:"strong"`
	Weak   []string `yaml:"weak"`
	Anti   []string `yaml:"anti"`
}

type keywordFile struct {
	Categories map[string]keywordRuleSet `yaml:"categories"`
}

// KeywordClassifier scores categories by counting strong, weak and anti
// keywords in the item text. It needs no network and never fails.
type KeywordClassifier struct {
	rules map[string]keywordRuleSet
}

// NewKeywordClassifier parses YAML rules of the form
//
//	categories:
//	  dairy:
//	    strong: [milk, cheese]
//	    weak: [cream]
//	    anti: [milk chocolate]
func NewKeywordClassifier(data []byte) (*KeywordClassifier, error) {
	var file keywordFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing category rules: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("category rules define no categories")
	}

	rules := make(map[string]keywordRuleSet, len(file.Categories))
	for label, set := range file.Categories {
		label = strings.ToLower(strings.TrimSpace(label))
		if label == "" {
			continue
		}
		rules[label] = keywordRuleSet{
			Strong: normalizeKeywords(set.Strong),
			Weak:   normalizeKeywords(set.Weak),
			Anti:   normalizeKeywords(set.Anti),
		}
	}
	return &KeywordClassifier{rules: rules}, nil
}

// LoadKeywordClassifier reads rules from path, or the built-in rules when path is empty.
func LoadKeywordClassifier(path string) (*KeywordClassifier, error) {
	if path == "" {
		return NewKeywordClassifier(defaultKeywordRules)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading category rules: %w", err)
	}
	return NewKeywordClassifier(data)
}

// Classify returns a positive score for every category with keyword hits
func (k *KeywordClassifier) Classify(ctx context.Context, text string) (map[string]float64, error) {
	normalized := normalizeKeyword(text)
	scores := make(map[string]float64)
	if normalized == "" {
		return scores, nil
	}

	padded := " " + normalized + " "
	for label, set := range k.rules {
		strong := min(countHits(padded, set.Strong), strongCap)
		weak := min(countHits(padded, set.Weak), weakCap)
		anti := countHits(padded, set.Anti)

		score := strongWeight*float64(strong) + weakWeight*float64(weak) - antiWeight*float64(anti)
		if score > 0 {
			scores[label] = score
		}
	}
	return scores, nil
}

// Categories lists the configured category labels in order
func (k *KeywordClassifier) Categories() []string {
	labels := make([]string, 0, len(k.rules))
	for label := range k.rules {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func countHits(padded string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(padded, " "+kw+" ") {
			hits++
		}
	}
	return hits
}

func normalizeKeywords(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		n := normalizeKeyword(w)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// normalizeKeyword folds to NFKC lower case and keeps letters, digits and %
// as space separated words
func normalizeKeyword(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '%' {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
