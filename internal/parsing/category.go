package parsing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"
)

// DefaultCategoryCacheSize bounds the category cache when no size is given.
const DefaultCategoryCacheSize = 1024

// Classifier scores candidate categories for a piece of item text.
type Classifier interface {
	Classify(ctx context.Context, text string) (map[string]float64, error)
}

// CategoryResolver picks the best category for an item name and memoizes the
// answer in a fixed-size LRU. Concurrent lookups of the same key share one
// classifier call. Failed lookups are not cached.
type CategoryResolver struct {
	classifier Classifier
	cache      *lru.Cache[string, string]
	group      singleflight.Group
}

// NewCategoryResolver returns a resolver holding at most size entries.
func NewCategoryResolver(classifier Classifier, size int) (*CategoryResolver, error) {
	if size <= 0 {
		size = DefaultCategoryCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating category cache: %w", err)
	}
	return &CategoryResolver{classifier: classifier, cache: cache}, nil
}

// Predict returns the category for text, or "" when the classifier has no
// answer or is unavailable.
func (r *CategoryResolver) Predict(ctx context.Context, text string) string {
	if r == nil || r.classifier == nil {
		return ""
	}
	key := CacheKey(text)
	if key == "" {
		return ""
	}
	if label, ok := r.cache.Get(key); ok {
		return label
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if label, ok := r.cache.Get(key); ok {
			return label, nil
		}
		scores, err := r.classifier.Classify(ctx, key)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		}
		label := BestLabel(scores)
		r.cache.Add(key, label)
		return label, nil
	})
	if err != nil {
		slog.Warn("Category prediction failed", "item", text, "error", err)
		return ""
	}
	return v.(string)
}

// Len reports the number of cached entries.
func (r *CategoryResolver) Len() int {
	return r.cache.Len()
}

// CacheKey normalizes item text to NFKC with collapsed whitespace.
func CacheKey(text string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(text)), " ")
}

// BestLabel returns the highest scoring label. Ties go to the lexically
// smallest label; an empty or all-NaN map yields "".
func BestLabel(scores map[string]float64) string {
	labels := make([]string, 0, len(scores))
	for label := range scores {
		if label != "" && !math.IsNaN(scores[label]) {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)

	best := ""
	for _, label := range labels {
		if best == "" || scores[label] > scores[best] {
			best = label
		}
	}
	return best
}
