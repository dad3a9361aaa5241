// Package metrics implements text similarity metrics over token sequences.
package metrics

import (
	"errors"
	"math"
	"strings"
)

const DefaultMaxOrder = 4

// BLEU is sentence-level BLEU with a single reference, uniform weights and the
// standard brevity penalty. Orders longer than the candidate are left out, so short
// identical sequences still score 1.
type BLEU struct {
	maxOrder int
}

type BLEUOption func(b *BLEU) error

// WithMaxOrder sets the longest n-gram considered.
func WithMaxOrder(n int) BLEUOption {
	return func(b *BLEU) error {
		if n < 1 {
			return errors.New("max n-gram order must be at least 1")
		}
		b.maxOrder = n
		return nil
	}
}

func NewBLEU(opts ...BLEUOption) (*BLEU, error) {
	b := &BLEU{maxOrder: DefaultMaxOrder}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *BLEU) MaxOrder() int {
	return b.maxOrder
}

// Score returns the BLEU score of candidate against reference, in [0, 1].
func (b *BLEU) Score(reference, candidate []string) (float64, error) {
	if len(candidate) == 0 {
		return 0, nil
	}
	order := min(b.maxOrder, len(candidate))

	logSum := 0.0
	for n := 1; n <= order; n++ {
		matches, total := clippedMatches(reference, candidate, n)
		if matches == 0 {
			return 0, nil
		}
		logSum += math.Log(float64(matches) / float64(total))
	}
	score := math.Exp(logSum / float64(order))

	c, r := float64(len(candidate)), float64(len(reference))
	if c < r {
		score *= math.Exp(1 - r/c)
	}
	return min(score, 1), nil
}

// clippedMatches counts candidate n-grams found in reference, each clipped to its
// reference count, and the number of candidate n-grams.
func clippedMatches(reference, candidate []string, n int) (int, int) {
	refCounts := ngramCounts(reference, n)
	matches := 0
	for gram, count := range ngramCounts(candidate, n) {
		matches += min(count, refCounts[gram])
	}
	return matches, len(candidate) - n + 1
}

func ngramCounts(tokens []string, n int) map[string]int {
	counts := map[string]int{}
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return counts
}
