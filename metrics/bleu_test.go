package metrics

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBLEU(t *testing.T, opts ...BLEUOption) *BLEU {
	t.Helper()
	b, err := NewBLEU(opts...)
	require.NoError(t, err)
	return b
}

func TestBLEUIdentical(t *testing.T) {
	b := newBLEU(t)
	for _, text := range []string{"the cat sat", "a", "the quick brown fox jumps over the lazy dog"} {
		tokens := strings.Fields(text)
		score, err := b.Score(tokens, tokens)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, score, 1e-9, text)
	}
}

func TestBLEUNoOverlap(t *testing.T) {
	score, err := newBLEU(t).Score(strings.Fields("the cat sat on the mat"), strings.Fields("dogs run fast"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestBLEUEmpty(t *testing.T) {
	b := newBLEU(t)
	score, err := b.Score(strings.Fields("the cat"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)

	score, err = b.Score(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)

	score, err = b.Score(nil, strings.Fields("the cat"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestBLEUPartialWithBrevityPenalty(t *testing.T) {
	reference := strings.Fields("the cat sat on the mat")
	candidate := strings.Fields("the cat sat")
	score, err := newBLEU(t).Score(reference, candidate)
	require.NoError(t, err)
	// all precisions are 1, so only the brevity penalty exp(1 - 6/3) remains
	assert.InDelta(t, math.Exp(-1), score, 1e-9)
}

func TestBLEUClipping(t *testing.T) {
	reference := strings.Fields("the cat")
	candidate := strings.Fields("the the the")
	score, err := newBLEU(t, WithMaxOrder(1)).Score(reference, candidate)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, score, 1e-9)
}

func TestBLEUBounds(t *testing.T) {
	b := newBLEU(t)
	pairs := [][2]string{
		{"the cat sat on the mat", "the cat is on the mat"},
		{"a b c d e", "e d c b a"},
		{"one two three four five six", "one two three four five six seven eight"},
	}
	for _, p := range pairs {
		score, err := b.Score(strings.Fields(p[0]), strings.Fields(p[1]))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestWithMaxOrder(t *testing.T) {
	_, err := NewBLEU(WithMaxOrder(0))
	assert.Error(t, err)
	assert.Equal(t, 2, newBLEU(t, WithMaxOrder(2)).MaxOrder())
	assert.Equal(t, DefaultMaxOrder, newBLEU(t).MaxOrder())
}
