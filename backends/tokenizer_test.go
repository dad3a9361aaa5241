package backends

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/hugot-serverless/options"
)

func TestTruncateKeepsEos(t *testing.T) {
	ids := []uint32{10, 11, 12, 13, 1}
	assert.Equal(t, []uint32{10, 11, 1}, truncate(ids, 3))
	assert.Equal(t, ids, truncate(ids, 0))
	assert.Equal(t, ids, truncate(ids, 5))
	// the input is not modified
	assert.Equal(t, []uint32{10, 11, 12, 13, 1}, ids)
}

func TestTimings(t *testing.T) {
	tm := &timings{}
	tm.record(time.Now().Add(-time.Millisecond))
	tm.record(time.Now())
	calls, total := tm.Stats()
	assert.Equal(t, uint64(2), calls)
	assert.GreaterOrEqual(t, total, time.Millisecond)
}

func TestLoadTokenizerMissingFile(t *testing.T) {
	_, err := LoadTokenizer(t.TempDir(), nil, 0)
	assert.Error(t, err)
}

const fixtureTokenizerPath = "../testData/tokenizer"

func loadFixtureTokenizer(t *testing.T, backend string, maxAllowedTokens int) *Tokenizer {
	t.Helper()
	opts := options.Defaults()
	opts.Backend = backend
	tk, err := LoadTokenizer(fixtureTokenizerPath, opts, maxAllowedTokens)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, tk.Destroy()) })
	return tk
}

func checkFixtureTokenizer(t *testing.T, backend string) {
	t.Helper()
	tk := loadFixtureTokenizer(t, backend, 0)

	tokens, err := tk.Tokenize("The cat sat on the mat.")
	require.NoError(t, err)
	assert.Equal(t, []string{"the", "cat", "sat", "on", "the", "mat", "."}, tokens)

	ids, err := tk.Encode("The cat sat on the mat.")
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 4, 5, 6, 7, 4, 8, 12, 3}, ids)

	ids, err = tk.Encode("zebra")
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 1, 3}, ids)

	text, err := tk.Decode([]uint32{2, 4, 5, 6, 3, 0})
	require.NoError(t, err)
	assert.Equal(t, "the cat sat", text)

	truncating := loadFixtureTokenizer(t, backend, 4)
	ids, err = truncating.Encode("The cat sat on the mat.")
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 4, 5, 3}, ids)

	calls, _ := tk.TokenizerTimings.Stats()
	assert.Equal(t, uint64(4), calls)
}

func TestGoTokenizer(t *testing.T) {
	checkFixtureTokenizer(t, options.BackendGO)
	assert.Equal(t, "GO", loadFixtureTokenizer(t, options.BackendGO, 0).Runtime)
}

func TestTokenizeEmpty(t *testing.T) {
	tk := loadFixtureTokenizer(t, options.BackendGO, 0)
	tokens, err := tk.Tokenize("")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}
