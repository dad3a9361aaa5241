package serverless

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/phuslu/log"
	"github.com/stretchr/testify/require"

	"github.com/knights-analytics/hugot-serverless/handlers"
	"github.com/knights-analytics/hugot-serverless/options"
	"github.com/knights-analytics/hugot-serverless/util/fileutil"
)

// Models are fetched by TestMain or `go run ./testData/downloadModels.go`; the tests that
// need them skip when the download failed.
const (
	generationModelPath = "./models/Xenova_t5-small"
	tokenizerModelPath  = "./models/google-t5_t5-small"
	fixtureTokenizer    = "./testData/tokenizer"
)

func TestMain(m *testing.M) {
	// model setup
	if ok, err := fileutil.FileExists("./models"); err == nil {
		if !ok {
			downloadTestModels("./models")
		}
	} else {
		panic(err)
	}
	// run all tests
	code := m.Run()
	os.Exit(code)
}

func downloadTestModels(destination string) {
	if err := os.MkdirAll(destination, os.ModePerm); err != nil {
		panic(err)
	}
	for _, model := range []struct {
		name          string
		tokenizerOnly bool
	}{{"Xenova/t5-small", false}, {"google-t5/t5-small", true}} {
		downloadOptions := NewDownloadOptions()
		downloadOptions.TokenizerOnly = model.tokenizerOnly
		downloadOptions.AuthToken = os.Getenv("HF_TOKEN")
		downloadOptions.MaxRetries = 1
		if _, err := DownloadModel(context.Background(), model.name, destination, downloadOptions); err != nil {
			log.Warn().Err(err).Str("model", model.name).Msg("test model not downloaded, tests that need it will skip")
			_ = os.RemoveAll(ModelDirectory(model.name, destination))
		}
	}
}

func requireModel(t *testing.T, modelPath string) {
	t.Helper()
	if _, err := os.Stat(modelPath); err != nil {
		t.Skipf("model %s not downloaded", modelPath)
	}
}

func decodeBody(t *testing.T, response handlers.Response) map[string]any {
	t.Helper()
	body := map[string]any{}
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(response.Body, &body))
	return body
}

func newGoSession(t *testing.T, opts ...options.WithOption) *Session {
	t.Helper()
	session, err := NewGoSession(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, session.Destroy())
	})
	return session
}

func TestSessionOptions(t *testing.T) {
	_, err := NewGoSession(options.WithTelemetry())
	assert.Error(t, err)

	session := newGoSession(t, options.WithMaxNewTokens(8), options.WithStrictStatusCodes())
	assert.Equal(t, options.BackendGO, session.Options().Backend)
	assert.Equal(t, 8, session.Options().GenerationOptions.MaxNewTokens)
	assert.True(t, session.Options().StrictStatusCodes)
	assert.Equal(t, options.DefaultGenerationTimeout, session.Options().GenerationOptions.Timeout)
	assert.Empty(t, session.GetStats())
}

func TestLoadErrors(t *testing.T) {
	session := newGoSession(t)

	_, err := NewScoringContext(session, t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoad))

	_, err = NewGenerationContext(session, t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoad))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"eos_token_id": 1}`), 0o644))
	_, err = NewGenerationContext(session, dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoad))
	assert.Contains(t, err.Error(), "onnx")
}

func TestReadyOnNil(t *testing.T) {
	var scoring *ScoringContext
	var generation *GenerationContext
	assert.False(t, scoring.Ready())
	assert.False(t, generation.Ready())
}

func TestResolveModelPathLocal(t *testing.T) {
	dir := t.TempDir()
	path, err := ResolveModelPath(context.Background(), dir, t.TempDir(), NewDownloadOptions())
	require.NoError(t, err)
	assert.Equal(t, dir, path)
}

func TestModelDirectory(t *testing.T) {
	assert.Equal(t, filepath.Join("models", "Xenova_t5-small"), ModelDirectory("Xenova/t5-small", "models"))
	assert.Equal(t, filepath.Join("models", "Xenova_t5-small"), ModelDirectory("Xenova/t5-small:onnx", "models"))
	assert.Equal(t, "s3://bucket/models/Xenova_t5-small", ModelDirectory("Xenova/t5-small", "s3://bucket/models"))
}

func TestScoringContext(t *testing.T) {
	requireModel(t, tokenizerModelPath)
	session := newGoSession(t)
	scoring, err := NewScoringContext(session, tokenizerModelPath)
	require.NoError(t, err)
	require.True(t, scoring.Ready())

	cases := []struct {
		body  string
		score float64
	}{
		{`{"reference": "the cat sat", "candidate": "the cat sat"}`, 1},
		{`{"reference": "the cat sat on the mat", "candidate": "dogs run quickly"}`, 0},
		{`{"reference": "the cat sat", "candidate": ""}`, 0},
	}
	for _, c := range cases {
		response := handlers.Handle(context.Background(), "score", scoring.Handler(), handlers.Event{Body: c.body}, scoring.StrictStatusCodes())
		assert.Equal(t, http.StatusOK, response.StatusCode, c.body)
		assert.InDelta(t, c.score, decodeBody(t, response)["bleu_score"], 1e-9, c.body)
	}
	assert.Len(t, session.GetStats(), 2)
}

func TestScoringContextFixtureTokenizer(t *testing.T) {
	session := newGoSession(t, options.WithStrictStatusCodes())
	scoring, err := NewScoringContext(session, fixtureTokenizer)
	require.NoError(t, err)
	require.True(t, scoring.Ready())
	assert.Equal(t, "GO", scoring.Tokenizer.Runtime)

	cases := []struct {
		body   string
		status int
		score  float64
	}{
		{`{"reference": "The cat sat on the mat.", "candidate": "the cat sat on the mat ."}`, http.StatusOK, 1},
		{`{"reference": "the cat sat on the mat", "candidate": "hello world"}`, http.StatusOK, 0},
		{`{"reference": "the cat sat", "candidate": ""}`, http.StatusOK, 0},
		// unknown words all map to [UNK] and match each other
		{`{"reference": "zebra giraffe", "candidate": "lion tiger"}`, http.StatusOK, 1},
	}
	for _, c := range cases {
		response := handlers.Handle(context.Background(), "score", scoring.Handler(), handlers.Event{Body: c.body}, scoring.StrictStatusCodes())
		assert.Equal(t, c.status, response.StatusCode, c.body)
		assert.InDelta(t, c.score, decodeBody(t, response)["bleu_score"], 1e-9, c.body)
	}

	response := handlers.Handle(context.Background(), "score", scoring.Handler(), handlers.Event{Body: `not json`}, scoring.StrictStatusCodes())
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)

	calls, _ := scoring.Tokenizer.TokenizerTimings.Stats()
	assert.Equal(t, uint64(8), calls)
}
