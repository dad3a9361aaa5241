package backends

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/knights-analytics/hugot-serverless/options"
	"github.com/knights-analytics/hugot-serverless/util/fileutil"
	"github.com/knights-analytics/hugot-serverless/util/safeconv"
)

const tokenizerFilename = "tokenizer.json"

// Tokenizer wraps either the rust or the go implementation of a huggingface tokenizer.json.
// It is safe for concurrent use once loaded.
type Tokenizer struct {
	RustTokenizer    *RustTokenizer
	GoTokenizer      *GoTokenizer
	TokenizerTimings *timings
	Destroy          func() error
	Runtime          string
	MaxAllowedTokens int
}

type timings struct {
	NumCalls uint64
	TotalNS  uint64
}

func (t *timings) record(start time.Time) {
	atomic.AddUint64(&t.NumCalls, 1)
	atomic.AddUint64(&t.TotalNS, safeconv.DurationToU64(time.Since(start)))
}

// Stats returns the number of calls and the accumulated time spent in them.
func (t *timings) Stats() (uint64, time.Duration) {
	return atomic.LoadUint64(&t.NumCalls), safeconv.U64ToDuration(atomic.LoadUint64(&t.TotalNS))
}

// LoadTokenizer reads tokenizer.json from the directory at path (local or s3://). The session backend
// picks the runtime: rust for ORT, go for GO. maxAllowedTokens truncates Encode output, 0 disables it.
func LoadTokenizer(path string, opts *options.Options, maxAllowedTokens int) (*Tokenizer, error) {
	tokenizerPath := fileutil.PathJoinSafe(path, tokenizerFilename)
	exists, err := fileutil.FileExists(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("error checking for existence of %s: %w", tokenizerFilename, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s not found at %s", tokenizerFilename, path)
	}
	tokenizerBytes, err := fileutil.ReadFileBytes(tokenizerPath)
	if err != nil {
		return nil, err
	}

	var tk *Tokenizer
	switch opts.Backend {
	case options.BackendORT:
		tk, err = loadRustTokenizer(tokenizerBytes)
	case options.BackendGO:
		tk, err = loadGoTokenizer(tokenizerBytes)
	default:
		return nil, fmt.Errorf("runtime %s not recognized", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	tk.TokenizerTimings = &timings{}
	tk.MaxAllowedTokens = maxAllowedTokens
	return tk, nil
}

// Tokenize splits text into token strings without adding special tokens.
func (t *Tokenizer) Tokenize(text string) ([]string, error) {
	defer t.TokenizerTimings.record(time.Now())
	if text == "" {
		return []string{}, nil
	}
	switch t.Runtime {
	case "RUST":
		_, tokens := tokenizeRust(t, text, false)
		return tokens, nil
	case "GO":
		_, tokens, err := tokenizeGo(t, text, false)
		return tokens, err
	}
	return nil, fmt.Errorf("runtime %s not recognized", t.Runtime)
}

// Encode converts text into token ids including the model's special tokens. Outputs longer than
// MaxAllowedTokens are truncated, keeping the trailing end-of-sequence token.
func (t *Tokenizer) Encode(text string) ([]uint32, error) {
	defer t.TokenizerTimings.record(time.Now())
	var ids []uint32
	var err error
	switch t.Runtime {
	case "RUST":
		ids, _ = tokenizeRust(t, text, true)
	case "GO":
		ids, _, err = tokenizeGo(t, text, true)
	default:
		err = fmt.Errorf("runtime %s not recognized", t.Runtime)
	}
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("no tokens produced by tokenizer")
	}
	return truncate(ids, t.MaxAllowedTokens), nil
}

// Decode converts token ids back into text, dropping special tokens.
func (t *Tokenizer) Decode(ids []uint32) (string, error) {
	defer t.TokenizerTimings.record(time.Now())
	switch t.Runtime {
	case "RUST":
		return decodeRust(ids, t, true), nil
	case "GO":
		return decodeGo(ids, t, true), nil
	}
	return "", fmt.Errorf("runtime %s not recognized", t.Runtime)
}

func truncate(ids []uint32, maxAllowedTokens int) []uint32 {
	if maxAllowedTokens <= 0 || len(ids) <= maxAllowedTokens {
		return ids
	}
	truncated := make([]uint32, maxAllowedTokens)
	copy(truncated, ids[:maxAllowedTokens-1])
	truncated[maxAllowedTokens-1] = ids[len(ids)-1]
	return truncated
}
