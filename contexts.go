package serverless

import (
	"errors"
	"fmt"
	"time"

	"github.com/knights-analytics/hugot-serverless/backends"
	"github.com/knights-analytics/hugot-serverless/handlers"
	"github.com/knights-analytics/hugot-serverless/metrics"
	"github.com/knights-analytics/hugot-serverless/options"
)

// ErrLoad wraps every failure to build a model context. Callers must not serve after it.
var ErrLoad = errors.New("failed to load model context")

func loadError(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrLoad, fmt.Errorf(format, args...))
}

// ScoringContext is the loaded tokenizer and metric behind the scoring handler.
// It is read-only once constructed.
type ScoringContext struct {
	Tokenizer *backends.Tokenizer
	Metric    *metrics.BLEU
	strict    bool
}

// NewScoringContext loads tokenizer.json from tokenizerPath, a local directory or s3:// url.
func NewScoringContext(s *Session, tokenizerPath string, bleuOpts ...metrics.BLEUOption) (*ScoringContext, error) {
	tk, err := backends.LoadTokenizer(tokenizerPath, s.options, 0)
	if err != nil {
		return nil, loadError("tokenizer at %s: %w", tokenizerPath, err)
	}
	metric, err := metrics.NewBLEU(bleuOpts...)
	if err != nil {
		return nil, errors.Join(loadError("metric: %w", err), tk.Destroy())
	}
	c := &ScoringContext{Tokenizer: tk, Metric: metric, strict: s.options.StrictStatusCodes}
	s.register(c)
	return c, nil
}

func (c *ScoringContext) Ready() bool {
	return c != nil && c.Tokenizer != nil && c.Metric != nil
}

// Handler returns the scoring invoker bound to this context.
func (c *ScoringContext) Handler() handlers.Invoker {
	return &handlers.Scorer{Tokenizer: c.Tokenizer, Metric: c.Metric}
}

func (c *ScoringContext) StrictStatusCodes() bool {
	return c.strict
}

func (c *ScoringContext) GetStats() []string {
	return []string{
		"Statistics for scoring context",
		timingsLine("Tokenizer", c.Tokenizer.TokenizerTimings),
	}
}

func (c *ScoringContext) Destroy() error {
	return c.Tokenizer.Destroy()
}

// GenerationContext is the loaded tokenizer and seq2seq model behind the generation handler.
// It is read-only once constructed.
type GenerationContext struct {
	Tokenizer *backends.Tokenizer
	Model     *backends.Seq2SeqModel
	Timeout   time.Duration
	strict    bool
}

// NewGenerationContext loads the seq2seq graphs, config files and tokenizer from modelPath.
// Encoded inputs are truncated to the configured input limit, or to the model's position limit.
func NewGenerationContext(s *Session, modelPath string) (*GenerationContext, error) {
	model, err := backends.LoadSeq2SeqModel(modelPath, s.options)
	if err != nil {
		if s.options.Backend == options.BackendGO {
			return nil, loadError("seq2seq model at %s (T5 generation needs the ORT backend, build with -tags ORT): %w", modelPath, err)
		}
		return nil, loadError("seq2seq model at %s: %w", modelPath, err)
	}
	maxInputTokens := model.Config.MaxPositions
	if s.options.GenerationOptions.MaxInputTokens > 0 {
		maxInputTokens = s.options.GenerationOptions.MaxInputTokens
	}
	tk, err := backends.LoadTokenizer(modelPath, s.options, maxInputTokens)
	if err != nil {
		return nil, errors.Join(loadError("tokenizer at %s: %w", modelPath, err), model.Destroy())
	}
	c := &GenerationContext{
		Tokenizer: tk,
		Model:     model,
		Timeout:   s.options.GenerationOptions.Timeout,
		strict:    s.options.StrictStatusCodes,
	}
	s.register(c)
	return c, nil
}

func (c *GenerationContext) Ready() bool {
	return c != nil && c.Tokenizer != nil && c.Model != nil
}

// Handler returns the generation invoker bound to this context.
func (c *GenerationContext) Handler() handlers.Invoker {
	return &handlers.Generator{Codec: c.Tokenizer, Model: c.Model, Timeout: c.Timeout}
}

func (c *GenerationContext) StrictStatusCodes() bool {
	return c.strict
}

func (c *GenerationContext) GetStats() []string {
	return []string{
		"Statistics for generation context",
		timingsLine("Tokenizer", c.Tokenizer.TokenizerTimings),
		timingsLine("Generation", c.Model.GenerationTimings),
	}
}

func (c *GenerationContext) Destroy() error {
	return errors.Join(c.Tokenizer.Destroy(), c.Model.Destroy())
}

type statsSource interface {
	Stats() (uint64, time.Duration)
}

func timingsLine(name string, t statsSource) string {
	calls, total := t.Stats()
	average := time.Duration(0)
	if calls > 0 {
		average = total / time.Duration(calls)
	}
	return fmt.Sprintf("%s: Total time=%s, Execution count=%d, Average query time=%s", name, total, calls, average)
}
