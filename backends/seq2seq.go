package backends

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/knights-analytics/hugot-serverless/options"
	"github.com/knights-analytics/hugot-serverless/util/fileutil"
	"github.com/knights-analytics/hugot-serverless/util/safeconv"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultMaxLength mirrors the huggingface generate() default, which counts the decoder start token.
const defaultMaxLength = 20

const (
	pastPrefix    = "past_key_values."
	presentPrefix = "present."
)

// Seq2SeqConfig holds the special tokens and limits of an encoder-decoder model (T5, BART, ...).
type Seq2SeqConfig struct {
	EosTokenIDs         map[int64]bool
	DecoderStartTokenID int64
	PadTokenID          int64
	VocabSize           int
	MaxPositions        int
	MaxNewTokens        int
}

// Seq2SeqModel bundles the three graphs of a seq2seq export:
//   - the encoder
//   - the first decoder step, without past key values (fastT5 decoder-init, optimum decoder_model)
//   - the decoder with past key values (fastT5 decoder, optimum decoder_with_past_model)
type Seq2SeqModel struct {
	Encoder           *Model
	DecoderInit       *Model
	Decoder           *Model
	Config            *Seq2SeqConfig
	GenerationTimings *timings
	MaxNewTokens      int
}

// LoadSeq2SeqConfig reads config.json (required) and generation_config.json (optional) from modelPath.
func LoadSeq2SeqConfig(modelPath string) (*Seq2SeqConfig, error) {
	configMap, err := readJSONMap(fileutil.PathJoinSafe(modelPath, "config.json"), true)
	if err != nil {
		return nil, err
	}

	config := &Seq2SeqConfig{EosTokenIDs: map[int64]bool{}}
	if v, ok := configMap["decoder_start_token_id"].(float64); ok {
		config.DecoderStartTokenID = int64(v)
	}
	if v, ok := configMap["pad_token_id"].(float64); ok {
		config.PadTokenID = int64(v)
	}
	if v, ok := configMap["vocab_size"].(float64); ok {
		config.VocabSize = int(v)
	}
	if v, ok := configMap["n_positions"].(float64); ok {
		config.MaxPositions = int(v)
	} else if v, ok := configMap["max_position_embeddings"].(float64); ok {
		config.MaxPositions = int(v)
	}
	if err = parseEosTokenIDs(configMap["eos_token_id"], config.EosTokenIDs); err != nil {
		return nil, err
	}

	generationMap, err := readJSONMap(fileutil.PathJoinSafe(modelPath, "generation_config.json"), false)
	if err != nil {
		return nil, err
	}
	maxLength := defaultMaxLength
	if v, ok := configMap["max_length"].(float64); ok {
		maxLength = int(v)
	}
	if v, ok := generationMap["max_length"].(float64); ok {
		maxLength = int(v)
	}
	config.MaxNewTokens = maxLength - 1
	if v, ok := generationMap["max_new_tokens"].(float64); ok {
		config.MaxNewTokens = int(v)
	}
	if v, ok := generationMap["decoder_start_token_id"].(float64); ok {
		config.DecoderStartTokenID = int64(v)
	}
	if err = parseEosTokenIDs(generationMap["eos_token_id"], config.EosTokenIDs); err != nil {
		return nil, err
	}
	return config, nil
}

func readJSONMap(filePath string, required bool) (map[string]any, error) {
	configMap := map[string]any{}
	exists, err := fileutil.FileExists(filePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		if required {
			return nil, fmt.Errorf("%s not found", filePath)
		}
		return configMap, nil
	}
	configBytes, err := fileutil.ReadFileBytes(filePath)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(configBytes, &configMap); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filePath, err)
	}
	return configMap, nil
}

func parseEosTokenIDs(raw any, into map[int64]bool) error {
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		into[int64(v)] = true
	case []any:
		for i, item := range v {
			num, ok := item.(float64)
			if !ok {
				return fmt.Errorf("eos_token_id contains non-numeric value at index %d", i)
			}
			into[int64(num)] = true
		}
	default:
		return errors.New("eos_token_id must be either a number or an array of numbers")
	}
	return nil
}

// LoadSeq2SeqModel loads config and the three onnx graphs found under modelPath.
func LoadSeq2SeqModel(modelPath string, opts *options.Options) (*Seq2SeqModel, error) {
	config, err := LoadSeq2SeqConfig(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	encoderFile, decoderInitFile, decoderFile, err := findSeq2SeqOnnxFiles(modelPath)
	if err != nil {
		return nil, err
	}

	m := &Seq2SeqModel{Config: config, GenerationTimings: &timings{}, MaxNewTokens: config.MaxNewTokens}
	if opts.GenerationOptions != nil && opts.GenerationOptions.MaxNewTokens > 0 {
		m.MaxNewTokens = opts.GenerationOptions.MaxNewTokens
	}

	if m.Encoder, err = LoadModel(modelPath, encoderFile, opts); err != nil {
		return nil, fmt.Errorf("loading encoder: %w", err)
	}
	if m.DecoderInit, err = LoadModel(modelPath, decoderInitFile, opts); err != nil {
		return nil, errors.Join(fmt.Errorf("loading decoder-init: %w", err), m.Destroy())
	}
	if m.Decoder, err = LoadModel(modelPath, decoderFile, opts); err != nil {
		return nil, errors.Join(fmt.Errorf("loading decoder: %w", err), m.Destroy())
	}
	if err = m.Validate(); err != nil {
		return nil, errors.Join(fmt.Errorf("validation: %w", err), m.Destroy())
	}
	if err = m.WarmUp(context.Background()); err != nil {
		return nil, errors.Join(fmt.Errorf("warm-up on %s backend: %w", opts.Backend, err), m.Destroy())
	}
	return m, nil
}

// warmUpTokens is enough to run decoder-init and decoder-with-past once each.
const warmUpTokens = 2

// WarmUp runs the encoder, decoder-init and decoder-with-past once on a single EOS token.
// A backend that parses the graphs but cannot execute them fails here. Warm-up runs are
// not recorded in GenerationTimings.
func (m *Seq2SeqModel) WarmUp(ctx context.Context) error {
	eos := int64(-1)
	for id := range m.Config.EosTokenIDs {
		if eos < 0 || id < eos {
			eos = id
		}
	}
	if eos < 0 {
		return errors.New("no EOS token IDs configured")
	}
	_, err := m.generate(ctx, []int64{eos}, min(warmUpTokens, m.MaxNewTokens), false)
	return err
}

// Validate checks that the model is complete.
func (m *Seq2SeqModel) Validate() error {
	var errs []error
	for _, part := range []struct {
		model *Model
		name  string
	}{{m.Encoder, "encoder"}, {m.DecoderInit, "decoder-init"}, {m.Decoder, "decoder"}} {
		if part.model == nil {
			errs = append(errs, fmt.Errorf("%s model not loaded", part.name))
			continue
		}
		if !part.model.hasInput("input_ids") {
			errs = append(errs, fmt.Errorf("%s model has no input_ids input", part.name))
		}
	}
	if m.Config == nil || len(m.Config.EosTokenIDs) == 0 {
		errs = append(errs, errors.New("no EOS token IDs configured"))
	}
	if m.MaxNewTokens <= 0 {
		errs = append(errs, errors.New("maxNewTokens must be positive"))
	}
	return errors.Join(errs...)
}

func (m *Seq2SeqModel) Destroy() error {
	var errs []error
	for _, model := range []*Model{m.Encoder, m.DecoderInit, m.Decoder} {
		if model != nil && model.Destroy != nil {
			errs = append(errs, model.Destroy())
		}
	}
	return errors.Join(errs...)
}

// Generate runs greedy decoding for a single encoded input. It stops at an EOS token, after
// MaxNewTokens, or when ctx is done; in the last case the returned error wraps ctx.Err().
func (m *Seq2SeqModel) Generate(ctx context.Context, inputIDs []uint32) ([]uint32, error) {
	if len(inputIDs) == 0 {
		return nil, errors.New("no input tokens to generate from")
	}
	defer m.GenerationTimings.record(time.Now())

	generated, err := m.generate(ctx, safeconv.Uint32SliceToInt64Slice(inputIDs), m.MaxNewTokens, true)
	if err != nil {
		return nil, err
	}
	return safeconv.Int64SliceToUint32Slice(generated), nil
}

func (m *Seq2SeqModel) generate(ctx context.Context, inputIDs []int64, maxNewTokens int, stopAtEos bool) ([]int64, error) {
	seqLen := int64(len(inputIDs))
	ids := NewInt64Tensor(NewShape(1, seqLen), inputIDs)
	mask := make([]int64, seqLen)
	for i := range mask {
		mask[i] = 1
	}
	attentionMask := NewInt64Tensor(NewShape(1, seqLen), mask)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("generation not started: %w", err)
	}
	hiddenStates, err := m.encode(ids, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}

	past := map[string]*Tensor{}
	next := m.Config.DecoderStartTokenID
	generated := make([]int64, 0, maxNewTokens)
	for step := 0; step < maxNewTokens; step++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("generation stopped after %d tokens: %w", step, ctxErr)
		}
		decoder := m.Decoder
		if step == 0 {
			decoder = m.DecoderInit
		}
		decoderInput := NewInt64Tensor(NewShape(1, 1), []int64{next})
		inputs, bindErr := bindDecoderInputs(decoder, decoderInput, attentionMask, hiddenStates, past)
		if bindErr != nil {
			return nil, fmt.Errorf("decoder step %d: %w", step, bindErr)
		}
		outputs, runErr := decoder.Session.Run(inputs)
		if runErr != nil {
			return nil, fmt.Errorf("decoder step %d: %w", step, runErr)
		}
		logits, ok := outputs["logits"]
		if !ok {
			return nil, fmt.Errorf("decoder step %d: no logits output", step)
		}
		next, err = argmaxLastPosition(logits)
		if err != nil {
			return nil, fmt.Errorf("decoder step %d: %w", step, err)
		}
		for name, t := range outputs {
			if strings.HasPrefix(name, presentPrefix) {
				past[strings.TrimPrefix(name, presentPrefix)] = t
			}
		}
		generated = append(generated, next)
		if stopAtEos && m.Config.EosTokenIDs[next] {
			break
		}
	}
	return generated, nil
}

func (m *Seq2SeqModel) encode(ids, attentionMask *Tensor) (*Tensor, error) {
	inputs := map[string]*Tensor{}
	for _, meta := range m.Encoder.InputsMeta {
		switch meta.Name {
		case "input_ids":
			inputs[meta.Name] = ids
		case "attention_mask":
			inputs[meta.Name] = attentionMask
		default:
			return nil, fmt.Errorf("encoder input %s not recognized", meta.Name)
		}
	}
	outputs, err := m.Encoder.Session.Run(inputs)
	if err != nil {
		return nil, err
	}
	if hidden, ok := outputs["last_hidden_state"]; ok {
		return hidden, nil
	}
	if len(m.Encoder.OutputsMeta) > 0 {
		if hidden, ok := outputs[m.Encoder.OutputsMeta[0].Name]; ok {
			return hidden, nil
		}
	}
	return nil, errors.New("encoder produced no hidden states")
}

func bindDecoderInputs(decoder *Model, decoderInput, attentionMask, hiddenStates *Tensor, past map[string]*Tensor) (map[string]*Tensor, error) {
	inputs := make(map[string]*Tensor, len(decoder.InputsMeta))
	for _, meta := range decoder.InputsMeta {
		switch {
		case meta.Name == "input_ids":
			inputs[meta.Name] = decoderInput
		case meta.Name == "encoder_attention_mask":
			inputs[meta.Name] = attentionMask
		case meta.Name == "encoder_hidden_states":
			inputs[meta.Name] = hiddenStates
		case strings.HasPrefix(meta.Name, pastPrefix):
			t, ok := past[strings.TrimPrefix(meta.Name, pastPrefix)]
			if !ok {
				return nil, fmt.Errorf("no past value for input %s", meta.Name)
			}
			inputs[meta.Name] = t
		default:
			return nil, fmt.Errorf("decoder input %s not recognized", meta.Name)
		}
	}
	return inputs, nil
}

// argmaxLastPosition picks the highest scoring token at the last sequence position of
// (batch=1, seq, vocab) logits.
func argmaxLastPosition(logits *Tensor) (int64, error) {
	if len(logits.Shape) == 0 || len(logits.Float32) == 0 {
		return 0, errors.New("empty logits")
	}
	vocabSize := int(logits.Shape[len(logits.Shape)-1])
	if vocabSize <= 0 || len(logits.Float32)%vocabSize != 0 {
		return 0, fmt.Errorf("logits shape %s does not match %d values", logits.Shape, len(logits.Float32))
	}
	last := logits.Float32[len(logits.Float32)-vocabSize:]
	maxIdx := 0
	for v := 1; v < vocabSize; v++ {
		if last[v] > last[maxIdx] {
			maxIdx = v
		}
	}
	return int64(maxIdx), nil
}

// findSeq2SeqOnnxFiles locates the seq2seq graphs under modelPath.
func findSeq2SeqOnnxFiles(modelPath string) (string, string, string, error) {
	onnxFiles, err := getOnnxFiles(modelPath)
	if err != nil {
		return "", "", "", err
	}
	encoder, decoderInit, decoder, err := SelectSeq2SeqOnnxFiles(onnxFiles)
	if err != nil {
		return "", "", "", fmt.Errorf("%w in %s", err, modelPath)
	}
	return encoder, decoderInit, decoder, nil
}

// SelectSeq2SeqOnnxFiles picks the encoder, the first-step decoder and the decoder with past
// key values out of files. Merged decoders are skipped and full precision files are preferred.
func SelectSeq2SeqOnnxFiles(files []string) (string, string, string, error) {
	if len(files) == 0 {
		return "", "", "", errors.New("no .onnx files found")
	}
	isEncoder := func(name string) bool {
		return strings.Contains(name, "encoder") && !strings.Contains(name, "decoder")
	}
	isDecoderInit := func(name string) bool {
		return strings.Contains(name, "init-decoder") || strings.Contains(name, "decoder-init") ||
			(strings.HasPrefix(name, "decoder_model") && !strings.Contains(name, "merged"))
	}
	isDecoder := func(name string) bool {
		if strings.Contains(name, "decoder_with_past") {
			return true
		}
		return strings.Contains(name, "decoder") && !isDecoderInit(name) && !strings.Contains(name, "merged")
	}

	encoder, err := pickOnnxFile(files, isEncoder)
	if err != nil {
		return "", "", "", fmt.Errorf("encoder: %w", err)
	}
	decoderInit, err := pickOnnxFile(files, isDecoderInit)
	if err != nil {
		return "", "", "", fmt.Errorf("decoder-init: %w", err)
	}
	decoder, err := pickOnnxFile(files, isDecoder)
	if err != nil {
		return "", "", "", fmt.Errorf("decoder: %w", err)
	}
	return encoder, decoderInit, decoder, nil
}

func pickOnnxFile(files []string, match func(name string) bool) (string, error) {
	var quantized string
	for _, file := range files {
		name := strings.ToLower(path.Base(file))
		if !match(name) {
			continue
		}
		if isReducedPrecision(name) {
			if quantized == "" {
				quantized = file
			}
			continue
		}
		return file, nil
	}
	if quantized != "" {
		return quantized, nil
	}
	return "", errors.New("no matching onnx file")
}

func isReducedPrecision(name string) bool {
	for _, marker := range []string{"quantized", "int8", "uint8", "fp16", "q4", "bnb4"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}
