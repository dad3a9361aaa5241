package handlers

import (
	"context"
	"fmt"
	"time"
)

type TextCodec interface {
	Encode(text string) ([]uint32, error)
	Decode(ids []uint32) (string, error)
}

type SequenceGenerator interface {
	Generate(ctx context.Context, inputIDs []uint32) ([]uint32, error)
}

type GenerateOutput struct {
	OutputText string `json:"output_text"`
}

// Generator produces text from input_text. Timeout bounds each invocation, zero disables it.
type Generator struct {
	Codec   TextCodec
	Model   SequenceGenerator
	Timeout time.Duration
}

func (g *Generator) Invoke(ctx context.Context, event Event) Result {
	envelope, err := DecodeEnvelope(event.Body)
	if err != nil {
		return Failure(err)
	}
	inputText, _, err := envelope.String("input_text")
	if err != nil {
		return Failure(err)
	}
	if inputText == "" {
		return Failure(fmt.Errorf("%w: input_text is required", ErrMissingInput))
	}

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	inputIDs, err := g.Codec.Encode(inputText)
	if err != nil {
		return Failure(fmt.Errorf("encoding input_text: %w", err))
	}
	outputIDs, err := g.Model.Generate(ctx, inputIDs)
	if err != nil {
		return Failure(fmt.Errorf("generating: %w", err))
	}
	outputText, err := g.Codec.Decode(outputIDs)
	if err != nil {
		return Failure(fmt.Errorf("decoding output: %w", err))
	}
	return Success(GenerateOutput{OutputText: outputText})
}
