package handlers

import (
	"context"
	"fmt"
)

type Tokenizer interface {
	Tokenize(text string) ([]string, error)
}

type Metric interface {
	Score(reference, candidate []string) (float64, error)
}

type ScoreOutput struct {
	BleuScore float64 `json:"bleu_score"`
}

// Scorer scores a candidate text against a reference. Missing fields default to "".
type Scorer struct {
	Tokenizer Tokenizer
	Metric    Metric
}

func (s *Scorer) Invoke(_ context.Context, event Event) Result {
	envelope, err := DecodeEnvelope(event.Body)
	if err != nil {
		return Failure(err)
	}
	reference, _, err := envelope.String("reference")
	if err != nil {
		return Failure(err)
	}
	candidate, _, err := envelope.String("candidate")
	if err != nil {
		return Failure(err)
	}

	referenceTokens, err := s.Tokenizer.Tokenize(reference)
	if err != nil {
		return Failure(fmt.Errorf("tokenizing reference: %w", err))
	}
	candidateTokens, err := s.Tokenizer.Tokenize(candidate)
	if err != nil {
		return Failure(fmt.Errorf("tokenizing candidate: %w", err))
	}
	score, err := s.Metric.Score(referenceTokens, candidateTokens)
	if err != nil {
		return Failure(fmt.Errorf("scoring: %w", err))
	}
	return Success(ScoreOutput{BleuScore: score})
}
