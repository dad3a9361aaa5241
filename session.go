// Package serverless loads tokenizers and seq2seq models once per process and exposes them
// as handler contexts for BLEU scoring and text generation.
package serverless

import (
	"errors"

	"github.com/phuslu/log"

	"github.com/knights-analytics/hugot-serverless/options"
)

// Session owns the backend environment and every context created from it.
type Session struct {
	options            *options.Options
	contexts           []modelContext
	environmentDestroy func() error
}

type modelContext interface {
	Destroy() error
	GetStats() []string
}

func newSession(backend string, initialise func(*Session) error, opts ...options.WithOption) (*Session, error) {
	parsedOptions := options.Defaults()
	parsedOptions.Backend = backend
	for _, option := range opts {
		if err := option(parsedOptions); err != nil {
			return nil, err
		}
	}

	session := &Session{
		options: parsedOptions,
		environmentDestroy: func() error {
			return nil
		},
	}
	if initialise != nil {
		if err := initialise(session); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// Options returns the parsed session options.
func (s *Session) Options() *options.Options {
	return s.options
}

func (s *Session) register(c modelContext) {
	s.contexts = append(s.contexts, c)
}

// GetStats returns the call counts and timings of every context of the session.
func (s *Session) GetStats() []string {
	var stats []string
	for _, c := range s.contexts {
		stats = append(stats, c.GetStats()...)
	}
	return stats
}

// LogStats writes GetStats to the default logger.
func (s *Session) LogStats() {
	for _, line := range s.GetStats() {
		log.Info().Msg(line)
	}
}

// Destroy releases the contexts, the session options and the backend environment.
func (s *Session) Destroy() error {
	log.Info().Msg("Destroying model contexts")
	var errList []error
	for _, c := range s.contexts {
		errList = append(errList, c.Destroy())
	}
	s.contexts = nil
	if s.options.Destroy != nil {
		errList = append(errList, s.options.Destroy())
	}
	log.Info().Str("backend", s.options.Backend).Msg("Destroying backend environment")
	errList = append(errList, s.environmentDestroy())
	return errors.Join(errList...)
}
