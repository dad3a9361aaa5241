package serverless

import (
	"github.com/knights-analytics/hugot-serverless/options"
)

// NewGoSession creates a session running models with the pure go onnx interpreter and
// the go tokenizer. It needs no shared libraries.
func NewGoSession(opts ...options.WithOption) (*Session, error) {
	return newSession(options.BackendGO, nil, opts...)
}
