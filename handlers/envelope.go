// Package handlers implements the scoring and generation invocations and their JSON envelopes.
package handlers

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is the host event. Body holds the request JSON as a string.
type Event struct {
	Body string `json:"body"`
}

// Response is the host response. Body holds the result JSON as a string.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Envelope holds the named fields decoded from an event body.
type Envelope map[string]any

// DecodeEnvelope parses body as a JSON object. An empty body decodes to an empty envelope.
func DecodeEnvelope(body string) (Envelope, error) {
	envelope := Envelope{}
	if strings.TrimSpace(body) == "" {
		return envelope, nil
	}
	if err := json.UnmarshalFromString(body, &envelope); err != nil {
		return nil, InputError(fmt.Errorf("request body is not a JSON object: %w", err))
	}
	return envelope, nil
}

// String returns the string field name. A missing or null field is reported as absent,
// a field of any other type is an input error.
func (e Envelope) String(name string) (string, bool, error) {
	raw, ok := e[name]
	if !ok || raw == nil {
		return "", false, nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", false, InputError(fmt.Errorf("field %s must be a string, got %T", name, raw))
	}
	return value, true, nil
}
