package handlers

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrMissingInput = errors.New("missing input")
	ErrNotReady     = errors.New("model is not loaded yet")
)

type ErrorCategory int

const (
	CategoryNone ErrorCategory = iota
	CategoryInput
	CategoryInference
	CategoryTimeout
	CategoryNotReady
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryInput:
		return "input"
	case CategoryInference:
		return "inference"
	case CategoryTimeout:
		return "timeout"
	case CategoryNotReady:
		return "not_ready"
	default:
		return "none"
	}
}

// inputError marks a failure caused by the request rather than the model.
type inputError struct {
	err error
}

func (e *inputError) Error() string { return e.err.Error() }
func (e *inputError) Unwrap() error { return e.err }

func InputError(err error) error {
	if err == nil {
		return nil
	}
	return &inputError{err: err}
}

// Result is the outcome of one invocation: a payload on success, an error and its
// category otherwise.
type Result struct {
	Payload  any
	Err      error
	Category ErrorCategory
}

func Success(payload any) Result {
	return Result{Payload: payload}
}

// Failure classifies err: input errors, deadlines and readiness are recognised,
// everything else is an inference error.
func Failure(err error) Result {
	category := CategoryInference
	var inErr *inputError
	switch {
	case errors.As(err, &inErr), errors.Is(err, ErrMissingInput):
		category = CategoryInput
	case errors.Is(err, context.DeadlineExceeded):
		category = CategoryTimeout
	case errors.Is(err, ErrNotReady):
		category = CategoryNotReady
	}
	return Result{Err: err, Category: category}
}

func (r Result) OK() bool {
	return r.Err == nil
}

// StatusCode maps the result to an HTTP status. Without strict codes every failure is a 500.
func (r Result) StatusCode(strict bool) int {
	if r.Err == nil {
		return http.StatusOK
	}
	if !strict {
		return http.StatusInternalServerError
	}
	switch r.Category {
	case CategoryInput:
		return http.StatusBadRequest
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	case CategoryNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// Response encodes the result into the host response envelope.
func (r Result) Response(strict bool) Response {
	var payload any = r.Payload
	if r.Err != nil {
		payload = errorBody{Error: r.Err.Error()}
	}
	body, err := json.MarshalToString(payload)
	if err != nil {
		body, _ = json.MarshalToString(errorBody{Error: "encoding response: " + err.Error()})
		return Response{StatusCode: http.StatusInternalServerError, Body: body}
	}
	return Response{StatusCode: r.StatusCode(strict), Body: body}
}
