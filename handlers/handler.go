package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/phuslu/log"
)

// Invoker handles one event against a loaded model context.
type Invoker interface {
	Invoke(ctx context.Context, event Event) Result
}

// Handle runs the invocation, recovering panics, logs the outcome and encodes the response.
func Handle(ctx context.Context, name string, invoker Invoker, event Event, strictStatusCodes bool) Response {
	start := time.Now()
	log.Debug().Str("handler", name).Str("body", event.Body).Msg("event received")

	result := invoke(ctx, invoker, event)
	response := result.Response(strictStatusCodes)

	entry := log.Info()
	if !result.OK() {
		entry = log.Warn().Err(result.Err).Str("category", result.Category.String())
	}
	entry.Str("handler", name).Int("status", response.StatusCode).Dur("latency", time.Since(start)).Msg("event handled")
	return response
}

func invoke(ctx context.Context, invoker Invoker, event Event) (result Result) {
	defer func() {
		if p := recover(); p != nil {
			result = Failure(fmt.Errorf("invocation panicked: %v", p))
		}
	}()
	if invoker == nil {
		return Failure(ErrNotReady)
	}
	return invoker.Invoke(ctx, event)
}
