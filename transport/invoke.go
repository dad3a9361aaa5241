package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/knights-analytics/hugot-serverless/handlers"
)

// InvokeOnce reads a single event, {"body": "..."}, from r and writes the response envelope to w.
func InvokeOnce(ctx context.Context, name string, invoker handlers.Invoker, strictStatusCodes bool, r io.Reader, w io.Writer) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading event: %w", err)
	}
	event := handlers.Event{}
	if err = json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}
	response := handlers.Handle(ctx, name, invoker, event, strictStatusCodes)
	encoded, err := json.Marshal(response)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}
