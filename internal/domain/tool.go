package domain

import "context"

// Tool is a named, model-invokable function with a fixed input schema.
// Execute returns a JSON-serializable result string. Tool-level failures are
// encoded in the result (success=false plus a message the model relays to
// the user verbatim); a Go error means the tool itself could not run.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}
