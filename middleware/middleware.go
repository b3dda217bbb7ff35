package middleware

import (
	"context"
	"time"

	"github.com/conducthq/conduct/id"
)

// Invocation describes one step invocation attempt flowing through the
// chain. It is a flat value type so middleware never needs to import the
// workflow package.
type Invocation struct {
	ExecutionID id.ExecutionID
	WorkflowID  string
	StepID      string
	StepName    string
	PluginID    string
	Operation   string
	Timeout     time.Duration
	Attempt     int
	Critical    bool
}

// Handler is the terminal function that performs the plugin invocation.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the invocation being made, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, inv *Invocation, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(recover, tracing, logging) executes as:
//
//	recover → tracing → logging → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, inv, prev)
			}
		}
		return h(ctx)
	}
}
