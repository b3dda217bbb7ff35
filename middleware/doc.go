// Package middleware provides composable middleware for step invocations.
//
// A [Middleware] is a function that wraps a step invocation handler.
// Middleware are composed into a chain using [Chain] and applied around
// every plugin invocation the executor makes. They are applied
// right-to-left: the first middleware in the slice is the outermost
// wrapper.
//
//	// recover → logging → handler
//	chain := middleware.Chain(middleware.Recover(logger), middleware.Logging(logger))
//
// # Built-in Middleware
//
//   - [Recover] — catches panics in plugin handles and converts them to errors
//   - [Logging] — logs step id, plugin, duration, and outcome per attempt
//   - [Timeout] — cancels the invocation context after the step's deadline
//   - [Tracing] — wraps the invocation in an OpenTelemetry span
//   - [Metrics] — records per-step duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, inv *middleware.Invocation, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
