package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in plugin handles.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("plugin invocation panicked",
					slog.String("step_id", inv.StepID),
					slog.String("plugin_id", inv.PluginID),
					slog.String("operation", inv.Operation),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in step %s (plugin %s): %v", inv.StepID, inv.PluginID, r)
			}
		}()
		return next(ctx)
	}
}
