package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs invocation start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) error {
		logger.Debug("step invocation started",
			slog.String("execution_id", inv.ExecutionID.String()),
			slog.String("step_id", inv.StepID),
			slog.String("plugin_id", inv.PluginID),
			slog.String("operation", inv.Operation),
			slog.Int("attempt", inv.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("step invocation failed",
				slog.String("execution_id", inv.ExecutionID.String()),
				slog.String("step_id", inv.StepID),
				slog.String("plugin_id", inv.PluginID),
				slog.Duration("elapsed", elapsed),
				slog.Int("attempt", inv.Attempt),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("step invocation completed",
				slog.String("execution_id", inv.ExecutionID.String()),
				slog.String("step_id", inv.StepID),
				slog.String("plugin_id", inv.PluginID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
