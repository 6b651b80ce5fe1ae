// Package framework wraps cloud function entry points with the shared
// logging and error-reporting plumbing.
package framework

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/tracklink/server/pkg/bootstrap"
	sentryutil "github.com/tracklink/server/pkg/infrastructure/sentry"
)

// FrameworkContext carries the dependencies injected into a handler.
type FrameworkContext struct {
	Service      *bootstrap.Service
	Logger       *slog.Logger
	InvocationID string
}

// HandlerFunc is the signature for a cloud function handler.
type HandlerFunc func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) error

// WrapCloudEvent wraps a handler with invocation logging and Sentry
// reporting. The returned error propagates to the functions runtime so
// Pub/Sub redelivery still applies.
func WrapCloudEvent(serviceName string, svc *bootstrap.Service, handler HandlerFunc) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) error {
		invocationID := uuid.NewString()

		opts := bootstrap.GetSlogHandlerOptions(logLevelFromEnv())
		logger := slog.New(slog.NewJSONHandler(os.Stdout, opts)).
			With("service", serviceName, "invocation_id", invocationID)

		logger.Info("Function started", "event_type", e.Type(), "event_source", e.Source())
		started := time.Now()

		fwCtx := &FrameworkContext{
			Service:      svc,
			Logger:       logger,
			InvocationID: invocationID,
		}

		if err := handler(ctx, e, fwCtx); err != nil {
			logger.Error("Function failed", "error", err, "duration_ms", time.Since(started).Milliseconds())
			sentryutil.CaptureException(err, map[string]interface{}{
				"service":       serviceName,
				"invocation_id": invocationID,
				"event_type":    e.Type(),
			}, logger)
			sentryutil.Flush(2 * time.Second)
			return err
		}

		logger.Info("Function completed", "duration_ms", time.Since(started).Milliseconds())
		return nil
	}
}

func logLevelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
