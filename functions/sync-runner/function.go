// Package syncrunner is the Pub/Sub-triggered worker that executes sync
// requests queued by the webhook processor or the API.
package syncrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/tracklink/server/pkg/bootstrap"
	"github.com/tracklink/server/pkg/framework"
	"github.com/tracklink/server/pkg/integrations"
	"github.com/tracklink/server/pkg/provider"
	syncengine "github.com/tracklink/server/pkg/sync"
	"github.com/tracklink/server/pkg/token"
	"github.com/tracklink/server/pkg/types"
)

var (
	svc      *bootstrap.Service
	registry *provider.Registry
	svcOnce  sync.Once
	svcErr   error
)

func init() {
	functions.CloudEvent("RunSync", RunSync)
}

func initService(ctx context.Context) (*bootstrap.Service, *provider.Registry, error) {
	svcOnce.Do(func() {
		baseSvc, err := bootstrap.NewService(ctx)
		if err != nil {
			slog.Error("Failed to initialize service", "error", err)
			svcErr = err
			return
		}
		reg, err := integrations.NewRegistry(ctx, baseSvc.Secrets, baseSvc.Config.PublicBaseURL, http.DefaultClient)
		if err != nil {
			slog.Error("Failed to build provider registry", "error", err)
			svcErr = err
			return
		}
		svc = baseSvc
		registry = reg
	})
	return svc, registry, svcErr
}

// RunSync is the entry point.
func RunSync(ctx context.Context, e event.Event) error {
	svc, registry, err := initService(ctx)
	if err != nil {
		return fmt.Errorf("service init failed: %v", err)
	}
	return framework.WrapCloudEvent("sync-runner", svc, runHandler(registry))(ctx, e)
}

func runHandler(registry *provider.Registry) framework.HandlerFunc {
	return func(ctx context.Context, e event.Event, fwCtx *framework.FrameworkContext) error {
		var msg types.PubSubMessage
		if err := e.DataAs(&msg); err != nil {
			return fmt.Errorf("event.DataAs: %v", err)
		}

		// The message body is itself a CloudEvent published by the
		// webhook processor; the sync request rides in its data.
		var req types.SyncRequest
		if err := decodeSyncRequest(msg.Message.Data, &req); err != nil {
			return fmt.Errorf("decode sync request: %v", err)
		}
		if req.UserID == "" || req.Provider == "" {
			return fmt.Errorf("sync request missing user or provider")
		}

		fwCtx.Logger.Info("Starting sync", "user_id", req.UserID, "provider", req.Provider, "external_id", req.ExternalActivityID)

		svc := fwCtx.Service
		tokens := token.NewManager(svc.DB, registry, svc.Cipher, fwCtx.Logger)
		orchestrator := syncengine.NewOrchestrator(svc.DB, registry, tokens, svc.Store, svc.Config.StreamArchiveBucket, fwCtx.Logger)

		run, err := orchestrator.Sync(ctx, req.UserID, req.Provider, syncengine.Options{
			ExternalActivityID: req.ExternalActivityID,
			WithStreams:        req.WithStreams,
		})
		if err != nil {
			// The terminal state is already on the SyncRun; redelivery
			// would only repeat a failure that is not transient.
			status := "unknown"
			if run != nil {
				status = string(run.Status)
			}
			fwCtx.Logger.Error("Sync finished with error", "status", status, "error", err)
			return nil
		}

		fwCtx.Logger.Info("Sync completed", "run_id", run.ID, "status", run.Status, "imported_count", run.ImportedCount)
		return nil
	}
}

// decodeSyncRequest accepts either a bare SyncRequest JSON body or a
// CloudEvent envelope wrapping one.
func decodeSyncRequest(data []byte, req *types.SyncRequest) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Data) > 0 {
		data = envelope.Data
	}
	return json.Unmarshal(data, req)
}
