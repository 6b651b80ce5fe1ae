// Command api serves the HTTP surface of the engine: webhook ingestion
// and verification, manual sync, and the OAuth connect flow.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tracklink/server/pkg/api"
	"github.com/tracklink/server/pkg/bootstrap"
	sentryutil "github.com/tracklink/server/pkg/infrastructure/sentry"
	"github.com/tracklink/server/pkg/integrations"
	syncengine "github.com/tracklink/server/pkg/sync"
	"github.com/tracklink/server/pkg/token"
	"github.com/tracklink/server/pkg/webhook"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.NewLogger("api")

	svc, err := bootstrap.NewService(ctx)
	if err != nil {
		logger.Error("Service init failed", "error", err)
		os.Exit(1)
	}

	if err := sentryutil.Init(sentryutil.Config{DSN: os.Getenv("SENTRY_DSN"), Environment: os.Getenv("ENVIRONMENT")}, logger); err != nil {
		logger.Warn("Sentry init failed", "error", err)
	}
	defer sentryutil.Flush(2 * time.Second)

	registry, err := integrations.NewRegistry(ctx, svc.Secrets, svc.Config.PublicBaseURL, http.DefaultClient)
	if err != nil {
		logger.Error("Provider registry init failed", "error", err)
		os.Exit(1)
	}

	tokens := token.NewManager(svc.DB, registry, svc.Cipher, logger)
	orchestrator := syncengine.NewOrchestrator(svc.DB, registry, tokens, svc.Store, svc.Config.StreamArchiveBucket, logger)
	processor := webhook.NewProcessor(svc.DB, registry, svc.Pub, logger)
	handler := api.NewHandler(svc.DB, registry, processor, orchestrator, svc.Cipher, logger)

	server := &http.Server{
		Addr:              svc.Config.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Listening", "addr", server.Addr, "providers", registry.Names())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "error", err)
	}
	logger.Info("Shut down cleanly")
}
