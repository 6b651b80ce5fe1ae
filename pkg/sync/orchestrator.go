// Package sync pulls activities from a provider for one user and
// records the outcome as an append-only SyncRun audit trail.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	shared "github.com/tracklink/server/pkg"
	infrastorage "github.com/tracklink/server/pkg/infrastructure/storage"
	"github.com/tracklink/server/pkg/models"
	"github.com/tracklink/server/pkg/provider"
	"github.com/tracklink/server/pkg/token"
)

// Options narrows one orchestrator invocation. ExternalActivityID
// switches from a bounded listing to a single-activity fetch (the
// webhook path). WithStreams additionally fetches and archives
// telemetry for each imported activity.
type Options struct {
	ExternalActivityID string
	WithStreams        bool
	Before             string
	After              string
	Page               int
	PerPage            int
}

// Orchestrator wires token resolution, the provider API client and the
// payload mapper into one sync pass with SyncRun bookkeeping.
type Orchestrator struct {
	db       shared.Database
	registry *provider.Registry
	tokens   *token.Manager
	store    shared.BlobStore
	bucket   string
	logger   *slog.Logger
}

func NewOrchestrator(db shared.Database, registry *provider.Registry, tokens *token.Manager, store shared.BlobStore, bucket string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		db:       db,
		registry: registry,
		tokens:   tokens,
		store:    store,
		bucket:   bucket,
		logger:   logger.With("component", "sync-orchestrator"),
	}
}

// Sync performs one run. The returned SyncRun always reflects the
// terminal state that was persisted; provider errors are re-raised
// alongside it so a synchronous caller can map them to a transport
// status while an asynchronous caller just keeps the run record.
func (o *Orchestrator) Sync(ctx context.Context, userID, providerName string, opts Options) (*models.SyncRun, error) {
	integration, err := o.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &models.SyncRun{
		ID:       uuid.NewString(),
		UserID:   userID,
		Provider: providerName,
		Status:   models.SyncStatusQueued,
		QueuedAt: now,
	}
	if err := o.db.CreateSyncRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}

	started := time.Now().UTC()
	run.Status = models.SyncStatusRunning
	run.StartedAt = &started
	if err := o.db.UpdateSyncRun(ctx, run.ID, map[string]interface{}{
		"status":     string(models.SyncStatusRunning),
		"started_at": started,
	}); err != nil {
		return nil, fmt.Errorf("mark sync run running: %w", err)
	}

	accessToken, err := o.tokens.ValidAccessToken(ctx, userID, providerName)
	if err != nil {
		return run, o.finish(ctx, run, err)
	}

	conn, err := o.db.GetConnection(ctx, userID, providerName)
	if err != nil {
		return run, o.finish(ctx, run, fmt.Errorf("load connection: %w", err))
	}

	payloads, err := o.fetch(ctx, integration.Client, accessToken, opts)
	if err != nil {
		return run, o.finish(ctx, run, err)
	}

	imported := 0
	for _, raw := range payloads {
		mapped, err := integration.Mapper.MapActivity(raw)
		if err != nil {
			// A single malformed activity does not fail the whole run.
			o.logger.Warn("Skipping unmappable activity payload", "user_id", userID, "provider", providerName, "error", err)
			continue
		}
		if err := o.persist(ctx, integration, conn, accessToken, mapped, opts); err != nil {
			return run, o.finish(ctx, run, err)
		}
		imported++
	}

	run.ImportedCount = imported
	return run, o.finish(ctx, run, nil)
}

// fetch pulls either one activity or a bounded listing.
func (o *Orchestrator) fetch(ctx context.Context, client provider.Client, accessToken string, opts Options) ([]json.RawMessage, error) {
	if opts.ExternalActivityID != "" {
		raw, err := client.GetActivity(ctx, accessToken, opts.ExternalActivityID)
		if err != nil {
			return nil, err
		}
		return []json.RawMessage{raw}, nil
	}
	return client.ListActivities(ctx, accessToken, provider.ListFilters{
		Before:  opts.Before,
		After:   opts.After,
		Page:    opts.Page,
		PerPage: opts.PerPage,
	})
}

// persist upserts the canonical activity row, archiving streams when
// requested. Stream failures degrade to a warning; the imported
// activity stands on its own.
func (o *Orchestrator) persist(ctx context.Context, integration *provider.Integration, conn *models.ProviderConnection, accessToken string, mapped *provider.ExternalActivity, opts Options) error {
	athleteID := mapped.AthleteID
	if athleteID == "" {
		athleteID = conn.ProviderAthleteID
	}

	activity := &models.Activity{
		AthleteID:           athleteID,
		Provider:            conn.Provider,
		ExternalID:          mapped.ExternalID,
		Sport:               mapped.Sport,
		Name:                mapped.Name,
		StartedAt:           mapped.StartedAt,
		DurationSeconds:     mapped.DurationSeconds,
		DistanceMeters:      mapped.DistanceMeters,
		ElevationGainMeters: mapped.ElevationGainMeters,
		RawPayload:          mapped.Raw,
		UpdatedAt:           time.Now().UTC(),
	}

	if opts.WithStreams && o.bucket != "" {
		if uri, err := o.archiveStreams(ctx, integration, accessToken, athleteID, mapped.ExternalID); err != nil {
			o.logger.Warn("Stream archive failed", "provider", conn.Provider, "external_id", mapped.ExternalID, "error", err)
		} else if uri != "" {
			activity.StreamsURI = uri
		}
	}

	if err := o.db.UpsertActivity(ctx, activity); err != nil {
		return fmt.Errorf("upsert activity %s: %w", mapped.ExternalID, err)
	}
	return nil
}

// archiveStreams fetches the full default stream set and writes the raw
// payload to the archive bucket. Activity rows keep a gs:// URI rather
// than the payload itself; stream payloads routinely exceed document
// size limits.
func (o *Orchestrator) archiveStreams(ctx context.Context, integration *provider.Integration, accessToken, athleteID, externalID string) (string, error) {
	raw, err := integration.Client.GetStreams(ctx, accessToken, externalID, nil)
	if err != nil {
		return "", err
	}
	mapped, err := integration.Mapper.MapStreams(externalID, raw)
	if err != nil {
		return "", err
	}
	if len(mapped.AvailableStreams) == 0 {
		return "", nil
	}

	object := fmt.Sprintf("streams/%s/%s/%s.json", integration.Config.Name, athleteID, externalID)
	if err := o.store.Write(ctx, o.bucket, object, raw); err != nil {
		return "", fmt.Errorf("write stream archive: %w", err)
	}
	return infrastorage.URI(o.bucket, object), nil
}

// finish records the terminal state on the run and mirrors it onto the
// connection's last-sync bookkeeping, then re-raises the causing error.
func (o *Orchestrator) finish(ctx context.Context, run *models.SyncRun, cause error) error {
	finished := time.Now().UTC()
	run.FinishedAt = &finished

	switch {
	case cause == nil:
		run.Status = models.SyncStatusSuccess
		run.Reason = ""
	case isRateLimited(cause):
		run.Status = models.SyncStatusRateLimited
		run.Reason = cause.Error()
	default:
		run.Status = models.SyncStatusFailed
		run.Reason = cause.Error()
	}

	updates := map[string]interface{}{
		"status":         string(run.Status),
		"reason":         run.Reason,
		"imported_count": run.ImportedCount,
		"finished_at":    finished,
	}
	if err := o.db.UpdateSyncRun(ctx, run.ID, updates); err != nil {
		o.logger.Error("Failed to record sync run outcome", "run_id", run.ID, "error", err)
	}

	connUpdates := map[string]interface{}{
		"last_sync_status": string(run.Status),
		"last_sync_reason": run.Reason,
	}
	if run.Status == models.SyncStatusSuccess {
		connUpdates["last_synced_at"] = finished
	}
	if err := o.db.UpdateConnection(ctx, run.UserID, run.Provider, connUpdates); err != nil {
		// A missing connection is expected when the token was never stored.
		if !errors.Is(err, shared.ErrNotFound) {
			o.logger.Warn("Failed to update connection bookkeeping", "user_id", run.UserID, "provider", run.Provider, "error", err)
		}
	}

	return cause
}

func isRateLimited(err error) bool {
	var rateLimited *provider.RateLimitedError
	return errors.As(err, &rateLimited)
}
