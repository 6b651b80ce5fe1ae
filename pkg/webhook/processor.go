// Package webhook turns inbound provider notifications into WebhookEvent
// ledger rows and dispatches sync work for the ones that matter.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	shared "github.com/tracklink/server/pkg"
	"github.com/tracklink/server/pkg/infrastructure/pubsub"
	"github.com/tracklink/server/pkg/models"
	"github.com/tracklink/server/pkg/provider"
	"github.com/tracklink/server/pkg/types"
)

// payload is the provider-agnostic shape of an inbound event body.
// Providers send numeric ids; json.Number keeps them lossless.
type payload struct {
	ObjectType     string      `json:"object_type"`
	ObjectID       json.Number `json:"object_id"`
	AspectType     string      `json:"aspect_type"`
	OwnerID        json.Number `json:"owner_id"`
	SubscriptionID json.Number `json:"subscription_id"`
	EventTime      json.Number `json:"event_time"`
}

const objectTypeActivity = "activity"

// Processor runs the received -> processed|ignored|failed state machine
// for one inbound notification. It never returns a processing failure
// to the transport; every outcome terminates in the ledger.
type Processor struct {
	db       shared.Database
	registry *provider.Registry
	pub      shared.Publisher
	logger   *slog.Logger
}

func NewProcessor(db shared.Database, registry *provider.Registry, pub shared.Publisher, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		db:       db,
		registry: registry,
		pub:      pub,
		logger:   logger.With("component", "webhook-processor"),
	}
}

// Process ingests one raw delivery. The returned WebhookEvent carries
// the terminal (or deduplicated prior) state; the error is non-nil only
// when the ledger itself is unreachable.
func (p *Processor) Process(ctx context.Context, providerName string, raw []byte) (*models.WebhookEvent, error) {
	integration, err := p.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	var body payload
	// Field extraction is best effort: a body that does not decode
	// still gets a ledger row keyed by its raw hash.
	_ = json.Unmarshal(raw, &body)

	hash := PayloadHash(raw)
	ev := &models.WebhookEvent{
		ID:              models.WebhookEventID(providerName, hash),
		Provider:        providerName,
		ExternalEventID: externalEventID(body),
		ObjectType:      body.ObjectType,
		ObjectID:        body.ObjectID.String(),
		AspectType:      body.AspectType,
		OwnerID:         body.OwnerID.String(),
		SubscriptionID:  body.SubscriptionID.String(),
		Status:          models.WebhookStatusReceived,
		PayloadHash:     hash,
		RawPayload:      raw,
		ReceivedAt:      time.Now().UTC(),
	}

	created, existing, err := p.db.CreateWebhookEvent(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if !created {
		p.logger.Info("Duplicate webhook delivery", "provider", providerName, "event_id", existing.ID, "status", existing.Status)
		return existing, nil
	}

	status, reason := p.run(ctx, integration, ev)
	p.settle(ctx, ev, status, reason)
	return ev, nil
}

// run executes the validation and dispatch steps. A panic or error
// anywhere inside lands the event in failed rather than escaping to
// the transport.
func (p *Processor) run(ctx context.Context, integration *provider.Integration, ev *models.WebhookEvent) (status models.WebhookStatus, reason string) {
	defer func() {
		if r := recover(); r != nil {
			status = models.WebhookStatusFailed
			reason = fmt.Sprintf("panic: %v", r)
			p.logger.Error("Webhook processing panicked", "event_id", ev.ID, "panic", r)
		}
	}()

	if want := integration.Config.WebhookSubscriptionID; want != "" {
		if subtle.ConstantTimeCompare([]byte(ev.SubscriptionID), []byte(want)) != 1 {
			return models.WebhookStatusIgnored, "subscription id mismatch"
		}
	}

	if ev.ObjectType != objectTypeActivity {
		return models.WebhookStatusIgnored, fmt.Sprintf("unsupported object type %q", ev.ObjectType)
	}
	if ev.OwnerID == "" {
		return models.WebhookStatusIgnored, "missing owner id"
	}

	conn, err := p.db.FindConnectionByAthlete(ctx, ev.Provider, ev.OwnerID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return models.WebhookStatusIgnored, "no local user connected"
		}
		return models.WebhookStatusFailed, fmt.Sprintf("look up connection: %v", err)
	}

	switch ev.AspectType {
	case models.AspectDelete:
		if ev.ObjectID == "" {
			// Nothing local can match an unnamed object; the deletion is
			// already satisfied.
			return models.WebhookStatusProcessed, ""
		}
		if err := p.db.DeleteActivity(ctx, ev.Provider, ev.OwnerID, ev.ObjectID); err != nil && !errors.Is(err, shared.ErrNotFound) {
			return models.WebhookStatusFailed, fmt.Sprintf("delete activity: %v", err)
		}
		return models.WebhookStatusProcessed, ""

	case models.AspectCreate, models.AspectUpdate:
		if ev.ObjectID == "" {
			return models.WebhookStatusIgnored, "missing object id"
		}
		if err := p.dispatch(ctx, conn, ev); err != nil {
			return models.WebhookStatusFailed, fmt.Sprintf("dispatch sync: %v", err)
		}
		return models.WebhookStatusProcessed, ""

	default:
		return models.WebhookStatusIgnored, fmt.Sprintf("unhandled aspect type %q", ev.AspectType)
	}
}

// dispatch hands the single-activity sync to the queue so the webhook
// acknowledgment does not wait on provider API latency.
func (p *Processor) dispatch(ctx context.Context, conn *models.ProviderConnection, ev *models.WebhookEvent) error {
	req := types.SyncRequest{
		UserID:             conn.UserID,
		Provider:           ev.Provider,
		ExternalActivityID: ev.ObjectID,
		WithStreams:        true,
		WebhookEventID:     ev.ID,
	}
	e, err := pubsub.NewCloudEvent(pubsub.SourceWebhookProcessor, pubsub.EventTypeSyncRequested, req)
	if err != nil {
		return err
	}
	msgID, err := p.pub.PublishCloudEvent(ctx, shared.TopicSyncRequests, e)
	if err != nil {
		return err
	}
	p.logger.Info("Sync requested", "user_id", conn.UserID, "provider", ev.Provider, "external_id", ev.ObjectID, "message_id", msgID)
	return nil
}

// settle writes the terminal status onto the ledger row. A write
// failure here only logs; the event object still reflects the outcome.
func (p *Processor) settle(ctx context.Context, ev *models.WebhookEvent, status models.WebhookStatus, reason string) {
	processed := time.Now().UTC()
	ev.Status = status
	ev.Reason = reason
	ev.ProcessedAt = &processed

	if err := p.db.UpdateWebhookEvent(ctx, ev.ID, map[string]interface{}{
		"status":       string(status),
		"reason":       reason,
		"processed_at": processed,
	}); err != nil {
		p.logger.Error("Failed to finalize webhook event", "event_id", ev.ID, "status", status, "error", err)
	}
}

// externalEventID joins whichever identifying fields the payload
// carried. Informational only.
func externalEventID(body payload) string {
	parts := make([]string, 0, 6)
	for _, v := range []string{
		body.SubscriptionID.String(),
		body.EventTime.String(),
		body.ObjectType,
		body.ObjectID.String(),
		body.AspectType,
		body.OwnerID.String(),
	} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ":")
}
