package shared

import (
	"context"
	"errors"

	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/tracklink/server/pkg/models"
)

// ErrNotFound is returned by Database lookups that found no record.
var ErrNotFound = errors.New("record not found")

// --- Persistence Interfaces ---

type Database interface {
	// Provider connections
	GetConnection(ctx context.Context, userID, provider string) (*models.ProviderConnection, error)
	SetConnection(ctx context.Context, conn *models.ProviderConnection) error
	UpdateConnection(ctx context.Context, userID, provider string, data map[string]interface{}) error
	DeleteConnection(ctx context.Context, userID, provider string) error
	FindConnectionByAthlete(ctx context.Context, provider, athleteID string) (*models.ProviderConnection, error)

	// Sync runs (append-only audit trail)
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	UpdateSyncRun(ctx context.Context, id string, data map[string]interface{}) error

	// Activities
	UpsertActivity(ctx context.Context, activity *models.Activity) error
	DeleteActivity(ctx context.Context, provider, athleteID, externalID string) error

	// Webhook events. CreateWebhookEvent is an atomic find-or-create on the
	// event's id: created=true means this call inserted the row, otherwise
	// the previously stored row is returned unchanged.
	CreateWebhookEvent(ctx context.Context, ev *models.WebhookEvent) (created bool, existing *models.WebhookEvent, err error)
	UpdateWebhookEvent(ctx context.Context, id string, data map[string]interface{}) error
}

// --- Messaging Interfaces ---

type Publisher interface {
	PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error)
}

// --- Storage Interfaces ---

type BlobStore interface {
	Write(ctx context.Context, bucket, object string, data []byte) error
	Read(ctx context.Context, bucket, object string) ([]byte, error)
}

// --- Secret Interfaces ---

type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
}
