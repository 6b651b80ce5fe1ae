package database

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/tracklink/server/pkg"
	"github.com/tracklink/server/pkg/models"
	storage "github.com/tracklink/server/pkg/storage/firestore"
)

// FirestoreAdapter provides database operations using Firestore
// It wraps our typed storage client
type FirestoreAdapter struct {
	storage *storage.Client
}

func NewFirestoreAdapter(client *firestore.Client) *FirestoreAdapter {
	return &FirestoreAdapter{
		storage: storage.NewClient(client),
	}
}

var _ shared.Database = (*FirestoreAdapter)(nil)

func (a *FirestoreAdapter) GetConnection(ctx context.Context, userID, provider string) (*models.ProviderConnection, error) {
	conn, err := a.storage.Connections().Doc(models.ConnectionID(userID, provider)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (a *FirestoreAdapter) SetConnection(ctx context.Context, conn *models.ProviderConnection) error {
	return a.storage.Connections().Doc(models.ConnectionID(conn.UserID, conn.Provider)).Set(ctx, conn)
}

func (a *FirestoreAdapter) UpdateConnection(ctx context.Context, userID, provider string, data map[string]interface{}) error {
	return a.storage.Connections().Doc(models.ConnectionID(userID, provider)).Update(ctx, data)
}

func (a *FirestoreAdapter) DeleteConnection(ctx context.Context, userID, provider string) error {
	return a.storage.Connections().Doc(models.ConnectionID(userID, provider)).Delete(ctx)
}

func (a *FirestoreAdapter) FindConnectionByAthlete(ctx context.Context, provider, athleteID string) (*models.ProviderConnection, error) {
	conn, err := a.storage.Connections().FirstWhere(ctx, map[string]interface{}{
		"provider":            provider,
		"provider_athlete_id": athleteID,
	})
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, shared.ErrNotFound
	}
	return conn, nil
}

func (a *FirestoreAdapter) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	return a.storage.SyncRuns().Doc(run.ID).Set(ctx, run)
}

func (a *FirestoreAdapter) UpdateSyncRun(ctx context.Context, id string, data map[string]interface{}) error {
	return a.storage.SyncRuns().Doc(id).Update(ctx, data)
}

func (a *FirestoreAdapter) UpsertActivity(ctx context.Context, activity *models.Activity) error {
	id := models.ActivityID(activity.Provider, activity.AthleteID, activity.ExternalID)
	return a.storage.Activities().Doc(id).Set(ctx, activity)
}

func (a *FirestoreAdapter) DeleteActivity(ctx context.Context, provider, athleteID, externalID string) error {
	// Firestore deletes are idempotent; deleting a missing doc is not an error.
	return a.storage.Activities().Doc(models.ActivityID(provider, athleteID, externalID)).Delete(ctx)
}

// CreateWebhookEvent inserts the event keyed by (provider, payload hash).
// When a concurrent or earlier delivery already created the row, the
// stored row is returned unchanged with created=false.
func (a *FirestoreAdapter) CreateWebhookEvent(ctx context.Context, ev *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	doc := a.storage.WebhookEvents().Doc(ev.ID)
	err := doc.Create(ctx, ev)
	if err == nil {
		return true, ev, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return false, nil, err
	}
	existing, err := doc.Get(ctx)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (a *FirestoreAdapter) UpdateWebhookEvent(ctx context.Context, id string, data map[string]interface{}) error {
	return a.storage.WebhookEvents().Doc(id).Update(ctx, data)
}
