package firestore

import (
	"cloud.google.com/go/firestore"

	shared "github.com/tracklink/server/pkg"
	"github.com/tracklink/server/pkg/models"
)

type Client struct {
	fs *firestore.Client
}

func NewClient(client *firestore.Client) *Client {
	return &Client{fs: client}
}

func (c *Client) Close() error {
	return c.fs.Close()
}

// Connections is keyed by models.ConnectionID(user, provider), which is
// what enforces at most one connection per pair.
func (c *Client) Connections() *Collection[models.ProviderConnection] {
	return &Collection[models.ProviderConnection]{
		Ref:           c.fs.Collection(shared.CollectionConnections),
		ToFirestore:   ConnectionToFirestore,
		FromFirestore: FirestoreToConnection,
	}
}

func (c *Client) SyncRuns() *Collection[models.SyncRun] {
	return &Collection[models.SyncRun]{
		Ref:           c.fs.Collection(shared.CollectionSyncRuns),
		ToFirestore:   SyncRunToFirestore,
		FromFirestore: FirestoreToSyncRun,
	}
}

// WebhookEvents is keyed by models.WebhookEventID(provider, payloadHash);
// document creation doubles as the dedup uniqueness constraint.
func (c *Client) WebhookEvents() *Collection[models.WebhookEvent] {
	return &Collection[models.WebhookEvent]{
		Ref:           c.fs.Collection(shared.CollectionWebhookEvents),
		ToFirestore:   WebhookEventToFirestore,
		FromFirestore: FirestoreToWebhookEvent,
	}
}

// Activities is keyed by models.ActivityID(provider, athlete, external).
func (c *Client) Activities() *Collection[models.Activity] {
	return &Collection[models.Activity]{
		Ref:           c.fs.Collection(shared.CollectionActivities),
		ToFirestore:   ActivityToFirestore,
		FromFirestore: FirestoreToActivity,
	}
}
