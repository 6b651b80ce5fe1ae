package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/tracklink/server/pkg"
	"github.com/tracklink/server/pkg/models"
	"github.com/tracklink/server/pkg/provider"
	"github.com/tracklink/server/pkg/testing/mocks"
	"github.com/tracklink/server/pkg/types"
)

// ledgerDB is an in-memory stand-in for the webhook event ledger with
// the same find-or-create semantics as the real adapter.
type ledgerDB struct {
	mocks.MockDatabase

	mu     sync.Mutex
	events map[string]*models.WebhookEvent
}

func newLedgerDB() *ledgerDB {
	db := &ledgerDB{events: map[string]*models.WebhookEvent{}}
	return db
}

func (d *ledgerDB) CreateWebhookEvent(_ context.Context, ev *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.events[ev.ID]; ok {
		snapshot := *existing
		return false, &snapshot, nil
	}
	stored := *ev
	d.events[ev.ID] = &stored
	return true, ev, nil
}

func (d *ledgerDB) UpdateWebhookEvent(_ context.Context, id string, data map[string]interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev, ok := d.events[id]
	if !ok {
		return shared.ErrNotFound
	}
	if s, ok := data["status"].(string); ok {
		ev.Status = models.WebhookStatus(s)
	}
	if r, ok := data["reason"].(string); ok {
		ev.Reason = r
	}
	if p, ok := data["processed_at"].(time.Time); ok {
		ev.ProcessedAt = &p
	}
	return nil
}

func testRegistry(subscriptionID string) *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register(&provider.Integration{
		Config: provider.Config{Name: "strava", WebhookSubscriptionID: subscriptionID},
		OAuth:  &mocks.MockOAuth{},
		Client: &mocks.MockClient{},
		Mapper: &mocks.MockMapper{},
	})
	return registry
}

func connectedDB(db *ledgerDB) *ledgerDB {
	db.FindConnectionByAthleteFunc = func(_ context.Context, providerName, athleteID string) (*models.ProviderConnection, error) {
		if athleteID != "9001" {
			return nil, shared.ErrNotFound
		}
		return &models.ProviderConnection{UserID: "user-1", Provider: providerName, ProviderAthleteID: athleteID}, nil
	}
	return db
}

const createPayload = `{"subscription_id": 120475, "event_time": 1756800000, "object_type": "activity", "object_id": 777, "aspect_type": "create", "owner_id": 9001}`

func TestProcessCreateDispatchesSync(t *testing.T) {
	db := connectedDB(newLedgerDB())

	var published []event.Event
	pub := &mocks.MockPublisher{
		PublishCloudEventFunc: func(_ context.Context, topic string, e event.Event) (string, error) {
			assert.Equal(t, shared.TopicSyncRequests, topic)
			published = append(published, e)
			return "msg-1", nil
		},
	}

	p := NewProcessor(db, testRegistry("120475"), pub, nil)
	ev, err := p.Process(context.Background(), "strava", []byte(createPayload))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusProcessed, ev.Status)
	assert.Equal(t, "activity", ev.ObjectType)
	assert.Equal(t, "777", ev.ObjectID)
	assert.Equal(t, "9001", ev.OwnerID)
	assert.NotNil(t, ev.ProcessedAt)
	assert.Equal(t, "120475:1756800000:activity:777:create:9001", ev.ExternalEventID)

	require.Len(t, published, 1)
	var req types.SyncRequest
	require.NoError(t, published[0].DataAs(&req))
	assert.Equal(t, "user-1", req.UserID)
	assert.Equal(t, "777", req.ExternalActivityID)
	assert.Equal(t, ev.ID, req.WebhookEventID)
}

// Processing the same payload twice yields one ledger row and one
// publish, and the second call returns the first row unchanged.
func TestProcessIdempotent(t *testing.T) {
	db := connectedDB(newLedgerDB())

	publishes := 0
	pub := &mocks.MockPublisher{
		PublishCloudEventFunc: func(_ context.Context, _ string, _ event.Event) (string, error) {
			publishes++
			return "msg", nil
		},
	}

	p := NewProcessor(db, testRegistry("120475"), pub, nil)

	first, err := p.Process(context.Background(), "strava", []byte(createPayload))
	require.NoError(t, err)
	second, err := p.Process(context.Background(), "strava", []byte(createPayload))
	require.NoError(t, err)

	assert.Equal(t, 1, publishes)
	assert.Len(t, db.events, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)

	// Same content, different key order: still a duplicate.
	reordered := `{"owner_id":9001,"object_id":777,"object_type":"activity","aspect_type":"create","event_time":1756800000,"subscription_id":120475}`
	third, err := p.Process(context.Background(), "strava", []byte(reordered))
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, 1, publishes)
}

func TestProcessSubscriptionMismatch(t *testing.T) {
	db := connectedDB(newLedgerDB())
	p := NewProcessor(db, testRegistry("expected-sub"), &mocks.MockPublisher{PublishCloudEventFunc: func(_ context.Context, _ string, _ event.Event) (string, error) {
		t.Fatal("must not publish on subscription mismatch")
		return "", nil
	}}, nil)

	ev, err := p.Process(context.Background(), "strava", []byte(createPayload))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusIgnored, ev.Status)
	assert.Equal(t, "subscription id mismatch", ev.Reason)
}

func TestProcessDeleteAspect(t *testing.T) {
	db := connectedDB(newLedgerDB())

	var deleted [][3]string
	db.DeleteActivityFunc = func(_ context.Context, providerName, athleteID, externalID string) error {
		deleted = append(deleted, [3]string{providerName, athleteID, externalID})
		return nil
	}

	p := NewProcessor(db, testRegistry("120475"), &mocks.MockPublisher{}, nil)
	payload := `{"subscription_id": 120475, "object_type": "activity", "object_id": 777, "aspect_type": "delete", "owner_id": 9001}`
	ev, err := p.Process(context.Background(), "strava", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusProcessed, ev.Status)
	require.Len(t, deleted, 1)
	assert.Equal(t, [3]string{"strava", "9001", "777"}, deleted[0])
}

func TestProcessDeleteAspectMissingActivity(t *testing.T) {
	db := connectedDB(newLedgerDB())
	db.DeleteActivityFunc = func(_ context.Context, _, _, _ string) error {
		return shared.ErrNotFound
	}

	p := NewProcessor(db, testRegistry(""), &mocks.MockPublisher{}, nil)
	payload := `{"object_type": "activity", "object_id": 777, "aspect_type": "delete", "owner_id": 9001}`
	ev, err := p.Process(context.Background(), "strava", []byte(payload))
	require.NoError(t, err)
	// Deleting an absent row is still a processed event.
	assert.Equal(t, models.WebhookStatusProcessed, ev.Status)
}

// A delete with no object id has nothing to match locally; the event
// is processed, not ignored, and no deletion is attempted.
func TestProcessDeleteAspectWithoutObjectID(t *testing.T) {
	db := connectedDB(newLedgerDB())
	db.DeleteActivityFunc = func(_ context.Context, _, _, _ string) error {
		t.Fatal("must not attempt a deletion without an object id")
		return nil
	}

	p := NewProcessor(db, testRegistry(""), &mocks.MockPublisher{}, nil)
	payload := `{"object_type": "activity", "aspect_type": "delete", "owner_id": 9001}`
	ev, err := p.Process(context.Background(), "strava", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusProcessed, ev.Status)
	assert.Empty(t, ev.Reason)
}

func TestProcessIgnorePaths(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantReason string
	}{
		{
			name:       "wrong object type",
			payload:    `{"object_type": "athlete", "object_id": 1, "aspect_type": "update", "owner_id": 9001}`,
			wantReason: `unsupported object type "athlete"`,
		},
		{
			name:       "missing owner",
			payload:    `{"object_type": "activity", "object_id": 1, "aspect_type": "create"}`,
			wantReason: "missing owner id",
		},
		{
			name:       "no connected user",
			payload:    `{"object_type": "activity", "object_id": 1, "aspect_type": "create", "owner_id": 555}`,
			wantReason: "no local user connected",
		},
		{
			name:       "unhandled aspect",
			payload:    `{"object_type": "activity", "object_id": 1, "aspect_type": "archive", "owner_id": 9001}`,
			wantReason: `unhandled aspect type "archive"`,
		},
		{
			name:       "create without object id",
			payload:    `{"object_type": "activity", "aspect_type": "create", "owner_id": 9001}`,
			wantReason: "missing object id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := connectedDB(newLedgerDB())
			p := NewProcessor(db, testRegistry(""), &mocks.MockPublisher{}, nil)
			ev, err := p.Process(context.Background(), "strava", []byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, models.WebhookStatusIgnored, ev.Status)
			assert.Equal(t, tt.wantReason, ev.Reason)
		})
	}
}

// A failing dispatch never escapes; the event lands in failed with the
// cause recorded.
func TestProcessDispatchFailure(t *testing.T) {
	db := connectedDB(newLedgerDB())
	pub := &mocks.MockPublisher{
		PublishCloudEventFunc: func(_ context.Context, _ string, _ event.Event) (string, error) {
			return "", errors.New("pubsub unavailable")
		},
	}

	p := NewProcessor(db, testRegistry(""), pub, nil)
	ev, err := p.Process(context.Background(), "strava", []byte(createPayload))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusFailed, ev.Status)
	assert.Contains(t, ev.Reason, "pubsub unavailable")
}

func TestProcessUnsupportedProvider(t *testing.T) {
	p := NewProcessor(newLedgerDB(), testRegistry(""), &mocks.MockPublisher{}, nil)
	_, err := p.Process(context.Background(), "garmin", []byte(`{}`))
	var unsupported *provider.UnsupportedProviderError
	require.ErrorAs(t, err, &unsupported)
}
