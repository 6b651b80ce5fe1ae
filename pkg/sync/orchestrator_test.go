package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklink/server/pkg/infrastructure/crypto"
	"github.com/tracklink/server/pkg/models"
	"github.com/tracklink/server/pkg/provider"
	"github.com/tracklink/server/pkg/testing/mocks"
	"github.com/tracklink/server/pkg/token"
)

func testCipher(t *testing.T) *crypto.TokenCipher {
	t.Helper()
	key := make([]byte, 32)
	copy(key, []byte("0123456789abcdef0123456789abcdef"))
	cipher, err := crypto.NewTokenCipher(key)
	require.NoError(t, err)
	return cipher
}

func encrypted(t *testing.T, cipher *crypto.TokenCipher, plaintext string) string {
	t.Helper()
	out, err := cipher.EncryptString(plaintext)
	require.NoError(t, err)
	return out
}

func registryWith(client provider.Client, mapper provider.Mapper, oauth provider.OAuth) *provider.Registry {
	if oauth == nil {
		oauth = &mocks.MockOAuth{}
	}
	if mapper == nil {
		mapper = &mocks.MockMapper{}
	}
	registry := provider.NewRegistry()
	registry.Register(&provider.Integration{
		Config: provider.Config{Name: "strava"},
		OAuth:  oauth,
		Client: client,
		Mapper: mapper,
	})
	return registry
}

// The full path: expired stored token forces a refresh before the
// listing call, every valid activity is upserted, and the run lands in
// success with the right imported count.
func TestSyncEndToEndWithExpiredToken(t *testing.T) {
	cipher := testCipher(t)

	refreshed := false
	oauth := &mocks.MockOAuth{
		RefreshFunc: func(_ context.Context, refreshToken string) (*provider.TokenSet, error) {
			refreshed = true
			assert.Equal(t, "old-refresh", refreshToken)
			return &provider.TokenSet{
				AccessToken:  "fresh-access",
				RefreshToken: "new-refresh",
				ExpiresAt:    time.Now().Add(6 * time.Hour),
			}, nil
		},
	}

	client := &mocks.MockClient{
		ListActivitiesFunc: func(_ context.Context, accessToken string, _ provider.ListFilters) ([]json.RawMessage, error) {
			// The refreshed token must be the one used.
			assert.True(t, refreshed)
			assert.Equal(t, "fresh-access", accessToken)
			return []json.RawMessage{
				json.RawMessage(`{"id": 1, "sport_type": "Run", "start_date": "2026-08-30T10:00:00Z", "moving_time": 1800}`),
				json.RawMessage(`{"id": 2, "sport_type": "Ride", "start_date": "2026-08-30T12:00:00Z", "moving_time": 3600}`),
			}, nil
		},
	}

	mapper := &mocks.MockMapper{
		MapActivityFunc: func(raw json.RawMessage) (*provider.ExternalActivity, error) {
			var a struct {
				ID int64 `json:"id"`
			}
			require.NoError(t, json.Unmarshal(raw, &a))
			return &provider.ExternalActivity{
				ExternalID: fmt.Sprintf("ext-%d", a.ID),
				StartedAt:  time.Now(),
				Raw:        raw,
			}, nil
		},
	}

	var upserted []*models.Activity
	var runUpdates []map[string]interface{}
	db := &mocks.MockDatabase{
		GetConnectionFunc: func(_ context.Context, userID, providerName string) (*models.ProviderConnection, error) {
			return &models.ProviderConnection{
				UserID:             userID,
				Provider:           providerName,
				ProviderAthleteID:  "ath-9",
				AccessTokenCipher:  encrypted(t, cipher, "stale"),
				RefreshTokenCipher: encrypted(t, cipher, "old-refresh"),
				TokenExpiresAt:     time.Now().Add(-time.Hour),
			}, nil
		},
		UpsertActivityFunc: func(_ context.Context, activity *models.Activity) error {
			upserted = append(upserted, activity)
			return nil
		},
		UpdateSyncRunFunc: func(_ context.Context, _ string, data map[string]interface{}) error {
			runUpdates = append(runUpdates, data)
			return nil
		},
	}

	registry := registryWith(client, mapper, oauth)
	tokens := token.NewManager(db, registry, cipher, nil)
	orchestrator := NewOrchestrator(db, registry, tokens, &mocks.MockBlobStore{}, "", nil)

	run, err := orchestrator.Sync(context.Background(), "user-1", "strava", Options{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, run.Status)
	assert.Equal(t, 2, run.ImportedCount)
	assert.Len(t, upserted, 2)
	// Athlete id falls back to the connection when the payload omits it.
	assert.Equal(t, "ath-9", upserted[0].AthleteID)

	require.NotEmpty(t, runUpdates)
	final := runUpdates[len(runUpdates)-1]
	assert.Equal(t, string(models.SyncStatusSuccess), final["status"])
	assert.Equal(t, 2, final["imported_count"])
}

func TestSyncRateLimited(t *testing.T) {
	cipher := testCipher(t)
	retryAfter := 30

	client := &mocks.MockClient{
		ListActivitiesFunc: func(_ context.Context, _ string, _ provider.ListFilters) ([]json.RawMessage, error) {
			return nil, &provider.RateLimitedError{Provider: "strava", RetryAfter: &retryAfter, Message: "Rate Limit Exceeded"}
		},
	}

	db := freshConnectionDB(t, cipher)
	registry := registryWith(client, nil, nil)
	tokens := token.NewManager(db, registry, cipher, nil)
	orchestrator := NewOrchestrator(db, registry, tokens, &mocks.MockBlobStore{}, "", nil)

	run, err := orchestrator.Sync(context.Background(), "user-1", "strava", Options{})
	var rateErr *provider.RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, models.SyncStatusRateLimited, run.Status)
	assert.Contains(t, run.Reason, "Rate Limit Exceeded")
	assert.Contains(t, run.Reason, "retry after 30s")
}

func TestSyncSingleActivity(t *testing.T) {
	cipher := testCipher(t)

	client := &mocks.MockClient{
		GetActivityFunc: func(_ context.Context, _, externalID string) (json.RawMessage, error) {
			assert.Equal(t, "777", externalID)
			return json.RawMessage(`{"id": 777}`), nil
		},
		ListActivitiesFunc: func(_ context.Context, _ string, _ provider.ListFilters) ([]json.RawMessage, error) {
			t.Fatal("list must not be called in single-activity mode")
			return nil, nil
		},
	}
	mapper := &mocks.MockMapper{
		MapActivityFunc: func(raw json.RawMessage) (*provider.ExternalActivity, error) {
			return &provider.ExternalActivity{ExternalID: "777", Raw: raw}, nil
		},
	}

	db := freshConnectionDB(t, cipher)
	registry := registryWith(client, mapper, nil)
	tokens := token.NewManager(db, registry, cipher, nil)
	orchestrator := NewOrchestrator(db, registry, tokens, &mocks.MockBlobStore{}, "", nil)

	run, err := orchestrator.Sync(context.Background(), "user-1", "strava", Options{ExternalActivityID: "777"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.ImportedCount)
}

func TestSyncSkipsUnmappableActivities(t *testing.T) {
	cipher := testCipher(t)

	client := &mocks.MockClient{
		ListActivitiesFunc: func(_ context.Context, _ string, _ provider.ListFilters) ([]json.RawMessage, error) {
			return []json.RawMessage{
				json.RawMessage(`{"id": 1}`),
				json.RawMessage(`{"broken": true}`),
				json.RawMessage(`{"id": 3}`),
			}, nil
		},
	}
	mapper := &mocks.MockMapper{
		MapActivityFunc: func(raw json.RawMessage) (*provider.ExternalActivity, error) {
			var a struct {
				ID *int64 `json:"id"`
			}
			_ = json.Unmarshal(raw, &a)
			if a.ID == nil {
				return nil, &provider.RequestError{Provider: "strava", Message: "activity payload missing id"}
			}
			return &provider.ExternalActivity{ExternalID: "x", Raw: raw}, nil
		},
	}

	db := freshConnectionDB(t, cipher)
	registry := registryWith(client, mapper, nil)
	tokens := token.NewManager(db, registry, cipher, nil)
	orchestrator := NewOrchestrator(db, registry, tokens, &mocks.MockBlobStore{}, "", nil)

	run, err := orchestrator.Sync(context.Background(), "user-1", "strava", Options{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, run.Status)
	assert.Equal(t, 2, run.ImportedCount)
}

func TestSyncTokenMissing(t *testing.T) {
	cipher := testCipher(t)
	db := &mocks.MockDatabase{} // no stored connection

	registry := registryWith(&mocks.MockClient{}, nil, nil)
	tokens := token.NewManager(db, registry, cipher, nil)
	orchestrator := NewOrchestrator(db, registry, tokens, &mocks.MockBlobStore{}, "", nil)

	run, err := orchestrator.Sync(context.Background(), "user-1", "strava", Options{})
	var missing *provider.TokenMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, models.SyncStatusFailed, run.Status)
}

func TestSyncUnsupportedProvider(t *testing.T) {
	cipher := testCipher(t)
	db := &mocks.MockDatabase{}
	registry := provider.NewRegistry()
	tokens := token.NewManager(db, registry, cipher, nil)
	orchestrator := NewOrchestrator(db, registry, tokens, &mocks.MockBlobStore{}, "", nil)

	run, err := orchestrator.Sync(context.Background(), "user-1", "garmin", Options{})
	var unsupported *provider.UnsupportedProviderError
	require.ErrorAs(t, err, &unsupported)
	// No run row is ever created for an unknown provider.
	assert.Nil(t, run)
}

func TestSyncArchivesStreams(t *testing.T) {
	cipher := testCipher(t)

	client := &mocks.MockClient{
		GetActivityFunc: func(_ context.Context, _, _ string) (json.RawMessage, error) {
			return json.RawMessage(`{"id": 1}`), nil
		},
		GetStreamsFunc: func(_ context.Context, _, _ string, _ []string) (json.RawMessage, error) {
			return json.RawMessage(`{"heartrate": {"data": [100]}}`), nil
		},
	}
	mapper := &mocks.MockMapper{
		MapActivityFunc: func(raw json.RawMessage) (*provider.ExternalActivity, error) {
			return &provider.ExternalActivity{ExternalID: "1", AthleteID: "ath-9", Raw: raw}, nil
		},
		MapStreamsFunc: func(externalID string, raw json.RawMessage) (*provider.ExternalActivityStreams, error) {
			return &provider.ExternalActivityStreams{
				ExternalID:       externalID,
				Streams:          map[string][]interface{}{"heart_rate": {float64(100)}},
				AvailableStreams: []string{"heart_rate"},
			}, nil
		},
	}

	var wroteBucket, wroteObject string
	store := &mocks.MockBlobStore{
		WriteFunc: func(_ context.Context, bucket, object string, _ []byte) error {
			wroteBucket, wroteObject = bucket, object
			return nil
		},
	}

	var upserted *models.Activity
	db := freshConnectionDB(t, cipher)
	db.UpsertActivityFunc = func(_ context.Context, activity *models.Activity) error {
		upserted = activity
		return nil
	}

	registry := registryWith(client, mapper, nil)
	tokens := token.NewManager(db, registry, cipher, nil)
	orchestrator := NewOrchestrator(db, registry, tokens, store, "archive-bucket", nil)

	_, err := orchestrator.Sync(context.Background(), "user-1", "strava", Options{ExternalActivityID: "1", WithStreams: true})
	require.NoError(t, err)
	assert.Equal(t, "archive-bucket", wroteBucket)
	assert.Equal(t, "streams/strava/ath-9/1.json", wroteObject)
	require.NotNil(t, upserted)
	assert.Equal(t, "gs://archive-bucket/streams/strava/ath-9/1.json", upserted.StreamsURI)
}

// freshConnectionDB returns a mock with a stored connection whose token
// is still valid.
func freshConnectionDB(t *testing.T, cipher *crypto.TokenCipher) *mocks.MockDatabase {
	t.Helper()
	return &mocks.MockDatabase{
		GetConnectionFunc: func(_ context.Context, userID, providerName string) (*models.ProviderConnection, error) {
			return &models.ProviderConnection{
				UserID:            userID,
				Provider:          providerName,
				ProviderAthleteID: "ath-9",
				AccessTokenCipher: encrypted(t, cipher, "valid-token"),
				TokenExpiresAt:    time.Now().Add(time.Hour),
			}, nil
		},
	}
}
