// Package mocks provides hand-rolled test doubles for the shared
// interfaces. Every method delegates to an optional func field so tests
// only stub what they exercise.
package mocks

import (
	"context"
	"encoding/json"

	"github.com/cloudevents/sdk-go/v2/event"

	shared "github.com/tracklink/server/pkg"
	"github.com/tracklink/server/pkg/models"
	"github.com/tracklink/server/pkg/provider"
)

// --- Mock Database ---

type MockDatabase struct {
	GetConnectionFunc           func(ctx context.Context, userID, provider string) (*models.ProviderConnection, error)
	SetConnectionFunc           func(ctx context.Context, conn *models.ProviderConnection) error
	UpdateConnectionFunc        func(ctx context.Context, userID, provider string, data map[string]interface{}) error
	DeleteConnectionFunc        func(ctx context.Context, userID, provider string) error
	FindConnectionByAthleteFunc func(ctx context.Context, provider, athleteID string) (*models.ProviderConnection, error)
	CreateSyncRunFunc           func(ctx context.Context, run *models.SyncRun) error
	UpdateSyncRunFunc           func(ctx context.Context, id string, data map[string]interface{}) error
	UpsertActivityFunc          func(ctx context.Context, activity *models.Activity) error
	DeleteActivityFunc          func(ctx context.Context, provider, athleteID, externalID string) error
	CreateWebhookEventFunc      func(ctx context.Context, ev *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	UpdateWebhookEventFunc      func(ctx context.Context, id string, data map[string]interface{}) error
}

var _ shared.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetConnection(ctx context.Context, userID, provider string) (*models.ProviderConnection, error) {
	if m.GetConnectionFunc != nil {
		return m.GetConnectionFunc(ctx, userID, provider)
	}
	return nil, shared.ErrNotFound
}
func (m *MockDatabase) SetConnection(ctx context.Context, conn *models.ProviderConnection) error {
	if m.SetConnectionFunc != nil {
		return m.SetConnectionFunc(ctx, conn)
	}
	return nil
}
func (m *MockDatabase) UpdateConnection(ctx context.Context, userID, provider string, data map[string]interface{}) error {
	if m.UpdateConnectionFunc != nil {
		return m.UpdateConnectionFunc(ctx, userID, provider, data)
	}
	return nil
}
func (m *MockDatabase) DeleteConnection(ctx context.Context, userID, provider string) error {
	if m.DeleteConnectionFunc != nil {
		return m.DeleteConnectionFunc(ctx, userID, provider)
	}
	return nil
}
func (m *MockDatabase) FindConnectionByAthlete(ctx context.Context, provider, athleteID string) (*models.ProviderConnection, error) {
	if m.FindConnectionByAthleteFunc != nil {
		return m.FindConnectionByAthleteFunc(ctx, provider, athleteID)
	}
	return nil, shared.ErrNotFound
}
func (m *MockDatabase) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	if m.CreateSyncRunFunc != nil {
		return m.CreateSyncRunFunc(ctx, run)
	}
	return nil
}
func (m *MockDatabase) UpdateSyncRun(ctx context.Context, id string, data map[string]interface{}) error {
	if m.UpdateSyncRunFunc != nil {
		return m.UpdateSyncRunFunc(ctx, id, data)
	}
	return nil
}
func (m *MockDatabase) UpsertActivity(ctx context.Context, activity *models.Activity) error {
	if m.UpsertActivityFunc != nil {
		return m.UpsertActivityFunc(ctx, activity)
	}
	return nil
}
func (m *MockDatabase) DeleteActivity(ctx context.Context, provider, athleteID, externalID string) error {
	if m.DeleteActivityFunc != nil {
		return m.DeleteActivityFunc(ctx, provider, athleteID, externalID)
	}
	return nil
}
func (m *MockDatabase) CreateWebhookEvent(ctx context.Context, ev *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if m.CreateWebhookEventFunc != nil {
		return m.CreateWebhookEventFunc(ctx, ev)
	}
	return true, ev, nil
}
func (m *MockDatabase) UpdateWebhookEvent(ctx context.Context, id string, data map[string]interface{}) error {
	if m.UpdateWebhookEventFunc != nil {
		return m.UpdateWebhookEventFunc(ctx, id, data)
	}
	return nil
}

// --- Mock Publisher ---

type MockPublisher struct {
	PublishCloudEventFunc func(ctx context.Context, topic string, e event.Event) (string, error)
}

func (m *MockPublisher) PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error) {
	if m.PublishCloudEventFunc != nil {
		return m.PublishCloudEventFunc(ctx, topic, e)
	}
	return "msg-id", nil
}

// --- Mock Blob Store ---

type MockBlobStore struct {
	WriteFunc func(ctx context.Context, bucket, object string, data []byte) error
	ReadFunc  func(ctx context.Context, bucket, object string) ([]byte, error)
}

func (m *MockBlobStore) Write(ctx context.Context, bucket, object string, data []byte) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, bucket, object, data)
	}
	return nil
}
func (m *MockBlobStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, bucket, object)
	}
	return nil, nil
}

// --- Mock Secret Store ---

type MockSecretStore struct {
	Secrets map[string]string
}

func (m *MockSecretStore) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := m.Secrets[name]; ok {
		return v, nil
	}
	return "", &notFoundError{name: name}
}

type notFoundError struct{ name string }

func (e *notFoundError) Error() string { return "secret not configured: " + e.name }

// --- Mock Provider pieces ---

type MockOAuth struct {
	AuthorizationURLFunc func(state string) string
	ExchangeCodeFunc     func(ctx context.Context, code string) (*provider.TokenSet, error)
	RefreshFunc          func(ctx context.Context, refreshToken string) (*provider.TokenSet, error)
}

func (m *MockOAuth) AuthorizationURL(state string) string {
	if m.AuthorizationURLFunc != nil {
		return m.AuthorizationURLFunc(state)
	}
	return "https://example.test/authorize?state=" + state
}
func (m *MockOAuth) ExchangeCode(ctx context.Context, code string) (*provider.TokenSet, error) {
	if m.ExchangeCodeFunc != nil {
		return m.ExchangeCodeFunc(ctx, code)
	}
	return &provider.TokenSet{AccessToken: "access", RefreshToken: "refresh"}, nil
}
func (m *MockOAuth) Refresh(ctx context.Context, refreshToken string) (*provider.TokenSet, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return &provider.TokenSet{AccessToken: "access", RefreshToken: refreshToken}, nil
}

type MockClient struct {
	ListActivitiesFunc func(ctx context.Context, accessToken string, filters provider.ListFilters) ([]json.RawMessage, error)
	GetActivityFunc    func(ctx context.Context, accessToken, externalID string) (json.RawMessage, error)
	GetStreamsFunc     func(ctx context.Context, accessToken, externalID string, keys []string) (json.RawMessage, error)
}

func (m *MockClient) ListActivities(ctx context.Context, accessToken string, filters provider.ListFilters) ([]json.RawMessage, error) {
	if m.ListActivitiesFunc != nil {
		return m.ListActivitiesFunc(ctx, accessToken, filters)
	}
	return nil, nil
}
func (m *MockClient) GetActivity(ctx context.Context, accessToken, externalID string) (json.RawMessage, error) {
	if m.GetActivityFunc != nil {
		return m.GetActivityFunc(ctx, accessToken, externalID)
	}
	return nil, nil
}
func (m *MockClient) GetStreams(ctx context.Context, accessToken, externalID string, keys []string) (json.RawMessage, error) {
	if m.GetStreamsFunc != nil {
		return m.GetStreamsFunc(ctx, accessToken, externalID, keys)
	}
	return nil, nil
}

type MockMapper struct {
	MapActivityFunc func(raw json.RawMessage) (*provider.ExternalActivity, error)
	MapStreamsFunc  func(externalID string, raw json.RawMessage) (*provider.ExternalActivityStreams, error)
}

func (m *MockMapper) MapActivity(raw json.RawMessage) (*provider.ExternalActivity, error) {
	if m.MapActivityFunc != nil {
		return m.MapActivityFunc(raw)
	}
	return &provider.ExternalActivity{}, nil
}
func (m *MockMapper) MapStreams(externalID string, raw json.RawMessage) (*provider.ExternalActivityStreams, error) {
	if m.MapStreamsFunc != nil {
		return m.MapStreamsFunc(externalID, raw)
	}
	return &provider.ExternalActivityStreams{}, nil
}
