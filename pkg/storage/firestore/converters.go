package firestore

import (
	"encoding/json"
	"time"

	"github.com/tracklink/server/pkg/models"
)

// Helper to safely get string from map
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Helper to safely get int from map (Firestore numbers come back as int64)
func getInt(m map[string]interface{}, key string) int64 {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		case float64:
			return int64(n)
		}
	}
	return 0
}

// Helper to safely get float from map
func getFloat(m map[string]interface{}, key string) float64 {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
	}
	return 0
}

// Helper to safely get time from map (handles time.Time from Firestore)
func getTime(m map[string]interface{}, key string) time.Time {
	if v, ok := m[key]; ok {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Time{}
}

// Helper returning a *time.Time, nil when the field is absent or zero
func getTimePtr(m map[string]interface{}, key string) *time.Time {
	t := getTime(m, key)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Helper to safely get bytes from map
func getBytes(m map[string]interface{}, key string) []byte {
	if v, ok := m[key]; ok {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return nil
}

// --- ProviderConnection Converters ---

func ConnectionToFirestore(c *models.ProviderConnection) map[string]interface{} {
	m := map[string]interface{}{
		"user_id":              c.UserID,
		"provider":             c.Provider,
		"access_token_cipher":  c.AccessTokenCipher,
		"refresh_token_cipher": c.RefreshTokenCipher,
		"token_expires_at":     c.TokenExpiresAt,
		"provider_athlete_id":  c.ProviderAthleteID,
		"last_sync_status":     string(c.LastSyncStatus),
		"last_sync_reason":     c.LastSyncReason,
		"created_at":           c.CreatedAt,
		"updated_at":           c.UpdatedAt,
	}
	if c.LastSyncedAt != nil {
		m["last_synced_at"] = *c.LastSyncedAt
	}
	return m
}

func FirestoreToConnection(m map[string]interface{}) *models.ProviderConnection {
	return &models.ProviderConnection{
		UserID:             getString(m, "user_id"),
		Provider:           getString(m, "provider"),
		AccessTokenCipher:  getString(m, "access_token_cipher"),
		RefreshTokenCipher: getString(m, "refresh_token_cipher"),
		TokenExpiresAt:     getTime(m, "token_expires_at"),
		ProviderAthleteID:  getString(m, "provider_athlete_id"),
		LastSyncedAt:       getTimePtr(m, "last_synced_at"),
		LastSyncStatus:     models.SyncStatus(getString(m, "last_sync_status")),
		LastSyncReason:     getString(m, "last_sync_reason"),
		CreatedAt:          getTime(m, "created_at"),
		UpdatedAt:          getTime(m, "updated_at"),
	}
}

// --- SyncRun Converters ---

func SyncRunToFirestore(r *models.SyncRun) map[string]interface{} {
	m := map[string]interface{}{
		"run_id":         r.ID,
		"user_id":        r.UserID,
		"provider":       r.Provider,
		"status":         string(r.Status),
		"reason":         r.Reason,
		"imported_count": r.ImportedCount,
		"queued_at":      r.QueuedAt,
	}
	if r.StartedAt != nil {
		m["started_at"] = *r.StartedAt
	}
	if r.FinishedAt != nil {
		m["finished_at"] = *r.FinishedAt
	}
	return m
}

func FirestoreToSyncRun(m map[string]interface{}) *models.SyncRun {
	return &models.SyncRun{
		ID:            getString(m, "run_id"),
		UserID:        getString(m, "user_id"),
		Provider:      getString(m, "provider"),
		Status:        models.SyncStatus(getString(m, "status")),
		Reason:        getString(m, "reason"),
		ImportedCount: int(getInt(m, "imported_count")),
		QueuedAt:      getTime(m, "queued_at"),
		StartedAt:     getTimePtr(m, "started_at"),
		FinishedAt:    getTimePtr(m, "finished_at"),
	}
}

// --- WebhookEvent Converters ---

func WebhookEventToFirestore(e *models.WebhookEvent) map[string]interface{} {
	m := map[string]interface{}{
		"event_id":          e.ID,
		"provider":          e.Provider,
		"external_event_id": e.ExternalEventID,
		"object_type":       e.ObjectType,
		"object_id":         e.ObjectID,
		"aspect_type":       e.AspectType,
		"owner_id":          e.OwnerID,
		"subscription_id":   e.SubscriptionID,
		"status":            string(e.Status),
		"reason":            e.Reason,
		"payload_hash":      e.PayloadHash,
		"raw_payload":       e.RawPayload,
		"received_at":       e.ReceivedAt,
	}
	if e.ProcessedAt != nil {
		m["processed_at"] = *e.ProcessedAt
	}
	return m
}

func FirestoreToWebhookEvent(m map[string]interface{}) *models.WebhookEvent {
	return &models.WebhookEvent{
		ID:              getString(m, "event_id"),
		Provider:        getString(m, "provider"),
		ExternalEventID: getString(m, "external_event_id"),
		ObjectType:      getString(m, "object_type"),
		ObjectID:        getString(m, "object_id"),
		AspectType:      getString(m, "aspect_type"),
		OwnerID:         getString(m, "owner_id"),
		SubscriptionID:  getString(m, "subscription_id"),
		Status:          models.WebhookStatus(getString(m, "status")),
		Reason:          getString(m, "reason"),
		PayloadHash:     getString(m, "payload_hash"),
		RawPayload:      getBytes(m, "raw_payload"),
		ReceivedAt:      getTime(m, "received_at"),
		ProcessedAt:     getTimePtr(m, "processed_at"),
	}
}

// --- Activity Converters ---

func ActivityToFirestore(a *models.Activity) map[string]interface{} {
	m := map[string]interface{}{
		"athlete_id":            a.AthleteID,
		"provider":              a.Provider,
		"external_id":           a.ExternalID,
		"sport":                 string(a.Sport),
		"name":                  a.Name,
		"started_at":            a.StartedAt,
		"duration_seconds":      a.DurationSeconds,
		"distance_meters":       a.DistanceMeters,
		"elevation_gain_meters": a.ElevationGainMeters,
		"streams_uri":           a.StreamsURI,
		"updated_at":            a.UpdatedAt,
	}
	if len(a.RawPayload) > 0 {
		m["raw_payload"] = []byte(a.RawPayload)
	}
	return m
}

func FirestoreToActivity(m map[string]interface{}) *models.Activity {
	return &models.Activity{
		AthleteID:           getString(m, "athlete_id"),
		Provider:            getString(m, "provider"),
		ExternalID:          getString(m, "external_id"),
		Sport:               models.Sport(getString(m, "sport")),
		Name:                getString(m, "name"),
		StartedAt:           getTime(m, "started_at"),
		DurationSeconds:     getInt(m, "duration_seconds"),
		DistanceMeters:      getFloat(m, "distance_meters"),
		ElevationGainMeters: getFloat(m, "elevation_gain_meters"),
		RawPayload:          json.RawMessage(getBytes(m, "raw_payload")),
		StreamsURI:          getString(m, "streams_uri"),
		UpdatedAt:           getTime(m, "updated_at"),
	}
}
