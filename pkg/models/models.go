// Package models defines the persisted records of the provider
// integration engine. All structs are plain Go values; the Firestore
// converters live in pkg/storage/firestore.
package models

import (
	"encoding/json"
	"time"
)

// SyncStatus is the lifecycle state of a SyncRun (and the last-sync
// bookkeeping on a ProviderConnection).
type SyncStatus string

const (
	SyncStatusQueued      SyncStatus = "queued"
	SyncStatusRunning     SyncStatus = "running"
	SyncStatusSuccess     SyncStatus = "success"
	SyncStatusFailed      SyncStatus = "failed"
	SyncStatusRateLimited SyncStatus = "rate_limited"
)

// WebhookStatus is the terminal-state machine of a WebhookEvent.
// received is the only non-terminal state.
type WebhookStatus string

const (
	WebhookStatusReceived  WebhookStatus = "received"
	WebhookStatusProcessed WebhookStatus = "processed"
	WebhookStatusIgnored   WebhookStatus = "ignored"
	WebhookStatusFailed    WebhookStatus = "failed"
)

// Sport is the canonical, provider-agnostic sport type.
type Sport string

const (
	SportRun   Sport = "run"
	SportBike  Sport = "bike"
	SportSwim  Sport = "swim"
	SportGym   Sport = "gym"
	SportOther Sport = "other"
)

// Webhook aspect types as sent by providers.
const (
	AspectCreate = "create"
	AspectUpdate = "update"
	AspectDelete = "delete"
)

// ProviderConnection holds the OAuth credential for one (user, provider)
// pair. Tokens are stored encrypted; only pkg/token ever sees plaintext.
// The Firestore document id is ConnectionID(userID, provider), which
// enforces at most one connection per pair.
type ProviderConnection struct {
	UserID              string
	Provider            string
	AccessTokenCipher   string // AES-GCM ciphertext, base64
	RefreshTokenCipher  string // AES-GCM ciphertext, base64
	TokenExpiresAt      time.Time
	ProviderAthleteID   string
	LastSyncedAt        *time.Time
	LastSyncStatus      SyncStatus
	LastSyncReason      string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ConnectionID builds the document id for a ProviderConnection.
func ConnectionID(userID, provider string) string {
	return userID + "__" + provider
}

// SyncRun is one invocation of the sync orchestrator. Append-only:
// once a run reaches a terminal status it is never mutated again.
type SyncRun struct {
	ID            string
	UserID        string
	Provider      string
	Status        SyncStatus
	Reason        string
	ImportedCount int
	QueuedAt      time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// Terminal reports whether the run has reached a final status.
func (r *SyncRun) Terminal() bool {
	switch r.Status {
	case SyncStatusSuccess, SyncStatusFailed, SyncStatusRateLimited:
		return true
	}
	return false
}

// WebhookEvent is the ledger row for one inbound provider notification.
// The document id is WebhookEventID(provider, payloadHash); creating the
// document with that id is the idempotency barrier for duplicate
// deliveries.
type WebhookEvent struct {
	ID              string
	Provider        string
	ExternalEventID string // best-effort composite of provider fields, informational only
	ObjectType      string
	ObjectID        string
	AspectType      string
	OwnerID         string
	SubscriptionID  string
	Status          WebhookStatus
	Reason          string
	PayloadHash     string
	RawPayload      []byte
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}

// WebhookEventID builds the document id for a WebhookEvent.
func WebhookEventID(provider, payloadHash string) string {
	return provider + "__" + payloadHash
}

// Activity is the canonical local record of a provider activity,
// identified by (provider, athlete id, external id). The document id is
// ActivityID of that triple, so writes are natural upserts.
type Activity struct {
	AthleteID           string
	Provider            string
	ExternalID          string
	Sport               Sport
	Name                string
	StartedAt           time.Time
	DurationSeconds     int64
	DistanceMeters      float64
	ElevationGainMeters float64
	RawPayload          json.RawMessage
	StreamsURI          string // gs:// URI of the archived raw streams payload, if fetched
	UpdatedAt           time.Time
}

// ActivityID builds the document id for an Activity.
func ActivityID(provider, athleteID, externalID string) string {
	return provider + "__" + athleteID + "__" + externalID
}
