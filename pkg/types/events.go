package types

// SyncRequest is the payload of a com.tracklink.sync.requested event.
// The webhook processor publishes it so the sync runner can pull a
// single activity off the request path.
type SyncRequest struct {
	UserID             string `json:"user_id"`
	Provider           string `json:"provider"`
	ExternalActivityID string `json:"external_activity_id,omitempty"`
	WithStreams        bool   `json:"with_streams,omitempty"`
	WebhookEventID     string `json:"webhook_event_id,omitempty"`
}
