package shared

const (
	ProjectID = "tracklink-project" // Can be overridden by env var in main if needed

	TopicSyncRequests = "topic-sync-requests"

	CollectionConnections   = "provider_connections"
	CollectionSyncRuns      = "sync_runs"
	CollectionWebhookEvents = "webhook_events"
	CollectionActivities    = "activities"
)
