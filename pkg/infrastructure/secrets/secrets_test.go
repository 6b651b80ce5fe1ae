package secrets

import (
	"context"
	"testing"
)

func TestGetSecretMapsKebabToEnv(t *testing.T) {
	t.Setenv("STRAVA_CLIENT_ID", "12345")

	adapter := &SecretsAdapter{}
	value, err := adapter.GetSecret(context.Background(), "strava-client-id")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if value != "12345" {
		t.Errorf("Expected 12345, got %q", value)
	}
}

func TestGetSecretMissing(t *testing.T) {
	adapter := &SecretsAdapter{}
	_, err := adapter.GetSecret(context.Background(), "definitely-not-set-anywhere")
	if err == nil {
		t.Fatal("Expected error for missing secret")
	}
}
