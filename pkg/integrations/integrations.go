// Package integrations assembles the provider registry from
// configuration held in the secret store.
package integrations

import (
	"context"
	"fmt"
	"net/http"

	shared "github.com/tracklink/server/pkg"
	"github.com/tracklink/server/pkg/provider"
	"github.com/tracklink/server/pkg/provider/strava"
)

// NewRegistry builds the registry of supported providers. Client
// credentials are required; the webhook verify token and subscription
// id are optional and disable their respective checks when absent.
func NewRegistry(ctx context.Context, secrets shared.SecretStore, publicBaseURL string, httpClient *http.Client) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	stravaCfg, err := stravaConfig(ctx, secrets, publicBaseURL)
	if err != nil {
		return nil, err
	}
	registry.Register(strava.New(stravaCfg, httpClient))

	return registry, nil
}

func stravaConfig(ctx context.Context, secrets shared.SecretStore, publicBaseURL string) (provider.Config, error) {
	clientID, err := secrets.GetSecret(ctx, "strava-client-id")
	if err != nil {
		return provider.Config{}, fmt.Errorf("strava client id: %w", err)
	}
	clientSecret, err := secrets.GetSecret(ctx, "strava-client-secret")
	if err != nil {
		return provider.Config{}, fmt.Errorf("strava client secret: %w", err)
	}

	// Optional webhook credentials.
	verifyToken, _ := secrets.GetSecret(ctx, "strava-webhook-verify-token")
	subscriptionID, _ := secrets.GetSecret(ctx, "strava-webhook-subscription-id")

	return provider.Config{
		Name:                  "strava",
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		RedirectURI:           publicBaseURL + "/callback/strava",
		WebhookVerifyToken:    verifyToken,
		WebhookSubscriptionID: subscriptionID,
	}, nil
}
