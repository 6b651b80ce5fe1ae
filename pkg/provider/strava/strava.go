package strava

import (
	"net/http"

	"github.com/tracklink/server/pkg/provider"
)

// Default endpoints; overridable through config for tests and proxies.
const (
	DefaultAPIBaseURL   = "https://www.strava.com/api/v3"
	DefaultOAuthBaseURL = "https://www.strava.com/oauth"
)

// DefaultScopes covers reading all activities including private ones.
var DefaultScopes = []string{"read", "activity:read_all"}

// New assembles the Strava integration from config. httpClient may be
// nil outside tests.
func New(cfg provider.Config, httpClient *http.Client) *provider.Integration {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.OAuthBaseURL == "" {
		cfg.OAuthBaseURL = DefaultOAuthBaseURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	return &provider.Integration{
		Config: cfg,
		OAuth:  NewOAuth(cfg, httpClient),
		Client: NewClient(cfg, httpClient),
		Mapper: NewMapper(cfg),
	}
}
