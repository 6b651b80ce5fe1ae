// Package provider defines the capability interfaces a tracking
// provider integration must implement (OAuth dance, API client, payload
// mapper) plus the registry that keys concrete implementations by
// provider name. Adding a provider means adding one implementation set
// and one registry entry; nothing else in the engine changes.
package provider

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/tracklink/server/pkg/models"
)

// Config is the per-provider configuration injected into each component
// at construction. Values come from the secret store / environment; see
// pkg/integrations.
type Config struct {
	Name                  string
	ClientID              string
	ClientSecret          string
	APIBaseURL            string
	OAuthBaseURL          string
	RedirectURI           string
	Scopes                []string
	WebhookVerifyToken    string
	WebhookSubscriptionID string
}

// TokenSet is the outcome of a token-endpoint call.
type TokenSet struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not rotate it
	ExpiresAt    time.Time
	AthleteID    string // provider-side athlete id, when the response carries one
}

// OAuth implements the provider-specific OAuth2 dance.
type OAuth interface {
	// AuthorizationURL builds the consent URL. The opaque state value is
	// supplied by the caller; CSRF binding is the caller's responsibility.
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// ListFilters narrows an activity listing. Zero values are dropped, not
// forwarded.
type ListFilters struct {
	Before  string // epoch seconds or opaque cursor
	After   string // epoch seconds or opaque cursor
	Page    int
	PerPage int
}

// Client issues authenticated calls against the provider API. Payloads
// come back raw; the Mapper turns them into canonical DTOs.
type Client interface {
	ListActivities(ctx context.Context, accessToken string, filters ListFilters) ([]json.RawMessage, error)
	GetActivity(ctx context.Context, accessToken, externalID string) (json.RawMessage, error)
	// GetStreams fetches telemetry channels. keys is a subset of the
	// canonical stream keys; empty means the full default set. Unknown
	// keys are dropped silently.
	GetStreams(ctx context.Context, accessToken, externalID string, keys []string) (json.RawMessage, error)
}

// ExternalActivity is the canonical DTO for one provider activity.
type ExternalActivity struct {
	ExternalID          string
	AthleteID           string
	Sport               models.Sport
	Name                string
	StartedAt           time.Time
	DurationSeconds     int64
	DistanceMeters      float64
	ElevationGainMeters float64
	Raw                 json.RawMessage
}

// ExternalActivityStreams is the canonical DTO for an activity's
// telemetry. Streams is keyed by canonical stream key; AvailableStreams
// lists the keys actually populated, not the keys requested.
type ExternalActivityStreams struct {
	ExternalID       string
	Streams          map[string][]interface{}
	AvailableStreams []string
}

// Mapper converts provider-native payloads into canonical DTOs.
type Mapper interface {
	MapActivity(raw json.RawMessage) (*ExternalActivity, error)
	MapStreams(externalID string, raw json.RawMessage) (*ExternalActivityStreams, error)
}

// Integration bundles the three capabilities and the config they were
// built from.
type Integration struct {
	Config Config
	OAuth  OAuth
	Client Client
	Mapper Mapper
}

// Registry maps provider names to integrations.
type Registry struct {
	mu           sync.RWMutex
	integrations map[string]*Integration
}

func NewRegistry() *Registry {
	return &Registry{integrations: map[string]*Integration{}}
}

func (r *Registry) Register(i *Integration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.integrations[i.Config.Name] = i
}

// Get returns the integration for name, or UnsupportedProviderError.
func (r *Registry) Get(name string) (*Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.integrations[name]
	if !ok {
		return nil, &UnsupportedProviderError{Provider: name}
	}
	return i, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.integrations))
	for n := range r.integrations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
