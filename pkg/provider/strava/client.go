// Package strava implements the provider capability set (OAuth dance,
// API client, payload mapper) against the Strava v3 API.
package strava

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	httputil "github.com/tracklink/server/pkg/infrastructure/http"
	"github.com/tracklink/server/pkg/provider"
)

// requestTimeout bounds every provider HTTP call. Retry policy belongs
// to the caller, never to the client.
const requestTimeout = 15 * time.Second

// Client issues authenticated GETs against the Strava API and
// classifies every non-2xx outcome into the provider error taxonomy.
type Client struct {
	cfg        provider.Config
	httpClient *http.Client
}

func NewClient(cfg provider.Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// ListActivities fetches the athlete's activity summaries. Blank or
// zero filter values are dropped rather than forwarded.
func (c *Client) ListActivities(ctx context.Context, accessToken string, filters provider.ListFilters) ([]json.RawMessage, error) {
	q := url.Values{}
	if v := strings.TrimSpace(filters.Before); v != "" {
		q.Set("before", v)
	}
	if v := strings.TrimSpace(filters.After); v != "" {
		q.Set("after", v)
	}
	if filters.Page > 0 {
		q.Set("page", strconv.Itoa(filters.Page))
	}
	if filters.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(filters.PerPage))
	}

	body, err := c.get(ctx, accessToken, "/athlete/activities", q)
	if err != nil {
		return nil, err
	}

	var payloads []json.RawMessage
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, &provider.RequestError{Provider: c.cfg.Name, Message: "unexpected payload shape"}
	}
	return payloads, nil
}

// GetActivity fetches one activity in full detail.
func (c *Client) GetActivity(ctx context.Context, accessToken, externalID string) (json.RawMessage, error) {
	body, err := c.get(ctx, accessToken, "/activities/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, err
	}
	if !isJSONObject(body) {
		return nil, &provider.RequestError{Provider: c.cfg.Name, Message: "unexpected payload shape"}
	}
	return body, nil
}

// GetStreams fetches telemetry channels keyed by type. Canonical keys
// are translated to Strava stream names; unknown keys are dropped, and
// an empty request means the full default set.
func (c *Client) GetStreams(ctx context.Context, accessToken, externalID string, keys []string) (json.RawMessage, error) {
	stravaKeys := translateStreamKeys(keys)

	q := url.Values{}
	q.Set("keys", strings.Join(stravaKeys, ","))
	q.Set("key_by_type", "true")

	body, err := c.get(ctx, accessToken, "/activities/"+url.PathEscape(externalID)+"/streams", q)
	if err != nil {
		return nil, err
	}
	if !isJSONObject(body) {
		return nil, &provider.RequestError{Provider: c.cfg.Name, Message: "unexpected payload shape"}
	}
	return body, nil
}

// get performs one bounded request and classifies the response.
func (c *Client) get(ctx context.Context, accessToken, path string, q url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	u := c.cfg.APIBaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &provider.RequestError{Provider: c.cfg.Name, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &provider.RequestError{Provider: c.cfg.Name, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.classifyResponse(resp)
	}

	// Success bodies are read in full; activity listings routinely run
	// to hundreds of kilobytes. Only error bodies are capped.
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &provider.RequestError{Provider: c.cfg.Name, Message: err.Error()}
	}
	return body, nil
}

// classifyResponse maps a non-2xx response into the error taxonomy.
func (c *Client) classifyResponse(resp *http.Response) error {
	body := httputil.ReadBody(resp)
	message := httputil.MessageFromBody(body)

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &provider.RateLimitedError{
			Provider:   c.cfg.Name,
			RetryAfter: retryAfterSeconds(resp),
			Message:    message,
		}
	case http.StatusUnauthorized:
		return &provider.InvalidTokenError{Provider: c.cfg.Name}
	case http.StatusForbidden:
		return &provider.UnauthorizedError{Provider: c.cfg.Name, Message: message}
	default:
		return &provider.RequestError{Provider: c.cfg.Name, StatusCode: resp.StatusCode, Message: message}
	}
}

// retryAfterSeconds parses a numeric Retry-After header; nil when the
// header is absent or not a plain number of seconds.
func retryAfterSeconds(resp *http.Response) *int {
	if resp == nil {
		return nil
	}
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return nil
	}
	return &seconds
}

func isJSONObject(body []byte) bool {
	trimmed := strings.TrimLeftFunc(string(body), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	return strings.HasPrefix(trimmed, "{")
}

// translateStreamKeys maps canonical stream keys onto Strava stream
// names, dropping keys Strava does not know. An empty or fully-unknown
// request falls back to the full default set.
func translateStreamKeys(keys []string) []string {
	if len(keys) == 0 {
		return defaultStravaStreamKeys()
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if stravaKey, ok := canonicalToStravaStream[strings.ToLower(strings.TrimSpace(k))]; ok {
			out = append(out, stravaKey)
		}
	}
	if len(out) == 0 {
		return defaultStravaStreamKeys()
	}
	return out
}

func defaultStravaStreamKeys() []string {
	keys := make([]string, 0, len(canonicalStreamOrder))
	for _, canonical := range canonicalStreamOrder {
		keys = append(keys, canonicalToStravaStream[canonical])
	}
	return keys
}
