package strava

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	httputil "github.com/tracklink/server/pkg/infrastructure/http"
	"github.com/tracklink/server/pkg/provider"
)

// OAuth implements the Strava OAuth2 dance on top of golang.org/x/oauth2.
// Strava token responses carry both expires_in and expires_at plus an
// embedded athlete object on the initial exchange.
type OAuth struct {
	cfg        provider.Config
	oauth      *oauth2.Config
	httpClient *http.Client
}

func NewOAuth(cfg provider.Config, httpClient *http.Client) *OAuth {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &OAuth{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OAuthBaseURL + "/authorize",
				TokenURL: cfg.OAuthBaseURL + "/token",
			},
			RedirectURL: cfg.RedirectURI,
			Scopes:      cfg.Scopes,
		},
		httpClient: httpClient,
	}
}

// AuthorizationURL builds the consent URL. Strava wants comma-separated
// scopes in a single scope parameter and an explicit approval prompt.
func (o *OAuth) AuthorizationURL(state string) string {
	u := o.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("approval_prompt", "auto"),
		oauth2.SetAuthURLParam("response_type", "code"),
	)
	if len(o.cfg.Scopes) > 1 {
		// AuthCodeURL space-joins scopes; Strava expects commas.
		parsed, err := url.Parse(u)
		if err == nil {
			q := parsed.Query()
			q.Set("scope", strings.Join(o.cfg.Scopes, ","))
			parsed.RawQuery = q.Encode()
			u = parsed.String()
		}
	}
	return u
}

// ExchangeCode redeems an authorization code for a token set.
func (o *OAuth) ExchangeCode(ctx context.Context, code string) (*provider.TokenSet, error) {
	ctx = o.clientContext(ctx)
	tok, err := o.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, o.classifyTokenError(err)
	}
	return o.tokenSet(tok)
}

// Refresh exchanges a refresh token for a fresh token set. When Strava
// does not rotate the refresh token the returned set carries the old one.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*provider.TokenSet, error) {
	ctx = o.clientContext(ctx)
	// Expiry in the past forces TokenSource to hit the token endpoint.
	seed := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Now().Add(-time.Hour)}
	tok, err := o.oauth.TokenSource(ctx, seed).Token()
	if err != nil {
		return nil, o.classifyTokenError(err)
	}
	return o.tokenSet(tok)
}

func (o *OAuth) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

// tokenSet validates the response contract: access_token and expiry are
// required, refresh_token and the athlete id are optional.
func (o *OAuth) tokenSet(tok *oauth2.Token) (*provider.TokenSet, error) {
	if tok.AccessToken == "" {
		return nil, &provider.RequestError{Provider: o.cfg.Name, Message: "token response missing access_token"}
	}
	if tok.Expiry.IsZero() {
		return nil, &provider.RequestError{Provider: o.cfg.Name, Message: "token response missing expires_at"}
	}
	set := &provider.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	// Strava embeds the athlete on the initial exchange only.
	if athlete, ok := tok.Extra("athlete").(map[string]interface{}); ok {
		if id, ok := athlete["id"].(float64); ok {
			set.AthleteID = fmt.Sprintf("%.0f", id)
		}
	}
	return set, nil
}

// classifyTokenError maps a token-endpoint failure into the engine's
// error taxonomy: 429 → RateLimited, 401/403 → Unauthorized, anything
// else → RequestError with the provider message when present.
func (o *OAuth) classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return &provider.RequestError{Provider: o.cfg.Name, Message: err.Error()}
	}

	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}
	message := httputil.MessageFromBody(retrieveErr.Body)

	switch status {
	case http.StatusTooManyRequests:
		return &provider.RateLimitedError{
			Provider:   o.cfg.Name,
			RetryAfter: retryAfterSeconds(retrieveErr.Response),
			Message:    message,
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &provider.UnauthorizedError{Provider: o.cfg.Name, Message: message}
	default:
		return &provider.RequestError{Provider: o.cfg.Name, StatusCode: status, Message: message}
	}
}
