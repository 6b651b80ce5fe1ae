// Package api is the transport layer: webhook ingestion and
// verification, manual sync, and the OAuth connect flow.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	shared "github.com/tracklink/server/pkg"
	"github.com/tracklink/server/pkg/infrastructure/crypto"
	sentryutil "github.com/tracklink/server/pkg/infrastructure/sentry"
	"github.com/tracklink/server/pkg/models"
	"github.com/tracklink/server/pkg/provider"
	"github.com/tracklink/server/pkg/sync"
	"github.com/tracklink/server/pkg/webhook"
)

// userIDHeader carries the authenticated user, set by the fronting
// gateway. Authentication itself is outside this service.
const userIDHeader = "X-User-ID"

type Handler struct {
	db        shared.Database
	registry  *provider.Registry
	processor *webhook.Processor
	syncer    *sync.Orchestrator
	cipher    *crypto.TokenCipher
	logger    *slog.Logger
}

func NewHandler(db shared.Database, registry *provider.Registry, processor *webhook.Processor, syncer *sync.Orchestrator, cipher *crypto.TokenCipher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		db:        db,
		registry:  registry,
		processor: processor,
		syncer:    syncer,
		cipher:    cipher,
		logger:    logger.With("component", "api"),
	}
}

// Router builds the service routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(recoverer(h.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/webhooks/{provider}", func(r chi.Router) {
		r.Get("/", h.verifyWebhook)
		r.Post("/", h.receiveWebhook)
	})
	r.Post("/sync/{provider}", h.manualSync)
	r.Get("/connect/{provider}", h.connect)
	r.Get("/callback/{provider}", h.callback)
	r.Delete("/connections/{provider}", h.disconnect)

	return r
}

// verifyWebhook answers the provider's subscription handshake. Both the
// dotted and underscored query parameter spellings are accepted.
func (h *Handler) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	integration, err := h.registry.Get(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if integration.Config.WebhookVerifyToken == "" {
		writeError(w, http.StatusServiceUnavailable, "webhook verification is not configured")
		return
	}

	q := r.URL.Query()
	mode := firstParam(q, "hub.mode", "hub_mode")
	challenge := firstParam(q, "hub.challenge", "hub_challenge")
	verifyToken := firstParam(q, "hub.verify_token", "hub_verify_token")

	if challenge == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing hub.challenge")
		return
	}
	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(verifyToken), []byte(integration.Config.WebhookVerifyToken)) != 1 {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

// receiveWebhook ingests one provider notification. Any structurally
// valid body is acknowledged with 200 regardless of how processing
// ends; the outcome lives in the WebhookEvent ledger.
func (h *Handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	raw, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "unreadable body")
		return
	}
	if !isJSONObject(raw) {
		writeError(w, http.StatusUnprocessableEntity, "body must be a JSON object")
		return
	}

	ev, err := h.processor.Process(r.Context(), providerName, raw)
	if err != nil {
		var unsupported *provider.UnsupportedProviderError
		if errors.As(err, &unsupported) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		// The ledger is unreachable. Still acknowledge so the provider
		// does not retry-storm; the delivery is lost to the audit trail.
		h.logger.Error("Webhook ledger write failed", "provider", providerName, "error", err)
		sentryutil.CaptureException(err, map[string]interface{}{"provider": providerName}, h.logger)
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "event_status": string(models.WebhookStatusFailed)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "event_status": string(ev.Status)})
}

type syncRequestBody struct {
	ExternalActivityID string `json:"external_activity_id"`
	WithStreams        bool   `json:"with_streams"`
	Before             string `json:"before"`
	After              string `json:"after"`
	Page               int    `json:"page"`
	PerPage            int    `json:"per_page"`
}

// manualSync runs a user-initiated sync inline and maps the outcome to
// a transport status.
func (h *Handler) manualSync(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var body syncRequestBody
	if raw, err := readBody(r); err == nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "malformed request body")
			return
		}
	}

	run, err := h.syncer.Sync(r.Context(), userID, chi.URLParam(r, "provider"), sync.Options{
		ExternalActivityID: body.ExternalActivityID,
		WithStreams:        body.WithStreams,
		Before:             body.Before,
		After:              body.After,
		Page:               body.Page,
		PerPage:            body.PerPage,
	})
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syncRunResponse(run))
}

// connect redirects the browser into the provider's consent screen. The
// user id rides along as the state parameter and is bound back to the
// connection on callback.
func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	integration, err := h.registry.Get(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	http.Redirect(w, r, integration.OAuth.AuthorizationURL(userID), http.StatusFound)
}

// callback finishes the OAuth dance: exchanges the code, encrypts the
// tokens and stores the connection.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	integration, err := h.registry.Get(providerName)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	q := r.URL.Query()
	code := q.Get("code")
	userID := q.Get("state")
	if code == "" || userID == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing code or state")
		return
	}

	tokens, err := integration.OAuth.ExchangeCode(r.Context(), code)
	if err != nil {
		writeProviderError(w, err)
		return
	}

	accessCipher, err := h.cipher.EncryptString(tokens.AccessToken)
	if err != nil {
		h.internalError(w, "encrypt access token", err)
		return
	}
	refreshCipher, err := h.cipher.EncryptString(tokens.RefreshToken)
	if err != nil {
		h.internalError(w, "encrypt refresh token", err)
		return
	}

	now := time.Now().UTC()
	conn := &models.ProviderConnection{
		UserID:             userID,
		Provider:           providerName,
		AccessTokenCipher:  accessCipher,
		RefreshTokenCipher: refreshCipher,
		TokenExpiresAt:     tokens.ExpiresAt,
		ProviderAthleteID:  tokens.AthleteID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := h.db.SetConnection(r.Context(), conn); err != nil {
		h.internalError(w, "store connection", err)
		return
	}

	h.logger.Info("Provider connected", "user_id", userID, "provider", providerName, "athlete_id", tokens.AthleteID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "provider": providerName})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	providerName := chi.URLParam(r, "provider")
	if _, err := h.registry.Get(providerName); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.db.DeleteConnection(r.Context(), userID, providerName); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no connection for provider")
			return
		}
		h.internalError(w, "delete connection", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("Request failed", "op", op, "error", err)
	sentryutil.CaptureException(fmt.Errorf("%s: %w", op, err), nil, h.logger)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeProviderError maps the provider error taxonomy onto transport
// statuses.
func writeProviderError(w http.ResponseWriter, err error) {
	var (
		unsupported  *provider.UnsupportedProviderError
		tokenMissing *provider.TokenMissingError
		invalidToken *provider.InvalidTokenError
		unauthorized *provider.UnauthorizedError
		rateLimited  *provider.RateLimitedError
	)
	switch {
	case errors.As(err, &unsupported), errors.As(err, &tokenMissing):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &invalidToken), errors.As(err, &unauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &rateLimited):
		if rateLimited.RetryAfter != nil {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", *rateLimited.RetryAfter))
		}
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func syncRunResponse(run *models.SyncRun) map[string]interface{} {
	resp := map[string]interface{}{
		"id":             run.ID,
		"user_id":        run.UserID,
		"provider":       run.Provider,
		"status":         string(run.Status),
		"imported_count": run.ImportedCount,
		"queued_at":      run.QueuedAt,
	}
	if run.Reason != "" {
		resp["reason"] = run.Reason
	}
	if run.StartedAt != nil {
		resp["started_at"] = run.StartedAt
	}
	if run.FinishedAt != nil {
		resp["finished_at"] = run.FinishedAt
	}
	return resp
}
