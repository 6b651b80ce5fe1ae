package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	sentryutil "github.com/tracklink/server/pkg/infrastructure/sentry"
)

// maxBodyBytes bounds inbound request bodies. Webhook payloads are a
// few hundred bytes; anything near this limit is hostile.
const maxBodyBytes = 1 << 20

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

// isJSONObject reports whether raw decodes to a JSON object. A JSON
// null also unmarshals into a map without error, so the nil map is
// checked explicitly.
func isJSONObject(raw []byte) bool {
	var decoded map[string]json.RawMessage
	return json.Unmarshal(raw, &decoded) == nil && decoded != nil
}

// firstParam returns the first non-empty value among the named query
// parameters.
func firstParam(q url.Values, names ...string) string {
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// recoverer converts handler panics into a 500 and reports them, so a
// single bad request cannot take the server down.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Handler panicked", "path", r.URL.Path, "panic", rec)
					err, ok := rec.(error)
					if !ok {
						err = fmt.Errorf("panic: %v", rec)
					}
					sentryutil.CaptureException(err, map[string]interface{}{"path": r.URL.Path}, logger)
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
