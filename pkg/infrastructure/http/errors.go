// Package httputil provides HTTP error handling utilities.
package httputil

import (
	"encoding/json"
	"io"
	"net/http"
)

// MaxErrorBodySize is the maximum size of error body to include in error messages
const MaxErrorBodySize = 500

// truncate truncates a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// MessageFromBody extracts a human-readable provider message from an
// error response body. Tracking providers usually return
// {"message": "..."} or {"error": "..."}; when neither is present the
// truncated raw body is returned.
func MessageFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	return truncate(string(body), MaxErrorBodySize)
}

// ReadBody drains and closes the response body, returning at most
// 64 KiB. Used when classifying provider failures.
func ReadBody(resp *http.Response) []byte {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return body
}
