package httputil

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestMessageFromBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message field", `{"message": "Rate Limit Exceeded"}`, "Rate Limit Exceeded"},
		{"error field", `{"error": "invalid_grant"}`, "invalid_grant"},
		{"message wins over error", `{"message": "primary", "error": "secondary"}`, "primary"},
		{"raw fallback", `plain text failure`, "plain text failure"},
		{"empty body", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MessageFromBody([]byte(tt.body)); got != tt.want {
				t.Errorf("MessageFromBody(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestMessageFromBodyTruncates(t *testing.T) {
	long := strings.Repeat("x", MaxErrorBodySize+100)
	got := MessageFromBody([]byte(long))
	if len(got) != MaxErrorBodySize+3 {
		t.Errorf("Expected truncated message of %d chars, got %d", MaxErrorBodySize+3, len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("Expected truncation marker, got tail %q", got[len(got)-5:])
	}
}

func TestReadBodyLimitsSize(t *testing.T) {
	huge := strings.Repeat("a", 100*1024)
	resp := &http.Response{
		StatusCode: 500,
		Body:       io.NopCloser(strings.NewReader(huge)),
	}

	body := ReadBody(resp)
	if len(body) != 64*1024 {
		t.Errorf("Expected body capped at 64KiB, got %d bytes", len(body))
	}
}
