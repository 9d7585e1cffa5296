package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubValidator struct {
	project string
	err     error
}

func (s stubValidator) ValidateToken(_ context.Context, token string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if token == "" {
		return "", errors.New("empty token")
	}
	return s.project, nil
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		validator  stubValidator
		wantStatus int
	}{
		{
			name:       "valid token",
			header:     "Bearer abc123.secret",
			validator:  stubValidator{project: "default"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing header",
			header:     "",
			validator:  stubValidator{project: "default"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong scheme",
			header:     "Basic dXNlcjpwYXNz",
			validator:  stubValidator{project: "default"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "rejected token",
			header:     "Bearer bad",
			validator:  stubValidator{err: errors.New("no such key")},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "validator returns empty project",
			header:     "Bearer abc",
			validator:  stubValidator{project: "  "},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotProject string
			handler := BearerAuth(tt.validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotProject, _ = ProjectFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("GET", "/v1/features", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && gotProject != tt.validator.project {
				t.Fatalf("project in context = %q, want %q", gotProject, tt.validator.project)
			}
		})
	}
}

func TestBearerAuthPropagatesAPIKeyID(t *testing.T) {
	var gotKeyID string
	handler := BearerAuth(stubValidator{project: "default"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKeyID, _ = APIKeyIDFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/v1/features", nil)
	req.Header.Set("Authorization", "Bearer keyid123.secretpart")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotKeyID != "keyid123" {
		t.Fatalf("API key ID in context = %q, want %q", gotKeyID, "keyid123")
	}
}

func TestBearerAuthFailureCallbackAndRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 2)
	defer rl.Stop()

	failures := 0
	handler := BearerAuth(
		stubValidator{err: errors.New("nope")},
		WithOnAuthFailure(func() { failures++ }),
		WithRateLimiter(rl),
	)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest("GET", "/v1/features", nil)
		req.RemoteAddr = "10.0.0.9:51000"
		req.Header.Set("Authorization", "Bearer bad")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	if failures != 4 {
		t.Fatalf("failure callback ran %d times, want 4", failures)
	}
	if statuses[0] != http.StatusUnauthorized || statuses[1] != http.StatusUnauthorized {
		t.Fatalf("first attempts = %v, want 401s within the limit", statuses[:2])
	}
	if statuses[3] != http.StatusTooManyRequests {
		t.Fatalf("final attempt status = %d, want 429 after limit", statuses[3])
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"192.0.2.1:8080", "192.0.2.1"},
		{"192.0.2.1", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
	}
	for _, tt := range tests {
		if got := ExtractIP(tt.input); got != tt.want {
			t.Errorf("ExtractIP(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
