package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conthunt/streamcore/internal/auth"
	"github.com/conthunt/streamcore/internal/model"
)

const secret = "test-secret"

func mint(t *testing.T, now func() time.Time) string {
	t.Helper()
	tok, err := (&auth.DevTokenSource{Secret: secret, UserID: "u1", Now: now}).Token()
	require.NoError(t, err)
	return tok.AccessToken
}

func TestAuth(t *testing.T) {
	var gotUser string
	var gotScopes []string
	h := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
		gotScopes = GetScopes(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"expired token", "Bearer " + mint(t, func() time.Time { return time.Now().Add(-time.Hour) }), StatusTokenExpired},
		{"valid token", "Bearer " + mint(t, nil), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	assert.Equal(t, "u1", gotUser)
	assert.Equal(t, []string{"search", "chat"}, gotScopes)
}

func TestRequireScope(t *testing.T) {
	h := Auth(secret)(RequireScope("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+mint(t, nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLogging_CorrelationID(t *testing.T) {
	var seen string
	h := Logging(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		_, ok := w.(http.Flusher)
		assert.True(t, ok)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-1", seen)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateQuery("cats"))
	assert.Error(t, ValidateQuery("   "))

	assert.NoError(t, ValidatePlatforms([]model.Platform{model.PlatformTikTok}))
	assert.Error(t, ValidatePlatforms([]model.Platform{"myspace"}))

	assert.NoError(t, ValidateSearchID("0190a5c4-7b1e-7c3a-9f00-000000000000"))
	assert.Error(t, ValidateSearchID("abc"))

	assert.NoError(t, ValidateChatID("chat-1"))
	assert.Error(t, ValidateChatID(""))
	assert.Error(t, ValidateChatID("a/b"))

	assert.Error(t, ValidateMessageContent(""))
	assert.Error(t, ValidateMessageContent(string([]byte{0xff})))
}
