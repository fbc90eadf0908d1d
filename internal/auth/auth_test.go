package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "progress-tests"}

func issue(t *testing.T, cfg Config, scopes ...string) string {
	t.Helper()
	token, err := Issue(cfg, "user-1", scopes, time.Hour, time.Now())
	require.NoError(t, err)
	return token
}

func TestParseAcceptsIssuedToken(t *testing.T) {
	claims, err := Parse(issue(t, testConfig, ScopeProgressRead), testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.True(t, claims.HasScope(ScopeProgressRead))
	require.False(t, claims.HasScope(ScopeProgressWrite))
}

func TestParseRejectsBadTokens(t *testing.T) {
	wrongSecret := issue(t, Config{Secret: "other", Issuer: testConfig.Issuer})
	wrongIssuer := issue(t, Config{Secret: testConfig.Secret, Issuer: "someone-else"})
	expired, err := Issue(testConfig, "user-1", nil, -time.Minute, time.Now())
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1", "iss": testConfig.Issuer}).
		SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": testConfig.Issuer, "exp": time.Now().Add(time.Hour).Unix()}).
		SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong secret": wrongSecret,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"no expiry":    noExpiry,
		"no subject":   noSubject,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(token, testConfig)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestNormalizeScopesAcceptsSpaceSeparatedString(t *testing.T) {
	scopes := normalizeScopes("progress:read  progress:write")
	require.Len(t, scopes, 2)
	require.Contains(t, scopes, ScopeProgressWrite)
}

func TestMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := FromContext(r.Context())
		if ok {
			w.Header().Set("X-Subject", claims.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	handler := NewMiddleware(testConfig, PublicPaths).Wrap(RequireScope(ScopeProgressRead, next))

	t.Run("public path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewMiddleware(testConfig, PublicPaths).Wrap(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.JSONEq(t, `{"type":"unauthorized","detail":"missing bearer token"}`, rec.Body.String())
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/progress", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing scope", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/progress", nil)
		req.Header.Set("Authorization", "Bearer "+issue(t, testConfig, ScopeProgressWrite))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("authorised", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/progress", nil)
		req.Header.Set("Authorization", "Bearer "+issue(t, testConfig, ScopeProgressRead))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "user-1", rec.Header().Get("X-Subject"))
	})
}
