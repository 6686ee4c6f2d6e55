package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "biometrics-test"}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	return signed
}

func validClaims(scopes any) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": scopes,
	}
}

func TestParseAcceptsStringAndArrayScopes(t *testing.T) {
	claims, err := Parse(signToken(t, validClaims("summaries:read  summaries:write")), testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Contains(t, claims.Scopes, ScopeSummariesRead)
	require.Contains(t, claims.Scopes, ScopeSummariesWrite)
	require.False(t, claims.ExpiresAt.IsZero())

	claims, err = Parse(signToken(t, validClaims([]string{"summaries:read", ""})), testConfig)
	require.NoError(t, err)
	require.Len(t, claims.Scopes, 1)
}

func TestParseRejectsInvalidTokens(t *testing.T) {
	wrongIssuer := validClaims("summaries:read")
	wrongIssuer["iss"] = "someone-else"

	noSubject := validClaims("summaries:read")
	delete(noSubject, "sub")

	noExpiry := validClaims("summaries:read")
	delete(noExpiry, "exp")

	expired := validClaims("summaries:read")
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	for name, claims := range map[string]jwt.MapClaims{
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"no expiry":    noExpiry,
		"expired":      expired,
	} {
		_, err := Parse(signToken(t, claims), testConfig)
		require.ErrorIs(t, err, ErrInvalidToken, name)
	}

	_, err := Parse(signToken(t, validClaims("summaries:read")), Config{Secret: "other", Issuer: testConfig.Issuer})
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestWriteScopeImpliesRead(t *testing.T) {
	writer := &Claims{Scopes: map[string]struct{}{ScopeSummariesWrite: {}}}
	reader := &Claims{Scopes: map[string]struct{}{ScopeSummariesRead: {}}}

	require.True(t, writer.Allows(ScopeSummariesRead))
	require.True(t, writer.Allows(ScopeSummariesWrite))
	require.True(t, reader.Allows(ScopeSummariesRead))
	require.False(t, reader.Allows(ScopeSummariesWrite))

	var none *Claims
	require.False(t, none.Allows(ScopeSummariesRead))
}

func TestMiddlewareStoresClaimsAndSkipsPublicPaths(t *testing.T) {
	var seen *Claims
	handler := NewMiddleware(testConfig).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNoContent, rec.Code, path)
		require.Nil(t, seen)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/views", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ErrMissingToken.Error(), body["detail"])

	req := httptest.NewRequest(http.MethodGet, "/v1/views", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/views", nil)
	req.Header.Set("Authorization", "bearer "+signToken(t, validClaims([]string{ScopeSummariesRead})))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, "user-1", seen.Subject)
}
