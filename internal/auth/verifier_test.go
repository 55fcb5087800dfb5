package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://auth.example.com"

type testKeys struct {
	key      *rsa.PrivateKey
	verifier *Verifier
}

func newTestKeys(t *testing.T, audience string) *testKeys {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	b64 := base64.RawURLEncoding.EncodeToString
	jwks, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   b64(key.N.Bytes()),
			"e":   b64(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	require.NoError(t, err)

	kf, err := keyfunc.NewJWKSetJSON(jwks)
	require.NoError(t, err)

	return &testKeys{key: key, verifier: newVerifier(kf, Config{Issuer: testIssuer + "/", Audience: audience})}
}

func (k *testKeys) sign(t *testing.T, claims TokenClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	s, err := token.SignedString(k.key)
	require.NoError(t, err)
	return s
}

func validClaims() TokenClaims {
	return TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user_1",
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{"diffscope"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "dev@example.com",
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		want       string
	}{
		{
			name:       "empty header",
			authHeader: "",
			want:       "",
		},
		{
			name:       "valid bearer token",
			authHeader: "Bearer eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9.test",
			want:       "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9.test",
		},
		{
			name:       "lowercase bearer",
			authHeader: "bearer token123",
			want:       "token123",
		},
		{
			name:       "invalid format - no space",
			authHeader: "Bearertoken123",
			want:       "",
		},
		{
			name:       "invalid format - wrong scheme",
			authHeader: "Basic dXNlcjpwYXNz",
			want:       "",
		},
		{
			name:       "empty token after bearer",
			authHeader: "Bearer ",
			want:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			got := extractBearerToken(req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerify(t *testing.T) {
	k := newTestKeys(t, "diffscope")

	claims, err := k.verifier.Verify(k.sign(t, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user_1", claims.Subject)
	assert.Equal(t, "dev@example.com", claims.Email)
}

func TestVerify_Rejects(t *testing.T) {
	k := newTestKeys(t, "diffscope")
	other := newTestKeys(t, "")

	tests := []struct {
		name   string
		mutate func(c *TokenClaims)
		signer *testKeys
	}{
		{"wrong issuer", func(c *TokenClaims) { c.Issuer = "https://evil.example.com" }, k},
		{"wrong audience", func(c *TokenClaims) { c.Audience = jwt.ClaimStrings{"other"} }, k},
		{"expired", func(c *TokenClaims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour)) }, k},
		{"no expiry", func(c *TokenClaims) { c.ExpiresAt = nil }, k},
		{"no subject", func(c *TokenClaims) { c.Subject = "" }, k},
		{"unknown signing key", func(c *TokenClaims) {}, other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validClaims()
			tt.mutate(&c)
			_, err := k.verifier.Verify(tt.signer.sign(t, c))
			assert.Error(t, err)
		})
	}
}

func TestMiddleware(t *testing.T) {
	k := newTestKeys(t, "")
	var subject string
	handler := Middleware(k.verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = Subject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+k.sign(t, validClaims()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user_1", subject)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid token")
}

func TestMiddleware_NoToken(t *testing.T) {
	// The verifier is never consulted without a token.
	handler := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing token")
}

func TestOptionalMiddleware_NoToken(t *testing.T) {
	called := false
	handler := OptionalMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, Claims(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOptionalMiddleware_InvalidTokenPassesThrough(t *testing.T) {
	k := newTestKeys(t, "")
	called := false
	handler := OptionalMiddleware(k.verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.False(t, IsAuthenticated(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, called)
}

func TestNewVerifier_RequiresIssuer(t *testing.T) {
	_, err := NewVerifier(context.Background(), Config{})
	assert.Error(t, err)
}
