package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"3tcapital/ms_facturacion_sunat/internal/infrastructure/config"
	ctxutil "3tcapital/ms_facturacion_sunat/internal/infrastructure/context"
	"3tcapital/ms_facturacion_sunat/internal/testutil"
)

const testIssuer = "https://idp.example.com/realms/facturacion"

// jwksServer serves the public half of key as a single-key JWKS.
func jwksServer(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	set := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func newEnabledAuthenticator(t *testing.T, audience string) (*JWTAuthenticator, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, key)

	auth, err := NewJWTAuthenticator(config.AuthSettings{
		Enabled:     true,
		IssuerURI:   testIssuer,
		JWKSetURI:   srv.URL,
		Audience:    audience,
		ClockSkew:   time.Minute,
		BypassPaths: []string{"/health", "/metrics"},
	}, testutil.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(auth.Close)
	return auth, key
}

func TestNewJWTAuthenticator_AuthDisabled(t *testing.T) {
	auth, err := NewJWTAuthenticator(config.AuthSettings{Enabled: false}, testutil.NewTestLogger())
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.False(t, auth.cfg.Enabled)

	// Close must be safe without a JWKS refresher.
	auth.Close()
}

func TestNewJWTAuthenticator_InvalidJWKSetURI(t *testing.T) {
	_, err := NewJWTAuthenticator(config.AuthSettings{
		Enabled:   true,
		IssuerURI: testIssuer,
		JWKSetURI: "invalid-uri",
	}, testutil.NewTestLogger())
	assert.Error(t, err)
}

func TestJWTAuthenticator_Middleware_AuthDisabledPassesThrough(t *testing.T) {
	auth, _ := NewJWTAuthenticator(config.AuthSettings{Enabled: false}, testutil.NewTestLogger())
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, ctxutil.GetActor(r.Context()))
		_, ok := ClaimsFrom(r.Context())
		assert.False(t, ok)
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/documents/abc", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTAuthenticator_Middleware(t *testing.T) {
	auth, key := newEnabledAuthenticator(t, "")
	now := time.Now()

	valid := signToken(t, key, jwt.RegisteredClaims{
		Issuer:    testIssuer,
		Subject:   "erp-integration",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	expired := signToken(t, key, jwt.RegisteredClaims{
		Issuer:    testIssuer,
		Subject:   "erp-integration",
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
	})
	wrongIssuer := signToken(t, key, jwt.RegisteredClaims{
		Issuer:    "https://other.example.com",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	noExpiry := signToken(t, key, jwt.RegisteredClaims{
		Issuer:  testIssuer,
		Subject: "erp-integration",
	})
	noCaller := signToken(t, key, jwt.RegisteredClaims{
		Issuer:    testIssuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	serviceAccount := signToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		AuthorizedParty: "billing-batch",
	})

	tests := []struct {
		name        string
		path        string
		header      string
		wantStatus  int
		wantSubject string
	}{
		{name: "valid token", path: "/v1/documents", header: "Bearer " + valid, wantStatus: http.StatusOK, wantSubject: "erp-integration"},
		{name: "missing header", path: "/v1/documents", wantStatus: http.StatusUnauthorized},
		{name: "malformed header", path: "/v1/documents", header: "Token " + valid, wantStatus: http.StatusUnauthorized},
		{name: "expired token", path: "/v1/documents", header: "Bearer " + expired, wantStatus: http.StatusUnauthorized},
		{name: "wrong issuer", path: "/v1/documents", header: "Bearer " + wrongIssuer, wantStatus: http.StatusUnauthorized},
		{name: "garbage token", path: "/v1/documents", header: "Bearer invalid.token.here", wantStatus: http.StatusUnauthorized},
		{name: "token without expiry", path: "/v1/documents", header: "Bearer " + noExpiry, wantStatus: http.StatusUnauthorized},
		{name: "token without caller", path: "/v1/documents", header: "Bearer " + noCaller, wantStatus: http.StatusUnauthorized},
		{name: "service account", path: "/v1/documents", header: "Bearer " + serviceAccount, wantStatus: http.StatusOK, wantSubject: "billing-batch"},
		{name: "health bypass", path: "/health", wantStatus: http.StatusOK},
		{name: "metrics bypass", path: "/metrics", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotSubject string
			handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotSubject = ctxutil.GetActor(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantSubject, gotSubject)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestJWTAuthenticator_Audience(t *testing.T) {
	auth, key := newEnabledAuthenticator(t, "facturacion-api")
	now := time.Now()

	tests := []struct {
		name       string
		audience   jwt.ClaimStrings
		wantStatus int
	}{
		{name: "matching audience", audience: jwt.ClaimStrings{"account", "facturacion-api"}, wantStatus: http.StatusOK},
		{name: "other audience", audience: jwt.ClaimStrings{"account"}, wantStatus: http.StatusUnauthorized},
		{name: "no audience", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signToken(t, key, jwt.RegisteredClaims{
				Issuer:    testIssuer,
				Subject:   "erp-integration",
				Audience:  tt.audience,
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			})
			handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				claims, ok := ClaimsFrom(r.Context())
				require.True(t, ok)
				assert.Equal(t, "erp-integration", claims.Caller())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/documents/abc", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestUnauthorizedDetail(t *testing.T) {
	assert.Equal(t, "missing or malformed bearer token", unauthorizedDetail(errMissingHeader))
	assert.Equal(t, "missing or malformed bearer token", unauthorizedDetail(errMalformedHeader))
	assert.Equal(t, "token has no subject", unauthorizedDetail(errNoCaller))
	assert.Equal(t, "invalid or expired token", unauthorizedDetail(jwt.ErrTokenExpired))
}

func TestJWTAuthenticator_shouldBypass(t *testing.T) {
	auth, _ := NewJWTAuthenticator(config.AuthSettings{
		BypassPaths: []string{"/health", "/metrics", ""},
	}, testutil.NewTestLogger())

	tests := []struct {
		path     string
		expected bool
	}{
		{"/health", true},
		{"/metrics", true},
		{"/v1/documents", false},
		{"/health/status", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.shouldBypass(tt.path))
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		expectedTok string
		expectedErr bool
	}{
		{name: "empty header", header: "", expectedErr: true},
		{name: "no Bearer prefix", header: "token123", expectedErr: true},
		{name: "no space", header: "Bearertoken", expectedErr: true},
		{name: "too many parts", header: "Bearer token extra", expectedErr: true},
		{name: "valid", header: "Bearer token123", expectedTok: "token123"},
		{name: "case insensitive", header: "bEaReR token123", expectedTok: "token123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := extractBearerToken(tt.header)
			if tt.expectedErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedTok, token)
		})
	}
}
