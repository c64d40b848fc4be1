package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"3tcapital/ms_facturacion_sunat/internal/infrastructure/config"
	ctxutil "3tcapital/ms_facturacion_sunat/internal/infrastructure/context"
	httperrors "3tcapital/ms_facturacion_sunat/internal/infrastructure/http"
)

var errNoCaller = errors.New("token identifies no caller")

// Claims are the verified token claims of an API caller. Service accounts
// issued through client credentials carry the client id in azp.
type Claims struct {
	jwt.RegisteredClaims
	AuthorizedParty string `json:"azp,omitempty"`
}

// Caller is the identity recorded on audit entries: the subject, or the
// authorized party when the subject is empty.
func (c *Claims) Caller() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.AuthorizedParty
}

type claimsKey struct{}

// ClaimsFrom returns the verified claims of the request, if it was authenticated.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// JWTAuthenticator validates bearer tokens against a remote JWKS and records
// the caller in the request context.
type JWTAuthenticator struct {
	cfg        config.AuthSettings
	log        *slog.Logger
	jwks       keyfunc.Keyfunc
	parser     *jwt.Parser
	cancel     context.CancelFunc
	bypassPath map[string]struct{}
}

// NewJWTAuthenticator loads the JWKS when auth is enabled. The keys are
// refreshed in the background until Close.
func NewJWTAuthenticator(cfg config.AuthSettings, log *slog.Logger) (*JWTAuthenticator, error) {
	auth := &JWTAuthenticator{
		cfg:        cfg,
		log:        log,
		bypassPath: make(map[string]struct{}),
	}
	for _, path := range cfg.BypassPaths {
		if path != "" {
			auth.bypassPath[path] = struct{}{}
		}
	}
	if !cfg.Enabled {
		return auth, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithIssuer(cfg.IssuerURI),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Alg(),
			jwt.SigningMethodRS384.Alg(),
			jwt.SigningMethodRS512.Alg(),
			jwt.SigningMethodPS256.Alg(),
			jwt.SigningMethodES256.Alg(),
		}),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	auth.parser = jwt.NewParser(opts...)

	ctx, cancel := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{cfg.JWKSetURI}, keyfunc.Override{
		RefreshInterval: 6 * time.Hour,
		HTTPTimeout:     10 * time.Second,
		RefreshErrorHandlerFunc: func(url string) func(context.Context, error) {
			return func(_ context.Context, err error) {
				log.Error("Failed to refresh JWKS", "url", url, "error", err)
			}
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load JWKS from %s: %w", cfg.JWKSetURI, err)
	}
	auth.jwks = jwks
	auth.cancel = cancel
	return auth, nil
}

// Middleware rejects requests without a valid bearer token. Authenticated
// requests carry their claims and the caller as actor.
func (a *JWTAuthenticator) Middleware(next http.Handler) http.Handler {
	if !a.cfg.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.shouldBypass(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := a.authenticate(r)
		if err != nil {
			a.log.Warn("Request rejected by authentication",
				"correlation_id", ctxutil.GetCorrelationID(r.Context()),
				"path", r.URL.Path,
				"error", err,
			)
			httperrors.WriteError(w, http.StatusUnauthorized, "Unauthorized", []string{unauthorizedDetail(err)}, a.log)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = ctxutil.WithActor(ctx, claims.Caller())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *JWTAuthenticator) authenticate(r *http.Request) (*Claims, error) {
	raw, err := extractBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, a.jwks.Keyfunc); err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if claims.Caller() == "" {
		return nil, errNoCaller
	}
	return claims, nil
}

func unauthorizedDetail(err error) string {
	switch {
	case errors.Is(err, errMissingHeader), errors.Is(err, errMalformedHeader):
		return "missing or malformed bearer token"
	case errors.Is(err, errNoCaller):
		return "token has no subject"
	default:
		return "invalid or expired token"
	}
}

// Close stops the background JWKS refresher.
func (a *JWTAuthenticator) Close() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *JWTAuthenticator) shouldBypass(path string) bool {
	_, ok := a.bypassPath[path]
	return ok
}

var (
	errMissingHeader   = errors.New("missing Authorization header")
	errMalformedHeader = errors.New("invalid Authorization header format")
)

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingHeader
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errMalformedHeader
	}
	return parts[1], nil
}
