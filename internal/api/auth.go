package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"marketplace/internal/config"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	userIDHeaderDefault = "x-user-id"
	permAdmin           = "admin"
	clientKeyUnknown    = "unknown"
	adminPathPrefix     = "/api/v1/admin/"
)

var (
	errMissingAPIKey    = errors.New("missing api key")
	errInvalidAPIKey    = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
	errMissingUserID    = errors.New("missing or invalid user id header")
)

type clientCtxKey struct{}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
// Identity itself is not managed here: the acting user id is taken from a header
// set by the upstream gateway.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m, limiter: newRateLimiter(cfg.RateLimit)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			client, err := a.authenticate(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), clientCtxKey{}, client))
		}

		if strings.HasPrefix(r.URL.Path, adminPathPrefix) && !isAdmin(r) {
			writeError(w, http.StatusForbidden, errPermissionDenied.Error())
			return
		}

		if !a.limiter.Allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) authenticate(r *http.Request) (config.APIClientKey, error) {
	apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader()))
	if apiKey == "" {
		return config.APIClientKey{}, errMissingAPIKey
	}

	// constant time over every key so a miss does not leak a prefix match
	var (
		found config.APIClientKey
		ok    bool
	)
	for key, client := range a.clients {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			found, ok = client, true
		}
	}
	if !ok {
		return config.APIClientKey{}, errInvalidAPIKey
	}
	return found, nil
}

func (a *HTTPAuth) apiKeyHeader() string {
	h := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		return apiKeyHeaderDefault
	}
	return h
}

func (a *HTTPAuth) userIDHeader() string {
	h := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderUserID))
	if h == "" {
		return userIDHeaderDefault
	}
	return h
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// ActorID reads the acting user id from the request.
func (a *HTTPAuth) ActorID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(a.userIDHeader()))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errMissingUserID
	}
	return id, nil
}

func clientFromContext(ctx context.Context) (config.APIClientKey, bool) {
	c, ok := ctx.Value(clientCtxKey{}).(config.APIClientKey)
	return c, ok
}

// isAdmin requires an authenticated key that lists the admin permission explicitly.
func isAdmin(r *http.Request) bool {
	client, ok := clientFromContext(r.Context())
	if !ok {
		return false
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == permAdmin {
			return true
		}
	}
	return false
}
