// Package auth resolves bearer tokens to platform identities. Accounts live
// in an external identity service; this package only verifies and caches.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrInvalidToken indicates the token was rejected by the identity provider.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified caller.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

const (
	defaultCacheTTL      = time.Minute
	defaultVerifyTimeout = 3 * time.Second
)

// HTTPVerifier asks the identity provider to introspect tokens, caching
// positive answers briefly so chat-rate traffic does not hammer it.
type HTTPVerifier struct {
	endpoint string
	client   *http.Client
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedIdentity
}

type cachedIdentity struct {
	identity Identity
	expires  time.Time
}

// NewHTTPVerifier targets the given introspection endpoint.
func NewHTTPVerifier(endpoint string) *HTTPVerifier {
	return &HTTPVerifier{
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: defaultVerifyTimeout},
		ttl:      defaultCacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedIdentity),
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	if identity, ok := v.cached(token); ok {
		return identity, nil
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build verify request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := v.client.Do(request)
	if err != nil {
		return Identity{}, fmt.Errorf("verify token: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, response.Body)
		response.Body.Close()
	}()

	switch {
	case response.StatusCode == http.StatusOK:
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return Identity{}, ErrInvalidToken
	default:
		return Identity{}, fmt.Errorf("identity provider returned %s", response.Status)
	}

	var identity Identity
	if err := json.NewDecoder(response.Body).Decode(&identity); err != nil {
		return Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	if identity.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	v.store(token, identity)
	return identity, nil
}

func (v *HTTPVerifier) cached(token string) (Identity, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.cache[token]
	if !ok || v.now().After(entry.expires) {
		delete(v.cache, token)
		return Identity{}, false
	}
	return entry.identity, true
}

func (v *HTTPVerifier) store(token string, identity Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[token] = cachedIdentity{identity: identity, expires: v.now().Add(v.ttl)}
}

// StaticVerifier maps fixed tokens to identities, for development and tests.
type StaticVerifier struct {
	Identities map[string]Identity
}

func (s StaticVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	identity, ok := s.Identities[strings.TrimSpace(token)]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return identity, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}
