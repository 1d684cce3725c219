package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPVerifierResolvesAndCaches(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer token-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(Identity{UserID: "user-1", DisplayName: "Alice"})
	}))
	defer server.Close()

	verifier := NewHTTPVerifier(server.URL)
	ctx := context.Background()

	identity, err := verifier.Verify(ctx, "token-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.UserID != "user-1" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if _, err := verifier.Verify(ctx, "token-1"); err != nil {
		t.Fatalf("cached verify: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("provider called %d times, want 1", calls.Load())
	}

	if _, err := verifier.Verify(ctx, "token-2"); err != ErrInvalidToken {
		t.Fatalf("bad token: got %v, want ErrInvalidToken", err)
	}
}

func TestHTTPVerifierCacheExpires(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(Identity{UserID: "user-1"})
	}))
	defer server.Close()

	verifier := NewHTTPVerifier(server.URL)
	current := time.Now()
	verifier.now = func() time.Time { return current }

	ctx := context.Background()
	if _, err := verifier.Verify(ctx, "token-1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	current = current.Add(2 * time.Minute)
	if _, err := verifier.Verify(ctx, "token-1"); err != nil {
		t.Fatalf("verify after expiry: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("provider called %d times, want 2", calls.Load())
	}
}

func TestStaticVerifier(t *testing.T) {
	verifier := StaticVerifier{Identities: map[string]Identity{
		"dev-token": {UserID: "user-1", DisplayName: "Dev"},
	}}
	if _, err := verifier.Verify(context.Background(), "dev-token"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := verifier.Verify(context.Background(), "nope"); err != ErrInvalidToken {
		t.Fatalf("got %v, want ErrInvalidToken", err)
	}
}

func TestBearerToken(t *testing.T) {
	if token, ok := BearerToken("Bearer abc"); !ok || token != "abc" {
		t.Fatalf("got %q, %v", token, ok)
	}
	if _, ok := BearerToken("Basic abc"); ok {
		t.Fatal("accepted non-bearer header")
	}
	if _, ok := BearerToken("Bearer "); ok {
		t.Fatal("accepted empty token")
	}
}
