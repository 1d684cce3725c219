package storage

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	return NewStorage(WithClock(func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}))
}

func TestGetOrCreateCredentialIsIdempotent(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	first, err := store.GetOrCreateCredential(ctx, "user-1", OwnerProfileParams{DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	if !strings.HasPrefix(first.StreamKey, "live_") {
		t.Fatalf("stream key %q missing prefix", first.StreamKey)
	}
	if len(first.StreamKey) != len("live_")+24 {
		t.Fatalf("stream key %q has wrong length", first.StreamKey)
	}

	second, err := store.GetOrCreateCredential(ctx, "user-1", OwnerProfileParams{})
	if err != nil {
		t.Fatalf("repeat credential: %v", err)
	}
	if second.StreamKey != first.StreamKey {
		t.Fatalf("repeat request rotated key: %q != %q", second.StreamKey, first.StreamKey)
	}

	session, ok, err := store.LookupByKey(ctx, first.StreamKey)
	if err != nil || !ok {
		t.Fatalf("expected session for new key, ok=%v err=%v", ok, err)
	}
	if session.OwnerID != "user-1" || session.IsActive {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestRegenerateKeyInvalidatesOldKey(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	credential, err := store.GetOrCreateCredential(ctx, "user-1", OwnerProfileParams{})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	oldKey := credential.StreamKey
	if _, err := store.SetActive(ctx, oldKey, true); err != nil {
		t.Fatalf("activate: %v", err)
	}

	rotated, err := store.RegenerateKey(ctx, "user-1")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if rotated.StreamKey == oldKey {
		t.Fatal("regenerate returned the same key")
	}
	if _, ok, _ := store.LookupByKey(ctx, oldKey); ok {
		t.Fatal("old key still resolves")
	}
	session, ok, _ := store.LookupByKey(ctx, rotated.StreamKey)
	if !ok {
		t.Fatal("new key does not resolve")
	}
	if session.IsActive {
		t.Fatal("session stayed active across key rotation")
	}
}

func TestRegenerateKeyUnknownOwner(t *testing.T) {
	store := newTestStorage(t)
	if _, err := store.RegenerateKey(context.Background(), "ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetActiveReportsEdges(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	credential, err := store.GetOrCreateCredential(ctx, "user-1", OwnerProfileParams{})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	key := credential.StreamKey

	up, err := store.SetActive(ctx, key, true)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !up.Started() || up.Ended() {
		t.Fatalf("expected start edge, got %+v", up)
	}

	down, err := store.SetActive(ctx, key, false)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if !down.Ended() {
		t.Fatalf("expected end edge, got %+v", down)
	}
	if down.Session.LastActiveAt == nil {
		t.Fatal("deactivation did not stamp LastActiveAt")
	}

	again, err := store.SetActive(ctx, key, false)
	if err != nil {
		t.Fatalf("repeat deactivate: %v", err)
	}
	if again.Ended() {
		t.Fatal("repeated deactivation reported a second end edge")
	}
}

func TestSetActiveUnknownKey(t *testing.T) {
	store := newTestStorage(t)
	if _, err := store.SetActive(context.Background(), "live_ffffffffffffffffffffffff", true); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListActiveOrdersNewestFirst(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	var keys []string
	for _, owner := range []string{"a", "b", "c"} {
		credential, err := store.GetOrCreateCredential(ctx, owner, OwnerProfileParams{DisplayName: "owner " + owner})
		if err != nil {
			t.Fatalf("create credential: %v", err)
		}
		keys = append(keys, credential.StreamKey)
	}
	for _, key := range keys {
		if _, err := store.SetActive(ctx, key, true); err != nil {
			t.Fatalf("activate %s: %v", key, err)
		}
	}
	if _, err := store.SetActive(ctx, keys[1], false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	live, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("expected 2 live streams, got %d", len(live))
	}
	if live[0].Session.StreamKey != keys[2] || live[1].Session.StreamKey != keys[0] {
		t.Fatalf("unexpected order: %s, %s", live[0].Session.StreamKey, live[1].Session.StreamKey)
	}
	if live[0].Owner.DisplayName != "owner c" {
		t.Fatalf("owner profile not joined: %+v", live[0].Owner)
	}
}

func TestUpdateSessionDetailsMergesFields(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if _, err := store.GetOrCreateCredential(ctx, "user-1", OwnerProfileParams{}); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	title := "Friday show"
	if _, err := store.UpdateSessionDetails(ctx, "user-1", SessionDetailsUpdate{Title: &title}); err != nil {
		t.Fatalf("set title: %v", err)
	}
	description := "weekly recap"
	session, err := store.UpdateSessionDetails(ctx, "user-1", SessionDetailsUpdate{Description: &description})
	if err != nil {
		t.Fatalf("set description: %v", err)
	}
	if session.Title != "Friday show" || session.Description != "weekly recap" {
		t.Fatalf("merge lost fields: %+v", session)
	}
}
