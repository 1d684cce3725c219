package storage

import (
	"context"
	"testing"
	"time"

	"driftcast/internal/models"
)

func TestFinalizeMessageExactlyOnce(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	message, err := store.CreateChatMessage(ctx, "user-1", "hello")
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if message.Status != models.ChatStatusPending {
		t.Fatalf("new message status = %q", message.Status)
	}

	approved, err := store.FinalizeMessage(ctx, message.ID, models.ChatStatusApproved, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != models.ChatStatusApproved || approved.Text != "hello" {
		t.Fatalf("unexpected approved message: %+v", approved)
	}

	if _, err := store.FinalizeMessage(ctx, message.ID, models.ChatStatusRejected, "[removed]"); err != ErrConflict {
		t.Fatalf("second finalize: got %v, want ErrConflict", err)
	}
	final, _, _ := store.MessageByID(ctx, message.ID)
	if final.Status != models.ChatStatusApproved || final.Text != "hello" {
		t.Fatalf("second finalize mutated message: %+v", final)
	}
}

func TestFinalizeMessageRejectionReplacesText(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	message, err := store.CreateChatMessage(ctx, "user-1", "something vile")
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	rejected, err := store.FinalizeMessage(ctx, message.ID, models.ChatStatusRejected, "[message removed]")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Text != "[message removed]" {
		t.Fatalf("rejected text = %q", rejected.Text)
	}
	if rejected.EditedAt == nil {
		t.Fatal("rejection did not stamp EditedAt")
	}
}

func TestPendingMessagesOldestFirst(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	first, _ := store.CreateChatMessage(ctx, "user-1", "first")
	second, _ := store.CreateChatMessage(ctx, "user-1", "second")
	if _, err := store.FinalizeMessage(ctx, first.ID, models.ChatStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	pending, err := store.PendingMessages(ctx, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}

func TestEscalateSanctionMutesThenBans(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	first, err := store.EscalateSanction(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("first strike: %v", err)
	}
	if first.Banned {
		t.Fatal("first strike banned the user")
	}
	if first.MutedUntil == nil || !first.MutedUntil.After(now) {
		t.Fatalf("first strike did not mute: %+v", first)
	}
	if !first.Active(now) {
		t.Fatal("mute not active at strike time")
	}
	if first.Active(now.Add(time.Hour)) {
		t.Fatal("mute still active after window")
	}

	store.EscalateSanction(ctx, "user-1", now)
	third, err := store.EscalateSanction(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("third strike: %v", err)
	}
	if !third.Banned {
		t.Fatalf("third strike did not ban: %+v", third)
	}
	if !third.Active(now.Add(24 * time.Hour)) {
		t.Fatal("ban should not expire")
	}
}

func TestDeleteMessage(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	message, _ := store.CreateChatMessage(ctx, "user-1", "bye")
	if err := store.DeleteMessage(ctx, message.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.MessageByID(ctx, message.ID); ok {
		t.Fatal("message still present after delete")
	}
	if err := store.DeleteMessage(ctx, message.ID); err != ErrNotFound {
		t.Fatalf("repeat delete: got %v, want ErrNotFound", err)
	}
}
