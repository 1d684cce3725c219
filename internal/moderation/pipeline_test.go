package moderation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"driftcast/internal/models"
	"driftcast/internal/observability/metrics"
	"driftcast/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(t *testing.T, store storage.Repository, classifier Classifier, list *Wordlist) (*Pipeline, *metrics.Recorder) {
	t.Helper()
	pipeline := NewPipeline(store, classifier, list, NewMemoryEvents(8), testLogger())
	recorder := metrics.New()
	pipeline.SetRecorder(recorder)
	return pipeline, recorder
}

func TestModerateApprovesCleanMessage(t *testing.T) {
	store := storage.NewStorage()
	pipeline, recorder := newPipeline(t, store, nil, NewWordlist([]string{"badword"}))
	ctx := context.Background()

	message, _ := store.CreateChatMessage(ctx, "user-1", "hello everyone")
	outcome, err := pipeline.Moderate(ctx, message)
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if outcome != OutcomeApproved {
		t.Fatalf("outcome = %q, want approved", outcome)
	}
	final, _, _ := store.MessageByID(ctx, message.ID)
	if final.Status != models.ChatStatusApproved || final.Text != "hello everyone" {
		t.Fatalf("unexpected final message: %+v", final)
	}
	if recorder.ModerationCount(OutcomeApproved) != 1 {
		t.Fatal("approved outcome not recorded")
	}
}

func TestModerateDeletesSanctionedAuthor(t *testing.T) {
	store := storage.NewStorage()
	// Classifier says toxic and wordlist matches; neither may run because
	// the sanction check comes first.
	pipeline, recorder := newPipeline(t, store, StaticClassifier{Toxic: true}, NewWordlist([]string{"hello"}))
	ctx := context.Background()

	if err := store.ApplySanction(ctx, models.UserSanction{UserID: "user-1", Banned: true}); err != nil {
		t.Fatalf("apply sanction: %v", err)
	}
	message, _ := store.CreateChatMessage(ctx, "user-1", "hello")
	outcome, err := pipeline.Moderate(ctx, message)
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if outcome != OutcomeDeleted {
		t.Fatalf("outcome = %q, want deleted", outcome)
	}
	if _, ok, _ := store.MessageByID(ctx, message.ID); ok {
		t.Fatal("sanctioned message not deleted")
	}
	if recorder.ModerationCount(OutcomeDeleted) != 1 {
		t.Fatal("deleted outcome not recorded")
	}
}

func TestModerateExpiredMuteDoesNotDelete(t *testing.T) {
	store := storage.NewStorage()
	pipeline, _ := newPipeline(t, store, nil, nil)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	if err := store.ApplySanction(ctx, models.UserSanction{UserID: "user-1", MutedUntil: &past}); err != nil {
		t.Fatalf("apply sanction: %v", err)
	}
	message, _ := store.CreateChatMessage(ctx, "user-1", "back again")
	outcome, err := pipeline.Moderate(ctx, message)
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if outcome != OutcomeApproved {
		t.Fatalf("outcome = %q, want approved", outcome)
	}
}

func TestModerateRejectsToxicAndEscalates(t *testing.T) {
	store := storage.NewStorage()
	pipeline, recorder := newPipeline(t, store, StaticClassifier{Toxic: true}, nil)
	ctx := context.Background()

	message, _ := store.CreateChatMessage(ctx, "user-1", "something vile")
	outcome, err := pipeline.Moderate(ctx, message)
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if outcome != OutcomeRejectedToxic {
		t.Fatalf("outcome = %q, want rejected_toxic", outcome)
	}
	final, _, _ := store.MessageByID(ctx, message.ID)
	if final.Status != models.ChatStatusRejected || final.Text != RejectedPlaceholder {
		t.Fatalf("unexpected final message: %+v", final)
	}
	sanction, ok, _ := store.SanctionFor(ctx, "user-1")
	if !ok || sanction.Strikes != 1 {
		t.Fatalf("escalation missing: %+v", sanction)
	}
	if recorder.ModerationCount(OutcomeRejectedToxic) != 1 {
		t.Fatal("toxic outcome not recorded")
	}
}

func TestModerateClassifierFailsOpen(t *testing.T) {
	store := storage.NewStorage()
	pipeline, _ := newPipeline(t, store, StaticClassifier{Err: fmt.Errorf("scorer down")}, nil)
	ctx := context.Background()

	message, _ := store.CreateChatMessage(ctx, "user-1", "harmless")
	outcome, err := pipeline.Moderate(ctx, message)
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if outcome != OutcomeApproved {
		t.Fatalf("outcome = %q, want approved when classifier is down", outcome)
	}
}

func TestModerateWordlistRejects(t *testing.T) {
	store := storage.NewStorage()
	pipeline, _ := newPipeline(t, store, nil, NewWordlist([]string{"spoiler"}))
	ctx := context.Background()

	message, _ := store.CreateChatMessage(ctx, "user-1", "big SPÖILER ahead")
	outcome, err := pipeline.Moderate(ctx, message)
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if outcome != OutcomeRejectedWordlist {
		t.Fatalf("outcome = %q, want rejected_wordlist", outcome)
	}
	final, _, _ := store.MessageByID(ctx, message.ID)
	if final.Text != WordlistPlaceholder {
		t.Fatalf("text = %q, want wordlist notice", final.Text)
	}
	// Each stage has its own notice.
	if WordlistPlaceholder == RejectedPlaceholder {
		t.Fatal("wordlist and toxicity notices must differ")
	}
	// Wordlist rejection alone does not add strikes.
	if sanction, ok, _ := store.SanctionFor(ctx, "user-1"); ok && sanction.Strikes != 0 {
		t.Fatalf("wordlist rejection escalated: %+v", sanction)
	}
}

func TestModerateAlreadyFinalizedIsNoop(t *testing.T) {
	store := storage.NewStorage()
	pipeline, _ := newPipeline(t, store, nil, nil)
	ctx := context.Background()

	message, _ := store.CreateChatMessage(ctx, "user-1", "hello")
	if _, err := store.FinalizeMessage(ctx, message.ID, models.ChatStatusApproved, ""); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	reloaded, _, _ := store.MessageByID(ctx, message.ID)
	outcome, err := pipeline.Moderate(ctx, reloaded)
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if outcome != OutcomeAlreadyFinal {
		t.Fatalf("outcome = %q, want already_finalized", outcome)
	}
}

func TestRunSweepsPendingBeforeSubscribing(t *testing.T) {
	store := storage.NewStorage()
	events := NewMemoryEvents(8)
	pipeline := NewPipeline(store, nil, nil, events, testLogger())
	recorder := metrics.New()
	pipeline.SetRecorder(recorder)
	ctx := context.Background()

	leftover, _ := store.CreateChatMessage(ctx, "user-1", "left behind")

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pipeline.Run(runCtx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		message, _, _ := store.MessageByID(ctx, leftover.ID)
		if message.Status == models.ChatStatusApproved {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	final, _, _ := store.MessageByID(ctx, leftover.ID)
	if final.Status != models.ChatStatusApproved {
		t.Fatalf("leftover message not swept: %+v", final)
	}
}

func TestWordlistNormalization(t *testing.T) {
	list := NewWordlist([]string{"Héllo", ""})
	if list.Empty() {
		t.Fatal("list should keep the non-empty term")
	}
	if _, ok := list.Match("well HELLO there"); !ok {
		t.Fatal("case-folded match failed")
	}
	if _, ok := list.Match("héllo"); !ok {
		t.Fatal("diacritic match failed")
	}
	if _, ok := list.Match("goodbye"); ok {
		t.Fatal("unexpected match")
	}
}
