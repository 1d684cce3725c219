// Package moderation screens pending chat messages before delivery. Every
// message passes the same gauntlet in order: author sanction check, toxicity
// classifier, blocked-term filter, then approval.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"driftcast/internal/models"
	"driftcast/internal/observability/logging"
	"driftcast/internal/observability/metrics"
	"driftcast/internal/storage"
)

// Replacement texts written over rejected messages. Each stage has its own
// notice so readers can tell a toxicity rejection from a blocked term.
const (
	RejectedPlaceholder = "[message removed]"
	WordlistPlaceholder = "[message blocked]"
)

// Moderation outcomes, recorded per message.
const (
	OutcomeDeleted          = "deleted"
	OutcomeRejectedToxic    = "rejected_toxic"
	OutcomeRejectedWordlist = "rejected_wordlist"
	OutcomeApproved         = "approved"
	OutcomeAlreadyFinal     = "already_finalized"
)

// Pipeline consumes pending-message events and finalizes each message.
type Pipeline struct {
	store      storage.Repository
	classifier Classifier
	wordlist   *Wordlist
	source     EventSource
	logger     *slog.Logger
	recorder   *metrics.Recorder
	now        func() time.Time
}

// NewPipeline assembles the pipeline. A nil classifier or wordlist disables
// that stage.
func NewPipeline(store storage.Repository, classifier Classifier, wordlist *Wordlist, source EventSource, logger *slog.Logger) *Pipeline {
	if classifier == nil {
		classifier = StaticClassifier{}
	}
	if wordlist == nil {
		wordlist = NewWordlist(nil)
	}
	return &Pipeline{
		store:      store,
		classifier: classifier,
		wordlist:   wordlist,
		source:     source,
		logger:     logging.WithComponent(logger, "moderation"),
		recorder:   metrics.Default(),
		now:        time.Now,
	}
}

// SetRecorder overrides the metrics recorder, used by tests.
func (p *Pipeline) SetRecorder(recorder *metrics.Recorder) {
	if recorder != nil {
		p.recorder = recorder
	}
}

// SetClock overrides the time source, used by tests.
func (p *Pipeline) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Run sweeps messages left pending by a previous crash, then follows the
// event stream until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.sweepPending(ctx); err != nil {
		p.logger.Warn("pending sweep failed", "error", err)
	}
	events, err := p.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for event := range events {
		outcome, err := p.ModerateByID(ctx, event.MessageID)
		if err != nil {
			p.logger.Error("moderation failed, leaving event unacked",
				"message_id", event.MessageID, "error", err)
			continue
		}
		p.logger.Debug("message moderated", "message_id", event.MessageID, "outcome", outcome)
		if err := event.Ack(ctx); err != nil {
			p.logger.Warn("ack failed", "message_id", event.MessageID, "error", err)
		}
	}
	return ctx.Err()
}

func (p *Pipeline) sweepPending(ctx context.Context) error {
	pending, err := p.store.PendingMessages(ctx, 0)
	if err != nil {
		return err
	}
	for _, message := range pending {
		outcome, err := p.Moderate(ctx, message)
		if err != nil {
			p.logger.Error("sweep moderation failed", "message_id", message.ID, "error", err)
			continue
		}
		p.logger.Debug("swept pending message", "message_id", message.ID, "outcome", outcome)
	}
	return nil
}

// ModerateByID loads the message and moderates it. A message that no longer
// exists counts as already handled.
func (p *Pipeline) ModerateByID(ctx context.Context, messageID string) (string, error) {
	message, ok, err := p.store.MessageByID(ctx, messageID)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeAlreadyFinal, nil
	}
	return p.Moderate(ctx, message)
}

// Moderate runs one message through the stage order. Stages never run out of
// order: an active sanction short-circuits everything, toxicity wins over the
// wordlist.
func (p *Pipeline) Moderate(ctx context.Context, message models.ChatMessage) (string, error) {
	if message.Status != models.ChatStatusPending {
		return OutcomeAlreadyFinal, nil
	}

	sanction, ok, err := p.store.SanctionFor(ctx, message.AuthorID)
	if err != nil {
		return "", fmt.Errorf("load sanction: %w", err)
	}
	if ok && sanction.Active(p.now()) {
		if err := p.store.DeleteMessage(ctx, message.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("delete sanctioned message: %w", err)
		}
		return p.outcome(OutcomeDeleted), nil
	}

	toxic, err := p.classifier.Classify(ctx, message.Text)
	if err != nil {
		// Classifier trouble must not silence chat; score as clean and
		// move on.
		p.logger.Warn("classifier unavailable, failing open",
			"message_id", message.ID, "error", err)
		toxic = false
	}
	if toxic {
		if err := p.reject(ctx, message, RejectedPlaceholder); err != nil {
			return "", err
		}
		if _, err := p.store.EscalateSanction(ctx, message.AuthorID, p.now()); err != nil {
			p.logger.Error("sanction escalation failed", "author_id", message.AuthorID, "error", err)
		}
		return p.outcome(OutcomeRejectedToxic), nil
	}

	if term, matched := p.wordlist.Match(message.Text); matched {
		p.logger.Debug("blocked term matched", "message_id", message.ID, "term", term)
		if err := p.reject(ctx, message, WordlistPlaceholder); err != nil {
			return "", err
		}
		return p.outcome(OutcomeRejectedWordlist), nil
	}

	_, err = p.store.FinalizeMessage(ctx, message.ID, models.ChatStatusApproved, "")
	if errors.Is(err, storage.ErrConflict) {
		return OutcomeAlreadyFinal, nil
	}
	if err != nil {
		return "", fmt.Errorf("approve message: %w", err)
	}
	return p.outcome(OutcomeApproved), nil
}

func (p *Pipeline) reject(ctx context.Context, message models.ChatMessage, notice string) error {
	_, err := p.store.FinalizeMessage(ctx, message.ID, models.ChatStatusRejected, notice)
	if errors.Is(err, storage.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reject message: %w", err)
	}
	return nil
}

func (p *Pipeline) outcome(outcome string) string {
	p.recorder.ObserveModeration(outcome)
	return outcome
}
