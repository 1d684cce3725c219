package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"driftcast/internal/models"
)

// Sanction escalation ladder: first strikes mute, repeated strikes ban.
const (
	muteStrikeLimit = 3
	muteDuration    = 10 * time.Minute
)

// CreateChatMessage stores a new message in pending state for the moderation
// pipeline to pick up.
func (s *Storage) CreateChatMessage(ctx context.Context, authorID, text string) (models.ChatMessage, error) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return models.ChatMessage{}, fmt.Errorf("author id is required")
	}
	if strings.TrimSpace(text) == "" {
		return models.ChatMessage{}, fmt.Errorf("message text is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	message := models.ChatMessage{
		ID:        newID(),
		AuthorID:  authorID,
		Text:      text,
		Status:    models.ChatStatusPending,
		CreatedAt: s.timestamp(),
	}
	s.messages[message.ID] = message
	s.msgOrder = append(s.msgOrder, message.ID)
	return message, nil
}

// PendingMessages returns up to limit messages still awaiting moderation,
// oldest first. A non-positive limit returns all of them.
func (s *Storage) PendingMessages(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]models.ChatMessage, 0)
	for _, id := range s.msgOrder {
		message := s.messages[id]
		if message.Status != models.ChatStatusPending {
			continue
		}
		pending = append(pending, message)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// MessageByID returns the message if it exists.
func (s *Storage) MessageByID(ctx context.Context, id string) (models.ChatMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	message, ok := s.messages[strings.TrimSpace(id)]
	return message, ok, nil
}

// FinalizeMessage moves a pending message to approved or rejected exactly
// once. Rejection replaces the text and stamps EditedAt; a message already in
// a terminal state is left alone and reported with ErrConflict.
func (s *Storage) FinalizeMessage(ctx context.Context, id, status, text string) (models.ChatMessage, error) {
	if status != models.ChatStatusApproved && status != models.ChatStatusRejected {
		return models.ChatMessage{}, fmt.Errorf("invalid chat status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[strings.TrimSpace(id)]
	if !ok {
		return models.ChatMessage{}, ErrNotFound
	}
	if message.Status != models.ChatStatusPending {
		return message, ErrConflict
	}
	message.Status = status
	if status == models.ChatStatusRejected {
		message.Text = text
		edited := s.timestamp()
		message.EditedAt = &edited
	}
	s.messages[message.ID] = message
	return message, nil
}

// DeleteMessage removes a message outright, used when the author is under an
// active sanction.
func (s *Storage) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	for i, msgID := range s.msgOrder {
		if msgID == id {
			s.msgOrder = append(s.msgOrder[:i], s.msgOrder[i+1:]...)
			break
		}
	}
	return nil
}

// SanctionFor returns the user's sanction record if one exists.
func (s *Storage) SanctionFor(ctx context.Context, userID string) (models.UserSanction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sanction, ok := s.sanctions[strings.TrimSpace(userID)]
	return sanction, ok, nil
}

// ApplySanction stores a sanction record verbatim, stamping UpdatedAt.
func (s *Storage) ApplySanction(ctx context.Context, sanction models.UserSanction) error {
	sanction.UserID = strings.TrimSpace(sanction.UserID)
	if sanction.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sanction.UpdatedAt = s.timestamp()
	s.sanctions[sanction.UserID] = sanction
	return nil
}

// EscalateSanction adds a strike for a rejected message. Strikes below the
// limit mute the author for a fixed window; reaching the limit bans them.
func (s *Storage) EscalateSanction(ctx context.Context, userID string, now time.Time) (models.UserSanction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.UserSanction{}, fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sanction := s.sanctions[userID]
	sanction.UserID = userID
	sanction.Strikes++
	if sanction.Strikes >= muteStrikeLimit {
		sanction.Banned = true
		sanction.MutedUntil = nil
	} else {
		until := now.Add(muteDuration)
		sanction.MutedUntil = &until
	}
	sanction.UpdatedAt = s.timestamp()
	s.sanctions[userID] = sanction
	return sanction, nil
}
