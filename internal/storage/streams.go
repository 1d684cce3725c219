package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"driftcast/internal/models"
)

// GetOrCreateCredential returns the owner's existing credential or mints a
// fresh key, session, and profile in one step. Repeat calls never rotate the
// key.
func (s *Storage) GetOrCreateCredential(ctx context.Context, ownerID string, profile OwnerProfileParams) (models.StreamCredential, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return models.StreamCredential{}, fmt.Errorf("owner id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertProfileLocked(ownerID, profile)

	if existing, ok := s.credentials[ownerID]; ok {
		return existing, nil
	}

	key, err := newStreamKey()
	if err != nil {
		return models.StreamCredential{}, err
	}
	now := s.timestamp()
	credential := models.StreamCredential{
		OwnerID:      ownerID,
		StreamKey:    key,
		BroadcastURL: s.broadcastURL(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	session := models.StreamSession{
		ID:        newID(),
		OwnerID:   ownerID,
		StreamKey: key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.credentials[ownerID] = credential
	s.sessions[key] = session
	s.ownerKeys[ownerID] = key
	return credential, nil
}

// CredentialByOwner returns the credential without creating one.
func (s *Storage) CredentialByOwner(ctx context.Context, ownerID string) (models.StreamCredential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.credentials[strings.TrimSpace(ownerID)]
	return credential, ok, nil
}

// RegenerateKey atomically replaces the owner's stream key. The session moves
// to the new key and is forced inactive; the old key stops resolving
// immediately.
func (s *Storage) RegenerateKey(ctx context.Context, ownerID string) (models.StreamCredential, error) {
	ownerID = strings.TrimSpace(ownerID)

	s.mu.Lock()
	defer s.mu.Unlock()

	credential, ok := s.credentials[ownerID]
	if !ok {
		return models.StreamCredential{}, ErrNotFound
	}
	key, err := newStreamKey()
	if err != nil {
		return models.StreamCredential{}, err
	}
	now := s.timestamp()
	oldKey := credential.StreamKey
	session := s.sessions[oldKey]
	delete(s.sessions, oldKey)

	credential.StreamKey = key
	credential.UpdatedAt = now
	session.StreamKey = key
	session.IsActive = false
	session.UpdatedAt = now

	s.credentials[ownerID] = credential
	s.sessions[key] = session
	s.ownerKeys[ownerID] = key
	return credential, nil
}

// UpdateSessionDetails merges the submitted presentation fields into the
// owner's session. Nil fields are untouched.
func (s *Storage) UpdateSessionDetails(ctx context.Context, ownerID string, update SessionDetailsUpdate) (models.StreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.ownerKeys[strings.TrimSpace(ownerID)]
	if !ok {
		return models.StreamSession{}, ErrNotFound
	}
	session := s.sessions[key]
	if update.Title != nil {
		session.Title = strings.TrimSpace(*update.Title)
	}
	if update.Description != nil {
		session.Description = strings.TrimSpace(*update.Description)
	}
	if update.ThumbnailURL != nil {
		session.ThumbnailURL = strings.TrimSpace(*update.ThumbnailURL)
	}
	session.UpdatedAt = s.timestamp()
	s.sessions[key] = session
	return session, nil
}

// LookupByKey resolves a stream key to its session. Unknown keys report
// found=false and never create anything.
func (s *Storage) LookupByKey(ctx context.Context, streamKey string) (models.StreamSession, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[strings.TrimSpace(streamKey)]
	return session, ok, nil
}

// SessionByOwner returns the owner's session, if a credential exists.
func (s *Storage) SessionByOwner(ctx context.Context, ownerID string) (models.StreamSession, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.ownerKeys[strings.TrimSpace(ownerID)]
	if !ok {
		return models.StreamSession{}, false, nil
	}
	return s.sessions[key], true, nil
}

// ListActive returns currently-live sessions joined with owner display
// fields, most recently started first.
func (s *Storage) ListActive(ctx context.Context) ([]models.LiveStream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := make([]models.LiveStream, 0)
	for _, session := range s.sessions {
		if !session.IsActive {
			continue
		}
		live = append(live, models.LiveStream{
			Session: session,
			Owner:   s.profiles[session.OwnerID],
		})
	}
	sort.Slice(live, func(i, j int) bool {
		a, b := live[i].Session, live[j].Session
		at, bt := a.UpdatedAt, b.UpdatedAt
		if a.LastActiveAt != nil {
			at = *a.LastActiveAt
		}
		if b.LastActiveAt != nil {
			bt = *b.LastActiveAt
		}
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.ID < b.ID
	})
	return live, nil
}

// SetActive flips the session's live flag and reports the prior state so
// callers can act on genuine edges only. Deactivation stamps LastActiveAt.
func (s *Storage) SetActive(ctx context.Context, streamKey string, active bool) (StreamTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(streamKey)
	session, ok := s.sessions[key]
	if !ok {
		return StreamTransition{}, ErrNotFound
	}
	wasActive := session.IsActive
	now := s.timestamp()
	session.IsActive = active
	session.UpdatedAt = now
	if active || wasActive {
		stamp := now
		session.LastActiveAt = &stamp
	}
	s.sessions[key] = session
	return StreamTransition{Session: session, WasActive: wasActive}, nil
}

func (s *Storage) upsertProfileLocked(ownerID string, params OwnerProfileParams) {
	profile := s.profiles[ownerID]
	profile.OwnerID = ownerID
	if name := strings.TrimSpace(params.DisplayName); name != "" {
		profile.DisplayName = name
	}
	if avatar := strings.TrimSpace(params.AvatarURL); avatar != "" {
		profile.AvatarURL = avatar
	}
	if profile.DisplayName == "" {
		profile.DisplayName = ownerID
	}
	profile.UpdatedAt = s.timestamp()
	s.profiles[ownerID] = profile
}
