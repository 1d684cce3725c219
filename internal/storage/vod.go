package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"driftcast/internal/models"
)

// CreateVideo registers a new private VOD asset. A second asset for the same
// (streamKey, sourcePath) pair is refused with ErrConflict, which is what
// makes redelivered transcode jobs harmless.
func (s *Storage) CreateVideo(ctx context.Context, params CreateVideoParams) (models.VideoAsset, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.VideoAsset{}, fmt.Errorf("title is required")
	}
	if strings.TrimSpace(params.MediaURL) == "" {
		return models.VideoAsset{}, fmt.Errorf("media url is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if params.StreamKey != "" && params.SourcePath != "" {
		for _, existing := range s.videos {
			if existing.StreamKey == params.StreamKey && existing.SourcePath == params.SourcePath {
				return models.VideoAsset{}, ErrConflict
			}
		}
	}

	now := s.timestamp()
	asset := models.VideoAsset{
		ID:           newID(),
		Title:        title,
		StreamKey:    strings.TrimSpace(params.StreamKey),
		SourcePath:   strings.TrimSpace(params.SourcePath),
		MediaURL:     strings.TrimSpace(params.MediaURL),
		ThumbnailURL: strings.TrimSpace(params.ThumbnailURL),
		Status:       models.VideoStatusPrivate,
		UploaderID:   strings.TrimSpace(params.UploaderID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.videos[asset.ID] = asset
	s.videoOrder = append(s.videoOrder, asset.ID)
	return asset, nil
}

// VideoByID returns the asset regardless of visibility.
func (s *Storage) VideoByID(ctx context.Context, id string) (models.VideoAsset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.videos[strings.TrimSpace(id)]
	return asset, ok, nil
}

// PublicVideoByID returns the asset only when it is published. Private assets
// are indistinguishable from missing ones.
func (s *Storage) PublicVideoByID(ctx context.Context, id string) (models.VideoAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.videos[strings.TrimSpace(id)]
	if !ok || asset.Status != models.VideoStatusPublic {
		return models.VideoAsset{}, ErrNotFound
	}
	return asset, nil
}

// ListPublicVideos returns published assets, newest first.
func (s *Storage) ListPublicVideos(ctx context.Context) ([]models.VideoAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(a models.VideoAsset) bool {
		return a.Status == models.VideoStatusPublic
	}), nil
}

// VideosByUploader returns every asset the user uploaded, private included,
// newest first.
func (s *Storage) VideosByUploader(ctx context.Context, uploaderID string) ([]models.VideoAsset, error) {
	uploaderID = strings.TrimSpace(uploaderID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(a models.VideoAsset) bool {
		return a.UploaderID != "" && a.UploaderID == uploaderID
	}), nil
}

// VideosByStreamKey returns published assets recorded from the given key,
// newest first.
func (s *Storage) VideosByStreamKey(ctx context.Context, streamKey string) ([]models.VideoAsset, error) {
	streamKey = strings.TrimSpace(streamKey)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(a models.VideoAsset) bool {
		return a.StreamKey == streamKey && a.Status == models.VideoStatusPublic
	}), nil
}

// SetVideoStatus publishes or unpublishes an asset. Only the uploader may
// flip visibility; assets without an uploader cannot be mutated at all.
// Setting the current status again is a no-op, not an error.
func (s *Storage) SetVideoStatus(ctx context.Context, id, actingUserID, status string) (models.VideoAsset, error) {
	if status != models.VideoStatusPublic && status != models.VideoStatusPrivate {
		return models.VideoAsset{}, fmt.Errorf("invalid video status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.videos[strings.TrimSpace(id)]
	if !ok {
		return models.VideoAsset{}, ErrNotFound
	}
	if !asset.OwnedBy(actingUserID) {
		return models.VideoAsset{}, ErrUnauthorized
	}
	if asset.Status != status {
		asset.Status = status
		asset.UpdatedAt = s.timestamp()
		s.videos[asset.ID] = asset
	}
	return asset, nil
}

// UpdateVideo merges the provided fields into the asset. Uploader-only.
func (s *Storage) UpdateVideo(ctx context.Context, id, actingUserID string, update VideoUpdate) (models.VideoAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.videos[strings.TrimSpace(id)]
	if !ok {
		return models.VideoAsset{}, ErrNotFound
	}
	if !asset.OwnedBy(actingUserID) {
		return models.VideoAsset{}, ErrUnauthorized
	}
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return models.VideoAsset{}, fmt.Errorf("title cannot be empty")
		}
		asset.Title = title
	}
	if update.ThumbnailURL != nil {
		asset.ThumbnailURL = strings.TrimSpace(*update.ThumbnailURL)
	}
	asset.UpdatedAt = s.timestamp()
	s.videos[asset.ID] = asset
	return asset, nil
}

// DeleteVideo removes the asset. Uploader-only.
func (s *Storage) DeleteVideo(ctx context.Context, id, actingUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.videos[strings.TrimSpace(id)]
	if !ok {
		return ErrNotFound
	}
	if !asset.OwnedBy(actingUserID) {
		return ErrUnauthorized
	}
	delete(s.videos, asset.ID)
	for i, videoID := range s.videoOrder {
		if videoID == asset.ID {
			s.videoOrder = append(s.videoOrder[:i], s.videoOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Storage) collectLocked(match func(models.VideoAsset) bool) []models.VideoAsset {
	assets := make([]models.VideoAsset, 0)
	for _, id := range s.videoOrder {
		asset := s.videos[id]
		if match(asset) {
			assets = append(assets, asset)
		}
	}
	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].CreatedAt.After(assets[j].CreatedAt)
	})
	return assets
}
