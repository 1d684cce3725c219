package models

import (
	"strings"
	"time"
)

// StreamCredential is the secret publish credential issued to a broadcaster.
// The stream key doubles as the foreign key linking sessions and VOD assets
// back to the owner once a broadcast ends.
type StreamCredential struct {
	OwnerID      string    `json:"ownerId"`
	StreamKey    string    `json:"streamKey"`
	BroadcastURL string    `json:"broadcastUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// StreamSession tracks one owner's broadcast state and presentation metadata.
// Exactly one session exists per owner; it is created lazily alongside the
// credential and flipped by publish lifecycle events.
type StreamSession struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"ownerId"`
	StreamKey    string     `json:"streamKey"`
	IsActive     bool       `json:"isActive"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// OwnerProfile carries the public display fields joined into the live index.
type OwnerProfile struct {
	OwnerID     string    `json:"ownerId"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LiveStream is a session joined with its owner's display fields, as served
// by the live directory endpoint.
type LiveStream struct {
	Session StreamSession `json:"session"`
	Owner   OwnerProfile  `json:"owner"`
}

const (
	VideoStatusPrivate = "private"
	VideoStatusPublic  = "public"
)

// VideoAsset is an on-demand video produced from a finished broadcast or a
// manual upload. New assets always start private.
type VideoAsset struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	StreamKey    string    `json:"streamKey"`
	SourcePath   string    `json:"sourcePath,omitempty"`
	MediaURL     string    `json:"mediaUrl"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	Status       string    `json:"status"`
	UploaderID   string    `json:"uploaderId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// OwnedBy reports whether the asset belongs to the given user. Assets without
// a recorded uploader belong to nobody.
func (v VideoAsset) OwnedBy(userID string) bool {
	return v.UploaderID != "" && v.UploaderID == userID
}

const (
	ChatStatusPending  = "pending"
	ChatStatusApproved = "approved"
	ChatStatusRejected = "rejected"
)

// ChatMessage is observed by the moderation pipeline while pending and
// finalized exactly once. Rejected messages keep only the replacement text.
type ChatMessage struct {
	ID        string     `json:"id"`
	AuthorID  string     `json:"authorId"`
	Text      string     `json:"text"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
}

// UserSanction records the moderation standing of a chat author.
type UserSanction struct {
	UserID     string     `json:"userId"`
	Banned     bool       `json:"banned"`
	MutedUntil *time.Time `json:"mutedUntil,omitempty"`
	Strikes    int        `json:"strikes,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Active reports whether the sanction currently blocks the user.
func (s UserSanction) Active(now time.Time) bool {
	if s.Banned {
		return true
	}
	return s.MutedUntil != nil && s.MutedUntil.After(now)
}

const (
	ReportStatusNew      = "new"
	ReportStatusInReview = "in_review"
	ReportStatusResolved = "resolved"

	ReportContentChat   = "chat"
	ReportContentStream = "stream"
)

// Report is an append-only viewer report; status transitions belong to the
// external moderation console.
type Report struct {
	ID                string    `json:"id"`
	ReportedContentID string    `json:"reportedContentId"`
	ReportedUserID    string    `json:"reportedUserId"`
	ContentType       string    `json:"contentType"`
	Reason            string    `json:"reason"`
	ReporterID        string    `json:"reporterId"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ValidReportContentType reports whether the value is one of the two allowed
// content types.
func ValidReportContentType(value string) bool {
	switch strings.TrimSpace(value) {
	case ReportContentChat, ReportContentStream:
		return true
	default:
		return false
	}
}

// MetricSample holds the latest telemetry for one stream key. Samples are
// in-memory only and lost on restart.
type MetricSample struct {
	Bitrate     float64   `json:"bitrate"`
	Bandwidth   float64   `json:"bandwidth"`
	Latency     float64   `json:"latency"`
	LastUpdated time.Time `json:"lastUpdated"`
}

const JobKindTranscodeHLS = "transcode-hls"

// TranscodeJob is the queue message produced when a broadcast ends. Attempt
// accounting lives in the queue, not here.
type TranscodeJob struct {
	Kind       string    `json:"kind"`
	StreamKey  string    `json:"streamKey"`
	SourcePath string    `json:"sourcePath"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
