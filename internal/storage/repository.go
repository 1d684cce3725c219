package storage

import (
	"context"
	"errors"
	"time"

	"driftcast/internal/models"
)

var (
	// ErrNotFound indicates the requested entity does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates the acting user may not mutate the entity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict indicates the mutation lost against an already-applied
	// state transition (terminal chat status, duplicate VOD source).
	ErrConflict = errors.New("conflict")
)

// OwnerProfileParams carries the public display fields submitted alongside a
// credential request.
type OwnerProfileParams struct {
	DisplayName string
	AvatarURL   string
}

// SessionDetailsUpdate captures the detail-submission flow. Nil fields are
// left untouched.
type SessionDetailsUpdate struct {
	Title        *string
	Description  *string
	ThumbnailURL *string
}

// StreamTransition reports the outcome of a SetActive call. Ended is true
// only on a genuine active-to-inactive edge so callers enqueue VOD creation
// at most once per broadcast.
type StreamTransition struct {
	Session   models.StreamSession
	WasActive bool
}

// Ended reports a true->false activity edge.
func (t StreamTransition) Ended() bool {
	return t.WasActive && !t.Session.IsActive
}

// Started reports a false->true activity edge.
func (t StreamTransition) Started() bool {
	return !t.WasActive && t.Session.IsActive
}

// CreateVideoParams captures the fields required to register a VOD asset.
type CreateVideoParams struct {
	Title        string
	StreamKey    string
	SourcePath   string
	MediaURL     string
	ThumbnailURL string
	UploaderID   string
}

// VideoUpdate describes a partial merge over mutable VOD fields.
type VideoUpdate struct {
	Title        *string
	ThumbnailURL *string
}

// CreateReportParams captures a viewer report before stamping.
type CreateReportParams struct {
	ReportedContentID string
	ReportedUserID    string
	ContentType       string
	Reason            string
}

// Repository is the persistence contract shared by the in-memory store and
// the Postgres store.
type Repository interface {
	// Credentials and sessions.
	GetOrCreateCredential(ctx context.Context, ownerID string, profile OwnerProfileParams) (models.StreamCredential, error)
	CredentialByOwner(ctx context.Context, ownerID string) (models.StreamCredential, bool, error)
	RegenerateKey(ctx context.Context, ownerID string) (models.StreamCredential, error)
	UpdateSessionDetails(ctx context.Context, ownerID string, update SessionDetailsUpdate) (models.StreamSession, error)
	LookupByKey(ctx context.Context, streamKey string) (models.StreamSession, bool, error)
	SessionByOwner(ctx context.Context, ownerID string) (models.StreamSession, bool, error)
	ListActive(ctx context.Context) ([]models.LiveStream, error)
	SetActive(ctx context.Context, streamKey string, active bool) (StreamTransition, error)

	// VOD catalog.
	CreateVideo(ctx context.Context, params CreateVideoParams) (models.VideoAsset, error)
	VideoByID(ctx context.Context, id string) (models.VideoAsset, bool, error)
	PublicVideoByID(ctx context.Context, id string) (models.VideoAsset, error)
	ListPublicVideos(ctx context.Context) ([]models.VideoAsset, error)
	VideosByUploader(ctx context.Context, uploaderID string) ([]models.VideoAsset, error)
	VideosByStreamKey(ctx context.Context, streamKey string) ([]models.VideoAsset, error)
	SetVideoStatus(ctx context.Context, id, actingUserID, status string) (models.VideoAsset, error)
	UpdateVideo(ctx context.Context, id, actingUserID string, update VideoUpdate) (models.VideoAsset, error)
	DeleteVideo(ctx context.Context, id, actingUserID string) error

	// Chat moderation.
	CreateChatMessage(ctx context.Context, authorID, text string) (models.ChatMessage, error)
	PendingMessages(ctx context.Context, limit int) ([]models.ChatMessage, error)
	MessageByID(ctx context.Context, id string) (models.ChatMessage, bool, error)
	FinalizeMessage(ctx context.Context, id, status, text string) (models.ChatMessage, error)
	DeleteMessage(ctx context.Context, id string) error
	SanctionFor(ctx context.Context, userID string) (models.UserSanction, bool, error)
	ApplySanction(ctx context.Context, sanction models.UserSanction) error
	EscalateSanction(ctx context.Context, userID string, now time.Time) (models.UserSanction, error)

	// Reports.
	CreateReport(ctx context.Context, reporterID string, params CreateReportParams) (models.Report, error)
}
