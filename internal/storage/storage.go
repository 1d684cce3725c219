package storage

import (
	"strings"
	"sync"
	"time"

	"driftcast/internal/models"
)

const defaultBroadcastBase = "rtmp://ingest.driftcast.local/live"

// Storage is the mutex-guarded in-memory Repository used for development and
// tests. All returned values are copies; callers never observe shared state.
type Storage struct {
	mu sync.RWMutex

	credentials map[string]models.StreamCredential // keyed by owner ID
	sessions    map[string]models.StreamSession    // keyed by stream key
	ownerKeys   map[string]string                  // owner ID -> stream key
	profiles    map[string]models.OwnerProfile     // keyed by owner ID
	videos      map[string]models.VideoAsset       // keyed by video ID
	videoOrder  []string
	messages    map[string]models.ChatMessage // keyed by message ID
	msgOrder    []string
	sanctions   map[string]models.UserSanction // keyed by user ID
	reports     map[string]models.Report       // keyed by report ID

	now           func() time.Time
	broadcastBase string
}

// NewStorage constructs an empty in-memory store.
func NewStorage(opts ...Option) *Storage {
	s := &Storage{
		credentials:   make(map[string]models.StreamCredential),
		sessions:      make(map[string]models.StreamSession),
		ownerKeys:     make(map[string]string),
		profiles:      make(map[string]models.OwnerProfile),
		videos:        make(map[string]models.VideoAsset),
		messages:      make(map[string]models.ChatMessage),
		sanctions:     make(map[string]models.UserSanction),
		reports:       make(map[string]models.Report),
		now:           time.Now,
		broadcastBase: defaultBroadcastBase,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) timestamp() time.Time {
	return s.now().UTC()
}

func (s *Storage) broadcastURL() string {
	return strings.TrimRight(s.broadcastBase, "/")
}
