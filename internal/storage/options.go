package storage

import "time"

// Option adjusts construction of the in-memory Storage.
type Option func(*Storage)

// WithClock overrides the time source, used by tests to control stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBroadcastBase sets the base URL reported to broadcasters alongside
// their stream key.
func WithBroadcastBase(base string) Option {
	return func(s *Storage) {
		if base != "" {
			s.broadcastBase = base
		}
	}
}
