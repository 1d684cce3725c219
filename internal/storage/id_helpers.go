package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

const streamKeyPrefix = "live_"

func newID() string {
	return uuid.NewString()
}

// newStreamKey mints a publish credential: the "live_" prefix plus 24 hex
// characters of entropy.
func newStreamKey() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate stream key: %w", err)
	}
	return streamKeyPrefix + hex.EncodeToString(buf), nil
}
