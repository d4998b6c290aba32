package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random 128-bit identifier encoded as lowercase hex.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
