package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier with an optional type prefix, e.g. "note_3f2a...".
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
