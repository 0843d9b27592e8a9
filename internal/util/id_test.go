package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	id := NewID("note")
	assert.True(t, strings.HasPrefix(id, "note_"))
	assert.Len(t, id, len("note_")+32)
	assert.NotEqual(t, id, NewID("note"))
	assert.Len(t, NewID(""), 32)
}
