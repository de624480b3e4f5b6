package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewJobID(t *testing.T) {
	id := NewJobID()

	assert.True(t, strings.HasPrefix(id, "job_"))
	assert.Len(t, id, len("job_")+12)

	for _, c := range id[len("job_"):] {
		assert.Contains(t, "0123456789abcdef", string(c))
	}
}

func TestNewArticleID(t *testing.T) {
	id := NewArticleID()

	assert.True(t, strings.HasPrefix(id, "art_"))
	assert.Len(t, id, len("art_")+12)
}

func TestIDs_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewJobID()
		assert.False(t, seen[id], "duplicate ID generated: %s", id)
		seen[id] = true
	}
}
