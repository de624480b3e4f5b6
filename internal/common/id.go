package common

import (
	"strings"

	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<12 hex chars>
func NewJobID() string {
	return "job_" + shortHex()
}

// NewArticleID generates a unique article ID with the "art_" prefix
// Format: art_<12 hex chars>
func NewArticleID() string {
	return "art_" + shortHex()
}

func shortHex() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return hex[:12]
}
