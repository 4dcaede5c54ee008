// Package ids centralizes identifier generation so every durable entity
// (Run, Session, Page, PageVersion, ProductDocHistory, ProjectSnapshot,
// SessionEvent) is minted the same way.
package ids

import "github.com/google/uuid"

// New returns a new random v4 UUID string.
func New() string {
	return uuid.New().String()
}

// NewWithPrefix returns a new UUID string prefixed for readability in logs
// and URLs, e.g. "run_3c1b...".
func NewWithPrefix(prefix string) string {
	return prefix + "_" + uuid.New().String()
}
