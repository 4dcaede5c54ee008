// Package versioning defines the three append-and-prune histories the core
// keeps on top of a session's live artifacts: ProductDoc history, PageVersion
// history, and ProjectSnapshot history. All three share one retention
// algorithm (see Retention) and one pin/release vocabulary.
package versioning

import (
	"context"
	"encoding/json"
	"time"
)

// Source records what produced a historical entry.
type Source string

const (
	SourceAuto     Source = "auto"
	SourceManual   Source = "manual"
	SourceRollback Source = "rollback"
)

// DocStatus is a ProductDoc's place in its own small state machine.
type DocStatus string

const (
	DocStatusDraft     DocStatus = "draft"
	DocStatusConfirmed DocStatus = "confirmed"
	DocStatusOutdated  DocStatus = "outdated"
)

// docTransitions enumerates the legal ProductDoc status edges from §3.
var docTransitions = map[DocStatus]map[DocStatus]bool{
	DocStatusDraft:     {DocStatusConfirmed: true},
	DocStatusConfirmed: {DocStatusOutdated: true},
	DocStatusOutdated:  {DocStatusConfirmed: true},
}

// CanTransitionDoc reports whether from→to is a legal ProductDoc transition.
func CanTransitionDoc(from, to DocStatus) bool { return docTransitions[from][to] }

// ProductDoc is the source-of-truth product specification for a session.
type ProductDoc struct {
	ID                       string          `json:"id" db:"id"`
	SessionID                string          `json:"session_id" db:"session_id"`
	Content                  string          `json:"content" db:"content"`
	Structured               json.RawMessage `json:"structured" db:"structured"`
	Version                  int             `json:"version" db:"version"`
	Status                   DocStatus       `json:"status" db:"status"`
	PendingRegenerationPages json.RawMessage `json:"pending_regeneration_pages" db:"pending_regeneration_pages"`
	CreatedAt                time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at" db:"updated_at"`
}

// ProductDocHistory is one historical revision of a ProductDoc.
type ProductDocHistory struct {
	ID           string          `json:"id" db:"id"`
	ProductDocID string          `json:"product_doc_id" db:"product_doc_id"`
	Version      int             `json:"version" db:"version"`
	Content      *string         `json:"content,omitempty" db:"content"`
	Structured   json.RawMessage `json:"structured,omitempty" db:"structured"`
	Source       Source          `json:"source" db:"source"`
	IsPinned     bool            `json:"is_pinned" db:"is_pinned"`
	IsReleased   bool            `json:"is_released" db:"is_released"`
	ReleasedAt   *time.Time      `json:"released_at,omitempty" db:"released_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Page is a generated page within a session.
type Page struct {
	ID                string    `json:"id" db:"id"`
	SessionID         string    `json:"session_id" db:"session_id"`
	Slug              string    `json:"slug" db:"slug"`
	Title             string    `json:"title" db:"title"`
	Description       string    `json:"description" db:"description"`
	OrderIndex        int       `json:"order_index" db:"order_index"`
	CurrentVersionID  string    `json:"current_version_id,omitempty" db:"current_version_id"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// PageVersion is one historical rendering of a Page.
type PageVersion struct {
	ID              string     `json:"id" db:"id"`
	PageID          string     `json:"page_id" db:"page_id"`
	Version         int        `json:"version" db:"version"`
	HTML            *string    `json:"html,omitempty" db:"html"`
	Description     string     `json:"description" db:"description"`
	Source          Source     `json:"source" db:"source"`
	IsPinned        bool       `json:"is_pinned" db:"is_pinned"`
	IsReleased      bool       `json:"is_released" db:"is_released"`
	PayloadPrunedAt *time.Time `json:"payload_pruned_at,omitempty" db:"payload_pruned_at"`
	FallbackUsed    bool       `json:"fallback_used" db:"fallback_used"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// ProjectSnapshot is an atomic point-in-time capture of a session's doc and
// pages, stored as an embedded value (not a reference to the live rows).
type ProjectSnapshot struct {
	ID             string          `json:"id" db:"id"`
	SessionID      string          `json:"session_id" db:"session_id"`
	SnapshotNumber int             `json:"snapshot_number" db:"snapshot_number"`
	Label          string          `json:"label" db:"label"`
	Source         Source          `json:"source" db:"source"`
	IsPinned       bool            `json:"is_pinned" db:"is_pinned"`
	IsReleased     bool            `json:"is_released" db:"is_released"`
	DocPayload     json.RawMessage `json:"doc_payload,omitempty" db:"doc_payload"`
	PagesPayload   json.RawMessage `json:"pages_payload,omitempty" db:"pages_payload"`
	ReleasedAt     *time.Time      `json:"released_at,omitempty" db:"released_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ProductDocStore manages a session's single ProductDoc and its history.
type ProductDocStore interface {
	Create(ctx context.Context, sessionID, content string, structured json.RawMessage, status DocStatus) (ProductDoc, error)
	Get(ctx context.Context, sessionID string) (ProductDoc, error)
	Update(ctx context.Context, sessionID string, content *string, structured json.RawMessage, changeSummary string, affectedPages []string, source Source) (ProductDoc, error)
	Confirm(ctx context.Context, sessionID string) (ProductDoc, error)
	MarkOutdated(ctx context.Context, sessionID string) (ProductDoc, error)
	SetPendingRegeneration(ctx context.Context, sessionID string, pages []string) (ProductDoc, error)
	Pin(ctx context.Context, historyID string) error
	Unpin(ctx context.Context, historyID string) error
	ListHistory(ctx context.Context, sessionID string) ([]ProductDocHistory, error)
}

// PageVersionStore manages Page creation and its PageVersion history.
type PageVersionStore interface {
	CreatePage(ctx context.Context, sessionID, slug, title, description string, orderIndex int) (Page, error)
	CreateVersion(ctx context.Context, pageID string, html string, source Source) (PageVersion, error)
	GetCurrent(ctx context.Context, pageID string) (PageVersion, error)
	PreviewVersion(ctx context.Context, pageID, versionID string) (PageVersion, error)
	BuildPreview(ctx context.Context, pageID string, globalStyleCSS *string) (PageVersion, string, error)
	Pin(ctx context.Context, versionID string) error
	Unpin(ctx context.Context, versionID string) error
	ListVersions(ctx context.Context, pageID string) ([]PageVersion, error)
}

// SnapshotStore manages ProjectSnapshot creation and rollback.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, sessionID string, source Source, label string) (ProjectSnapshot, error)
	RollbackToSnapshot(ctx context.Context, snapshotID string) (ProjectSnapshot, error)
	Pin(ctx context.Context, snapshotID string) error
	Unpin(ctx context.Context, snapshotID string) error
	ListSnapshots(ctx context.Context, sessionID string) ([]ProjectSnapshot, error)
}
