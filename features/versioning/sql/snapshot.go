package sql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/siteforge-ai/core/runtime/apperr"
	"github.com/siteforge-ai/core/runtime/ids"
	"github.com/siteforge-ai/core/runtime/versioning"
)

var _ versioning.SnapshotStore = (*SnapshotStore)(nil)

// maxSnapshotRetries bounds the optimistic retry loop for snapshot_number
// assignment when two callers race past the SELECT MAX inside their own
// transactions (only reachable on backends without FOR UPDATE support).
const maxSnapshotRetries = 3

type pageRow struct {
	ID   string `db:"id"`
	Slug string `db:"slug"`
}

type pagePayload struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
	HTML  string `json:"html"`
}

func (s *SnapshotStore) CreateSnapshot(ctx context.Context, sessionID string, source versioning.Source, label string) (versioning.ProjectSnapshot, error) {
	docPayload, pagesPayload, err := s.captureLiveState(ctx, sessionID)
	if err != nil {
		return versioning.ProjectSnapshot{}, err
	}

	var id string
	for attempt := 1; attempt <= maxSnapshotRetries; attempt++ {
		id = ids.NewWithPrefix("snap")
		err = withTx(ctx, s.db, func(tx *sqlx.Tx) error {
			var next int
			nq := tx.Rebind(`SELECT COALESCE(MAX(snapshot_number), 0) + 1 FROM project_snapshots WHERE session_id = ?` + lockSuffix(s.db.Dialect))
			if err := tx.GetContext(ctx, &next, nq, sessionID); err != nil {
				return err
			}
			insert := tx.Rebind(`
				INSERT INTO project_snapshots (id, session_id, snapshot_number, label, source, doc_payload, pages_payload)
				VALUES (?, ?, ?, ?, ?, ?, ?)`)
			_, err := tx.ExecContext(ctx, insert, id, sessionID, next, label, string(source), []byte(docPayload), []byte(pagesPayload))
			return err
		})
		if err == nil || !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return versioning.ProjectSnapshot{}, fmt.Errorf("versioning: create snapshot: %w", err)
	}
	terr := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return applyRetentionTx(ctx, tx, s.db.Dialect, "project_snapshots", "session_id", sessionID)
	})
	if terr != nil {
		return versioning.ProjectSnapshot{}, terr
	}
	return s.getSnapshot(ctx, id)
}

// captureLiveState resolves the current product doc and the current
// rendered HTML of every page (preferring current_version_id, falling back
// to the highest-versioned PageVersion). The HTML is fetched with one query
// per page, not in a single bulk query; a page whose version query fails or
// finds no row is left out of the payload.
func (s *SnapshotStore) captureLiveState(ctx context.Context, sessionID string) (json.RawMessage, json.RawMessage, error) {
	var doc versioning.ProductDoc
	dq := s.db.Rebind(`SELECT * FROM product_docs WHERE session_id = ?`)
	if err := s.db.GetContext(ctx, &doc, dq, sessionID); err != nil {
		return nil, nil, notFound(err, "product doc")
	}
	docPayload, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, err
	}

	var pages []pageRow
	pq := s.db.Rebind(`SELECT id, slug FROM pages WHERE session_id = ? ORDER BY order_index ASC`)
	if err := s.db.SelectContext(ctx, &pages, pq, sessionID); err != nil {
		return nil, nil, err
	}

	payloads := make([]pagePayload, 0, len(pages))
	for _, p := range pages {
		var v versioning.PageVersion
		q := s.db.Rebind(`
			SELECT pv.* FROM page_versions pv
			JOIN pages pg ON pg.id = pv.page_id
			WHERE pv.page_id = ? AND (pv.id = pg.current_version_id OR pg.current_version_id IS NULL OR pg.current_version_id = '')
			ORDER BY pv.version DESC LIMIT 1`)
		if err := s.db.GetContext(ctx, &v, q, p.ID); err != nil {
			continue
		}
		html := ""
		if v.HTML != nil {
			html = *v.HTML
		}
		payloads = append(payloads, pagePayload{Slug: p.Slug, Title: p.Slug, HTML: html})
	}
	pagesPayload, err := json.Marshal(payloads)
	if err != nil {
		return nil, nil, err
	}
	return docPayload, pagesPayload, nil
}

func (s *SnapshotStore) getSnapshot(ctx context.Context, id string) (versioning.ProjectSnapshot, error) {
	var snap versioning.ProjectSnapshot
	q := s.db.Rebind(`SELECT * FROM project_snapshots WHERE id = ?`)
	if err := s.db.GetContext(ctx, &snap, q, id); err != nil {
		return versioning.ProjectSnapshot{}, notFound(err, "snapshot")
	}
	return snap, nil
}

func (s *SnapshotStore) RollbackToSnapshot(ctx context.Context, snapshotID string) (versioning.ProjectSnapshot, error) {
	snap, err := s.getSnapshot(ctx, snapshotID)
	if err != nil {
		return versioning.ProjectSnapshot{}, err
	}
	if snap.IsReleased {
		return versioning.ProjectSnapshot{}, apperr.New(apperr.CategoryStateConflict, "snapshot has been released and cannot be rolled back to")
	}

	var doc versioning.ProductDoc
	if err := json.Unmarshal(snap.DocPayload, &doc); err != nil {
		return versioning.ProjectSnapshot{}, fmt.Errorf("versioning: decode snapshot doc: %w", err)
	}
	docs := NewDocStore(s.db)
	if _, err := docs.Update(ctx, snap.SessionID, &doc.Content, doc.Structured, "rollback to snapshot "+snapshotID, nil, versioning.SourceRollback); err != nil {
		return versioning.ProjectSnapshot{}, err
	}

	var pages []pagePayload
	if err := json.Unmarshal(snap.PagesPayload, &pages); err != nil {
		return versioning.ProjectSnapshot{}, fmt.Errorf("versioning: decode snapshot pages: %w", err)
	}
	pageStore := NewPageStore(s.db)
	for _, p := range pages {
		var page versioning.Page
		pq := s.db.Rebind(`SELECT * FROM pages WHERE session_id = ? AND slug = ?`)
		if err := s.db.GetContext(ctx, &page, pq, snap.SessionID, p.Slug); err != nil {
			continue
		}
		if _, err := pageStore.CreateVersion(ctx, page.ID, p.HTML, versioning.SourceRollback); err != nil {
			return versioning.ProjectSnapshot{}, err
		}
	}

	return s.CreateSnapshot(ctx, snap.SessionID, versioning.SourceRollback, "rollback of "+snapshotID)
}

func (s *SnapshotStore) Pin(ctx context.Context, snapshotID string) error {
	return pinChild(ctx, s.db, "project_snapshots", "session_id", snapshotID)
}

func (s *SnapshotStore) Unpin(ctx context.Context, snapshotID string) error {
	return unpinChild(ctx, s.db, "project_snapshots", "session_id", snapshotID)
}

func (s *SnapshotStore) ListSnapshots(ctx context.Context, sessionID string) ([]versioning.ProjectSnapshot, error) {
	var rows []versioning.ProjectSnapshot
	q := s.db.Rebind(`SELECT * FROM project_snapshots WHERE session_id = ? ORDER BY snapshot_number DESC`)
	if err := s.db.SelectContext(ctx, &rows, q, sessionID); err != nil {
		return nil, err
	}
	return rows, nil
}
