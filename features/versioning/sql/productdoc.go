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

var _ versioning.ProductDocStore = (*DocStore)(nil)

func (s *DocStore) Create(ctx context.Context, sessionID, content string, structured json.RawMessage, status versioning.DocStatus) (versioning.ProductDoc, error) {
	var existing int
	q := s.db.Rebind(`SELECT COUNT(*) FROM product_docs WHERE session_id = ?`)
	if err := s.db.GetContext(ctx, &existing, q, sessionID); err != nil {
		return versioning.ProductDoc{}, err
	}
	if existing > 0 {
		return versioning.ProductDoc{}, apperr.New(apperr.CategoryStateConflict, "session already has a product doc")
	}
	id := ids.NewWithPrefix("doc")
	if structured == nil {
		structured = json.RawMessage(`{}`)
	}
	insert := s.db.Rebind(`
		INSERT INTO product_docs (id, session_id, content, structured, version, status, pending_regeneration_pages)
		VALUES (?, ?, ?, ?, 1, ?, '[]')`)
	if _, err := s.db.ExecContext(ctx, insert, id, sessionID, content, []byte(structured), string(status)); err != nil {
		return versioning.ProductDoc{}, fmt.Errorf("versioning: create product doc: %w", err)
	}
	return s.Get(ctx, sessionID)
}

func (s *DocStore) Get(ctx context.Context, sessionID string) (versioning.ProductDoc, error) {
	var doc versioning.ProductDoc
	q := s.db.Rebind(`SELECT * FROM product_docs WHERE session_id = ?`)
	if err := s.db.GetContext(ctx, &doc, q, sessionID); err != nil {
		return versioning.ProductDoc{}, notFound(err, "product doc")
	}
	return doc, nil
}

func (s *DocStore) Update(ctx context.Context, sessionID string, content *string, structured json.RawMessage, changeSummary string, affectedPages []string, source versioning.Source) (versioning.ProductDoc, error) {
	var result versioning.ProductDoc
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var doc versioning.ProductDoc
		q := tx.Rebind(`SELECT * FROM product_docs WHERE session_id = ?` + lockSuffix(s.db.Dialect))
		if err := tx.GetContext(ctx, &doc, q, sessionID); err != nil {
			return notFound(err, "product doc")
		}
		merged, err := mergeStructured(doc.Structured, structured)
		if err != nil {
			return fmt.Errorf("versioning: merge structured: %w", err)
		}
		newContent := doc.Content
		if content != nil {
			newContent = *content
		}

		var maxHistVersion int
		hq := tx.Rebind(`SELECT COALESCE(MAX(version), 0) FROM product_doc_history WHERE product_doc_id = ?`)
		if err := tx.GetContext(ctx, &maxHistVersion, hq, doc.ID); err != nil {
			return err
		}
		nextVersion := doc.Version
		if maxHistVersion > nextVersion {
			nextVersion = maxHistVersion
		}
		nextVersion++

		histID := ids.NewWithPrefix("dochist")
		insertHist := tx.Rebind(`
			INSERT INTO product_doc_history (id, product_doc_id, version, content, structured, source)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insertHist, histID, doc.ID, nextVersion, newContent, []byte(merged), string(source)); err != nil {
			return err
		}

		update := tx.Rebind(`UPDATE product_docs SET content = ?, structured = ?, version = ?, updated_at = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, update, newContent, []byte(merged), nextVersion, nowFunc(), doc.ID); err != nil {
			return err
		}
		return applyRetentionTx(ctx, tx, s.db.Dialect, "product_doc_history", "product_doc_id", doc.ID)
	})
	if err != nil {
		return versioning.ProductDoc{}, err
	}
	result, err = s.Get(ctx, sessionID)
	return result, err
}

func (s *DocStore) Confirm(ctx context.Context, sessionID string) (versioning.ProductDoc, error) {
	return s.transitionDoc(ctx, sessionID, versioning.DocStatusConfirmed)
}

func (s *DocStore) MarkOutdated(ctx context.Context, sessionID string) (versioning.ProductDoc, error) {
	return s.transitionDoc(ctx, sessionID, versioning.DocStatusOutdated)
}

func (s *DocStore) transitionDoc(ctx context.Context, sessionID string, to versioning.DocStatus) (versioning.ProductDoc, error) {
	doc, err := s.Get(ctx, sessionID)
	if err != nil {
		return versioning.ProductDoc{}, err
	}
	if !versioning.CanTransitionDoc(doc.Status, to) {
		return versioning.ProductDoc{}, apperr.New(apperr.CategoryStateConflict,
			fmt.Sprintf("illegal product doc transition %s -> %s", doc.Status, to))
	}
	q := s.db.Rebind(`UPDATE product_docs SET status = ?, updated_at = ? WHERE session_id = ?`)
	if _, err := s.db.ExecContext(ctx, q, string(to), nowFunc(), sessionID); err != nil {
		return versioning.ProductDoc{}, err
	}
	return s.Get(ctx, sessionID)
}

func (s *DocStore) SetPendingRegeneration(ctx context.Context, sessionID string, pages []string) (versioning.ProductDoc, error) {
	normalized := make([]string, len(pages))
	for i, p := range pages {
		normalized[i] = normalizeSlug(p)
	}
	body, err := json.Marshal(normalized)
	if err != nil {
		return versioning.ProductDoc{}, err
	}
	q := s.db.Rebind(`UPDATE product_docs SET pending_regeneration_pages = ?, updated_at = ? WHERE session_id = ?`)
	if _, err := s.db.ExecContext(ctx, q, []byte(body), nowFunc(), sessionID); err != nil {
		return versioning.ProductDoc{}, err
	}
	return s.Get(ctx, sessionID)
}

func (s *DocStore) Pin(ctx context.Context, historyID string) error {
	return pinChild(ctx, s.db, "product_doc_history", "product_doc_id", historyID)
}

func (s *DocStore) Unpin(ctx context.Context, historyID string) error {
	return unpinChild(ctx, s.db, "product_doc_history", "product_doc_id", historyID)
}

func (s *DocStore) ListHistory(ctx context.Context, sessionID string) ([]versioning.ProductDocHistory, error) {
	var rows []versioning.ProductDocHistory
	q := s.db.Rebind(`
		SELECT h.* FROM product_doc_history h
		JOIN product_docs d ON d.id = h.product_doc_id
		WHERE d.session_id = ? ORDER BY h.version DESC`)
	if err := s.db.SelectContext(ctx, &rows, q, sessionID); err != nil {
		return nil, err
	}
	return rows, nil
}

func normalizeSlug(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ' || r == '_':
			out = append(out, '-')
		}
	}
	return string(out)
}
