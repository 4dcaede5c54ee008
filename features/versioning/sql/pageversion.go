package sql

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/siteforge-ai/core/runtime/apperr"
	"github.com/siteforge-ai/core/runtime/ids"
	"github.com/siteforge-ai/core/runtime/versioning"
)

var _ versioning.PageVersionStore = (*PageStore)(nil)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

const maxSlugLen = 40

func validateSlug(slug string) error {
	if slug == "" || len(slug) > maxSlugLen || !slugPattern.MatchString(slug) {
		return apperr.New(apperr.CategoryValidation, fmt.Sprintf("invalid page slug %q", slug))
	}
	return nil
}

func (s *PageStore) CreatePage(ctx context.Context, sessionID, slug, title, description string, orderIndex int) (versioning.Page, error) {
	if err := validateSlug(slug); err != nil {
		return versioning.Page{}, err
	}
	var existing int
	cq := s.db.Rebind(`SELECT COUNT(*) FROM pages WHERE session_id = ? AND slug = ?`)
	if err := s.db.GetContext(ctx, &existing, cq, sessionID, slug); err != nil {
		return versioning.Page{}, err
	}
	if existing > 0 {
		return versioning.Page{}, apperr.New(apperr.CategoryValidation, fmt.Sprintf("duplicate slug %q in session", slug))
	}
	id := ids.NewWithPrefix("page")
	insert := s.db.Rebind(`
		INSERT INTO pages (id, session_id, slug, title, description, order_index)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, insert, id, sessionID, slug, title, description, orderIndex); err != nil {
		return versioning.Page{}, fmt.Errorf("versioning: create page: %w", err)
	}
	var page versioning.Page
	gq := s.db.Rebind(`SELECT * FROM pages WHERE id = ?`)
	if err := s.db.GetContext(ctx, &page, gq, id); err != nil {
		return versioning.Page{}, err
	}
	return page, nil
}

func (s *PageStore) CreateVersion(ctx context.Context, pageID string, html string, source versioning.Source) (versioning.PageVersion, error) {
	id := ids.NewWithPrefix("pgv")
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var next int
		vq := tx.Rebind(`SELECT COALESCE(MAX(version), 0) + 1 FROM page_versions WHERE page_id = ?` + lockSuffix(s.db.Dialect))
		if err := tx.GetContext(ctx, &next, vq, pageID); err != nil {
			return err
		}
		insert := tx.Rebind(`
			INSERT INTO page_versions (id, page_id, version, html, source)
			VALUES (?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insert, id, pageID, next, html, string(source)); err != nil {
			return err
		}
		update := tx.Rebind(`UPDATE pages SET current_version_id = ?, updated_at = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, update, id, nowFunc(), pageID); err != nil {
			return err
		}
		return applyRetentionTx(ctx, tx, s.db.Dialect, "page_versions", "page_id", pageID)
	})
	if err != nil {
		return versioning.PageVersion{}, err
	}
	return s.getVersion(ctx, id)
}

func (s *PageStore) getVersion(ctx context.Context, id string) (versioning.PageVersion, error) {
	var v versioning.PageVersion
	q := s.db.Rebind(`SELECT * FROM page_versions WHERE id = ?`)
	if err := s.db.GetContext(ctx, &v, q, id); err != nil {
		return versioning.PageVersion{}, notFound(err, "page version")
	}
	return v, nil
}

func (s *PageStore) GetCurrent(ctx context.Context, pageID string) (versioning.PageVersion, error) {
	var page versioning.Page
	pq := s.db.Rebind(`SELECT * FROM pages WHERE id = ?`)
	if err := s.db.GetContext(ctx, &page, pq, pageID); err != nil {
		return versioning.PageVersion{}, notFound(err, "page")
	}
	if page.CurrentVersionID == "" {
		return versioning.PageVersion{}, apperr.New(apperr.CategoryValidation, "page has no versions yet")
	}
	return s.getVersion(ctx, page.CurrentVersionID)
}

func (s *PageStore) PreviewVersion(ctx context.Context, pageID, versionID string) (versioning.PageVersion, error) {
	v, err := s.getVersion(ctx, versionID)
	if err != nil {
		return versioning.PageVersion{}, err
	}
	if v.PageID != pageID {
		return versioning.PageVersion{}, apperr.New(apperr.CategoryValidation, "version does not belong to page")
	}
	if v.IsReleased {
		return versioning.PageVersion{}, apperr.New(apperr.CategoryStateConflict, "version has been released and cannot be previewed")
	}
	return v, nil
}

func (s *PageStore) BuildPreview(ctx context.Context, pageID string, globalStyleCSS *string) (versioning.PageVersion, string, error) {
	v, err := s.GetCurrent(ctx, pageID)
	if err != nil {
		return versioning.PageVersion{}, "", err
	}
	html := ""
	if v.HTML != nil {
		html = *v.HTML
	}
	if globalStyleCSS != nil && *globalStyleCSS != "" {
		style := fmt.Sprintf("<style>%s</style></head>", *globalStyleCSS)
		if idx := strings.Index(html, "</head>"); idx >= 0 {
			html = html[:idx] + style + html[idx+len("</head>"):]
		} else {
			html = style + html
		}
	}
	return v, html, nil
}

func (s *PageStore) Pin(ctx context.Context, versionID string) error {
	return pinChild(ctx, s.db, "page_versions", "page_id", versionID)
}

func (s *PageStore) Unpin(ctx context.Context, versionID string) error {
	return unpinChild(ctx, s.db, "page_versions", "page_id", versionID)
}

func (s *PageStore) ListVersions(ctx context.Context, pageID string) ([]versioning.PageVersion, error) {
	var rows []versioning.PageVersion
	q := s.db.Rebind(`SELECT * FROM page_versions WHERE page_id = ? ORDER BY version DESC`)
	if err := s.db.SelectContext(ctx, &rows, q, pageID); err != nil {
		return nil, err
	}
	return rows, nil
}
