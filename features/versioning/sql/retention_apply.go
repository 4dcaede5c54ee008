package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/siteforge-ai/core/features/sqlstore"
	"github.com/siteforge-ai/core/runtime/versioning"
)

// payloadColumnsByTable lists the columns Retention nulls out on release, per
// history table. All three tables additionally share id/source/is_pinned/
// is_released/created_at, which the retention algorithm operates on directly.
var payloadColumnsByTable = map[string][]string{
	"product_doc_history": {"content", "structured"},
	"page_versions":        {"html"},
	"project_snapshots":    {"doc_payload", "pages_payload"},
}

type retentionRow struct {
	ID         string    `db:"id"`
	Source     string    `db:"source"`
	IsPinned   bool      `db:"is_pinned"`
	IsReleased bool      `db:"is_released"`
	CreatedAt  time.Time `db:"created_at"`
}

func fetchItemsTx(ctx context.Context, tx *sqlx.Tx, dialect sqlstore.Dialect, table, parentCol, parentID string) ([]versioning.Item, error) {
	q := fmt.Sprintf(`SELECT id, source, is_pinned, is_released, created_at FROM %s WHERE %s = ?%s`,
		table, parentCol, lockSuffix(dialect))
	var rows []retentionRow
	if err := tx.SelectContext(ctx, &rows, tx.Rebind(q), parentID); err != nil {
		return nil, err
	}
	items := make([]versioning.Item, len(rows))
	for i, r := range rows {
		items[i] = versioning.Item{
			ID:         r.ID,
			Source:     versioning.Source(r.Source),
			IsPinned:   r.IsPinned,
			IsReleased: r.IsReleased,
			CreatedAt:  r.CreatedAt,
		}
	}
	return items, nil
}

// applyRetentionTx recomputes and applies the retention plan for everything
// under parentID in table, inside an already-open transaction.
func applyRetentionTx(ctx context.Context, tx *sqlx.Tx, dialect sqlstore.Dialect, table, parentCol, parentID string) error {
	items, err := fetchItemsTx(ctx, tx, dialect, table, parentCol, parentID)
	if err != nil {
		return err
	}
	plan := versioning.Retention(items)

	if len(plan.Release) > 0 {
		nullCols := ""
		for _, c := range payloadColumnsByTable[table] {
			nullCols += fmt.Sprintf(", %s = NULL", c)
		}
		q := fmt.Sprintf(`UPDATE %s SET is_released = ?, released_at = ?%s WHERE id = ?`, table, nullCols)
		for _, id := range plan.Release {
			if _, err := tx.ExecContext(ctx, tx.Rebind(q), true, nowFunc(), id); err != nil {
				return err
			}
		}
	}
	if len(plan.Restore) > 0 {
		q := fmt.Sprintf(`UPDATE %s SET is_released = ? WHERE id = ?`, table)
		for _, id := range plan.Restore {
			if _, err := tx.ExecContext(ctx, tx.Rebind(q), false, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func pinChild(ctx context.Context, db *sqlstore.DB, table, parentCol, childID string) error {
	return withTx(ctx, db, func(tx *sqlx.Tx) error {
		var parentID string
		pq := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, parentCol, table)
		if err := tx.GetContext(ctx, &parentID, tx.Rebind(pq), childID); err != nil {
			return notFound(err, table)
		}
		items, err := fetchItemsTx(ctx, tx, db.Dialect, table, parentCol, parentID)
		if err != nil {
			return err
		}
		if err := versioning.CheckPinLimit(items); err != nil {
			return err
		}
		uq := fmt.Sprintf(`UPDATE %s SET is_pinned = ? WHERE id = ?`, table)
		if _, err := tx.ExecContext(ctx, tx.Rebind(uq), true, childID); err != nil {
			return err
		}
		return applyRetentionTx(ctx, tx, db.Dialect, table, parentCol, parentID)
	})
}

func unpinChild(ctx context.Context, db *sqlstore.DB, table, parentCol, childID string) error {
	return withTx(ctx, db, func(tx *sqlx.Tx) error {
		var parentID string
		pq := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, parentCol, table)
		if err := tx.GetContext(ctx, &parentID, tx.Rebind(pq), childID); err != nil {
			return notFound(err, table)
		}
		uq := fmt.Sprintf(`UPDATE %s SET is_pinned = ? WHERE id = ?`, table)
		if _, err := tx.ExecContext(ctx, tx.Rebind(uq), false, childID); err != nil {
			return err
		}
		return applyRetentionTx(ctx, tx, db.Dialect, table, parentCol, parentID)
	})
}
