package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/karabase/karabase-server/internal/domain"
	"github.com/karabase/karabase-server/internal/errors"
)

// ReconcileResult summarizes one blacklist reconciliation pass.
type ReconcileResult struct {
	Repointed int
	Deleted   int
}

// ReconcileBlacklist repairs blacklist_criteria after a library rebuild.
// Tag primary keys are not stable across rebuilds, so every criteria row
// is re-resolved by (name, type) against the freshly loaded tag table:
// rows whose tag still exists are re-pointed at its new pk, rows whose
// tag vanished from the corpus are deleted. Criteria are advisory, so a
// deleted row is logged rather than treated as a failure.
func (s *Store) ReconcileBlacklist(ctx context.Context) (ReconcileResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT pk, tagtype, fk_tag, tag_name FROM blacklist_criteria")
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list blacklist criteria: %w", err)
	}

	var criteria []domain.BlacklistCriteria
	for rows.Next() {
		var c domain.BlacklistCriteria
		var typ int
		if err := rows.Scan(&c.ID, &typ, &c.TagID, &c.TagName); err != nil {
			rows.Close()
			return ReconcileResult{}, fmt.Errorf("scan blacklist criteria: %w", err)
		}
		c.TagType = domain.TagType(typ)
		criteria = append(criteria, c)
	}
	if err := rows.Close(); err != nil {
		return ReconcileResult{}, err
	}

	var result ReconcileResult
	for _, c := range criteria {
		var newID int
		err := tx.QueryRowContext(ctx,
			"SELECT pk FROM tag WHERE name = ? AND tagtype = ?",
			c.TagName, int(c.TagType)).Scan(&newID)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM blacklist_criteria WHERE pk = ?", c.ID); err != nil {
				return ReconcileResult{}, fmt.Errorf("delete stale criteria %d: %w", c.ID, err)
			}
			result.Deleted++
			s.logger.Warn("blacklist criteria dropped, tag no longer exists",
				"criteria", c.ID, "tag", c.TagName, "tagtype", c.TagType.String())
		case err != nil:
			return ReconcileResult{}, fmt.Errorf("resolve criteria %d: %w", c.ID, err)
		case newID != c.TagID:
			if _, err := tx.ExecContext(ctx,
				"UPDATE blacklist_criteria SET fk_tag = ? WHERE pk = ?", newID, c.ID); err != nil {
				return ReconcileResult{}, fmt.Errorf("repoint criteria %d: %w", c.ID, err)
			}
			result.Repointed++
		}
	}

	if err := tx.Commit(); err != nil {
		return ReconcileResult{}, fmt.Errorf("commit reconcile tx: %w", err)
	}

	if result.Repointed > 0 || result.Deleted > 0 {
		s.logger.Info("blacklist reconciled",
			"repointed", result.Repointed, "deleted", result.Deleted)
	}
	return result, nil
}

// AddBlacklistCriteria records a criteria against the tag with the given
// pk. The tag's name is denormalized into the row so the criteria can be
// re-resolved after the next rebuild reshuffles tag pks.
func (s *Store) AddBlacklistCriteria(ctx context.Context, tagID int) (*domain.BlacklistCriteria, error) {
	var name string
	var typ int
	err := s.db.QueryRowContext(ctx,
		"SELECT name, tagtype FROM tag WHERE pk = ?", tagID).Scan(&name, &typ)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("tag %d not found", tagID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tag %d: %w", tagID, err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO blacklist_criteria (tagtype, fk_tag, tag_name) VALUES (?, ?, ?)",
		typ, tagID, name)
	if err != nil {
		return nil, fmt.Errorf("insert blacklist criteria: %w", err)
	}
	pk, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &domain.BlacklistCriteria{
		ID:      int(pk),
		TagType: domain.TagType(typ),
		TagID:   tagID,
		TagName: name,
	}, nil
}

// ListBlacklistCriteria returns every criteria row in pk order.
func (s *Store) ListBlacklistCriteria(ctx context.Context) ([]domain.BlacklistCriteria, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT pk, tagtype, fk_tag, tag_name FROM blacklist_criteria ORDER BY pk")
	if err != nil {
		return nil, fmt.Errorf("list blacklist criteria: %w", err)
	}
	defer rows.Close()

	var out []domain.BlacklistCriteria
	for rows.Next() {
		var c domain.BlacklistCriteria
		var typ int
		if err := rows.Scan(&c.ID, &typ, &c.TagID, &c.TagName); err != nil {
			return nil, fmt.Errorf("scan blacklist criteria: %w", err)
		}
		c.TagType = domain.TagType(typ)
		out = append(out, c)
	}
	return out, rows.Err()
}
