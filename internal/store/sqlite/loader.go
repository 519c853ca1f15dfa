package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/karabase/karabase-server/internal/domain"
	"github.com/karabase/karabase-server/internal/errors"
)

// Batch is one fully-resolved library generation ready to be loaded.
// Integer primary keys are assigned here, before any SQL runs, so the
// join rows can reference them directly and the whole load is a single
// multi-insert transaction.
type Batch struct {
	Songs  []*domain.Song
	Series []domain.Series
	Tags   []*domain.Tag

	songPK  map[string]int64 // KID -> song pk
	seriePK map[string]int64 // series name -> serie pk

	karaSerie [][2]int64 // (fk_serie, fk_song)
	karaTag   [][2]int64 // (fk_tag, fk_song)
}

// SeriesLinks exposes the KIDs linked to a named series, in the form the
// ingest layer collects them.
type SeriesLinks interface {
	KIDs(name string) []string
}

// BuildBatch assigns primary keys and resolves every join row for one
// library generation. songTags is parallel to songs and carries the tag
// IDs derived for each song; tag IDs double as tag primary keys.
func BuildBatch(songs []*domain.Song, songTags [][]int, series []domain.Series, links SeriesLinks, tags []*domain.Tag) (*Batch, error) {
	if len(songTags) != len(songs) {
		return nil, errors.Internalf("tag rows (%d) do not match songs (%d)", len(songTags), len(songs))
	}

	b := &Batch{
		Songs:   songs,
		Series:  series,
		Tags:    tags,
		songPK:  make(map[string]int64, len(songs)),
		seriePK: make(map[string]int64, len(series)),
	}

	for i, s := range songs {
		b.songPK[s.KID] = int64(i + 1)
	}
	for i, s := range series {
		b.seriePK[s.Name] = int64(i + 1)
	}

	for _, s := range series {
		seriePK := b.seriePK[s.Name]
		for _, kid := range links.KIDs(s.Name) {
			songPK, ok := b.songPK[kid]
			if !ok {
				return nil, errors.Internalf("series %q links unknown KID %s", s.Name, kid)
			}
			b.karaSerie = append(b.karaSerie, [2]int64{seriePK, songPK})
		}
	}

	for i, ids := range songTags {
		songPK := int64(i + 1)
		seen := make(map[int]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			b.karaTag = append(b.karaTag, [2]int64{int64(id), songPK})
		}
	}

	return b, nil
}

// ReplaceLibrary atomically swaps the library tables for the batch.
// Everything happens inside one transaction: either the new generation
// lands complete or the previous one survives untouched. The
// blacklist_criteria table is deliberately left alone; ReconcileBlacklist
// runs against it afterwards.
func (s *Store) ReplaceLibrary(ctx context.Context, b *Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"kara_tag", "kara_serie", "serie_i18n", "song", "serie", "tag"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := insertSongs(ctx, tx, b.Songs); err != nil {
		return err
	}
	if err := insertSeries(ctx, tx, b.Series); err != nil {
		return err
	}
	if err := insertTags(ctx, tx, b.Tags); err != nil {
		return err
	}
	if err := insertLinks(ctx, tx, "kara_serie", "fk_serie", "fk_song", b.karaSerie); err != nil {
		return err
	}
	if err := insertLinks(ctx, tx, "kara_tag", "fk_tag", "fk_song", b.karaTag); err != nil {
		return err
	}

	// Explicit pks bypass AUTOINCREMENT bookkeeping, so the sequence
	// table is resynced by hand or the next insert would collide.
	seqs := map[string]int{
		"song":  len(b.Songs),
		"serie": len(b.Series),
		"tag":   len(b.Tags),
	}
	for table, seq := range seqs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name = ?", table); err != nil {
			return fmt.Errorf("resync sequence for %s: %w", table, err)
		}
		if seq > 0 {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)", table, seq); err != nil {
				return fmt.Errorf("resync sequence for %s: %w", table, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load tx: %w", err)
	}

	s.logger.Info("library replaced",
		"songs", len(b.Songs),
		"series", len(b.Series),
		"tags", len(b.Tags),
	)
	return nil
}

func insertSongs(ctx context.Context, tx *sql.Tx, songs []*domain.Song) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO song (pk, kid, title, year, songorder, mediafile, subfile,
			duration, gain, size, subchecksum, dateadded, datemodif, karafile)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare song insert: %w", err)
	}
	defer stmt.Close()

	for i, s := range songs {
		_, err := stmt.ExecContext(ctx, i+1, s.KID, s.Title, s.Year, s.Order,
			s.MediaFile, s.SubFile, s.Duration, s.Gain, s.Size, s.SubChecksum,
			formatTime(s.DateAdded), formatTime(s.DateModif), s.KaraFile)
		if err != nil {
			return fmt.Errorf("insert song %s: %w", s.KID, err)
		}
	}
	return nil
}

func insertSeries(ctx context.Context, tx *sql.Tx, series []domain.Series) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO serie (pk, sid, name, aliases, seriefile)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare serie insert: %w", err)
	}
	defer stmt.Close()

	i18nStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO serie_i18n (fk_serie, lang, name) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare serie_i18n insert: %w", err)
	}
	defer i18nStmt.Close()

	for i, s := range series {
		aliases, err := json.Marshal(orEmpty(s.Aliases))
		if err != nil {
			return fmt.Errorf("marshal aliases for %s: %w", s.SID, err)
		}
		if _, err := stmt.ExecContext(ctx, i+1, s.SID, s.Name, string(aliases), s.SerieFile); err != nil {
			return fmt.Errorf("insert serie %s: %w", s.SID, err)
		}
		for lang, name := range s.I18n {
			if _, err := i18nStmt.ExecContext(ctx, i+1, lang, name); err != nil {
				return fmt.Errorf("insert serie_i18n for %s: %w", s.SID, err)
			}
		}
	}
	return nil
}

func insertTags(ctx context.Context, tx *sql.Tx, tags []*domain.Tag) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tag (pk, tagtype, name, slug, i18n)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare tag insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tags {
		i18n := "{}"
		if len(t.I18n) > 0 {
			data, err := json.Marshal(t.I18n)
			if err != nil {
				return fmt.Errorf("marshal i18n for tag %q: %w", t.Name, err)
			}
			i18n = string(data)
		}
		if _, err := stmt.ExecContext(ctx, t.ID, int(t.Type), t.Name, t.Slug, i18n); err != nil {
			return fmt.Errorf("insert tag %q: %w", t.Name, err)
		}
	}
	return nil
}

func insertLinks(ctx context.Context, tx *sql.Tx, table, colA, colB string, rows [][2]int64) error {
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)", table, colA, colB))
	if err != nil {
		return fmt.Errorf("prepare %s insert: %w", table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row[0], row[1]); err != nil {
			return fmt.Errorf("insert %s (%d, %d): %w", table, row[0], row[1], err)
		}
	}
	return nil
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
