package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/karabase/karabase-server/internal/domain"
	"github.com/karabase/karabase-server/internal/errors"
)

// songColumns is the ordered list of columns selected in song queries.
// Must match the scan order in scanSong.
const songColumns = `kid, title, year, songorder, mediafile, subfile,
	duration, gain, size, subchecksum, dateadded, datemodif, karafile`

// scanSong scans a sql.Row (or sql.Rows via its Scan method) into a domain.Song.
func scanSong(scanner interface{ Scan(dest ...any) error }) (*domain.Song, error) {
	var s domain.Song
	var dateAdded, dateModif string

	err := scanner.Scan(
		&s.KID,
		&s.Title,
		&s.Year,
		&s.Order,
		&s.MediaFile,
		&s.SubFile,
		&s.Duration,
		&s.Gain,
		&s.Size,
		&s.SubChecksum,
		&dateAdded,
		&dateModif,
		&s.KaraFile,
	)
	if err != nil {
		return nil, err
	}

	if s.DateAdded, err = parseTime(dateAdded); err != nil {
		return nil, err
	}
	if s.DateModif, err = parseTime(dateModif); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSongByKID returns the song with the given KID.
func (s *Store) GetSongByKID(ctx context.Context, kid string) (*domain.Song, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+songColumns+" FROM song WHERE kid = ?", kid)
	song, err := scanSong(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("song %s not found", kid)
	}
	if err != nil {
		return nil, fmt.Errorf("get song %s: %w", kid, err)
	}
	return song, nil
}

// ListSongs returns every song ordered by descriptor file path, the same
// order the loader assigned primary keys in.
func (s *Store) ListSongs(ctx context.Context) ([]*domain.Song, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+songColumns+" FROM song ORDER BY pk")
	if err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("scan song: %w", err)
		}
		out = append(out, song)
	}
	return out, rows.Err()
}

// GetSeriesBySID returns the series with the given SID, including its
// translated names.
func (s *Store) GetSeriesBySID(ctx context.Context, sid string) (*domain.Series, error) {
	var serie domain.Series
	var pk int64
	var aliases string

	err := s.db.QueryRowContext(ctx,
		"SELECT pk, sid, name, aliases, seriefile FROM serie WHERE sid = ?", sid).
		Scan(&pk, &serie.SID, &serie.Name, &aliases, &serie.SerieFile)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("series %s not found", sid)
	}
	if err != nil {
		return nil, fmt.Errorf("get series %s: %w", sid, err)
	}
	if err := json.Unmarshal([]byte(aliases), &serie.Aliases); err != nil {
		return nil, fmt.Errorf("parse aliases for %s: %w", sid, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT lang, name FROM serie_i18n WHERE fk_serie = ?", pk)
	if err != nil {
		return nil, fmt.Errorf("get series i18n %s: %w", sid, err)
	}
	defer rows.Close()

	for rows.Next() {
		var lang, name string
		if err := rows.Scan(&lang, &name); err != nil {
			return nil, fmt.Errorf("scan series i18n: %w", err)
		}
		if serie.I18n == nil {
			serie.I18n = make(map[string]string)
		}
		serie.I18n[lang] = name
	}
	return &serie, rows.Err()
}

// SeriesNamesForSong returns the names of every series the song belongs
// to, alphabetically.
func (s *Store) SeriesNamesForSong(ctx context.Context, kid string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT se.name FROM serie se
		JOIN kara_serie ks ON ks.fk_serie = se.pk
		JOIN song so ON so.pk = ks.fk_song
		WHERE so.kid = ?
		ORDER BY se.name`, kid)
	if err != nil {
		return nil, fmt.Errorf("series for song %s: %w", kid, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// TagsForSong returns every tag linked to the song, in tag pk order.
func (s *Store) TagsForSong(ctx context.Context, kid string) ([]domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.pk, t.tagtype, t.name, t.slug, t.i18n FROM tag t
		JOIN kara_tag kt ON kt.fk_tag = t.pk
		JOIN song so ON so.pk = kt.fk_song
		WHERE so.kid = ?
		ORDER BY t.pk`, kid)
	if err != nil {
		return nil, fmt.Errorf("tags for song %s: %w", kid, err)
	}
	defer rows.Close()

	var out []domain.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tag)
	}
	return out, rows.Err()
}

// ListTags returns every tag of the given type in pk order.
func (s *Store) ListTags(ctx context.Context, typ domain.TagType) ([]domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT pk, tagtype, name, slug, i18n FROM tag WHERE tagtype = ? ORDER BY pk", int(typ))
	if err != nil {
		return nil, fmt.Errorf("list %s tags: %w", typ, err)
	}
	defer rows.Close()

	var out []domain.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tag)
	}
	return out, rows.Err()
}

func scanTag(scanner interface{ Scan(dest ...any) error }) (*domain.Tag, error) {
	var t domain.Tag
	var typ int
	var i18n string
	if err := scanner.Scan(&t.ID, &typ, &t.Name, &t.Slug, &i18n); err != nil {
		return nil, fmt.Errorf("scan tag: %w", err)
	}
	t.Type = domain.TagType(typ)
	if i18n != "{}" && i18n != "" {
		if err := json.Unmarshal([]byte(i18n), &t.I18n); err != nil {
			return nil, fmt.Errorf("parse i18n for tag %q: %w", t.Name, err)
		}
	}
	return &t, nil
}

// Counts returns the library table row counts, for logging and the
// rebuild result.
func (s *Store) Counts(ctx context.Context) (songs, series, tags int, err error) {
	for _, q := range []struct {
		table string
		dest  *int
	}{
		{"song", &songs},
		{"serie", &series},
		{"tag", &tags},
	} {
		if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+q.table).Scan(q.dest); err != nil {
			return 0, 0, 0, fmt.Errorf("count %s: %w", q.table, err)
		}
	}
	return songs, series, tags, nil
}
