package rebuild

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karabase/karabase-server/internal/domain"
	"github.com/karabase/karabase-server/internal/errors"
	"github.com/karabase/karabase-server/internal/store/sqlite"
)

const (
	frierenSID = "7d444840-9dc0-41a9-bd89-02d5fae6c26e"
	bocchiSID  = "9b2cdd3b-6a0e-4c83-9f6a-2f7d3a1b0c4d"

	kidYuusha = "11111111-2222-4333-8444-555555555555"
	kidSeisou = "66666666-7777-4888-9999-aaaaaaaaaaaa"
	kidOrphan = "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func seriesJSON(sid, name string) string {
	return `{"header":{"version":3},"series":{"sid":"` + sid + `","name":"` + name +
		`","i18n":{"en":"` + name + `"}}}`
}

func karaText(kid, title, series string) string {
	return "KID=" + kid + "\ntitle=" + title + "\ntype=OP\nseries=" + series +
		"\nsinger=YOASOBI\nlang=jpn\ndateadded=1690000000\ndatemodif=1690000000\nversion=2\n"
}

// writeCorpus lays down two series and two well-formed songs.
func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "frieren.series.json", seriesJSON(frierenSID, "Frieren"))
	writeFile(t, dir, "bocchi.series.json", seriesJSON(bocchiSID, "Bocchi the Rock!"))
	writeFile(t, dir, "frieren_op.kara", karaText(kidYuusha, "Yuusha", "Frieren"))
	writeFile(t, dir, "bocchi_op.kara", karaText(kidSeisou, "Seishun Complex", "Bocchi the Rock!"))
	return dir
}

func newCoordinator(t *testing.T, corpus string) (*Coordinator, *sqlite.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "karabase.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := New(Config{
		CorpusRoots: []string{corpus},
		Workers:     2,
		Store:       store,
		Logger:      logger,
	})
	return c, store
}

func TestRebuildLoadsCorpus(t *testing.T) {
	corpus := writeCorpus(t)
	c, store := newCoordinator(t, corpus)
	ctx := context.Background()

	result, err := c.Rebuild(ctx, Options{})
	require.NoError(t, err)
	assert.False(t, result.Failed)
	assert.Empty(t, result.Diagnostics)
	assert.Equal(t, 2, result.Songs)
	assert.Equal(t, 2, result.Series)
	assert.NotEmpty(t, result.RunID)

	song, err := store.GetSongByKID(ctx, kidYuusha)
	require.NoError(t, err)
	assert.Equal(t, "Yuusha", song.Title)

	names, err := store.SeriesNamesForSong(ctx, kidYuusha)
	require.NoError(t, err)
	assert.Equal(t, []string{"Frieren"}, names)

	// Every song carries one tag per field, with sentinels for the
	// fields the descriptors leave empty.
	tags, err := store.TagsForSong(ctx, kidYuusha)
	require.NoError(t, err)
	assert.Len(t, tags, 7)
}

func TestRebuildDropsOrphanSongButLoadsRest(t *testing.T) {
	corpus := writeCorpus(t)
	writeFile(t, corpus, "orphan.kara", karaText(kidOrphan, "Orphan", "Foo"))
	c, store := newCoordinator(t, corpus)
	ctx := context.Background()

	result, err := c.Rebuild(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, result.Failed)
	require.Len(t, result.Diagnostics, 1)
	assert.Contains(t, result.Diagnostics[0], "orphan.kara")
	assert.Contains(t, result.Diagnostics[0], `"Foo"`)

	songs, _, _, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, songs)
	_, err = store.GetSongByKID(ctx, kidOrphan)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRebuildMixedSeriesReferenceDropsOnlyThatSong(t *testing.T) {
	corpus := writeCorpus(t)
	writeFile(t, corpus, "mixed.kara", karaText(kidOrphan, "Mixed", "Frieren,Foo"))
	c, store := newCoordinator(t, corpus)
	ctx := context.Background()

	result, err := c.Rebuild(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, result.Failed)
	require.Len(t, result.Diagnostics, 1)
	assert.Contains(t, result.Diagnostics[0], "mixed.kara")
	assert.Contains(t, result.Diagnostics[0], `"Foo"`)

	// The rest of the corpus loads; the known series carries no link to
	// the dropped song.
	songs, _, _, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, songs)
	names, err := store.SeriesNamesForSong(ctx, kidYuusha)
	require.NoError(t, err)
	assert.Equal(t, []string{"Frieren"}, names)
	_, err = store.GetSongByKID(ctx, kidOrphan)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRebuildRepeatedSeriesReferenceLoads(t *testing.T) {
	corpus := writeCorpus(t)
	writeFile(t, corpus, "twice.kara", karaText(kidOrphan, "Twice", "Frieren,Frieren"))
	c, store := newCoordinator(t, corpus)
	ctx := context.Background()

	result, err := c.Rebuild(ctx, Options{})
	require.NoError(t, err)
	assert.False(t, result.Failed)
	assert.Equal(t, 3, result.Songs)

	names, err := store.SeriesNamesForSong(ctx, kidOrphan)
	require.NoError(t, err)
	assert.Equal(t, []string{"Frieren"}, names)
}

func TestRebuildStrictAbortsOnOrphan(t *testing.T) {
	corpus := writeCorpus(t)
	writeFile(t, corpus, "orphan.kara", karaText(kidOrphan, "Orphan", "Foo"))
	c, store := newCoordinator(t, corpus)
	ctx := context.Background()

	_, err := c.Rebuild(ctx, Options{Strict: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	// The abort happened before the load: the database stays empty.
	songs, series, tags, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, songs)
	assert.Zero(t, series)
	assert.Zero(t, tags)
}

func TestRebuildDuplicateKIDPreservesPreviousGeneration(t *testing.T) {
	corpus := writeCorpus(t)
	c, store := newCoordinator(t, corpus)
	ctx := context.Background()

	_, err := c.Rebuild(ctx, Options{})
	require.NoError(t, err)

	// A later edit reuses an existing KID.
	writeFile(t, corpus, "dup.kara", karaText(kidYuusha, "Duplicate", "Frieren"))

	_, err = c.Rebuild(ctx, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	var derr *errors.Error
	require.True(t, errors.As(err, &derr))
	collisions, ok := derr.Details.([]string)
	require.True(t, ok)
	require.Len(t, collisions, 1)
	assert.Contains(t, collisions[0], "dup.kara")
	assert.Contains(t, collisions[0], "frieren_op.kara")

	// Previous generation survives untouched.
	songs, _, _, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, songs)
}

func TestRebuildIsIdempotent(t *testing.T) {
	corpus := writeCorpus(t)
	c, store := newCoordinator(t, corpus)
	ctx := context.Background()

	first, err := c.Rebuild(ctx, Options{})
	require.NoError(t, err)

	firstTags, err := store.TagsForSong(ctx, kidYuusha)
	require.NoError(t, err)
	before, err := c.CorpusChecksum(ctx)
	require.NoError(t, err)

	second, err := c.Rebuild(ctx, Options{})
	require.NoError(t, err)

	// Same counts, same tag assignment, untouched files.
	assert.Equal(t, first.Songs, second.Songs)
	assert.Equal(t, first.Tags, second.Tags)
	secondTags, err := store.TagsForSong(ctx, kidYuusha)
	require.NoError(t, err)
	assert.Equal(t, firstTags, secondTags)

	after, err := c.CorpusChecksum(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRebuildRejectsConcurrentRun(t *testing.T) {
	corpus := writeCorpus(t)
	c, _ := newCoordinator(t, corpus)

	_, err := c.tryBegin()
	require.NoError(t, err)
	assert.True(t, c.Running())

	_, err = c.Rebuild(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBusy))

	c.finish()
	_, err = c.Rebuild(context.Background(), Options{})
	assert.NoError(t, err)
}

func TestRebuildReconcilesBlacklist(t *testing.T) {
	corpus := writeCorpus(t)
	c, store := newCoordinator(t, corpus)
	ctx := context.Background()

	_, err := c.Rebuild(ctx, Options{})
	require.NoError(t, err)

	tags, err := store.TagsForSong(ctx, kidYuusha)
	require.NoError(t, err)
	var performerID int
	for _, tag := range tags {
		if tag.Type == domain.TagTypePerformer && tag.Name == "YOASOBI" {
			performerID = tag.ID
		}
	}
	require.NotZero(t, performerID)

	criteria, err := store.AddBlacklistCriteria(ctx, performerID)
	require.NoError(t, err)
	assert.Equal(t, "YOASOBI", criteria.TagName)

	// Prepend a song with a new performer so tag IDs shift on the next
	// rebuild.
	writeFile(t, corpus, "aaa_first.kara",
		"KID="+kidOrphan+"\ntitle=First\ntype=OP\nseries=Frieren\nsinger=Ado\n"+
			"lang=jpn\ndateadded=1690000000\ndatemodif=1690000000\nversion=2\n")

	result, err := c.Rebuild(ctx, Options{})
	require.NoError(t, err)
	assert.False(t, result.Failed)

	surviving, err := store.ListBlacklistCriteria(ctx)
	require.NoError(t, err)
	require.Len(t, surviving, 1)
	assert.Equal(t, "YOASOBI", surviving[0].TagName)

	// The criteria points at the performer's new pk.
	current, err := store.ListTags(ctx, domain.TagTypePerformer)
	require.NoError(t, err)
	var wantID int
	for _, tag := range current {
		if tag.Name == "YOASOBI" {
			wantID = tag.ID
		}
	}
	require.NotZero(t, wantID)
	assert.Equal(t, wantID, surviving[0].TagID)
}

func TestCorpusChecksum(t *testing.T) {
	corpus := writeCorpus(t)
	c, _ := newCoordinator(t, corpus)
	ctx := context.Background()

	first, err := c.CorpusChecksum(ctx)
	require.NoError(t, err)
	require.Len(t, first, 64)

	again, err := c.CorpusChecksum(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	writeFile(t, corpus, "frieren_op.kara", karaText(kidYuusha, "Yuusha (TV size)", "Frieren"))
	changed, err := c.CorpusChecksum(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}

func TestSyncSongHealsFile(t *testing.T) {
	corpus := t.TempDir()
	path := writeFile(t, corpus, "new.kara",
		"title=Fresh\ntype=MV\nsinger=Ado\nlang=jpn\n")
	c, _ := newCoordinator(t, corpus)

	song, diags, err := c.SyncSong(context.Background(), path, Options{})
	require.NoError(t, err)
	require.NotNil(t, song)
	assert.Empty(t, diags)
	assert.NotEmpty(t, song.KID)
	assert.False(t, song.DateAdded.IsZero())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "KID="+song.KID)
}
