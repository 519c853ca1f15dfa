package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karabase/karabase-server/internal/domain"
	"github.com/karabase/karabase-server/internal/errors"
	"github.com/karabase/karabase-server/internal/karafile"
	"github.com/karabase/karabase-server/internal/scanner"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func scanCorpus(t *testing.T, root, ext string) []scanner.File {
	t.Helper()
	files, err := scanner.New(testLogger()).Scan([]string{root}, ext)
	require.NoError(t, err)
	return files
}

const (
	frierenSID = "7d444840-9dc0-41a9-bd89-02d5fae6c26e"
	bocchiSID  = "9b2cdd3b-6a0e-4c83-9f6a-2f7d3a1b0c4d"
)

const frierenSeries = `{
  "header": {"version": 3, "description": "test fixture"},
  "series": {
    "sid": "` + frierenSID + `",
    "name": "Frieren",
    "aliases": ["Frieren: Beyond Journey's End"],
    "i18n": {"en": "Frieren", "fr": "Frieren"}
  }
}`

const bocchiSeries = `{
  "header": {"version": 3},
  "series": {
    "sid": "` + bocchiSID + `",
    "name": "Bocchi the Rock!",
    "i18n": {"en": "Bocchi the Rock!"}
  }
}`

func TestLoadSeries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "frieren.series.json", frierenSeries)
	writeFile(t, dir, "bocchi.series.json", bocchiSeries)

	files := scanCorpus(t, dir, scanner.SeriesExt)
	require.Len(t, files, 2)

	series, m, err := LoadSeries(context.Background(), files, 4, testLogger())
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.True(t, m.AppendKID("Frieren", "kid-1"))
	assert.True(t, m.AppendKID("Frieren", "kid-0"))
	assert.False(t, m.AppendKID("No Such Show", "kid-2"))
	assert.Equal(t, []string{"kid-0", "kid-1"}, m.KIDs("Frieren"))
	assert.Nil(t, m.KIDs("No Such Show"))
}

func TestLoadSeriesBadFileAborts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "frieren.series.json", frierenSeries)
	writeFile(t, dir, "broken.series.json", `{"header": {"version": 3}`)

	files := scanCorpus(t, dir, scanner.SeriesExt)
	_, _, err := LoadSeries(context.Background(), files, 4, testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	var derr *errors.Error
	require.True(t, errors.As(err, &derr))
	details, ok := derr.Details.(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details, "broken.series.json")
	assert.NotContains(t, details, "frieren.series.json")
}

func TestCheckSeriesDuplicates(t *testing.T) {
	series := []domain.Series{
		{SID: frierenSID, Name: "Frieren", SerieFile: "a.series.json"},
		{SID: bocchiSID, Name: "Frieren", SerieFile: "b.series.json"},
		{SID: bocchiSID, Name: "Bocchi the Rock!", SerieFile: "c.series.json"},
	}

	err := CheckSeriesDuplicates(series)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	var derr *errors.Error
	require.True(t, errors.As(err, &derr))
	collisions, ok := derr.Details.([]string)
	require.True(t, ok)
	require.Len(t, collisions, 2)
	assert.Contains(t, collisions[0], `name "Frieren"`)
	assert.Contains(t, collisions[1], "SID "+bocchiSID)
}

func seriesMapWith(names ...string) *SeriesMap {
	m := NewSeriesMap()
	for _, n := range names {
		m.put(n, frierenSID)
	}
	return m
}

func fixedOpts() Options {
	return Options{
		Workers: 2,
		Now:     func() time.Time { return time.Unix(1700000000, 0).UTC() },
		NewKID:  func() string { return "3f1d9a52-8c44-4f6e-9b5a-6d2e1c0f7a33" },
	}
}

func TestLoadSongsSelfHealPersists(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "frieren_op.kara",
		"title=Yuusha\ntype=OP\nseries=Frieren\nsinger=YOASOBI\nlang=jpn\n")

	files := scanCorpus(t, dir, scanner.KaraExt)
	report := NewReport()

	songs, err := LoadSongs(context.Background(), files, seriesMapWith("Frieren"),
		fixedOpts(), report, testLogger())
	require.NoError(t, err)
	require.Len(t, songs, 1)

	// The heal is silent in default mode but always written back.
	assert.False(t, report.Failed())
	assert.Equal(t, "3f1d9a52-8c44-4f6e-9b5a-6d2e1c0f7a33", songs[0].KID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), songs[0].DateAdded)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "KID=3f1d9a52-8c44-4f6e-9b5a-6d2e1c0f7a33\n")
	assert.Contains(t, text, "dateadded=1700000000\n")
	assert.Contains(t, text, "datemodif=1700000000\n")
}

func TestLoadSongsStrictReportsHeal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "frieren_op.kara",
		"title=Yuusha\ntype=OP\nseries=Frieren\nlang=jpn\n")

	files := scanCorpus(t, dir, scanner.KaraExt)
	report := NewReport()
	opts := fixedOpts()
	opts.Strict = true

	songs, err := LoadSongs(context.Background(), files, seriesMapWith("Frieren"),
		opts, report, testLogger())
	require.NoError(t, err)

	// Strict mode keeps the healed song but flags the run.
	require.Len(t, songs, 1)
	assert.True(t, report.Failed())
	diags := report.Diagnostics()
	require.NotEmpty(t, diags)
	assert.Contains(t, diags[0], "frieren_op.kara")
}

func TestLoadSongsValidationDropsOnlyBadSong(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.kara",
		"KID=11111111-2222-4333-8444-555555555555\ntitle=Broken\ntype=NOPE\n"+
			"series=Frieren\ndateadded=1690000000\ndatemodif=1690000000\n")
	writeFile(t, dir, "good.kara",
		"KID=66666666-7777-4888-9999-aaaaaaaaaaaa\ntitle=Yuusha\ntype=OP\n"+
			"series=Frieren\nlang=jpn\ndateadded=1690000000\ndatemodif=1690000000\n")

	files := scanCorpus(t, dir, scanner.KaraExt)
	report := NewReport()

	songs, err := LoadSongs(context.Background(), files, seriesMapWith("Frieren"),
		fixedOpts(), report, testLogger())
	require.NoError(t, err)

	require.Len(t, songs, 1)
	assert.Equal(t, "Yuusha", songs[0].Title)
	assert.True(t, report.Failed())
	entries := report.Entries()
	require.Contains(t, entries, "bad.kara")
	assert.Contains(t, entries["bad.kara"][0], "unknown song type")
}

func TestLoadSongsSeriesNotFound(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orphan.kara",
		"KID=11111111-2222-4333-8444-555555555555\ntitle=Orphan\ntype=OP\n"+
			"series=Foo\nlang=jpn\ndateadded=1690000000\ndatemodif=1690000000\n")

	files := scanCorpus(t, dir, scanner.KaraExt)

	t.Run("default drops the song", func(t *testing.T) {
		report := NewReport()
		songs, err := LoadSongs(context.Background(), files, seriesMapWith("Frieren"),
			fixedOpts(), report, testLogger())
		require.NoError(t, err)
		assert.Empty(t, songs)
		assert.True(t, report.Failed())
	})

	t.Run("strict aborts", func(t *testing.T) {
		report := NewReport()
		opts := fixedOpts()
		opts.Strict = true
		_, err := LoadSongs(context.Background(), files, seriesMapWith("Frieren"),
			opts, report, testLogger())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestLoadSongsMixedSeriesLeavesNoStaleLink(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.kara",
		"KID=66666666-7777-4888-9999-aaaaaaaaaaaa\ntitle=Yuusha\ntype=OP\n"+
			"series=Frieren\nlang=jpn\ndateadded=1690000000\ndatemodif=1690000000\n")
	writeFile(t, dir, "mixed.kara",
		"KID=11111111-2222-4333-8444-555555555555\ntitle=Mixed\ntype=OP\n"+
			"series=Frieren,Foo\nlang=jpn\ndateadded=1690000000\ndatemodif=1690000000\n")

	files := scanCorpus(t, dir, scanner.KaraExt)
	report := NewReport()
	m := seriesMapWith("Frieren")

	songs, err := LoadSongs(context.Background(), files, m, fixedOpts(), report, testLogger())
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, "Yuusha", songs[0].Title)
	assert.True(t, report.Failed())

	// The dropped song referenced one known and one unknown series; its
	// KID must not survive in the known series' list.
	assert.Equal(t, []string{"66666666-7777-4888-9999-aaaaaaaaaaaa"}, m.KIDs("Frieren"))
}

func TestLoadSongsRepeatedSeriesLinksOnce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "twice.kara",
		"KID=11111111-2222-4333-8444-555555555555\ntitle=Twice\ntype=OP\n"+
			"series=Frieren,Frieren\nlang=jpn\ndateadded=1690000000\ndatemodif=1690000000\n")

	files := scanCorpus(t, dir, scanner.KaraExt)
	report := NewReport()
	m := seriesMapWith("Frieren")

	songs, err := LoadSongs(context.Background(), files, m, fixedOpts(), report, testLogger())
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.False(t, report.Failed())
	assert.Equal(t, []string{"11111111-2222-4333-8444-555555555555"}, m.KIDs("Frieren"))
}

func TestLoadSongsSeriesExempt(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mv.kara",
		"KID=11111111-2222-4333-8444-555555555555\ntitle=Idol\ntype=MV\n"+
			"singer=YOASOBI\nlang=jpn\ndateadded=1690000000\ndatemodif=1690000000\n")

	files := scanCorpus(t, dir, scanner.KaraExt)
	report := NewReport()

	songs, err := LoadSongs(context.Background(), files, NewSeriesMap(),
		fixedOpts(), report, testLogger())
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.False(t, report.Failed())
	assert.Empty(t, songs[0].Shows)
}

func TestLoadSongsSubtitleChecksumDrift(t *testing.T) {
	corpus := t.TempDir()
	media := t.TempDir()

	subContent := "[Script Info]\nTitle: Yuusha\n"
	writeFile(t, media, "frieren.mp4", "not really a video")
	writeFile(t, media, "frieren.ass", subContent)

	path := writeFile(t, corpus, "frieren_op.kara",
		"KID=11111111-2222-4333-8444-555555555555\ntitle=Yuusha\ntype=OP\n"+
			"series=Frieren\nlang=jpn\nmediafile=frieren.mp4\nsubfile=frieren.ass\n"+
			"subchecksum=deadbeef\ndateadded=1690000000\ndatemodif=1690000000\n")

	files := scanCorpus(t, corpus, scanner.KaraExt)
	report := NewReport()
	opts := fixedOpts()
	opts.MediaRoots = []string{media}

	songs, err := LoadSongs(context.Background(), files, seriesMapWith("Frieren"),
		opts, report, testLogger())
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.False(t, report.Failed())

	want := karafile.SubChecksum([]byte(subContent))
	assert.Equal(t, want, songs[0].SubChecksum)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "subchecksum="+want+"\n")
	assert.NotContains(t, string(data), "deadbeef")
}

func TestLoadSongsMissingMediaZeroesTechFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "frieren_op.kara",
		"KID=11111111-2222-4333-8444-555555555555\ntitle=Yuusha\ntype=OP\n"+
			"series=Frieren\nlang=jpn\nmediafile=gone.mp4\n"+
			"mediaduration=90\nmediagain=-3.20\nmediasize=1024\n"+
			"dateadded=1690000000\ndatemodif=1690000000\n")

	files := scanCorpus(t, dir, scanner.KaraExt)
	report := NewReport()

	songs, err := LoadSongs(context.Background(), files, seriesMapWith("Frieren"),
		fixedOpts(), report, testLogger())
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.False(t, report.Failed())
	assert.Zero(t, songs[0].Duration)
	assert.Zero(t, songs[0].Gain)
	assert.Zero(t, songs[0].Size)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "mediaduration=")
}

func TestLoadSongsPreservesFileOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.kara", "a.kara", "b.kara"} {
		writeFile(t, dir, name,
			"KID="+strings.Replace("11111111-2222-4333-8444-55555555555x", "x", name[:1], 1)+
				"\ntitle="+name+"\ntype=MV\nlang=jpn\ndateadded=1690000000\ndatemodif=1690000000\n")
	}

	files := scanCorpus(t, dir, scanner.KaraExt)
	report := NewReport()

	songs, err := LoadSongs(context.Background(), files, NewSeriesMap(),
		fixedOpts(), report, testLogger())
	require.NoError(t, err)
	require.Len(t, songs, 3)
	assert.Equal(t, "a.kara", songs[0].Title)
	assert.Equal(t, "b.kara", songs[1].Title)
	assert.Equal(t, "c.kara", songs[2].Title)
}

func TestCheckKIDCollisions(t *testing.T) {
	songs := []*domain.Song{
		{KID: "11111111-2222-4333-8444-555555555555", KaraFile: "a.kara"},
		{KID: "66666666-7777-4888-9999-aaaaaaaaaaaa", KaraFile: "b.kara"},
		{KID: "11111111-2222-4333-8444-555555555555", KaraFile: "c.kara"},
	}

	err := CheckKIDCollisions(songs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	var derr *errors.Error
	require.True(t, errors.As(err, &derr))
	collisions, ok := derr.Details.([]string)
	require.True(t, ok)
	require.Len(t, collisions, 1)
	assert.Contains(t, collisions[0], "a.kara")
	assert.Contains(t, collisions[0], "c.kara")

	assert.NoError(t, CheckKIDCollisions(songs[:2]))
}
