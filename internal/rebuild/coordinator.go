// Package rebuild orchestrates full library rebuilds: scan the corpus,
// ingest series and songs, derive the tag vocabulary, load everything
// into the database in one transaction and reconcile the blacklist.
package rebuild

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/karabase/karabase-server/internal/domain"
	"github.com/karabase/karabase-server/internal/errors"
	"github.com/karabase/karabase-server/internal/id"
	"github.com/karabase/karabase-server/internal/ingest"
	"github.com/karabase/karabase-server/internal/mediainfo"
	"github.com/karabase/karabase-server/internal/scanner"
	"github.com/karabase/karabase-server/internal/store/sqlite"
	"github.com/karabase/karabase-server/internal/tagindex"
)

// Store is the persistence surface the coordinator drives.
type Store interface {
	ReplaceLibrary(ctx context.Context, b *sqlite.Batch) error
	ReconcileBlacklist(ctx context.Context) (sqlite.ReconcileResult, error)
}

// Options tunes one rebuild run.
type Options struct {
	// Strict makes normally-silent self-corrections fail the run and
	// promotes unresolved series references to hard aborts.
	Strict bool

	// MediaProbe enables probing media files whose size changed.
	MediaProbe bool
}

// Result summarizes one completed rebuild.
type Result struct {
	RunID       string
	Songs       int
	Series      int
	Tags        int
	Failed      bool
	Diagnostics []string
	Blacklist   sqlite.ReconcileResult
	Elapsed     time.Duration
}

// Config wires the coordinator's collaborators and corpus layout.
type Config struct {
	CorpusRoots []string
	MediaRoots  []string
	Workers     int

	Store        Store
	Scanner      *scanner.Scanner
	Translations tagindex.TranslationTable
	Prober       mediainfo.Prober
	Extractor    mediainfo.SubtitleExtractor
	Logger       *slog.Logger
}

// Coordinator runs rebuilds. At most one rebuild is in flight at a time;
// concurrent requests are rejected with a busy error rather than queued,
// since a queued rebuild would only re-scan the same corpus.
type Coordinator struct {
	cfg Config

	mu      sync.Mutex
	running bool
	runID   string
}

// New creates a coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Scanner == nil {
		cfg.Scanner = scanner.New(cfg.Logger)
	}
	return &Coordinator{cfg: cfg}
}

// tryBegin claims the single rebuild slot and assigns a run ID.
func (c *Coordinator) tryBegin() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return "", errors.Busy("a rebuild is already running").WithDetails(c.runID)
	}
	c.running = true
	c.runID = id.MustRunID()
	return c.runID, nil
}

func (c *Coordinator) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

// Running reports whether a rebuild is currently in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Rebuild runs one full rebuild of the library database from the corpus.
//
// Per-song problems (validation failures, unresolved series) drop the
// song and flag the result failed but still load everything else.
// Corpus-level integrity problems (bad series files, duplicate KIDs,
// duplicate series) abort before the database is touched, leaving the
// previous generation in place.
func (c *Coordinator) Rebuild(ctx context.Context, opts Options) (*Result, error) {
	runID, err := c.tryBegin()
	if err != nil {
		return nil, err
	}
	defer c.finish()

	start := time.Now()
	logger := c.cfg.Logger.With("run", runID)
	logger.Info("rebuild started", "strict", opts.Strict, "media_probe", opts.MediaProbe)

	seriesFiles, err := c.cfg.Scanner.Scan(c.cfg.CorpusRoots, scanner.SeriesExt)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "scan series corpus")
	}
	karaFiles, err := c.cfg.Scanner.Scan(c.cfg.CorpusRoots, scanner.KaraExt)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "scan song corpus")
	}

	series, seriesMap, err := ingest.LoadSeries(ctx, seriesFiles, c.cfg.Workers, logger)
	if err != nil {
		return nil, err
	}

	// With probing disabled the external tools must never run, so the
	// extractor is dropped too. Named subfiles skip the extractor and are
	// still checksummed whenever their media file resolves.
	prober, extractor := c.cfg.Prober, c.cfg.Extractor
	if !opts.MediaProbe {
		prober, extractor = nil, nil
	}

	report := ingest.NewReport()
	songs, err := ingest.LoadSongs(ctx, karaFiles, seriesMap, ingest.Options{
		Strict:     opts.Strict,
		MediaProbe: opts.MediaProbe,
		Workers:    c.cfg.Workers,
		MediaRoots: c.cfg.MediaRoots,
		Prober:     prober,
		Extractor:  extractor,
	}, report, logger)
	if err != nil {
		return nil, err
	}

	if err := ingest.CheckKIDCollisions(songs); err != nil {
		return nil, err
	}

	resolver := tagindex.NewResolver(c.cfg.Translations)
	songTags := make([][]int, len(songs))
	for i, song := range songs {
		ids, err := resolver.AddSong(song)
		if err != nil {
			return nil, err
		}
		songTags[i] = ids
	}
	if err := resolver.Finalize(); err != nil {
		return nil, err
	}

	batch, err := sqlite.BuildBatch(songs, songTags, series, seriesMap, resolver.Tags())
	if err != nil {
		return nil, err
	}
	if err := c.cfg.Store.ReplaceLibrary(ctx, batch); err != nil {
		return nil, err
	}

	blacklist, err := c.cfg.Store.ReconcileBlacklist(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:       runID,
		Songs:       len(songs),
		Series:      len(series),
		Tags:        resolver.Len(),
		Failed:      report.Failed(),
		Diagnostics: report.Diagnostics(),
		Blacklist:   blacklist,
		Elapsed:     time.Since(start),
	}

	logger.Info("rebuild finished",
		"songs", result.Songs,
		"series", result.Series,
		"tags", result.Tags,
		"failed", result.Failed,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// SyncSong normalizes a single song descriptor in place without touching
// the database: parse, self-heal, refresh media data and rewrite the file
// if anything changed. Used by the watcher when one file is edited.
func (c *Coordinator) SyncSong(ctx context.Context, path string, opts Options) (*domain.Song, []string, error) {
	prober, extractor := c.cfg.Prober, c.cfg.Extractor
	if !opts.MediaProbe {
		prober, extractor = nil, nil
	}

	report := ingest.NewReport()
	song, err := ingest.SyncFile(ctx, scanner.File{
		Path:    path,
		RelPath: filepath.Base(path),
	}, ingest.Options{
		Strict:     opts.Strict,
		MediaProbe: opts.MediaProbe,
		MediaRoots: c.cfg.MediaRoots,
		Prober:     prober,
		Extractor:  extractor,
	}, report, c.cfg.Logger)
	if err != nil {
		return nil, nil, err
	}
	return song, report.Diagnostics(), nil
}
