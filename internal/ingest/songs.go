package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/karabase/karabase-server/internal/domain"
	"github.com/karabase/karabase-server/internal/errors"
	"github.com/karabase/karabase-server/internal/id"
	"github.com/karabase/karabase-server/internal/karafile"
	"github.com/karabase/karabase-server/internal/mediainfo"
	"github.com/karabase/karabase-server/internal/scanner"
)

// DefaultWorkers bounds the number of in-flight file operations during
// ingestion.
const DefaultWorkers = 16

// Options configures song ingestion.
type Options struct {
	// Strict turns normally-silent auto-corrections (missing KID or
	// timestamps, checksum drift, unresolved media) into reportable
	// failures. The correction itself is still applied and persisted.
	Strict bool

	// MediaProbe enables probing media files for duration/gain/size.
	MediaProbe bool

	Workers    int
	MediaRoots []string
	Prober     mediainfo.Prober
	Extractor  mediainfo.SubtitleExtractor

	// Injectable for tests; defaulted when nil.
	Now    func() time.Time
	NewKID func() string
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Prober == nil {
		o.Prober = mediainfo.NoopProber{}
	}
	if o.Extractor == nil {
		o.Extractor = mediainfo.NoopExtractor{}
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewKID == nil {
		o.NewKID = id.NewKID
	}
}

// LoadSongs loads every song descriptor with bounded parallelism,
// self-healing and rewriting files as needed, linking surviving songs
// into the series map and collecting per-file diagnostics in report.
//
// Songs that fail validation or reference an unknown series are dropped
// (flagging the run failed) but never block other songs. The returned
// slice preserves the input file order, which downstream tag-ID
// assignment depends on. A non-nil error means the whole rebuild must
// abort.
func LoadSongs(ctx context.Context, files []scanner.File, seriesMap *SeriesMap, opts Options, report *Report, logger *slog.Logger) ([]*domain.Song, error) {
	opts.setDefaults()

	type job struct {
		file  scanner.File
		index int
	}
	type result struct {
		song  *domain.Song
		index int
		err   error
	}

	jobs := make(chan job, len(files))
	results := make(chan result, len(files))

	for i := 0; i < min(opts.Workers, max(len(files), 1)); i++ {
		go func() {
			for j := range jobs {
				select {
				case <-ctx.Done():
					results <- result{index: j.index, err: ctx.Err()}
					continue
				default:
				}
				song, err := processSong(ctx, j.file, seriesMap, opts, report, logger)
				results <- result{song: song, index: j.index, err: err}
			}
		}()
	}

	for i, f := range files {
		jobs <- job{file: f, index: i}
	}
	close(jobs)

	// Hard synchronization barrier: duplicate detection and tag-ID
	// assignment need the complete set, so every worker result is
	// collected before returning.
	ordered := make([]*domain.Song, len(files))
	var abortErr error
	for range files {
		r := <-results
		if r.err != nil && abortErr == nil {
			abortErr = r.err
		}
		ordered[r.index] = r.song
	}
	if abortErr != nil {
		return nil, abortErr
	}

	songs := make([]*domain.Song, 0, len(files))
	for _, s := range ordered {
		if s != nil {
			songs = append(songs, s)
		}
	}

	logger.Info("song corpus loaded",
		"files", len(files),
		"loaded", len(songs),
		"dropped", len(files)-len(songs),
	)
	return songs, nil
}

// SyncFile runs the per-file pipeline for a single descriptor outside a
// full rebuild, typically when the watcher sees one file change. Series
// linking is skipped; the file is parsed, healed, rewritten if needed
// and validated. A nil song with a nil error means the descriptor is not
// loadable; the report holds the diagnostics.
func SyncFile(ctx context.Context, file scanner.File, opts Options, report *Report, logger *slog.Logger) (*domain.Song, error) {
	opts.setDefaults()
	return processSong(ctx, file, nil, opts, report, logger)
}

// processSong runs the full per-file pipeline for one descriptor. A nil
// song with a nil error means the song was dropped (diagnostics are in
// the report); a non-nil error aborts the whole rebuild. A nil seriesMap
// skips series linking entirely.
func processSong(ctx context.Context, file scanner.File, seriesMap *SeriesMap, opts Options, report *Report, logger *slog.Logger) (*domain.Song, error) {
	data, err := os.ReadFile(file.Path)
	if err != nil {
		report.Add(file.RelPath, fmt.Sprintf("read: %v", err))
		return nil, nil
	}

	k := karafile.ParseKara(data)
	dirty := false

	// Self-heal pass: fill the derived fields a human-edited file may
	// lack. Strict mode reports the drift but never blocks the fix.
	if k.KID == "" || !id.Valid(k.KID) {
		k.KID = opts.NewKID()
		dirty = true
		if opts.Strict {
			report.Add(file.RelPath, "KID was missing or malformed and has been regenerated")
		}
	}
	if k.DateAdded.IsZero() {
		k.DateAdded = opts.Now()
		dirty = true
		if opts.Strict {
			report.Add(file.RelPath, "dateadded was missing and has been set")
		}
	}
	if k.DateModif.IsZero() {
		k.DateModif = opts.Now()
		dirty = true
		if opts.Strict {
			report.Add(file.RelPath, "datemodif was missing and has been set")
		}
	}

	// Resolve the media file across the configured media roots. Missing
	// media zeroes the tech fields and skips the subtitle pass; that is
	// non-fatal unless strict mode is active. A descriptor that names no
	// media at all just gets its tech fields cleared.
	mediaPath, mediaFound := "", false
	if k.MediaFile != "" {
		mediaPath, mediaFound = scanner.Resolve(opts.MediaRoots, k.MediaFile)
		if !mediaFound {
			if opts.Strict {
				report.Add(file.RelPath, fmt.Sprintf("media file %q not found in any media root", k.MediaFile))
			} else {
				logger.Warn("media file not found", "karafile", file.RelPath, "mediafile", k.MediaFile)
			}
		}
	}
	if !mediaFound && (k.Duration != 0 || k.Gain != 0 || k.Size != 0) {
		k.Duration, k.Gain, k.Size = 0, 0, 0
		dirty = true
	}

	if mediaFound {
		if changed, err := refreshSubtitle(ctx, k, opts); err != nil {
			report.Add(file.RelPath, fmt.Sprintf("subtitle: %v", err))
		} else if changed {
			dirty = true
			if opts.Strict {
				report.Add(file.RelPath, "subtitle checksum drifted and has been updated")
			}
		}

		if opts.MediaProbe {
			if info, err := os.Stat(mediaPath); err == nil && info.Size() != k.Size {
				probed, err := opts.Prober.Probe(ctx, mediaPath)
				if err != nil {
					if opts.Strict {
						return nil, errors.Wrapf(err, errors.CodeInternal,
							"media probe failed for %s", file.RelPath)
					}
					report.Add(file.RelPath, fmt.Sprintf("media probe: %v", err))
					return nil, nil
				}
				k.Duration = probed.Duration
				k.Gain = probed.Gain
				k.Size = probed.Size
				dirty = true
			}
		}
	}

	problems := k.Validate()
	if len(problems) > 0 {
		report.Add(file.RelPath, problems...)
		// Still persist the heal below; the song itself is dropped.
	}

	if dirty {
		k.DateModif = opts.Now()
		if err := os.WriteFile(file.Path, k.Marshal(), 0o644); err != nil {
			report.Add(file.RelPath, fmt.Sprintf("rewrite: %v", err))
			return nil, nil
		}
		logger.Debug("descriptor rewritten", "karafile", file.RelPath)
	}

	if len(problems) > 0 {
		return nil, nil
	}

	song := toSong(k, file.RelPath)

	if seriesMap == nil {
		return song, nil
	}

	// Link the song into every referenced series. Every name is resolved
	// before the first KID is appended, so a dropped song never leaves a
	// stale link behind. An unknown show name drops the song; strict mode
	// promotes it to a hard error.
	if !song.SeriesExempt() && len(song.Shows) == 0 {
		report.Add(file.RelPath, "song type requires at least one series reference")
		return nil, nil
	}
	shows := uniqueShows(song.Shows)
	for _, show := range shows {
		if !seriesMap.Has(show) {
			if opts.Strict {
				return nil, errors.NotFoundf("series %q referenced by %s does not exist", show, file.RelPath)
			}
			report.Add(file.RelPath, fmt.Sprintf("series %q not found", show))
			return nil, nil
		}
	}
	for _, show := range shows {
		seriesMap.AppendKID(show, song.KID)
	}

	return song, nil
}

// uniqueShows drops repeated show names so a descriptor naming the same
// series twice links it once instead of producing a duplicate join row.
func uniqueShows(shows []string) []string {
	seen := make(map[string]bool, len(shows))
	out := make([]string, 0, len(shows))
	for _, s := range shows {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// refreshSubtitle resolves the subtitle content for the song (a named
// subfile when present, otherwise a track extracted from the media) and
// reports whether the stored checksum drifted. A missing subtitle is a
// normal empty result, never an error.
func refreshSubtitle(ctx context.Context, k *karafile.Kara, opts Options) (bool, error) {
	var content []byte

	if k.SubFile != "" {
		if path, ok := scanner.Resolve(opts.MediaRoots, k.SubFile); ok {
			data, err := os.ReadFile(path)
			if err != nil {
				return false, fmt.Errorf("read subfile: %w", err)
			}
			content = data
		}
	} else if mediaPath, ok := scanner.Resolve(opts.MediaRoots, k.MediaFile); ok {
		tmp, err := os.MkdirTemp("", "karabase-sub-")
		if err != nil {
			return false, err
		}
		defer os.RemoveAll(tmp)

		extracted, err := opts.Extractor.Extract(ctx, mediaPath, tmp)
		if err != nil {
			return false, fmt.Errorf("extract: %w", err)
		}
		if extracted != "" {
			data, err := os.ReadFile(extracted)
			if err != nil {
				return false, fmt.Errorf("read extracted subtitle: %w", err)
			}
			content = data
		}
	}

	if content == nil {
		return false, nil
	}

	sum := karafile.SubChecksum(content)
	if sum == k.SubChecksum {
		return false, nil
	}
	k.SubChecksum = sum
	return true, nil
}

// toSong converts a validated descriptor into the immutable song record
// the rest of the pipeline works on.
func toSong(k *karafile.Kara, relPath string) *domain.Song {
	return &domain.Song{
		KID:         k.KID,
		Title:       k.Title,
		Year:        k.Year,
		Order:       k.Order,
		Types:       dropEmpty(k.Types),
		MediaFile:   k.MediaFile,
		SubFile:     k.SubFile,
		Duration:    k.Duration,
		Gain:        k.Gain,
		Size:        k.Size,
		SubChecksum: k.SubChecksum,
		DateAdded:   k.DateAdded,
		DateModif:   k.DateModif,
		Shows:       dropEmpty(k.Shows),
		Performers:  dropEmpty(k.Performers),
		Writers:     dropEmpty(k.Writers),
		Staff:       dropEmpty(k.Staff),
		Langs:       dropEmpty(k.Langs),
		FreeTags:    dropEmpty(k.FreeTags),
		Groups:      dropEmpty(k.Groups),
		KaraFile:    relPath,
	}
}

func dropEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
