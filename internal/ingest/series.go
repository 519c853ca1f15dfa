package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/karabase/karabase-server/internal/domain"
	"github.com/karabase/karabase-server/internal/errors"
	"github.com/karabase/karabase-server/internal/karafile"
	"github.com/karabase/karabase-server/internal/scanner"
)

// SeriesEntry is the per-series slot song workers append KIDs into.
type SeriesEntry struct {
	SID  string
	KIDs []string
}

// SeriesMap indexes loaded series by canonical name. AppendKID is called
// concurrently by the song ingestion workers, so the map is guarded by a
// single mutex; contention is negligible next to the file I/O around it.
type SeriesMap struct {
	mu     sync.Mutex
	byName map[string]*SeriesEntry
}

// NewSeriesMap creates an empty map.
func NewSeriesMap() *SeriesMap {
	return &SeriesMap{byName: make(map[string]*SeriesEntry)}
}

func (m *SeriesMap) put(name, sid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byName[name] = &SeriesEntry{SID: sid, KIDs: []string{}}
}

// Has reports whether a series with that exact name exists.
func (m *SeriesMap) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byName[name]
	return ok
}

// AppendKID links a song into the named series. Returns false when no
// series with that exact name exists.
func (m *SeriesMap) AppendKID(name, kid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byName[name]
	if !ok {
		return false
	}
	entry.KIDs = append(entry.KIDs, kid)
	return true
}

// KIDs returns the song IDs linked to the named series, sorted for
// deterministic output regardless of worker completion order.
func (m *SeriesMap) KIDs(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byName[name]
	if !ok {
		return nil
	}
	out := append([]string(nil), entry.KIDs...)
	sort.Strings(out)
	return out
}

// LoadSeries loads every series descriptor with bounded parallelism.
// Series files are authoritative: any parse or validation failure aborts
// the rebuild with a report naming the offending files, as do duplicate
// names or SIDs.
func LoadSeries(ctx context.Context, files []scanner.File, workers int, logger *slog.Logger) ([]domain.Series, *SeriesMap, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	type job struct {
		file  scanner.File
		index int
	}
	type result struct {
		series *domain.Series
		index  int
		err    error
	}

	jobs := make(chan job, len(files))
	results := make(chan result, len(files))

	for i := 0; i < min(workers, max(len(files), 1)); i++ {
		go func() {
			for j := range jobs {
				select {
				case <-ctx.Done():
					results <- result{index: j.index, err: ctx.Err()}
					continue
				default:
				}

				data, err := os.ReadFile(j.file.Path)
				if err != nil {
					results <- result{index: j.index, err: err}
					continue
				}
				s, err := karafile.ParseSeries(data)
				if err != nil {
					results <- result{index: j.index, err: err}
					continue
				}
				if s.SerieFile == "" {
					s.SerieFile = j.file.RelPath
				}
				results <- result{series: s, index: j.index}
			}
		}()
	}

	for i, f := range files {
		jobs <- job{file: f, index: i}
	}
	close(jobs)

	loaded := make([]*domain.Series, len(files))
	fileErrs := make(map[string]string)
	for range files {
		r := <-results
		if r.err != nil {
			fileErrs[files[r.index].RelPath] = r.err.Error()
			continue
		}
		loaded[r.index] = r.series
	}

	if len(fileErrs) > 0 {
		return nil, nil, errors.ValidationWithDetails(
			fmt.Sprintf("%d series file(s) failed to load", len(fileErrs)), fileErrs)
	}

	series := make([]domain.Series, 0, len(loaded))
	for _, s := range loaded {
		series = append(series, *s)
	}

	if err := CheckSeriesDuplicates(series); err != nil {
		return nil, nil, err
	}

	m := NewSeriesMap()
	for _, s := range series {
		m.put(s.Name, s.SID)
	}

	logger.Info("series corpus loaded", "count", len(series))
	return series, m, nil
}

// CheckSeriesDuplicates verifies that no two series share a canonical
// name or a SID. Pure check over the loaded list; never mutates.
func CheckSeriesDuplicates(series []domain.Series) error {
	byName := make(map[string]string, len(series))
	bySID := make(map[string]string, len(series))
	var collisions []string

	for _, s := range series {
		if prev, dup := byName[s.Name]; dup {
			collisions = append(collisions,
				fmt.Sprintf("name %q used by both %s and %s", s.Name, prev, s.SerieFile))
		} else {
			byName[s.Name] = s.SerieFile
		}
		if prev, dup := bySID[s.SID]; dup {
			collisions = append(collisions,
				fmt.Sprintf("SID %s used by both %s and %s", s.SID, prev, s.SerieFile))
		} else {
			bySID[s.SID] = s.SerieFile
		}
	}

	if len(collisions) > 0 {
		return errors.Conflict("duplicate series detected").WithDetails(collisions)
	}
	return nil
}
