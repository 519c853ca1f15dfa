// Package scanner enumerates descriptor files across the configured
// corpus roots.
package scanner

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extensions of the two descriptor file kinds.
const (
	KaraExt   = ".kara"
	SeriesExt = ".series.json"
)

// File is one descriptor file discovered during scanning.
type File struct {
	Path    string // absolute path
	RelPath string // relative to its corpus root
	Size    int64
	ModTime int64
}

// Scanner discovers descriptor files on disk.
type Scanner struct {
	logger *slog.Logger
}

// New creates a new scanner.
func New(logger *slog.Logger) *Scanner {
	return &Scanner{logger: logger}
}

// Scan returns the union of files matching ext under every root,
// recursively. Dotfiles and dot-directories are excluded. Results are
// sorted by path so downstream ID assignment is reproducible run-to-run
// on an unchanged corpus.
func (s *Scanner) Scan(roots []string, ext string) ([]File, error) {
	var files []File

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				s.logger.Error("walk error", "path", path, "error", err)
				// Continue walking despite errors.
				return nil
			}

			// Skip hidden files/directories.
			if d.Name() != "." && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				return nil
			}

			if !matchExt(d.Name(), ext) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				s.logger.Error("failed to get file info", "path", path, "error", err)
				return nil
			}

			relPath, err := filepath.Rel(root, path)
			if err != nil {
				relPath = path
			}

			files = append(files, File{
				Path:    path,
				RelPath: relPath,
				Size:    info.Size(),
				ModTime: info.ModTime().UnixMilli(),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Resolve finds the first existing file named name under any of the
// given roots. Used to locate media files referenced by descriptors.
func Resolve(roots []string, name string) (string, bool) {
	for _, root := range roots {
		candidate := filepath.Join(root, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// matchExt matches multi-part extensions like ".series.json" as well as
// plain ones; fs.ValidPath-style case sensitivity applies.
func matchExt(name, ext string) bool {
	if strings.Count(ext, ".") > 1 {
		return strings.HasSuffix(name, ext)
	}
	return filepath.Ext(name) == ext
}
