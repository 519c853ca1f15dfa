package rebuild

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/karabase/karabase-server/internal/scanner"
)

// CorpusChecksum fingerprints the whole descriptor corpus: the sha256 of
// every song and series file's bytes, concatenated in scan order. Two
// corpora with the same checksum produce the same library, so callers can
// skip a rebuild when the checksum has not moved.
func (c *Coordinator) CorpusChecksum(ctx context.Context) (string, error) {
	karaFiles, err := c.cfg.Scanner.Scan(c.cfg.CorpusRoots, scanner.KaraExt)
	if err != nil {
		return "", fmt.Errorf("scan song corpus: %w", err)
	}
	seriesFiles, err := c.cfg.Scanner.Scan(c.cfg.CorpusRoots, scanner.SeriesExt)
	if err != nil {
		return "", fmt.Errorf("scan series corpus: %w", err)
	}

	files := append(karaFiles, seriesFiles...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	h := sha256.New()
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r, err := os.Open(f.Path)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", f.RelPath, err)
		}
		_, err = io.Copy(h, r)
		r.Close()
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", f.RelPath, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
