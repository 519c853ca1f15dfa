package ingest

import (
	"fmt"

	"github.com/karabase/karabase-server/internal/domain"
	"github.com/karabase/karabase-server/internal/errors"
)

// CheckKIDCollisions verifies that no two songs share a KID. KIDs are
// the stable identity the store and every external reference hang off,
// so a collision makes the whole corpus untrustworthy and aborts the
// rebuild. Every colliding file pair is named so one pass fixes them all.
func CheckKIDCollisions(songs []*domain.Song) error {
	seen := make(map[string]string, len(songs))
	var collisions []string

	for _, s := range songs {
		if prev, dup := seen[s.KID]; dup {
			collisions = append(collisions,
				fmt.Sprintf("KID %s used by both %s and %s", s.KID, prev, s.KaraFile))
			continue
		}
		seen[s.KID] = s.KaraFile
	}

	if len(collisions) > 0 {
		return errors.Conflict("duplicate KID detected").WithDetails(collisions)
	}
	return nil
}
