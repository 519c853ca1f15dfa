// Package domain defines the typed records the generation pipeline works on.
package domain

import "time"

// Song is a fully parsed and validated karaoke song descriptor.
// Multi-valued fields are comma-joined strings in the descriptor file but
// lists in memory. KID is stable across regenerations; the database row ID
// is not.
type Song struct {
	KID   string // stable UUID, written back into the file when absent
	Title string
	Year  int // 0 when absent
	Order int // ordering number within its song type, 0 when absent

	// Types holds the song-type keywords matched in the descriptor
	// (OP, ED, IN, MV, LIVE, ...). A song whose types are all
	// series-exempt (MV, LIVE) needs no show reference.
	Types []string

	MediaFile   string
	SubFile     string
	Duration    int     // seconds, 0 when media unresolved
	Gain        float64 // replaygain dB, 0 when media unresolved
	Size        int64   // bytes, 0 when media unresolved
	SubChecksum string  // checksum of the subtitle content

	DateAdded time.Time
	DateModif time.Time

	Shows      []string // show/series names, resolved against the series corpus
	Performers []string
	Writers    []string
	Staff      []string
	Langs      []string
	FreeTags   []string
	Groups     []string

	// KaraFile is the descriptor file this record came from, relative to
	// its corpus root. Used in diagnostics and for rewrite-on-heal.
	KaraFile string
}

// SeriesExempt reports whether the song's type set exempts it from the
// "must reference at least one show" invariant.
func (s *Song) SeriesExempt() bool {
	for _, t := range s.Types {
		if t != SongTypeMV && t != SongTypeLive {
			return false
		}
	}
	return len(s.Types) > 0
}

// Song type keywords recognized in the descriptor's type field.
const (
	SongTypeOP      = "OP"
	SongTypeED      = "ED"
	SongTypeInsert  = "IN"
	SongTypeMV      = "MV"
	SongTypeLive    = "LIVE"
	SongTypeAMV     = "AMV"
	SongTypePV      = "PV"
	SongTypeCM      = "CM"
	SongTypeOther   = "OT"
	SongTypeConcert = "CONCERT"
)

// SongTypes lists every recognized song-type keyword. The order is the
// order default vocabulary rows are materialized in.
var SongTypes = []string{
	SongTypeOP,
	SongTypeED,
	SongTypeInsert,
	SongTypeMV,
	SongTypeLive,
	SongTypeAMV,
	SongTypePV,
	SongTypeCM,
	SongTypeOther,
	SongTypeConcert,
}

// IsSongType reports whether kw is a recognized song-type keyword.
func IsSongType(kw string) bool {
	for _, t := range SongTypes {
		if t == kw {
			return true
		}
	}
	return false
}
