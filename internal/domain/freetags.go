package domain

// Free-tag keywords allowed in the descriptor's tags field. The vocabulary
// is closed: a descriptor using anything else fails field validation.
const (
	TagSpecial  = "TAG_SPECIAL"
	TagCover    = "TAG_COVER"
	TagDuo      = "TAG_DUO"
	TagParody   = "TAG_PARODY"
	TagHumor    = "TAG_HUMOR"
	TagR18      = "TAG_R18"
	TagRemix    = "TAG_REMIX"
	TagLong     = "TAG_LONG"
	TagHardMode = "TAG_HARDMODE"
	TagSounding = "TAG_SOUNDONLY"
)

// FreeTags lists the closed free-tag vocabulary in default-row order.
var FreeTags = []string{
	TagSpecial,
	TagCover,
	TagDuo,
	TagParody,
	TagHumor,
	TagR18,
	TagRemix,
	TagLong,
	TagHardMode,
	TagSounding,
}

// IsFreeTag reports whether kw belongs to the free-tag vocabulary.
func IsFreeTag(kw string) bool {
	for _, t := range FreeTags {
		if t == kw {
			return true
		}
	}
	return false
}
