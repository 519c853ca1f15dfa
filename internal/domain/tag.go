package domain

// TagType classifies a tag row. The integer values are part of the
// relational schema and of the blacklist-criteria contract, so they must
// not be renumbered.
type TagType int

const (
	TagTypePerformer TagType = 2
	TagTypeSongType  TagType = 3
	TagTypeStaff     TagType = 4
	TagTypeLanguage  TagType = 5
	TagTypeFreeTag   TagType = 7
	TagTypeWriter    TagType = 8
	TagTypeGroup     TagType = 9
)

// TagTypes lists every tag type in default-vocabulary order.
var TagTypes = []TagType{
	TagTypePerformer,
	TagTypeSongType,
	TagTypeStaff,
	TagTypeLanguage,
	TagTypeFreeTag,
	TagTypeWriter,
	TagTypeGroup,
}

// String returns the lowercase name used in slugs and diagnostics.
func (t TagType) String() string {
	switch t {
	case TagTypePerformer:
		return "performer"
	case TagTypeSongType:
		return "songtype"
	case TagTypeStaff:
		return "staff"
	case TagTypeLanguage:
		return "language"
	case TagTypeFreeTag:
		return "tag"
	case TagTypeWriter:
		return "writer"
	case TagTypeGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Translatable reports whether display names of this type go through the
// translation table.
func (t TagType) Translatable() bool {
	return t == TagTypeSongType || t == TagTypeLanguage || t == TagTypeFreeTag
}

// NoTag is the fallback sentinel recorded when a multi-valued field is
// empty. It is materialized as a real tag row so songs without a value
// still join against something.
const NoTag = "NO_TAG"

// Tag is a run-scoped classification row. ID is a sequential integer
// assigned the first time a (name, type) pair is seen during a rebuild;
// it is NOT stable across rebuilds, which is why blacklist criteria are
// reconciled afterwards.
type Tag struct {
	ID   int
	Name string
	Type TagType
	Slug string
	I18n map[string]string // lang code -> translated display name
}
