package domain

// BlacklistCriteria is a rule owned by the playlist subsystem that
// references a tag by (type, tag ID). Because tag IDs are reassigned on
// every rebuild, each row carries the denormalized tag name used to
// re-resolve the ID afterwards.
type BlacklistCriteria struct {
	ID      int
	TagType TagType
	TagID   int
	TagName string
}
