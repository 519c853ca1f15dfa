// Package tagindex derives the run-scoped tag vocabulary from the
// ingested songs. Integer tag IDs are assigned in first-seen order over a
// stable song traversal, which makes them reproducible run-to-run on an
// unchanged corpus but NOT stable once the corpus changes. The blacklist
// reconciler exists because of this.
package tagindex

import (
	"fmt"

	"github.com/karabase/karabase-server/internal/domain"
	"github.com/karabase/karabase-server/internal/errors"
)

// TranslationTable supplies display-name translations for tag types that
// support i18n.
type TranslationTable interface {
	Lookup(key string) map[string]string
}

// NoopTable is a TranslationTable with no entries, for tests.
type NoopTable struct{}

// Lookup implements TranslationTable.
func (NoopTable) Lookup(string) map[string]string { return nil }

type tagKey struct {
	name string
	typ  domain.TagType
}

// Resolver is an insertion-ordered arena keyed by (name, type).
// Not safe for concurrent use: callers feed it songs one at a time,
// after the ingestion barrier.
type Resolver struct {
	table  TranslationTable
	byKey  map[tagKey]*domain.Tag
	order  []*domain.Tag
	slugs  map[domain.TagType]map[string]string // slug -> owning tag name
	nextID int
}

// NewResolver creates an empty resolver.
func NewResolver(table TranslationTable) *Resolver {
	if table == nil {
		table = NoopTable{}
	}
	return &Resolver{
		table:  table,
		byKey:  make(map[tagKey]*domain.Tag),
		slugs:  make(map[domain.TagType]map[string]string),
		nextID: 1,
	}
}

// AddSong derives the tag entries for one song and returns their IDs in
// derivation order. A field with no values contributes the NO_TAG
// sentinel of its type. Song types contribute one TYPE_* entry each.
func (r *Resolver) AddSong(song *domain.Song) ([]int, error) {
	var ids []int

	add := func(names []string, typ domain.TagType) error {
		if len(names) == 0 {
			names = []string{domain.NoTag}
		}
		for _, name := range names {
			id, err := r.resolve(name, typ)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	}

	typeNames := make([]string, len(song.Types))
	for i, t := range song.Types {
		typeNames[i] = "TYPE_" + t
	}

	steps := []struct {
		names []string
		typ   domain.TagType
	}{
		{typeNames, domain.TagTypeSongType},
		{song.Langs, domain.TagTypeLanguage},
		{song.Performers, domain.TagTypePerformer},
		{song.Writers, domain.TagTypeWriter},
		{song.Staff, domain.TagTypeStaff},
		{song.FreeTags, domain.TagTypeFreeTag},
		{song.Groups, domain.TagTypeGroup},
	}
	for _, step := range steps {
		if err := add(step.names, step.typ); err != nil {
			return nil, err
		}
	}

	return ids, nil
}

// resolve returns the ID for (name, type), assigning the next sequential
// ID on first sight.
func (r *Resolver) resolve(name string, typ domain.TagType) (int, error) {
	key := tagKey{name: name, typ: typ}
	if t, ok := r.byKey[key]; ok {
		return t.ID, nil
	}

	slug, err := r.claimSlug(name, typ)
	if err != nil {
		return 0, err
	}

	t := &domain.Tag{
		ID:   r.nextID,
		Name: name,
		Type: typ,
		Slug: slug,
	}
	r.nextID++
	r.byKey[key] = t
	r.order = append(r.order, t)
	return t.ID, nil
}

// claimSlug generates the slug for a new tag. A collision within the same
// type is resolved once by appending a short hash of the name; a second
// collision after that indicates a data problem and is a hard error.
func (r *Resolver) claimSlug(name string, typ domain.TagType) (string, error) {
	taken := r.slugs[typ]
	if taken == nil {
		taken = make(map[string]string)
		r.slugs[typ] = taken
	}

	slug := NormalizeSlug(name)
	if slug == "" {
		slug = typ.String()
	}
	if _, exists := taken[slug]; !exists {
		taken[slug] = name
		return slug, nil
	}

	hashed := slug + "-" + slugHash(name)
	if owner, exists := taken[hashed]; exists {
		return "", errors.Conflictf(
			"slug %q for %s tag %q collides twice (already owned by %q)",
			hashed, typ, name, owner)
	}
	taken[hashed] = name
	return hashed, nil
}

// Finalize materializes the default vocabularies for any (name, type) not
// yet present and merges translations for i18n-capable types. Must be
// called exactly once, after every song has been added.
func (r *Resolver) Finalize() error {
	// Default song types.
	for _, kw := range domain.SongTypes {
		if _, err := r.resolve("TYPE_"+kw, domain.TagTypeSongType); err != nil {
			return err
		}
	}
	// Default free-tag vocabulary.
	for _, kw := range domain.FreeTags {
		if _, err := r.resolve(kw, domain.TagTypeFreeTag); err != nil {
			return err
		}
	}
	// NO_TAG sentinel for every type.
	for _, typ := range domain.TagTypes {
		if _, err := r.resolve(domain.NoTag, typ); err != nil {
			return err
		}
	}

	for _, t := range r.order {
		if !t.Type.Translatable() && t.Name != domain.NoTag {
			continue
		}
		if tr := r.table.Lookup(t.Name); tr != nil {
			t.I18n = tr
		}
	}
	return nil
}

// Tags returns every resolved tag in ID-assignment order.
func (r *Resolver) Tags() []*domain.Tag {
	return r.order
}

// Lookup returns the tag for (name, type), if present.
func (r *Resolver) Lookup(name string, typ domain.TagType) (*domain.Tag, bool) {
	t, ok := r.byKey[tagKey{name: name, typ: typ}]
	return t, ok
}

// Len returns the number of resolved tags.
func (r *Resolver) Len() int { return len(r.order) }

// String implements fmt.Stringer for debug logging.
func (r *Resolver) String() string {
	return fmt.Sprintf("tagindex.Resolver{%d tags}", len(r.order))
}
