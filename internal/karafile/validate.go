package karafile

import (
	"fmt"

	"golang.org/x/text/language"

	"github.com/karabase/karabase-server/internal/domain"
)

// Validate runs field-level validation over a parsed song descriptor and
// returns the list of problems found. An empty result means the record is
// loadable. Problems here are per-song: the song is dropped from the
// rebuild but never blocks other songs.
func (k *Kara) Validate() []string {
	problems := append([]string(nil), k.parseErrs...)

	if k.Title == "" {
		problems = append(problems, "title: required")
	}

	if len(k.Types) == 0 {
		problems = append(problems, "type: at least one song type required")
	}
	for _, t := range k.Types {
		if !domain.IsSongType(t) {
			problems = append(problems, fmt.Sprintf("type: unknown song type %q", t))
		}
	}

	for _, lang := range k.Langs {
		if lang == "" {
			continue // caught by the empty-element check below
		}
		if _, err := language.Parse(lang); err != nil {
			problems = append(problems, fmt.Sprintf("lang: invalid language code %q", lang))
		}
	}

	for _, tag := range k.FreeTags {
		if tag == "" {
			continue
		}
		if !domain.IsFreeTag(tag) {
			problems = append(problems, fmt.Sprintf("tags: unknown tag %q", tag))
		}
	}

	// Empty elements mean a doubled or trailing separator in the file.
	problems = append(problems, checkElements("series", k.Shows)...)
	problems = append(problems, checkElements("singer", k.Performers)...)
	problems = append(problems, checkElements("songwriter", k.Writers)...)
	problems = append(problems, checkElements("creator", k.Staff)...)
	problems = append(problems, checkElements("lang", k.Langs)...)
	problems = append(problems, checkElements("tags", k.FreeTags)...)
	problems = append(problems, checkElements("groups", k.Groups)...)

	return problems
}

func checkElements(field string, values []string) []string {
	var problems []string
	for _, v := range values {
		if v == "" {
			problems = append(problems, fmt.Sprintf("%s: empty element (embedded separator?)", field))
		}
	}
	return problems
}
