// Package i18n provides the translation table for tag and song-type
// display names. The table ships embedded; lookups are read-only.
package i18n

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed translations.json
var translationsJSON []byte

// Table maps translation keys (TYPE_OP, TAG_COVER, NO_TAG, ...) to
// per-language display strings.
type Table struct {
	entries map[string]map[string]string
}

// Load parses the embedded translation table.
func Load() (*Table, error) {
	var entries map[string]map[string]string
	if err := json.Unmarshal(translationsJSON, &entries); err != nil {
		return nil, fmt.Errorf("parse embedded translations: %w", err)
	}
	return &Table{entries: entries}, nil
}

// Lookup returns the per-language strings for key, or nil when the key
// has no translations. The returned map must not be mutated.
func (t *Table) Lookup(key string) map[string]string {
	return t.entries[key]
}
