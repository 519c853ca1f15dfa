package domain

// Series represents one show/series descriptor.
// Created by a human-edited JSON file and loaded fresh on every rebuild;
// songs link to it by exact name match during ingestion.
type Series struct {
	SID     string // stable UUID
	Name    string // canonical name, globally unique across the corpus
	Aliases []string
	I18n    map[string]string // lang code -> translated name

	// SerieFile is the descriptor file this record came from.
	SerieFile string
}
