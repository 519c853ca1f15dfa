// Package karafile parses and serializes the descriptor files the library
// is built from: song descriptors (key=value text) and series descriptors
// (JSON). Parsing is lenient for song files (unknown or blank values are
// absent, not errors) and strict for series files.
package karafile

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CurrentKaraVersion is the song descriptor schema version written on
// canonical re-serialization.
const CurrentKaraVersion = 2

// multi-valued fields are comma-joined on disk.
const listSeparator = ","

// Kara is the in-memory form of one song descriptor file.
// Numeric fields that failed to parse are recorded in parseErrs and
// surface during Validate; the field itself stays zero.
type Kara struct {
	KID         string
	Title       string
	Year        int
	Order       int
	Types       []string
	Shows       []string
	Performers  []string
	Writers     []string
	Staff       []string
	Langs       []string
	FreeTags    []string
	Groups      []string
	MediaFile   string
	SubFile     string
	Duration    int
	Gain        float64
	Size        int64
	SubChecksum string
	DateAdded   time.Time
	DateModif   time.Time
	Version     int

	parseErrs []string
}

// ParseKara parses the key=value text of one song descriptor.
// Line endings are normalized, unknown keys are ignored, and blank values
// are treated as absent. Malformed numeric values are collected as soft
// errors reported by Validate, never as parse failures.
func ParseKara(data []byte) *Kara {
	k := &Kara{}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		switch key {
		case "KID":
			k.KID = value
		case "title":
			k.Title = value
		case "year":
			k.Year = k.parseInt(key, value)
		case "order":
			k.Order = k.parseInt(key, value)
		case "type":
			k.Types = splitList(value, " ")
		case "series":
			k.Shows = splitList(value, listSeparator)
		case "singer":
			k.Performers = splitList(value, listSeparator)
		case "songwriter":
			k.Writers = splitList(value, listSeparator)
		case "creator":
			k.Staff = splitList(value, listSeparator)
		case "lang":
			k.Langs = splitList(value, listSeparator)
		case "tags":
			k.FreeTags = splitList(value, listSeparator)
		case "groups":
			k.Groups = splitList(value, listSeparator)
		case "mediafile":
			k.MediaFile = value
		case "subfile":
			k.SubFile = value
		case "mediaduration":
			k.Duration = k.parseInt(key, value)
		case "mediagain":
			k.Gain = k.parseFloat(key, value)
		case "mediasize":
			k.Size = int64(k.parseInt(key, value))
		case "subchecksum":
			k.SubChecksum = value
		case "dateadded":
			k.DateAdded = k.parseUnix(key, value)
		case "datemodif":
			k.DateModif = k.parseUnix(key, value)
		case "version":
			k.Version = k.parseInt(key, value)
		}
	}

	return k
}

// Marshal serializes the record in canonical form: fixed key order, one
// key=value line per present field. Unchanged records re-serialize
// byte-identically, which keeps the self-heal rewrite step idempotent.
func (k *Kara) Marshal() []byte {
	var b strings.Builder

	write := func(key, value string) {
		if value == "" {
			return
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('\n')
	}

	write("KID", k.KID)
	write("title", k.Title)
	if k.Year != 0 {
		write("year", strconv.Itoa(k.Year))
	}
	if k.Order != 0 {
		write("order", strconv.Itoa(k.Order))
	}
	write("type", strings.Join(k.Types, " "))
	write("series", joinList(k.Shows))
	write("singer", joinList(k.Performers))
	write("songwriter", joinList(k.Writers))
	write("creator", joinList(k.Staff))
	write("lang", joinList(k.Langs))
	write("tags", joinList(k.FreeTags))
	write("groups", joinList(k.Groups))
	write("mediafile", k.MediaFile)
	if k.Duration != 0 {
		write("mediaduration", strconv.Itoa(k.Duration))
	}
	if k.Gain != 0 {
		write("mediagain", strconv.FormatFloat(k.Gain, 'f', 2, 64))
	}
	if k.Size != 0 {
		write("mediasize", strconv.FormatInt(k.Size, 10))
	}
	write("subfile", k.SubFile)
	write("subchecksum", k.SubChecksum)
	if !k.DateAdded.IsZero() {
		write("dateadded", strconv.FormatInt(k.DateAdded.Unix(), 10))
	}
	if !k.DateModif.IsZero() {
		write("datemodif", strconv.FormatInt(k.DateModif.Unix(), 10))
	}
	version := k.Version
	if version == 0 {
		version = CurrentKaraVersion
	}
	write("version", strconv.Itoa(version))

	return []byte(b.String())
}

func (k *Kara) parseInt(key, value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		k.parseErrs = append(k.parseErrs, fmt.Sprintf("%s: %q is not numeric", key, value))
		return 0
	}
	return n
}

func (k *Kara) parseFloat(key, value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		k.parseErrs = append(k.parseErrs, fmt.Sprintf("%s: %q is not a number", key, value))
		return 0
	}
	return f
}

func (k *Kara) parseUnix(key, value string) time.Time {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		k.parseErrs = append(k.parseErrs, fmt.Sprintf("%s: %q is not a unix timestamp", key, value))
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

// splitList splits a joined field, trimming whitespace. Empty elements
// are kept so validation can flag embedded separators.
func splitList(value, sep string) []string {
	parts := strings.Split(value, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func joinList(values []string) string {
	return strings.Join(values, listSeparator)
}
