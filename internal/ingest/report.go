// Package ingest loads the song and series corpora into memory with
// bounded parallelism, self-healing song descriptors and linking songs to
// their series along the way.
package ingest

import (
	"fmt"
	"sort"
	"sync"
)

// Report aggregates per-file diagnostics across one rebuild. Errors are
// collected rather than thrown so one bad file never stops the others
// from being evaluated. Safe for concurrent use by the song workers.
type Report struct {
	mu      sync.Mutex
	entries map[string][]string
	failed  bool
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{entries: make(map[string][]string)}
}

// Add records diagnostics for one file and flags the run as failed.
func (r *Report) Add(file string, problems ...string) {
	if len(problems) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[file] = append(r.entries[file], problems...)
	r.failed = true
}

// Fail flags the run as failed without attaching a file diagnostic.
func (r *Report) Fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = true
}

// Failed reports whether any diagnostic was recorded.
func (r *Report) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Entries returns a copy of the per-file diagnostics map.
func (r *Report) Entries() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(r.entries))
	for k, v := range r.entries {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Diagnostics returns every diagnostic as "file: problem" lines, sorted
// by filename for stable output.
func (r *Report) Diagnostics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	files := make([]string, 0, len(r.entries))
	for f := range r.entries {
		files = append(files, f)
	}
	sort.Strings(files)

	var out []string
	for _, f := range files {
		for _, p := range r.entries[f] {
			out = append(out, fmt.Sprintf("%s: %s", f, p))
		}
	}
	return out
}
