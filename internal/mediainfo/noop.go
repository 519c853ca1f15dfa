package mediainfo

import "context"

// NoopProber is a Prober that reports zero technical data. Used in tests
// and when media probing is disabled.
type NoopProber struct{}

// Probe implements Prober.
func (NoopProber) Probe(context.Context, string) (Info, error) { return Info{}, nil }

// NoopExtractor is a SubtitleExtractor that never finds a track.
type NoopExtractor struct{}

// Extract implements SubtitleExtractor.
func (NoopExtractor) Extract(context.Context, string, string) (string, error) { return "", nil }
