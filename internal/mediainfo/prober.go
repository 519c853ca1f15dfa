// Package mediainfo wraps the external ffprobe/ffmpeg processes the
// pipeline uses to read technical data from media files. Every call is
// context-bound with a per-file timeout: a hung probe fails that one
// file, never the whole rebuild.
package mediainfo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Info is the technical data probed from one media file.
type Info struct {
	Duration int     // seconds, rounded down
	Gain     float64 // replaygain track gain in dB
	Size     int64   // container size in bytes
}

// Prober reads technical data from a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (Info, error)
}

// SubtitleExtractor resolves the subtitle content for a media file.
// An empty path with a nil error means the media carries no subtitle
// track; that is a normal outcome, not a failure.
type SubtitleExtractor interface {
	Extract(ctx context.Context, mediaPath, destDir string) (string, error)
}

// DefaultProbeTimeout bounds one external process invocation.
const DefaultProbeTimeout = 30 * time.Second

// FFProber implements Prober and SubtitleExtractor on top of the ffprobe
// and ffmpeg binaries.
type FFProber struct {
	FFProbeBin string
	FFmpegBin  string
	Timeout    time.Duration
	logger     *slog.Logger
}

// NewFFProber creates a prober using the given binaries. Empty paths
// fall back to looking up "ffprobe"/"ffmpeg" on PATH.
func NewFFProber(ffprobeBin, ffmpegBin string, logger *slog.Logger) *FFProber {
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &FFProber{
		FFProbeBin: ffprobeBin,
		FFmpegBin:  ffmpegBin,
		Timeout:    DefaultProbeTimeout,
		logger:     logger,
	}
}

// ffprobe JSON payload, container level only.
type probeResult struct {
	Streams []struct {
		Index     int    `json:"index"`
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Probe executes ffprobe and a replaygain analysis pass against path.
func (p *FFProber) Probe(ctx context.Context, path string) (Info, error) {
	result, err := p.inspect(ctx, path)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Duration: int(parseFloat(result.Format.Duration)),
		Size:     int64(parseFloat(result.Format.Size)),
	}

	gain, err := p.analyzeGain(ctx, path)
	if err != nil {
		// Gain analysis failing is tolerable; duration and size are the
		// fields single-file placement actually needs.
		p.logger.Warn("replaygain analysis failed", "path", path, "error", err)
	} else {
		info.Gain = gain
	}

	return info, nil
}

// Extract dumps the first subtitle track of mediaPath into destDir and
// returns the resulting file path, or "" when no subtitle track exists.
func (p *FFProber) Extract(ctx context.Context, mediaPath, destDir string) (string, error) {
	result, err := p.inspect(ctx, mediaPath)
	if err != nil {
		return "", err
	}

	hasSubs := false
	for _, s := range result.Streams {
		if strings.EqualFold(s.CodecType, "subtitle") {
			hasSubs = true
			break
		}
	}
	if !hasSubs {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	dest := destDir + "/extracted.ass"
	cmd := exec.CommandContext(ctx, p.FFmpegBin,
		"-y", "-v", "error", "-i", mediaPath, "-map", "0:s:0", dest)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg subtitle extract: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return dest, nil
}

// inspect runs ffprobe and decodes its JSON output.
func (p *FFProber) inspect(ctx context.Context, path string) (probeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, p.FFProbeBin,
		"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		return probeResult{}, fmt.Errorf("ffprobe inspect: %w", err)
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return probeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

var trackGainRe = regexp.MustCompile(`track_gain = ([+-]?[0-9.]+) dB`)

// analyzeGain runs an ffmpeg replaygain pass and scrapes the track gain
// from stderr.
func (p *FFProber) analyzeGain(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, p.FFmpegBin,
		"-hide_banner", "-nostats", "-i", path, "-vn", "-af", "replaygain", "-f", "null", "-")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffmpeg replaygain: %w", err)
	}

	m := trackGainRe.FindSubmatch(output)
	if m == nil {
		return 0, fmt.Errorf("ffmpeg replaygain: no track_gain in output")
	}
	gain, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, fmt.Errorf("ffmpeg replaygain: parse gain: %w", err)
	}
	return gain, nil
}

func (p *FFProber) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return DefaultProbeTimeout
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return parsed
}
