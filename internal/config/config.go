// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Corpus   CorpusConfig
	Database DatabaseConfig
	Rebuild  RebuildConfig
	Media    MediaConfig
	Watcher  WatcherConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// CorpusConfig holds the descriptor and media tree locations.
type CorpusConfig struct {
	// Roots are the directories scanned for .kara and .series.json files.
	Roots []string
	// MediaRoots are the directories media and subtitle files resolve
	// against.
	MediaRoots []string
}

// DatabaseConfig holds the library database location.
type DatabaseConfig struct {
	Path string
}

// RebuildConfig holds rebuild pipeline tuning.
type RebuildConfig struct {
	// Strict fails a run on self-corrections that are normally silent.
	Strict bool
	// MediaProbe enables ffprobe/ffmpeg analysis of changed media files.
	MediaProbe bool
	// Workers bounds ingestion parallelism (default: 16).
	Workers int
}

// MediaConfig holds external tool locations.
type MediaConfig struct {
	// FFProbePath overrides auto-detection of ffprobe (default: PATH lookup).
	FFProbePath string
	// FFmpegPath overrides auto-detection of ffmpeg (default: PATH lookup).
	FFmpegPath string
}

// WatcherConfig holds corpus watching configuration.
type WatcherConfig struct {
	// SettleDelay is how long a file must stop changing before the
	// watcher reacts (default: 500ms).
	SettleDelay time.Duration
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	corpusRoots := flag.String("corpus", "", "Comma-separated corpus root directories")
	mediaRoots := flag.String("media", "", "Comma-separated media root directories")
	dbPath := flag.String("db", "", "Path to the library database")
	strict := flag.String("strict", "", "Fail rebuilds on silent self-corrections (default: false)")
	mediaProbe := flag.String("media-probe", "", "Probe changed media files (default: true)")
	workers := flag.String("workers", "", "Ingestion worker count (default: 16)")
	ffprobePath := flag.String("ffprobe-path", "", "Path to ffprobe binary (default: auto-detect)")
	ffmpegPath := flag.String("ffmpeg-path", "", "Path to ffmpeg binary (default: auto-detect)")
	settleDelay := flag.String("settle-delay", "", "Watcher settle delay (default: 500ms)")
	envFile := flag.String("env-file", ".env", "Path to .env file")

	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Corpus: CorpusConfig{
			Roots:      splitPaths(getConfigValue(*corpusRoots, "CORPUS_ROOTS", "")),
			MediaRoots: splitPaths(getConfigValue(*mediaRoots, "MEDIA_ROOTS", "")),
		},
		Database: DatabaseConfig{
			Path: getConfigValue(*dbPath, "DATABASE_PATH", ""),
		},
		Rebuild: RebuildConfig{
			Strict:     getBoolConfigValue(*strict, "REBUILD_STRICT", false),
			MediaProbe: getBoolConfigValue(*mediaProbe, "REBUILD_MEDIA_PROBE", true),
			Workers:    getIntConfigValue(*workers, "REBUILD_WORKERS", 16),
		},
		Media: MediaConfig{
			FFProbePath: getConfigValue(*ffprobePath, "FFPROBE_PATH", ""),
			FFmpegPath:  getConfigValue(*ffmpegPath, "FFMPEG_PATH", ""),
		},
	}

	settleStr := getConfigValue(*settleDelay, "WATCHER_SETTLE_DELAY", "500ms")
	settle, err := time.ParseDuration(settleStr)
	if err != nil {
		return nil, fmt.Errorf("invalid settle delay %q: %w", settleStr, err)
	}
	cfg.Watcher.SettleDelay = settle

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if len(c.Corpus.Roots) == 0 {
		return errors.New("at least one corpus root is required")
	}
	if c.Database.Path == "" {
		return errors.New("database path cannot be empty after expansion")
	}
	if c.Rebuild.Workers < 1 {
		return fmt.Errorf("worker count must be positive, got %d", c.Rebuild.Workers)
	}

	return nil
}

// expandPaths expands ~ and makes every configured path absolute. The
// database path defaults to ~/Karabase/karabase.db.
func (c *Config) expandPaths() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	dbDefault := filepath.Join(homeDir, "Karabase", "karabase.db")
	if c.Database.Path, err = expandPath(c.Database.Path, dbDefault); err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}

	for i, root := range c.Corpus.Roots {
		if c.Corpus.Roots[i], err = expandPath(root, ""); err != nil {
			return fmt.Errorf("invalid corpus root %q: %w", root, err)
		}
	}
	for i, root := range c.Corpus.MediaRoots {
		if c.Corpus.MediaRoots[i], err = expandPath(root, ""); err != nil {
			return fmt.Errorf("invalid media root %q: %w", root, err)
		}
	}
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// splitPaths splits a comma-separated path list, dropping empty entries.
func splitPaths(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value.
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present.
		value = strings.Trim(value, `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
