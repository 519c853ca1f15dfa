// Package providers contains dependency injection providers for the Karabase server.
package providers

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/karabase/karabase-server/internal/config"
	"github.com/karabase/karabase-server/internal/i18n"
	"github.com/karabase/karabase-server/internal/logger"
	"github.com/karabase/karabase-server/internal/mediainfo"
	"github.com/karabase/karabase-server/internal/rebuild"
	"github.com/karabase/karabase-server/internal/scanner"
	"github.com/karabase/karabase-server/internal/store/sqlite"
	"github.com/karabase/karabase-server/internal/watcher"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting Karabase Server",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"corpus_roots", cfg.Corpus.Roots,
		"database", cfg.Database.Path,
	)

	return log, nil
}

// ProvideSlogLogger provides access to the underlying slog.Logger for packages that need it.
func ProvideSlogLogger(i do.Injector) (*slog.Logger, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return log.Logger, nil
}

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the library database.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	db, err := sqlite.Open(cfg.Database.Path, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Database initialized", "path", cfg.Database.Path)
	return &StoreHandle{Store: db}, nil
}

// ProvideScanner provides the corpus scanner.
func ProvideScanner(i do.Injector) (*scanner.Scanner, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return scanner.New(log.Logger), nil
}

// ProvideTranslations provides the embedded tag translation table.
func ProvideTranslations(i do.Injector) (*i18n.Table, error) {
	return i18n.Load()
}

// ProvideProber provides the media prober. With media probing disabled
// the external tools are never invoked.
func ProvideProber(i do.Injector) (*mediainfo.FFProber, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	return mediainfo.NewFFProber(cfg.Media.FFProbePath, cfg.Media.FFmpegPath, log.Logger), nil
}

// ProvideCoordinator provides the rebuild coordinator.
func ProvideCoordinator(i do.Injector) (*rebuild.Coordinator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	corpusScanner := do.MustInvoke[*scanner.Scanner](i)
	translations := do.MustInvoke[*i18n.Table](i)
	prober := do.MustInvoke[*mediainfo.FFProber](i)

	return rebuild.New(rebuild.Config{
		CorpusRoots:  cfg.Corpus.Roots,
		MediaRoots:   cfg.Corpus.MediaRoots,
		Workers:      cfg.Rebuild.Workers,
		Store:        storeHandle.Store,
		Scanner:      corpusScanner,
		Translations: translations,
		Prober:       prober,
		Extractor:    prober,
		Logger:       log.Logger,
	}), nil
}

// WatcherHandle wraps the corpus watcher with shutdown capability.
type WatcherHandle struct {
	*watcher.Watcher
}

// Shutdown implements do.Shutdownable.
func (h *WatcherHandle) Shutdown() error {
	return h.Watcher.Stop()
}

// ProvideWatcher provides the corpus watcher. It is only constructed
// when watch mode invokes it.
func ProvideWatcher(i do.Injector) (*WatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	w, err := watcher.New(cfg.Corpus.Roots, cfg.Watcher.SettleDelay, log.Logger)
	if err != nil {
		return nil, err
	}
	return &WatcherHandle{Watcher: w}, nil
}
