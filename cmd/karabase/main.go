// Package main provides the entry point for the Karabase server application.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/karabase/karabase-server/internal/config"
	"github.com/karabase/karabase-server/internal/di"
	"github.com/karabase/karabase-server/internal/di/providers"
	"github.com/karabase/karabase-server/internal/logger"
	"github.com/karabase/karabase-server/internal/rebuild"
	"github.com/karabase/karabase-server/internal/watcher"
)

func main() {
	// Mode flags; the config flags are registered by config.LoadConfig
	// and parsed together with these on bootstrap.
	checksumMode := flag.Bool("checksum", false, "Print the corpus checksum and exit")
	watchMode := flag.Bool("watch", false, "Rebuild, then watch the corpus and rebuild on changes")

	// Create DI container
	injector := di.NewContainer()

	// Bootstrap all services
	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap server: %v\n", err)
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)
	cfg := do.MustInvoke[*config.Config](injector)
	coordinator := do.MustInvoke[*rebuild.Coordinator](injector)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	exitCode := 0
	switch {
	case *checksumMode:
		sum, err := coordinator.CorpusChecksum(ctx)
		if err != nil {
			log.WithError(err).Error("Corpus checksum failed")
			exitCode = 1
			break
		}
		fmt.Println(sum)

	case *watchMode:
		if !runRebuild(ctx, coordinator, cfg, log) {
			exitCode = 1
		}
		if err := watchCorpus(ctx, injector, coordinator, cfg, log); err != nil {
			log.WithError(err).Error("Watcher failed")
			exitCode = 1
		}

	default:
		if !runRebuild(ctx, coordinator, cfg, log) {
			exitCode = 1
		}
	}

	log.Info("Shutting down gracefully...")
	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
	}

	// Database needs explicit shutdown since it uses a wrapper type.
	if storeHandle, err := do.Invoke[*providers.StoreHandle](injector); err == nil {
		if err := storeHandle.Shutdown(); err != nil {
			log.Error("Failed to close database", "error", err)
		}
	}

	os.Exit(exitCode)
}

// runRebuild runs one rebuild and logs the outcome. Returns false when
// the run failed or aborted.
func runRebuild(ctx context.Context, coordinator *rebuild.Coordinator, cfg *config.Config, log *logger.Logger) bool {
	result, err := coordinator.Rebuild(ctx, rebuild.Options{
		Strict:     cfg.Rebuild.Strict,
		MediaProbe: cfg.Rebuild.MediaProbe,
	})
	if err != nil {
		log.WithError(err).Error("Rebuild aborted")
		return false
	}

	if result.Failed {
		log.Error("Rebuild completed with problems",
			"run", result.RunID,
			"problems", len(result.Diagnostics),
		)
		fmt.Fprintln(os.Stderr, strings.Join(result.Diagnostics, "\n"))
		return false
	}

	log.Info("Rebuild succeeded",
		"run", result.RunID,
		"songs", result.Songs,
		"series", result.Series,
		"tags", result.Tags,
		"elapsed", result.Elapsed,
	)
	return true
}

// watchCorpus consumes settled corpus events and triggers rebuilds until
// ctx is canceled. Event bursts are drained into one rebuild; a rebuild
// already in flight makes the event queue back up, so nothing is lost.
func watchCorpus(ctx context.Context, injector do.Injector, coordinator *rebuild.Coordinator, cfg *config.Config, log *logger.Logger) error {
	watcherHandle, err := do.Invoke[*providers.WatcherHandle](injector)
	if err != nil {
		return err
	}
	watcherHandle.Start(ctx)
	log.Info("Watching corpus", "roots", cfg.Corpus.Roots)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcherHandle.Events():
			if !ok {
				return nil
			}
			log.Info("Corpus changed", "path", event.Path, "change", event.Type.String())
			drainEvents(watcherHandle.Events())

			if !runRebuild(ctx, coordinator, cfg, log) {
				// A failed run keeps watching; the next edit may fix it.
				continue
			}
		}
	}
}

// drainEvents empties any queued events so one burst of edits produces
// one rebuild.
func drainEvents(events <-chan watcher.Event) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}
