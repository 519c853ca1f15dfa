// Package di provides dependency injection configuration for the Karabase server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/karabase/karabase-server/internal/config"
	"github.com/karabase/karabase-server/internal/di/providers"
	"github.com/karabase/karabase-server/internal/i18n"
	"github.com/karabase/karabase-server/internal/logger"
	"github.com/karabase/karabase-server/internal/mediainfo"
	"github.com/karabase/karabase-server/internal/rebuild"
	"github.com/karabase/karabase-server/internal/scanner"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSlogLogger)

	// Database layer
	do.Provide(injector, providers.ProvideStore)

	// Pipeline layer
	do.Provide(injector, providers.ProvideScanner)
	do.Provide(injector, providers.ProvideTranslations)
	do.Provide(injector, providers.ProvideProber)
	do.Provide(injector, providers.ProvideCoordinator)

	// Workers
	do.Provide(injector, providers.ProvideWatcher)

	return injector
}

// Bootstrap initializes the core services. The watcher is deliberately
// left lazy; watch mode invokes it explicitly.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*logger.Logger](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*scanner.Scanner](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*i18n.Table](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*mediainfo.FFProber](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*rebuild.Coordinator](injector); err != nil {
		return err
	}
	return nil
}
