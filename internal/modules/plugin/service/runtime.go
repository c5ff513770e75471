package service

import (
	"context"
	"fmt"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/trace"

	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
	"plughost/internal/platform/clock"
	"plughost/internal/platform/id"
)

type RuntimeConfig struct {
	Assets     pluginout.AssetHost
	Modules    pluginout.ModuleLoader
	Store      pluginout.KeyValueStore
	Registry   pluginout.Registry
	Watcher    pluginout.RegistryWatcher
	Fallback   domain.Confirmer
	PluginRoot string
	Origin     string
	Timeout    time.Duration
	IDs        id.Generator
	Clock      clock.Clock
	Logger     hclog.Logger
	Tracer     trace.Tracer
}

// Runtime owns the grant ledger, the extension registry and the loaded set,
// and wires every plugin component against them. Independent runtimes share
// no state.
type Runtime struct {
	Permissions *PermissionRegistry
	Extensions  *ExtensionRegistry
	Scanner     *Scanner
	Loader      *Loader
	Manager     *Manager
	Lifecycle   *Lifecycle
	Session     *domain.SessionContext

	watcher pluginout.RegistryWatcher
	logger  hclog.Logger
}

func NewRuntime(cfg RuntimeConfig) *Runtime {
	logger := loggerOrNull(cfg.Logger)
	session := domain.NewSessionContext()
	permissions := NewPermissionRegistry(cfg.Store, logger)
	extensions := NewExtensionRegistry(logger)
	scanner := NewScanner(cfg.Assets, cfg.PluginRoot, cfg.Origin, cfg.Timeout, logger, cfg.Tracer)
	loader := NewLoader(LoaderConfig{
		Scanner:     scanner,
		Modules:     cfg.Modules,
		Extensions:  extensions,
		Permissions: permissions,
		Session:     session,
		Origin:      cfg.Origin,
		Timeout:     cfg.Timeout,
		Logger:      logger,
		Tracer:      cfg.Tracer,
	})
	return &Runtime{
		Permissions: permissions,
		Extensions:  extensions,
		Scanner:     scanner,
		Loader:      loader,
		Manager:     NewManager(scanner, loader, permissions, extensions, logger, cfg.Tracer),
		Lifecycle: NewLifecycle(LifecycleConfig{
			Scanner:     scanner,
			Loader:      loader,
			Permissions: permissions,
			Registry:    cfg.Registry,
			Fallback:    cfg.Fallback,
			IDs:         cfg.IDs,
			Clock:       cfg.Clock,
			Logger:      logger,
		}),
		Session: session,
		watcher: cfg.Watcher,
		logger:  logger.Named("runtime"),
	}
}

// Start rehydrates grants, reconciles them with the registry and initializes
// every enabled plugin. Registry trouble degrades to an empty enabled list.
func (r *Runtime) Start(ctx context.Context, opts InitOptions) InitSummary {
	if err := r.Permissions.Load(ctx); err != nil {
		r.logger.Warn("load permission ledger", "error", err)
	}
	if err := r.Lifecycle.SyncGrants(ctx); err != nil {
		r.logger.Warn("sync grants from registry", "error", err)
	}
	return r.Manager.Initialize(ctx, r.Lifecycle.EnabledPlugins(ctx), opts)
}

// Watch re-initializes on every registry change until ctx ends or the feed
// closes. Plugins already loaded are kept unless they were removed.
func (r *Runtime) Watch(ctx context.Context, opts InitOptions, onChange func(domain.RegistryEvent, InitSummary)) error {
	if r.watcher == nil {
		return fmt.Errorf("registry watcher is not configured")
	}
	events, err := r.watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch registry: %w", err)
	}
	opts.Reload = ReloadChanged
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			r.logger.Info("registry changed", "type", event.Type, "plugin", event.PluginID)
			if err := r.Lifecycle.SyncGrants(ctx); err != nil {
				r.logger.Warn("sync grants from registry", "error", err)
			}
			if event.Type == domain.EventPermissions {
				r.Loader.Unload(event.PluginID)
			}
			summary := r.Manager.Initialize(ctx, r.Lifecycle.EnabledPlugins(ctx), opts)
			if onChange != nil {
				onChange(event, summary)
			}
		}
	}
}

// Shutdown releases every loaded plugin.
func (r *Runtime) Shutdown() {
	for _, pluginID := range r.Extensions.Loaded() {
		r.Loader.Unload(pluginID)
	}
}
