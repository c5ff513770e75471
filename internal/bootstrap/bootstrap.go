package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	hclog "github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"

	plugininadapter "plughost/internal/modules/plugin/adapter/in"
	pluginoutadapter "plughost/internal/modules/plugin/adapter/out"
	pluginin "plughost/internal/modules/plugin/port/in"
	pluginout "plughost/internal/modules/plugin/port/out"
	pluginservice "plughost/internal/modules/plugin/service"
	pluginusecase "plughost/internal/modules/plugin/usecase"
	registryinadapter "plughost/internal/modules/registry/adapter/in"
	registryoutadapter "plughost/internal/modules/registry/adapter/out"
	registryin "plughost/internal/modules/registry/port/in"
	registryout "plughost/internal/modules/registry/port/out"
	registryservice "plughost/internal/modules/registry/service"
	registryusecase "plughost/internal/modules/registry/usecase"
	"plughost/internal/platform/clock"
	"plughost/internal/platform/config"
	"plughost/internal/platform/id"
	"plughost/internal/platform/logging"
	pluginsview "plughost/internal/ui/views/plugins"
)

const shutdownGrace = 5 * time.Second

type App struct {
	Config     config.Config
	Logger     hclog.Logger
	Plugins    pluginin.Usecase
	PluginCLI  plugininadapter.CLIHandler
	PluginHTTP *plugininadapter.HTTPHandler
	Directory  *pluginoutadapter.PluginDirectory
	// Registry is nil when the registry is remote.
	Registry *registryinadapter.Handler

	closers []io.Closer
}

// New wires the plugin runtime. With cfg.RegistryURL set the runtime talks to
// a remote registry over HTTP and websockets, otherwise it hosts the registry
// in-process on a sqlite file next to the grant ledger.
func New(cfg config.Config, logOutput io.Writer) (*App, error) {
	logger := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, Output: logOutput})
	app := &App{Config: cfg, Logger: logger, Directory: pluginoutadapter.NewPluginDirectory(cfg.PluginDir)}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	assets := pluginoutadapter.NewAssetMux(pluginoutadapter.NewHTTPAssetHost(cfg.FetchTimeout), pluginoutadapter.NewFileAssetHost())
	modules := pluginoutadapter.NewMultiLoader(
		pluginoutadapter.NewJSLoader(assets, logger),
		pluginoutadapter.NewLuaLoader(assets, logger),
		pluginoutadapter.NewGRPCLoader(assets, cfg.CacheDir(), logger),
	)

	store, err := app.grantStore(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	registry, watcher, err := app.registry(cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	rt := pluginservice.NewRuntime(pluginservice.RuntimeConfig{
		Assets:     assets,
		Modules:    modules,
		Store:      store,
		Registry:   registry,
		Watcher:    watcher,
		PluginRoot: cfg.PluginRoot,
		Origin:     cfg.Origin,
		Timeout:    cfg.FetchTimeout,
		IDs:        id.RandomHex{},
		Clock:      clock.SystemClock{},
		Logger:     logger,
		Tracer:     otel.Tracer("plughost/plugin"),
	})
	app.Plugins = pluginusecase.NewInteractor(rt)
	app.Plugins.SetUser(map[string]any{"id": cfg.UserID})
	app.PluginCLI = plugininadapter.NewCLIHandler(app.Plugins)
	app.PluginHTTP = plugininadapter.NewHTTPHandler(app.Plugins, logger)
	return app, nil
}

func (a *App) grantStore(cfg config.Config) (pluginout.KeyValueStore, error) {
	if cfg.GrantBackend == config.GrantBackendRedis {
		store, err := pluginoutadapter.NewRedisKVStore(cfg.RedisURL, "plughost:"+cfg.UserID)
		if err != nil {
			return nil, fmt.Errorf("new redis grant store: %w", err)
		}
		a.closers = append(a.closers, store)
		return store, nil
	}
	store, err := pluginoutadapter.NewSQLiteKVStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("new sqlite grant store: %w", err)
	}
	a.closers = append(a.closers, store)
	return store, nil
}

func (a *App) registry(cfg config.Config, logger hclog.Logger) (pluginout.Registry, pluginout.RegistryWatcher, error) {
	if cfg.RegistryURL != "" {
		watcher, err := pluginoutadapter.NewWSRegistryWatcher(cfg.RegistryURL, cfg.Token(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("new registry watcher: %w", err)
		}
		return pluginoutadapter.NewHTTPRegistry(cfg.RegistryURL, cfg.Token(), cfg.FetchTimeout), watcher, nil
	}
	uc, err := a.localRegistry(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	local := pluginoutadapter.NewLocalRegistry(uc, cfg.UserID)
	return local, local, nil
}

func (a *App) localRegistry(cfg config.Config, logger hclog.Logger) (registryin.Usecase, error) {
	records, err := registryoutadapter.NewSQLiteRecordStore(cfg.RegistryDBPath())
	if err != nil {
		return nil, fmt.Errorf("new registry store: %w", err)
	}
	a.closers = append(a.closers, records)

	var events registryout.EventBus = registryoutadapter.NewMemoryEventHub()
	if cfg.GrantBackend == config.GrantBackendRedis {
		bus, err := registryoutadapter.NewRedisEventBus(cfg.RedisURL, "plughost", logger)
		if err != nil {
			return nil, fmt.Errorf("new registry event bus: %w", err)
		}
		a.closers = append(a.closers, bus)
		events = bus
	}
	uc := registryusecase.NewInteractor(registryservice.NewRegistryService(clock.SystemClock{}, id.UUID{}, records, events, logger))
	a.Registry = registryinadapter.NewHandler(uc, logger)
	return uc, nil
}

// Router serves the host API, the registry API when it is local, and the
// plugin directory under /plugins/.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.Logger.Named("http")))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "loaded": a.Plugins.Loaded()})
	})
	a.PluginHTTP.RegisterRoutes(r)
	if a.Registry != nil {
		a.Registry.RegisterRoutes(r)
	}
	r.Handle("/plugins/*", http.StripPrefix("/plugins/", http.FileServer(http.Dir(a.Config.PluginDir))))
	return r
}

func requestLogger(logger hclog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
		})
	}
}

// Serve listens on cfg.ListenAddr until ctx ends, then drains connections.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: a.Config.ListenAddr, Handler: a.Router(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		a.Logger.Info("host listening", "addr", a.Config.ListenAddr, "plugins", a.Config.PluginRoot)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close unloads every plugin and releases the stores.
func (a *App) Close() {
	if a.Plugins != nil {
		a.Plugins.Shutdown()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Logger.Warn("close resource", "error", err)
		}
	}
	a.closers = nil
}

func RunTUI(app *App) error {
	program := tea.NewProgram(pluginsview.New(app.PluginCLI), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
