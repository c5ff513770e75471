package service

import (
	"context"
	"fmt"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
)

// Loader imports a plugin entry and runs its bootstrap against the host.
type Loader struct {
	scanner     *Scanner
	modules     pluginout.ModuleLoader
	extensions  *ExtensionRegistry
	permissions *PermissionRegistry
	session     *domain.SessionContext
	origin      string
	timeout     time.Duration
	logger      hclog.Logger
	tracer      trace.Tracer
}

type LoaderConfig struct {
	Scanner     *Scanner
	Modules     pluginout.ModuleLoader
	Extensions  *ExtensionRegistry
	Permissions *PermissionRegistry
	Session     *domain.SessionContext
	Origin      string
	Timeout     time.Duration
	Logger      hclog.Logger
	Tracer      trace.Tracer
}

func NewLoader(cfg LoaderConfig) *Loader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	session := cfg.Session
	if session == nil {
		session = domain.NewSessionContext()
	}
	return &Loader{
		scanner:     cfg.Scanner,
		modules:     cfg.Modules,
		extensions:  cfg.Extensions,
		permissions: cfg.Permissions,
		session:     session,
		origin:      cfg.Origin,
		timeout:     timeout,
		logger:      loggerOrNull(cfg.Logger).Named("loader"),
		tracer:      tracerOrNoop(cfg.Tracer),
	}
}

// Load bootstraps pluginID, tearing down any previous registration first. A
// failed load releases whatever the attempt registered and leaves the plugin
// out of the loaded set.
func (l *Loader) Load(ctx context.Context, pluginID string) (err error) {
	ctx, span := l.tracer.Start(ctx, "plugin.load", trace.WithAttributes(attribute.String("plugin.id", pluginID)))
	defer func() { endSpan(span, err) }()

	if l.extensions.Release(pluginID) {
		l.logger.Info("reloading plugin", "plugin", pluginID)
	}
	defer func() {
		if err != nil {
			l.extensions.Release(pluginID)
			l.logger.Error("plugin load failed", "plugin", pluginID, "error", err)
		}
	}()

	manifest, err := l.scanner.FetchManifest(ctx, pluginID)
	if err != nil {
		return err
	}
	base := l.scanner.BaseURL(pluginID)
	if manifest.Style != "" {
		l.extensions.InjectStyle(pluginID, ResolveURL(base, manifest.Style, l.origin))
	}
	entry := ResolveURL(base, manifest.EntryPath(), l.origin)

	if err := l.bootstrap(ctx, pluginout.ImportRequest{
		PluginID: pluginID,
		BaseURL:  ResolveURL(base, ".", l.origin),
		EntryURL: entry,
		Manifest: manifest,
	}); err != nil {
		return err
	}
	l.extensions.MarkLoaded(pluginID)
	l.logger.Info("plugin loaded", "plugin", pluginID, "version", manifest.Version)
	return nil
}

// Unload releases a plugin's registrations; unknown ids are a no-op.
func (l *Loader) Unload(pluginID string) bool {
	released := l.extensions.Release(pluginID)
	if released {
		l.logger.Info("plugin unloaded", "plugin", pluginID)
	}
	return released
}

func (l *Loader) ResolveURL(base, rel string) string {
	return ResolveURL(base, rel, l.origin)
}

func (l *Loader) Session() *domain.SessionContext {
	return l.session
}

func (l *Loader) bootstrap(ctx context.Context, req pluginout.ImportRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", domain.ErrBootstrapFailed, req.PluginID, r)
		}
	}()

	importCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	module, err := l.modules.Import(importCtx, req)
	if err != nil {
		return fmt.Errorf("import plugin %s: %w", req.PluginID, err)
	}
	defer func() {
		if closeErr := module.Close(); closeErr != nil {
			l.logger.Warn("close plugin module", "plugin", req.PluginID, "error", closeErr)
		}
	}()

	bootCtx, cancelBoot := context.WithTimeout(ctx, l.timeout)
	defer cancelBoot()
	_, span := l.tracer.Start(bootCtx, "plugin.bootstrap")
	bootErr := module.Bootstrap(bootCtx, domain.BootstrapContext{
		PluginID: req.PluginID,
		BaseURL:  req.BaseURL,
		Manifest: req.Manifest,
		Session:  l.session,
		Host:     &hostBinding{pluginID: req.PluginID, base: req.BaseURL, loader: l},
	})
	endSpan(span, bootErr)
	if bootErr != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrBootstrapFailed, req.PluginID, bootErr)
	}
	return nil
}

// hostBinding is the HostAPI handed to a single plugin's bootstrap.
type hostBinding struct {
	pluginID string
	base     string
	loader   *Loader
}

func (h *hostBinding) RegisterComponent(slot string, c domain.Contribution) domain.Extension {
	return h.loader.extensions.RegisterComponent(slot, c, h.pluginID)
}

func (h *hostBinding) RegisterAction(slot string, c domain.Contribution) domain.Extension {
	return h.loader.extensions.RegisterAction(slot, c, h.pluginID)
}

func (h *hostBinding) ClearSlot(slot string) {
	h.loader.extensions.ClearSlot(slot)
}

func (h *hostBinding) ResolveURL(rel string) string {
	return ResolveURL(h.base, rel, h.loader.origin)
}

func (h *hostBinding) HasPermission(p domain.Permission) bool {
	if h.loader.permissions == nil {
		return false
	}
	return h.loader.permissions.Has(h.pluginID, p)
}
