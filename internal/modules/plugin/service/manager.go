package service

import (
	"context"
	"fmt"

	hclog "github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"plughost/internal/modules/plugin/domain"
)

type ReloadPolicy int

const (
	// ReloadAlways tears down and rebuilds plugins that are already loaded.
	ReloadAlways ReloadPolicy = iota
	// ReloadChanged leaves already-loaded plugins untouched.
	ReloadChanged
)

type InitOptions struct {
	AutoGrant bool
	Confirm   domain.Confirmer
	Reload    ReloadPolicy
}

type InitStatus string

const (
	StatusLoaded   InitStatus = "loaded"
	StatusReloaded InitStatus = "reloaded"
	StatusKept     InitStatus = "kept"
	StatusInvalid  InitStatus = "invalid"
	StatusSkipped  InitStatus = "skipped"
	StatusFailed   InitStatus = "failed"
)

type InitResult struct {
	PluginID string     `json:"plugin_id"`
	Status   InitStatus `json:"status"`
	Reason   string     `json:"reason,omitempty"`
}

type InitSummary struct {
	Total   int                 `json:"total"`
	Loaded  int                 `json:"loaded"`
	Failed  int                 `json:"failed"`
	Skipped int                 `json:"skipped"`
	Plugins []domain.PluginInfo `json:"plugins"`
	Results []InitResult        `json:"results"`
}

// Manager runs bulk initialization: scan, grant gate, hot-reload cleanup and
// a sequential load pass.
type Manager struct {
	scanner     *Scanner
	loader      *Loader
	permissions *PermissionRegistry
	extensions  *ExtensionRegistry
	approvals   *approvalQueue
	logger      hclog.Logger
	tracer      trace.Tracer
}

func NewManager(scanner *Scanner, loader *Loader, permissions *PermissionRegistry, extensions *ExtensionRegistry, logger hclog.Logger, tracer trace.Tracer) *Manager {
	return &Manager{
		scanner:     scanner,
		loader:      loader,
		permissions: permissions,
		extensions:  extensions,
		approvals:   newApprovalQueue(nil, nil),
		logger:      loggerOrNull(logger).Named("manager"),
		tracer:      tracerOrNoop(tracer),
	}
}

// Initialize loads only plugins whose declared permissions are fully granted.
// Missing grants are filled by AutoGrant or Confirm; otherwise the plugin is
// skipped. A plugin failing at any stage never stops its siblings.
func (m *Manager) Initialize(ctx context.Context, pluginIDs []string, opts InitOptions) InitSummary {
	ctx, span := m.tracer.Start(ctx, "plugin.initialize", trace.WithAttributes(attribute.Int("plugin.count", len(pluginIDs))))
	defer span.End()

	scan := m.scanner.ScanAll(ctx, pluginIDs)
	summary := InitSummary{Total: scan.Total, Plugins: scan.Plugins, Results: []InitResult{}}

	toLoad := []domain.PluginInfo{}
	for _, info := range scan.Plugins {
		if !info.Valid {
			summary.Failed++
			summary.Results = append(summary.Results, InitResult{PluginID: info.ID, Status: StatusInvalid, Reason: domain.JoinMessages(info.Errors)})
			continue
		}
		if err := m.ensureGrants(ctx, info, opts); err != nil {
			m.logger.Warn("plugin skipped", "plugin", info.ID, "reason", err)
			summary.Skipped++
			summary.Results = append(summary.Results, InitResult{PluginID: info.ID, Status: StatusSkipped, Reason: err.Error()})
			continue
		}
		toLoad = append(toLoad, info)
	}

	keep := make(map[string]struct{}, len(toLoad))
	for _, info := range toLoad {
		keep[info.ID] = struct{}{}
	}
	for _, loadedID := range m.extensions.Loaded() {
		if _, ok := keep[loadedID]; !ok {
			m.logger.Info("removing plugin no longer listed", "plugin", loadedID)
			m.loader.Unload(loadedID)
		}
	}

	for _, info := range toLoad {
		wasLoaded := m.extensions.IsLoaded(info.ID)
		if wasLoaded && opts.Reload == ReloadChanged {
			summary.Loaded++
			summary.Results = append(summary.Results, InitResult{PluginID: info.ID, Status: StatusKept})
			continue
		}
		if err := m.loader.Load(ctx, info.ID); err != nil {
			summary.Failed++
			summary.Results = append(summary.Results, InitResult{PluginID: info.ID, Status: StatusFailed, Reason: err.Error()})
			continue
		}
		summary.Loaded++
		status := StatusLoaded
		if wasLoaded {
			status = StatusReloaded
		}
		summary.Results = append(summary.Results, InitResult{PluginID: info.ID, Status: status})
	}

	span.SetAttributes(attribute.Int("plugin.loaded", summary.Loaded), attribute.Int("plugin.failed", summary.Failed), attribute.Int("plugin.skipped", summary.Skipped))
	m.logger.Info("plugins initialized", "total", summary.Total, "loaded", summary.Loaded, "failed", summary.Failed, "skipped", summary.Skipped)
	return summary
}

func (m *Manager) ensureGrants(ctx context.Context, info domain.PluginInfo, opts InitOptions) error {
	missing := m.permissions.RequestPermissions(info.ID, info.Permissions)
	if len(missing) == 0 {
		return nil
	}
	needed := make([]string, 0, len(missing))
	for _, p := range missing {
		needed = append(needed, string(p.Permission))
	}
	switch {
	case opts.AutoGrant:
	case opts.Confirm != nil:
		pending := m.approvals.build(info, missing)
		ok, err := opts.Confirm.ConfirmInstall(ctx, pending)
		if err != nil {
			return fmt.Errorf("confirm permissions: %w", err)
		}
		if !ok {
			return domain.ErrPermissionDenied
		}
	default:
		return domain.ErrPermissionDenied
	}
	if err := m.permissions.Grant(ctx, info.ID, needed); err != nil {
		return fmt.Errorf("grant permissions: %w", err)
	}
	return nil
}
