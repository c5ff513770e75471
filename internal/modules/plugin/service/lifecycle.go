package service

import (
	"context"
	"fmt"
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
	"plughost/internal/platform/clock"
	"plughost/internal/platform/id"
)

const (
	msgInstallCancelled   = "installation cancelled by user"
	msgUninstallCancelled = "uninstall cancelled by user"
)

// InstallOutcome is either a finished result or an approval the caller must
// drive with Approve or Deny.
type InstallOutcome struct {
	Result  domain.InstallResult
	Pending *domain.PendingApproval
}

type BatchFailure struct {
	PluginID string `json:"plugin_id"`
	Reason   string `json:"reason"`
}

type BatchResult struct {
	Success []string       `json:"success"`
	Failed  []BatchFailure `json:"failed"`
}

type LifecycleConfig struct {
	Scanner     *Scanner
	Loader      *Loader
	Permissions *PermissionRegistry
	Registry    pluginout.Registry
	Fallback    domain.Confirmer
	IDs         id.Generator
	Clock       clock.Clock
	Logger      hclog.Logger
}

// Lifecycle implements install, uninstall and enable/disable against the
// durable registry.
type Lifecycle struct {
	scanner     *Scanner
	loader      *Loader
	permissions *PermissionRegistry
	registry    pluginout.Registry
	fallback    domain.Confirmer
	approvals   *approvalQueue
	logger      hclog.Logger
}

func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	return &Lifecycle{
		scanner:     cfg.Scanner,
		loader:      cfg.Loader,
		permissions: cfg.Permissions,
		registry:    cfg.Registry,
		fallback:    cfg.Fallback,
		approvals:   newApprovalQueue(cfg.IDs, cfg.Clock),
		logger:      loggerOrNull(cfg.Logger).Named("lifecycle"),
	}
}

// BeginInstall scans the plugin. Plugins declaring no permissions are
// committed immediately; the rest wait in the approval queue.
func (l *Lifecycle) BeginInstall(ctx context.Context, pluginID string) InstallOutcome {
	info := l.scanner.Scan(ctx, pluginID)
	if !info.Valid {
		return InstallOutcome{Result: domain.InstallResult{
			Success: false,
			Message: fmt.Sprintf("plugin %s failed validation: %s", pluginID, domain.JoinMessages(info.Errors)),
		}}
	}
	perms := domain.Describe(domain.ExpandPermissions(info.Permissions))
	if len(perms) == 0 {
		return InstallOutcome{Result: l.commit(ctx, info, nil)}
	}
	pending := l.approvals.add(info, perms)
	l.logger.Info("install awaiting approval", "plugin", pluginID, "approval", pending.ID, "permissions", len(perms))
	return InstallOutcome{Pending: &pending}
}

func (l *Lifecycle) Approve(ctx context.Context, approvalID string) domain.InstallResult {
	pending, ok := l.approvals.take(approvalID)
	if !ok {
		return domain.InstallResult{Success: false, Message: fmt.Sprintf("%v: %s", domain.ErrApprovalNotFound, approvalID)}
	}
	return l.commit(ctx, pending.Plugin, pending.Permissions)
}

func (l *Lifecycle) Deny(approvalID string) domain.InstallResult {
	pending, ok := l.approvals.take(approvalID)
	if !ok {
		return domain.InstallResult{Success: false, Message: fmt.Sprintf("%v: %s", domain.ErrApprovalNotFound, approvalID)}
	}
	l.logger.Info("install denied", "plugin", pending.PluginID)
	return domain.InstallResult{Success: false, Message: msgInstallCancelled}
}

func (l *Lifecycle) Pending() []domain.PendingApproval {
	return l.approvals.list()
}

// Install drives BeginInstall to completion with confirmer, or with the
// fallback prompt when confirmer is nil.
func (l *Lifecycle) Install(ctx context.Context, pluginID string, confirmer domain.Confirmer) domain.InstallResult {
	outcome := l.BeginInstall(ctx, pluginID)
	if outcome.Pending == nil {
		return outcome.Result
	}
	if confirmer == nil {
		confirmer = l.fallback
	}
	if confirmer == nil {
		l.Deny(outcome.Pending.ID)
		return domain.InstallResult{Success: false, Message: "no permission prompt available: " + msgInstallCancelled}
	}
	ok, err := confirmer.ConfirmInstall(ctx, *outcome.Pending)
	if err != nil {
		l.Deny(outcome.Pending.ID)
		return domain.InstallResult{Success: false, Message: fmt.Sprintf("confirm install: %v", err)}
	}
	if !ok {
		return l.Deny(outcome.Pending.ID)
	}
	return l.Approve(ctx, outcome.Pending.ID)
}

func (l *Lifecycle) BatchInstall(ctx context.Context, pluginIDs []string, confirmer domain.Confirmer) BatchResult {
	result := BatchResult{Success: []string{}, Failed: []BatchFailure{}}
	for _, pluginID := range pluginIDs {
		res := l.Install(ctx, pluginID, confirmer)
		if res.Success {
			result.Success = append(result.Success, pluginID)
			continue
		}
		result.Failed = append(result.Failed, BatchFailure{PluginID: pluginID, Reason: res.Message})
	}
	return result
}

func (l *Lifecycle) commit(ctx context.Context, info domain.PluginInfo, perms []domain.PermissionInfo) domain.InstallResult {
	granted := make([]string, 0, len(perms))
	for _, p := range perms {
		granted = append(granted, string(p.Permission))
	}
	if _, err := l.registry.Install(ctx, pluginout.InstallRequest{
		PluginID:           info.ID,
		PluginName:         info.Name,
		PluginVersion:      info.Version,
		GrantedPermissions: granted,
	}); err != nil {
		l.logger.Error("install record failed", "plugin", info.ID, "error", err)
		return domain.InstallResult{Success: false, Message: fmt.Sprintf("install plugin %s: %v", info.ID, err)}
	}
	if err := l.permissions.Replace(ctx, info.ID, granted); err != nil {
		l.logger.Error("grant permissions failed, rolling back install", "plugin", info.ID, "error", err)
		if uerr := l.registry.Uninstall(ctx, info.ID); uerr != nil {
			l.logger.Warn("rollback of install record failed", "plugin", info.ID, "error", uerr)
		}
		_ = l.permissions.Revoke(ctx, info.ID)
		return domain.InstallResult{Success: false, Message: fmt.Sprintf("grant permissions for %s: %v", info.ID, err)}
	}
	if err := l.loader.Load(ctx, info.ID); err != nil {
		return domain.InstallResult{Success: true, Message: fmt.Sprintf("plugin %s installed, but loading failed: %v", info.Name, err)}
	}
	l.logger.Info("plugin installed", "plugin", info.ID, "version", info.Version)
	return domain.InstallResult{Success: true, Message: fmt.Sprintf("plugin %s installed", info.Name)}
}

// Uninstall always succeeds unless the confirmation declines; registry
// failures are logged and reported in the message.
func (l *Lifecycle) Uninstall(ctx context.Context, pluginID string, confirm domain.UninstallConfirmer) domain.InstallResult {
	if confirm != nil {
		ok, err := confirm.ConfirmUninstall(ctx, pluginID)
		if err != nil || !ok {
			return domain.InstallResult{Success: false, Message: msgUninstallCancelled}
		}
	}
	l.loader.Unload(pluginID)
	if err := l.permissions.Revoke(ctx, pluginID); err != nil {
		l.logger.Warn("revoke permissions on uninstall", "plugin", pluginID, "error", err)
	}
	if err := l.registry.Uninstall(ctx, pluginID); err != nil {
		l.logger.Warn("delete install record", "plugin", pluginID, "error", err)
		return domain.InstallResult{Success: true, Message: fmt.Sprintf("plugin %s uninstalled locally (registry: %v)", pluginID, err)}
	}
	l.logger.Info("plugin uninstalled", "plugin", pluginID)
	return domain.InstallResult{Success: true, Message: fmt.Sprintf("plugin %s uninstalled", pluginID)}
}

// Toggle pushes the status to the registry, then loads or releases the
// plugin. The install record is kept either way.
func (l *Lifecycle) Toggle(ctx context.Context, pluginID string, enabled bool) domain.InstallResult {
	if err := l.registry.UpdateStatus(ctx, pluginID, enabled); err != nil {
		return domain.InstallResult{Success: false, Message: fmt.Sprintf("update plugin status: %v", err)}
	}
	if !enabled {
		l.loader.Unload(pluginID)
		return domain.InstallResult{Success: true, Message: fmt.Sprintf("plugin %s disabled", pluginID)}
	}
	if err := l.loader.Load(ctx, pluginID); err != nil {
		return domain.InstallResult{Success: true, Message: fmt.Sprintf("plugin %s enabled, but loading failed: %v", pluginID, err)}
	}
	return domain.InstallResult{Success: true, Message: fmt.Sprintf("plugin %s enabled", pluginID)}
}

// EnabledPlugins falls back to an empty list when the registry is unreachable.
func (l *Lifecycle) EnabledPlugins(ctx context.Context) []string {
	ids, err := l.registry.ListEnabled(ctx)
	if err != nil {
		l.logger.Warn("list enabled plugins", "error", err)
		return []string{}
	}
	return ids
}

func (l *Lifecycle) Installed(ctx context.Context) ([]domain.InstallRecord, error) {
	records, err := l.registry.ListInstalled(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRegistryUnavailable, err)
	}
	return records, nil
}

func (l *Lifecycle) IsInstalled(ctx context.Context, pluginID string) bool {
	records, err := l.registry.ListInstalled(ctx)
	if err != nil {
		return false
	}
	for _, r := range records {
		if r.PluginID == pluginID {
			return true
		}
	}
	return false
}

// UpdatePermissions rewrites a plugin's grants in the registry and the ledger.
func (l *Lifecycle) UpdatePermissions(ctx context.Context, pluginID string, raw []string) error {
	perms, err := concrete(raw)
	if err != nil {
		return err
	}
	granted := domain.PermissionStrings(perms)
	if err := l.registry.UpdatePermissions(ctx, pluginID, granted); err != nil {
		return fmt.Errorf("update registry permissions: %w", err)
	}
	return l.permissions.Replace(ctx, pluginID, granted)
}

// SyncGrants rebuilds the ledger from the registry's granted permissions.
func (l *Lifecycle) SyncGrants(ctx context.Context) error {
	records, err := l.registry.ListInstalled(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRegistryUnavailable, err)
	}
	known := map[string]struct{}{}
	for _, r := range records {
		known[r.PluginID] = struct{}{}
		valid := make([]string, 0, len(r.GrantedPermissions))
		for _, p := range r.GrantedPermissions {
			if domain.ValidatePermissionString(p) == nil {
				valid = append(valid, p)
			}
		}
		if err := l.permissions.Replace(ctx, r.PluginID, valid); err != nil {
			return err
		}
	}
	for _, pluginID := range sortedKeys(l.permissions.Ledger()) {
		if _, ok := known[pluginID]; !ok {
			if err := l.permissions.Revoke(ctx, pluginID); err != nil {
				return err
			}
		}
	}
	return nil
}

type approvalQueue struct {
	mu    sync.Mutex
	ids   id.Generator
	clock clock.Clock
	items map[string]domain.PendingApproval
	order []string
}

func newApprovalQueue(ids id.Generator, clk clock.Clock) *approvalQueue {
	if ids == nil {
		ids = id.RandomHex{}
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &approvalQueue{ids: ids, clock: clk, items: map[string]domain.PendingApproval{}}
}

func (q *approvalQueue) build(info domain.PluginInfo, perms []domain.PermissionInfo) domain.PendingApproval {
	return domain.PendingApproval{
		ID:          q.ids.New(),
		PluginID:    info.ID,
		Plugin:      info,
		Permissions: perms,
		Groups:      domain.GroupByRisk(perms),
		CreatedAt:   q.clock.Now(),
	}
}

func (q *approvalQueue) add(info domain.PluginInfo, perms []domain.PermissionInfo) domain.PendingApproval {
	pending := q.build(info, perms)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[pending.ID] = pending
	q.order = append(q.order, pending.ID)
	return pending
}

func (q *approvalQueue) take(approvalID string) (domain.PendingApproval, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending, ok := q.items[approvalID]
	if !ok {
		return domain.PendingApproval{}, false
	}
	delete(q.items, approvalID)
	for i, queued := range q.order {
		if queued == approvalID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return pending, true
}

func (q *approvalQueue) list() []domain.PendingApproval {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.PendingApproval, 0, len(q.order))
	for _, approvalID := range q.order {
		out = append(out, q.items[approvalID])
	}
	return out
}
