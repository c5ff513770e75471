package usecase

import (
	"context"
	"errors"
	"fmt"

	"plughost/internal/modules/plugin/domain"
	"plughost/internal/modules/plugin/dto"
	pluginin "plughost/internal/modules/plugin/port/in"
	"plughost/internal/modules/plugin/service"
	apperrors "plughost/internal/platform/errors"
)

type Interactor struct {
	rt *service.Runtime
}

func NewInteractor(rt *service.Runtime) pluginin.Usecase {
	return &Interactor{rt: rt}
}

func (i *Interactor) Scan(ctx context.Context, pluginID string) dto.PluginInfo {
	return toPluginInfo(i.rt.Scanner.Scan(ctx, pluginID))
}

func (i *Interactor) ScanAll(ctx context.Context, pluginIDs []string) dto.ScanResult {
	result := i.rt.Scanner.ScanAll(ctx, pluginIDs)
	out := dto.ScanResult{Total: result.Total, Valid: result.Valid, Invalid: result.Invalid, Plugins: make([]dto.PluginInfo, 0, len(result.Plugins))}
	for _, p := range result.Plugins {
		out.Plugins = append(out.Plugins, toPluginInfo(p))
	}
	return out
}

func (i *Interactor) Initialize(ctx context.Context, input dto.InitInput) dto.InitOutput {
	opts := initOptions(input)
	if len(input.PluginIDs) == 0 {
		return toInitOutput(i.rt.Start(ctx, opts))
	}
	return toInitOutput(i.rt.Manager.Initialize(ctx, input.PluginIDs, opts))
}

func (i *Interactor) Watch(ctx context.Context, input dto.InitInput, onChange func(dto.RegistryEvent, dto.InitOutput)) error {
	return i.rt.Watch(ctx, initOptions(input), func(event domain.RegistryEvent, summary service.InitSummary) {
		if onChange == nil {
			return
		}
		onChange(dto.RegistryEvent{Type: string(event.Type), PluginID: event.PluginID, Enabled: event.Enabled, At: event.At}, toInitOutput(summary))
	})
}

func (i *Interactor) Load(ctx context.Context, pluginID string) error {
	return i.rt.Loader.Load(ctx, pluginID)
}

func (i *Interactor) Unload(pluginID string) bool {
	return i.rt.Loader.Unload(pluginID)
}

func (i *Interactor) Shutdown() {
	i.rt.Shutdown()
}

func (i *Interactor) Install(ctx context.Context, pluginID string, confirm dto.ConfirmFunc) dto.LifecycleResult {
	return toResult(i.rt.Lifecycle.Install(ctx, pluginID, confirmer(confirm)))
}

func (i *Interactor) BeginInstall(ctx context.Context, pluginID string) (dto.LifecycleResult, *dto.PendingApproval) {
	outcome := i.rt.Lifecycle.BeginInstall(ctx, pluginID)
	if outcome.Pending == nil {
		return toResult(outcome.Result), nil
	}
	pending := toPending(*outcome.Pending)
	return dto.LifecycleResult{Success: false, Message: "awaiting approval " + pending.ID}, &pending
}

func (i *Interactor) Approve(ctx context.Context, approvalID string) dto.LifecycleResult {
	return toResult(i.rt.Lifecycle.Approve(ctx, approvalID))
}

func (i *Interactor) Deny(approvalID string) dto.LifecycleResult {
	return toResult(i.rt.Lifecycle.Deny(approvalID))
}

func (i *Interactor) Pending() []dto.PendingApproval {
	queued := i.rt.Lifecycle.Pending()
	out := make([]dto.PendingApproval, 0, len(queued))
	for _, p := range queued {
		out = append(out, toPending(p))
	}
	return out
}

func (i *Interactor) BatchInstall(ctx context.Context, pluginIDs []string, confirm dto.ConfirmFunc) dto.BatchResult {
	result := i.rt.Lifecycle.BatchInstall(ctx, pluginIDs, confirmer(confirm))
	out := dto.BatchResult{Success: result.Success, Failed: make([]dto.BatchFailure, 0, len(result.Failed))}
	for _, f := range result.Failed {
		out.Failed = append(out.Failed, dto.BatchFailure{PluginID: f.PluginID, Reason: f.Reason})
	}
	return out
}

func (i *Interactor) Uninstall(ctx context.Context, pluginID string, confirm dto.UninstallConfirmFunc) dto.LifecycleResult {
	var c domain.UninstallConfirmer
	if confirm != nil {
		c = domain.UninstallConfirmFunc(confirm)
	}
	return toResult(i.rt.Lifecycle.Uninstall(ctx, pluginID, c))
}

func (i *Interactor) Toggle(ctx context.Context, pluginID string, enabled bool) dto.LifecycleResult {
	return toResult(i.rt.Lifecycle.Toggle(ctx, pluginID, enabled))
}

func (i *Interactor) Installed(ctx context.Context) ([]dto.InstalledPlugin, error) {
	records, err := i.rt.Lifecycle.Installed(ctx)
	if err != nil {
		return nil, portError(err)
	}
	out := make([]dto.InstalledPlugin, 0, len(records))
	for _, r := range records {
		out = append(out, dto.InstalledPlugin{
			PluginID:           r.PluginID,
			Name:               r.PluginName,
			Version:            r.PluginVersion,
			Enabled:            r.Enabled,
			Loaded:             i.rt.Extensions.IsLoaded(r.PluginID),
			GrantedPermissions: r.GrantedPermissions,
			InstalledAt:        r.InstalledAt,
			UpdatedAt:          r.UpdatedAt,
		})
	}
	return out, nil
}

func (i *Interactor) Components(slot string) []dto.Extension {
	return toExtensions(i.rt.Extensions.Components(slot))
}

func (i *Interactor) Actions(slot string) []dto.Extension {
	return toExtensions(i.rt.Extensions.Actions(slot))
}

func (i *Interactor) Styles() []dto.Stylesheet {
	sheets := i.rt.Extensions.Styles()
	out := make([]dto.Stylesheet, 0, len(sheets))
	for _, s := range sheets {
		out = append(out, dto.Stylesheet{PluginID: s.PluginID, Href: s.Href})
	}
	return out
}

func (i *Interactor) Slots() []string {
	return i.rt.Extensions.Slots()
}

func (i *Interactor) IsLoaded(pluginID string) bool {
	return i.rt.Extensions.IsLoaded(pluginID)
}

func (i *Interactor) Loaded() []string {
	return i.rt.Extensions.Loaded()
}

func (i *Interactor) ResolveURL(base, rel string) string {
	return i.rt.Loader.ResolveURL(base, rel)
}

func (i *Interactor) SetUser(user map[string]any) {
	i.rt.Session.SetUser(user)
}

func (i *Interactor) Catalog() []dto.PermissionInfo {
	return toPermissionInfos(domain.Permissions())
}

// SyncGrants rehydrates the ledger and reconciles it with the registry
// without loading anything.
func (i *Interactor) SyncGrants(ctx context.Context) error {
	if err := i.rt.Permissions.Load(ctx); err != nil {
		return err
	}
	return portError(i.rt.Lifecycle.SyncGrants(ctx))
}

func (i *Interactor) Grants(pluginID string) []string {
	return domain.PermissionStrings(i.rt.Permissions.Granted(pluginID))
}

func (i *Interactor) Grant(ctx context.Context, pluginID string, permissions []string) error {
	current := domain.PermissionStrings(i.rt.Permissions.Granted(pluginID))
	return portError(i.rt.Lifecycle.UpdatePermissions(ctx, pluginID, append(current, permissions...)))
}

func (i *Interactor) Revoke(ctx context.Context, pluginID string, permissions []string) error {
	if len(permissions) == 0 {
		return portError(i.rt.Lifecycle.UpdatePermissions(ctx, pluginID, nil))
	}
	drop := map[domain.Permission]struct{}{}
	for _, p := range domain.ExpandPermissions(permissions) {
		drop[p] = struct{}{}
	}
	keep := []string{}
	for _, p := range i.rt.Permissions.Granted(pluginID) {
		if _, ok := drop[p]; !ok {
			keep = append(keep, string(p))
		}
	}
	return portError(i.rt.Lifecycle.UpdatePermissions(ctx, pluginID, keep))
}

// portError tags domain failures with the platform sentinels that inbound
// adapters translate into status codes.
func portError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrUnknownPermission):
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	case errors.Is(err, domain.ErrRegistryUnavailable):
		return fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
	default:
		return err
	}
}

func initOptions(input dto.InitInput) service.InitOptions {
	opts := service.InitOptions{AutoGrant: input.AutoGrant, Confirm: confirmer(input.Confirm), Reload: service.ReloadAlways}
	if input.KeepLoaded {
		opts.Reload = service.ReloadChanged
	}
	return opts
}

func confirmer(confirm dto.ConfirmFunc) domain.Confirmer {
	if confirm == nil {
		return nil
	}
	return domain.ConfirmFunc(func(ctx context.Context, pending domain.PendingApproval) (bool, error) {
		return confirm(ctx, toPending(pending))
	})
}

func toPluginInfo(p domain.PluginInfo) dto.PluginInfo {
	out := dto.PluginInfo{
		ID:          p.ID,
		Name:        p.Name,
		Version:     p.Version,
		Description: p.Description,
		Author:      p.Author,
		Valid:       p.Valid,
		Errors:      messages(p.Errors),
		Warnings:    messages(p.Warnings),
		Permissions: p.Permissions,
	}
	if p.Manifest != nil {
		out.Type = string(p.Manifest.Type)
		out.Entry = p.Manifest.EntryPath()
	}
	return out
}

func messages(errs []domain.ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Message)
	}
	return out
}

func toInitOutput(s service.InitSummary) dto.InitOutput {
	out := dto.InitOutput{Total: s.Total, Loaded: s.Loaded, Failed: s.Failed, Skipped: s.Skipped, Results: make([]dto.InitResult, 0, len(s.Results))}
	for _, r := range s.Results {
		out.Results = append(out.Results, dto.InitResult{PluginID: r.PluginID, Status: string(r.Status), Reason: r.Reason})
	}
	return out
}

func toResult(r domain.InstallResult) dto.LifecycleResult {
	return dto.LifecycleResult{Success: r.Success, Message: r.Message}
}

func toPending(p domain.PendingApproval) dto.PendingApproval {
	return dto.PendingApproval{
		ID:          p.ID,
		PluginID:    p.PluginID,
		PluginName:  p.Plugin.Name,
		Version:     p.Plugin.Version,
		Permissions: toPermissionInfos(p.Permissions),
		High:        toPermissionInfos(p.Groups.High),
		Medium:      toPermissionInfos(p.Groups.Medium),
		Low:         toPermissionInfos(p.Groups.Low),
		CreatedAt:   p.CreatedAt,
	}
}

func toPermissionInfos(infos []domain.PermissionInfo) []dto.PermissionInfo {
	out := make([]dto.PermissionInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, dto.PermissionInfo{
			Permission:  string(info.Permission),
			Label:       info.Label,
			Description: info.Description,
			Risk:        string(info.Risk),
			Category:    info.Category,
		})
	}
	return out
}

func toExtensions(exts []domain.Extension) []dto.Extension {
	out := make([]dto.Extension, 0, len(exts))
	for _, e := range exts {
		out = append(out, dto.Extension{ID: e.ID, PluginID: e.PluginID, Slot: e.Slot, Kind: string(e.Kind), Name: e.Name, Props: e.Props})
	}
	return out
}
