package in

import (
	"context"

	"plughost/internal/modules/plugin/dto"
)

type Usecase interface {
	Scan(ctx context.Context, pluginID string) dto.PluginInfo
	ScanAll(ctx context.Context, pluginIDs []string) dto.ScanResult
	Initialize(ctx context.Context, input dto.InitInput) dto.InitOutput
	Watch(ctx context.Context, input dto.InitInput, onChange func(dto.RegistryEvent, dto.InitOutput)) error
	Load(ctx context.Context, pluginID string) error
	Unload(pluginID string) bool
	Shutdown()

	Install(ctx context.Context, pluginID string, confirm dto.ConfirmFunc) dto.LifecycleResult
	BeginInstall(ctx context.Context, pluginID string) (dto.LifecycleResult, *dto.PendingApproval)
	Approve(ctx context.Context, approvalID string) dto.LifecycleResult
	Deny(approvalID string) dto.LifecycleResult
	Pending() []dto.PendingApproval
	BatchInstall(ctx context.Context, pluginIDs []string, confirm dto.ConfirmFunc) dto.BatchResult
	Uninstall(ctx context.Context, pluginID string, confirm dto.UninstallConfirmFunc) dto.LifecycleResult
	Toggle(ctx context.Context, pluginID string, enabled bool) dto.LifecycleResult
	Installed(ctx context.Context) ([]dto.InstalledPlugin, error)

	Components(slot string) []dto.Extension
	Actions(slot string) []dto.Extension
	Styles() []dto.Stylesheet
	Slots() []string
	IsLoaded(pluginID string) bool
	Loaded() []string
	ResolveURL(base, rel string) string
	SetUser(user map[string]any)

	Catalog() []dto.PermissionInfo
	SyncGrants(ctx context.Context) error
	Grants(pluginID string) []string
	Grant(ctx context.Context, pluginID string, permissions []string) error
	Revoke(ctx context.Context, pluginID string, permissions []string) error
}
