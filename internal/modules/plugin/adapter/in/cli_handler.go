package in

import (
	"context"

	"plughost/internal/modules/plugin/dto"
	pluginin "plughost/internal/modules/plugin/port/in"
)

type CLIHandler struct {
	usecase pluginin.Usecase
}

func NewCLIHandler(usecase pluginin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) Scan(ctx context.Context, pluginIDs []string) dto.ScanResult {
	return h.usecase.ScanAll(ctx, pluginIDs)
}

func (h CLIHandler) Init(ctx context.Context, input dto.InitInput) dto.InitOutput {
	return h.usecase.Initialize(ctx, input)
}

func (h CLIHandler) Watch(ctx context.Context, input dto.InitInput, onChange func(dto.RegistryEvent, dto.InitOutput)) error {
	return h.usecase.Watch(ctx, input, onChange)
}

// Install prompts through confirm once per plugin; more than one id runs a
// batch.
func (h CLIHandler) Install(ctx context.Context, pluginIDs []string, confirm dto.ConfirmFunc) dto.BatchResult {
	if len(pluginIDs) == 1 {
		res := h.usecase.Install(ctx, pluginIDs[0], confirm)
		if res.Success {
			return dto.BatchResult{Success: pluginIDs, Failed: []dto.BatchFailure{}}
		}
		return dto.BatchResult{Success: []string{}, Failed: []dto.BatchFailure{{PluginID: pluginIDs[0], Reason: res.Message}}}
	}
	return h.usecase.BatchInstall(ctx, pluginIDs, confirm)
}

func (h CLIHandler) Uninstall(ctx context.Context, pluginID string, confirm dto.UninstallConfirmFunc) dto.LifecycleResult {
	return h.usecase.Uninstall(ctx, pluginID, confirm)
}

func (h CLIHandler) Toggle(ctx context.Context, pluginID string, enabled bool) dto.LifecycleResult {
	return h.usecase.Toggle(ctx, pluginID, enabled)
}

func (h CLIHandler) Installed(ctx context.Context) ([]dto.InstalledPlugin, error) {
	return h.usecase.Installed(ctx)
}

// SlotView is one slot with everything rendered into it.
type SlotView struct {
	Slot       string          `json:"slot"`
	Components []dto.Extension `json:"components"`
	Actions    []dto.Extension `json:"actions"`
}

func (h CLIHandler) Slots() []SlotView {
	slots := h.usecase.Slots()
	out := make([]SlotView, 0, len(slots))
	for _, slot := range slots {
		out = append(out, SlotView{Slot: slot, Components: h.usecase.Components(slot), Actions: h.usecase.Actions(slot)})
	}
	return out
}

func (h CLIHandler) Styles() []dto.Stylesheet {
	return h.usecase.Styles()
}

func (h CLIHandler) Catalog() []dto.PermissionInfo {
	return h.usecase.Catalog()
}

func (h CLIHandler) SyncGrants(ctx context.Context) error {
	return h.usecase.SyncGrants(ctx)
}

func (h CLIHandler) Grants(pluginID string) []string {
	return h.usecase.Grants(pluginID)
}

func (h CLIHandler) Grant(ctx context.Context, pluginID string, permissions []string) error {
	return h.usecase.Grant(ctx, pluginID, permissions)
}

func (h CLIHandler) Revoke(ctx context.Context, pluginID string, permissions []string) error {
	return h.usecase.Revoke(ctx, pluginID, permissions)
}

func (h CLIHandler) Shutdown() {
	h.usecase.Shutdown()
}
