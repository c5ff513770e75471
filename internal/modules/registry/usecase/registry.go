package usecase

import (
	"context"

	"plughost/internal/modules/registry/domain"
	"plughost/internal/modules/registry/dto"
	registryin "plughost/internal/modules/registry/port/in"
	"plughost/internal/modules/registry/service"
)

type Interactor struct {
	svc *service.RegistryService
}

func NewInteractor(svc *service.RegistryService) registryin.Usecase {
	return &Interactor{svc: svc}
}

func (i *Interactor) ListInstalled(ctx context.Context, userID string) ([]dto.RecordOutput, error) {
	records, err := i.svc.Installed(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.RecordOutput, 0, len(records))
	for _, r := range records {
		out = append(out, toOutput(r))
	}
	return out, nil
}

func (i *Interactor) ListEnabled(ctx context.Context, userID string) ([]string, error) {
	return i.svc.Enabled(ctx, userID)
}

func (i *Interactor) Install(ctx context.Context, input dto.InstallInput) (dto.RecordOutput, error) {
	record, err := i.svc.Install(ctx, input.UserID, input.PluginID, input.PluginName, input.PluginVersion, input.GrantedPermissions)
	if err != nil {
		return dto.RecordOutput{}, err
	}
	return toOutput(record), nil
}

func (i *Interactor) Uninstall(ctx context.Context, userID, pluginID string) error {
	return i.svc.Uninstall(ctx, userID, pluginID)
}

func (i *Interactor) UpdateStatus(ctx context.Context, input dto.UpdateStatusInput) error {
	return i.svc.SetStatus(ctx, input.UserID, input.PluginID, input.Enabled)
}

func (i *Interactor) GetPermissions(ctx context.Context, userID, pluginID string) ([]string, error) {
	return i.svc.Permissions(ctx, userID, pluginID)
}

func (i *Interactor) UpdatePermissions(ctx context.Context, input dto.UpdatePermissionsInput) error {
	return i.svc.SetPermissions(ctx, input.UserID, input.PluginID, input.Permissions)
}

func (i *Interactor) Subscribe(ctx context.Context, userID string) (<-chan dto.EventOutput, error) {
	events, err := i.svc.Subscribe(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(chan dto.EventOutput)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case out <- dto.EventOutput{Type: string(event.Type), PluginID: event.PluginID, Enabled: event.Enabled, At: event.At}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func toOutput(r domain.Record) dto.RecordOutput {
	perms := r.GrantedPermissions
	if perms == nil {
		perms = []string{}
	}
	return dto.RecordOutput{
		ID:                 r.ID,
		PluginID:           r.PluginID,
		PluginName:         r.PluginName,
		PluginVersion:      r.PluginVersion,
		Enabled:            r.Enabled,
		GrantedPermissions: perms,
		InstalledAt:        r.InstalledAt,
		UpdatedAt:          r.UpdatedAt,
	}
}
