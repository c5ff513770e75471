package out

import (
	"context"
	"fmt"

	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
	registrydto "plughost/internal/modules/registry/dto"
	registryin "plughost/internal/modules/registry/port/in"
)

// LocalRegistry serves the Registry and RegistryWatcher ports from the
// in-process registry module for a single user.
type LocalRegistry struct {
	uc     registryin.Usecase
	userID string
}

func NewLocalRegistry(uc registryin.Usecase, userID string) *LocalRegistry {
	return &LocalRegistry{uc: uc, userID: userID}
}

func (r *LocalRegistry) ListInstalled(ctx context.Context) ([]domain.InstallRecord, error) {
	records, err := r.uc.ListInstalled(ctx, r.userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.InstallRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, toInstallRecord(rec))
	}
	return out, nil
}

func (r *LocalRegistry) ListEnabled(ctx context.Context) ([]string, error) {
	return r.uc.ListEnabled(ctx, r.userID)
}

func (r *LocalRegistry) Install(ctx context.Context, req pluginout.InstallRequest) (domain.InstallRecord, error) {
	rec, err := r.uc.Install(ctx, registrydto.InstallInput{
		UserID:             r.userID,
		PluginID:           req.PluginID,
		PluginName:         req.PluginName,
		PluginVersion:      req.PluginVersion,
		GrantedPermissions: req.GrantedPermissions,
	})
	if err != nil {
		return domain.InstallRecord{}, err
	}
	return toInstallRecord(rec), nil
}

func (r *LocalRegistry) Uninstall(ctx context.Context, pluginID string) error {
	return r.uc.Uninstall(ctx, r.userID, pluginID)
}

func (r *LocalRegistry) UpdateStatus(ctx context.Context, pluginID string, enabled bool) error {
	return r.uc.UpdateStatus(ctx, registrydto.UpdateStatusInput{UserID: r.userID, PluginID: pluginID, Enabled: enabled})
}

func (r *LocalRegistry) GetPermissions(ctx context.Context, pluginID string) ([]string, error) {
	return r.uc.GetPermissions(ctx, r.userID, pluginID)
}

func (r *LocalRegistry) UpdatePermissions(ctx context.Context, pluginID string, permissions []string) error {
	return r.uc.UpdatePermissions(ctx, registrydto.UpdatePermissionsInput{UserID: r.userID, PluginID: pluginID, Permissions: permissions})
}

func (r *LocalRegistry) Watch(ctx context.Context) (<-chan domain.RegistryEvent, error) {
	feed, err := r.uc.Subscribe(ctx, r.userID)
	if err != nil {
		return nil, fmt.Errorf("subscribe registry: %w", err)
	}
	out := make(chan domain.RegistryEvent)
	go func() {
		defer close(out)
		for event := range feed {
			select {
			case out <- domain.RegistryEvent{
				Type:     domain.RegistryEventType(event.Type),
				PluginID: event.PluginID,
				Enabled:  event.Enabled,
				At:       event.At,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func toInstallRecord(rec registrydto.RecordOutput) domain.InstallRecord {
	return domain.InstallRecord{
		ID:                 rec.ID,
		PluginID:           rec.PluginID,
		PluginName:         rec.PluginName,
		PluginVersion:      rec.PluginVersion,
		Enabled:            rec.Enabled,
		GrantedPermissions: rec.GrantedPermissions,
		InstalledAt:        rec.InstalledAt,
		UpdatedAt:          rec.UpdatedAt,
	}
}
