package in

import (
	"context"

	"plughost/internal/modules/registry/dto"
)

type Usecase interface {
	ListInstalled(ctx context.Context, userID string) ([]dto.RecordOutput, error)
	ListEnabled(ctx context.Context, userID string) ([]string, error)
	Install(ctx context.Context, input dto.InstallInput) (dto.RecordOutput, error)
	Uninstall(ctx context.Context, userID, pluginID string) error
	UpdateStatus(ctx context.Context, input dto.UpdateStatusInput) error
	GetPermissions(ctx context.Context, userID, pluginID string) ([]string, error)
	UpdatePermissions(ctx context.Context, input dto.UpdatePermissionsInput) error
	// Subscribe streams the user's registry events until ctx ends.
	Subscribe(ctx context.Context, userID string) (<-chan dto.EventOutput, error)
}
