package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	hclog "github.com/hashicorp/go-hclog"

	"plughost/internal/modules/registry/domain"
	registryout "plughost/internal/modules/registry/port/out"
	"plughost/internal/platform/clock"
	apperrors "plughost/internal/platform/errors"
	"plughost/internal/platform/id"
	"plughost/internal/platform/tx"
)

// RegistryService owns per-user install records. Events are published after
// the store commits a change; a failed publish is logged and never undoes it.
// Stores implementing tx.Manager run each read-modify-write in one
// transaction.
type RegistryService struct {
	clock  clock.Clock
	idGen  id.Generator
	store  registryout.RecordStore
	tx     tx.Manager
	events registryout.EventBus
	logger hclog.Logger
}

func NewRegistryService(clock clock.Clock, idGen id.Generator, store registryout.RecordStore, events registryout.EventBus, logger hclog.Logger) *RegistryService {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	var txm tx.Manager = tx.NoopManager{}
	if m, ok := store.(tx.Manager); ok {
		txm = m
	}
	return &RegistryService{clock: clock, idGen: idGen, store: store, tx: txm, events: events, logger: logger.Named("registry")}
}

func (s *RegistryService) Installed(ctx context.Context, userID string) ([]domain.Record, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	records, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	domain.SortByInstalled(records)
	return records, nil
}

func (s *RegistryService) Enabled(ctx context.Context, userID string) ([]string, error) {
	records, err := s.Installed(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, r := range records {
		if r.Enabled {
			ids = append(ids, r.PluginID)
		}
	}
	return ids, nil
}

// Install creates an enabled record. A second install of the same plugin for
// the same user is rejected.
func (s *RegistryService) Install(ctx context.Context, userID, pluginID, name, version string, perms []string) (domain.Record, error) {
	now := s.clock.Now()
	record := domain.Record{
		ID:                 s.idGen.New(),
		UserID:             userID,
		PluginID:           strings.TrimSpace(pluginID),
		PluginName:         strings.TrimSpace(name),
		PluginVersion:      strings.TrimSpace(version),
		Enabled:            true,
		GrantedPermissions: domain.NormalizePermissions(perms),
		InstalledAt:        now,
		UpdatedAt:          now,
	}
	if err := record.Validate(); err != nil {
		return domain.Record{}, err
	}
	err := s.tx.Within(ctx, func(ctx context.Context) error {
		if _, err := s.store.Find(ctx, userID, record.PluginID); err == nil {
			return fmt.Errorf("%w: plugin %s already installed", apperrors.ErrAlreadyExists, record.PluginID)
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		return s.store.Insert(ctx, record)
	})
	if err != nil {
		return domain.Record{}, err
	}
	s.publish(ctx, domain.EventInstalled, record)
	return record, nil
}

func (s *RegistryService) Uninstall(ctx context.Context, userID, pluginID string) error {
	var record domain.Record
	err := s.tx.Within(ctx, func(ctx context.Context) error {
		var err error
		if record, err = s.find(ctx, userID, pluginID); err != nil {
			return err
		}
		return s.store.Delete(ctx, userID, pluginID)
	})
	if err != nil {
		return err
	}
	record.Enabled = false
	s.publish(ctx, domain.EventUninstalled, record)
	return nil
}

func (s *RegistryService) SetStatus(ctx context.Context, userID, pluginID string, enabled bool) error {
	record, err := s.modify(ctx, userID, pluginID, func(r *domain.Record) {
		r.Enabled = enabled
	})
	if err != nil {
		return err
	}
	s.publish(ctx, domain.EventStatus, record)
	return nil
}

func (s *RegistryService) Permissions(ctx context.Context, userID, pluginID string) ([]string, error) {
	record, err := s.find(ctx, userID, pluginID)
	if err != nil {
		return nil, err
	}
	return record.GrantedPermissions, nil
}

func (s *RegistryService) SetPermissions(ctx context.Context, userID, pluginID string, perms []string) error {
	record, err := s.modify(ctx, userID, pluginID, func(r *domain.Record) {
		r.GrantedPermissions = domain.NormalizePermissions(perms)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, domain.EventPermissions, record)
	return nil
}

func (s *RegistryService) modify(ctx context.Context, userID, pluginID string, change func(*domain.Record)) (domain.Record, error) {
	var record domain.Record
	err := s.tx.Within(ctx, func(ctx context.Context) error {
		var err error
		if record, err = s.find(ctx, userID, pluginID); err != nil {
			return err
		}
		change(&record)
		record.UpdatedAt = s.clock.Now()
		return s.store.Update(ctx, record)
	})
	return record, err
}

func (s *RegistryService) Subscribe(ctx context.Context, userID string) (<-chan domain.Event, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if s.events == nil {
		return nil, fmt.Errorf("%w: event feed disabled", apperrors.ErrUnavailable)
	}
	return s.events.Subscribe(ctx, userID)
}

func (s *RegistryService) find(ctx context.Context, userID, pluginID string) (domain.Record, error) {
	if err := requireUser(userID); err != nil {
		return domain.Record{}, err
	}
	if strings.TrimSpace(pluginID) == "" {
		return domain.Record{}, fmt.Errorf("%w: plugin id is required", apperrors.ErrInvalidInput)
	}
	return s.store.Find(ctx, userID, pluginID)
}

func (s *RegistryService) publish(ctx context.Context, kind domain.EventType, record domain.Record) {
	if s.events == nil {
		return
	}
	event := domain.Event{Type: kind, UserID: record.UserID, PluginID: record.PluginID, Enabled: record.Enabled, At: s.clock.Now()}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("publish registry event", "type", kind, "plugin", record.PluginID, "error", err)
	}
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", apperrors.ErrUnauthorized)
	}
	return nil
}
