package out

import (
	"context"

	"plughost/internal/modules/plugin/domain"
)

// AssetHost serves plugin manifests and assets by absolute URL.
type AssetHost interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Exists(ctx context.Context, url string) bool
}

type ImportRequest struct {
	PluginID string
	BaseURL  string
	EntryURL string
	Manifest domain.Manifest
}

// Module is an imported plugin entry ready to bootstrap.
type Module interface {
	Bootstrap(ctx context.Context, bc domain.BootstrapContext) error
	Close() error
}

type ModuleLoader interface {
	Import(ctx context.Context, req ImportRequest) (Module, error)
}

// KeyValueStore backs the grant ledger cache.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type InstallRequest struct {
	PluginID           string
	PluginName         string
	PluginVersion      string
	GrantedPermissions []string
}

// Registry is the durable plugin registry: the source of truth for what is
// installed, enabled and granted.
type Registry interface {
	ListInstalled(ctx context.Context) ([]domain.InstallRecord, error)
	ListEnabled(ctx context.Context) ([]string, error)
	Install(ctx context.Context, req InstallRequest) (domain.InstallRecord, error)
	Uninstall(ctx context.Context, pluginID string) error
	UpdateStatus(ctx context.Context, pluginID string, enabled bool) error
	GetPermissions(ctx context.Context, pluginID string) ([]string, error)
	UpdatePermissions(ctx context.Context, pluginID string, permissions []string) error
}

type RegistryWatcher interface {
	Watch(ctx context.Context) (<-chan domain.RegistryEvent, error)
}
