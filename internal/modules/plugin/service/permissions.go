package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
)

// LedgerKey is the key-value namespace holding the serialized grant ledger.
const LedgerKey = "plughost_plugin_permissions"

// PermissionRegistry owns the grant ledger. Every mutation is written through
// to the key-value store as the full ledger document. writeMu spans each
// mutation through its store write; mu guards the in-memory map.
type PermissionRegistry struct {
	writeMu sync.Mutex
	mu      sync.Mutex
	grants  map[string]map[domain.Permission]struct{}
	store   pluginout.KeyValueStore
	logger  hclog.Logger
}

func NewPermissionRegistry(store pluginout.KeyValueStore, logger hclog.Logger) *PermissionRegistry {
	return &PermissionRegistry{
		grants: map[string]map[domain.Permission]struct{}{},
		store:  store,
		logger: loggerOrNull(logger).Named("permissions"),
	}
}

// Load rehydrates the ledger from the store, replacing in-memory state.
func (r *PermissionRegistry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	raw, ok, err := r.store.Get(ctx, LedgerKey)
	if err != nil {
		return fmt.Errorf("load permission ledger: %w", err)
	}
	grants := map[string]map[domain.Permission]struct{}{}
	if ok && raw != "" {
		doc := map[string][]string{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("decode permission ledger: %w", err)
		}
		for pluginID, perms := range doc {
			set := map[domain.Permission]struct{}{}
			for _, p := range domain.ExpandPermissions(perms) {
				if p.Validate() == nil {
					set[p] = struct{}{}
				}
			}
			if len(set) > 0 {
				grants[pluginID] = set
			}
		}
	}
	r.mu.Lock()
	r.grants = grants
	r.mu.Unlock()
	r.logger.Debug("permission ledger loaded", "plugins", len(grants))
	return nil
}

// RequestPermissions returns the permissions in raw that pluginID does not
// hold yet, in first-seen order.
func (r *PermissionRegistry) RequestPermissions(pluginID string, raw []string) []domain.PermissionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	held := r.grants[pluginID]
	missing := []domain.Permission{}
	for _, p := range domain.ExpandPermissions(raw) {
		if _, ok := held[p]; !ok {
			missing = append(missing, p)
		}
	}
	return domain.Describe(missing)
}

func (r *PermissionRegistry) Grant(ctx context.Context, pluginID string, raw []string) error {
	perms, err := concrete(raw)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.mu.Lock()
	set, ok := r.grants[pluginID]
	if !ok {
		set = map[domain.Permission]struct{}{}
		r.grants[pluginID] = set
	}
	for _, p := range perms {
		set[p] = struct{}{}
	}
	if len(set) == 0 {
		delete(r.grants, pluginID)
	}
	doc := r.documentLocked()
	r.mu.Unlock()
	r.logger.Debug("permissions granted", "plugin", pluginID, "permissions", domain.PermissionStrings(perms))
	return r.persist(ctx, doc)
}

// Revoke removes the given permissions; with none given the plugin's whole
// grant set is dropped.
func (r *PermissionRegistry) Revoke(ctx context.Context, pluginID string, raw ...string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.mu.Lock()
	if len(raw) == 0 {
		delete(r.grants, pluginID)
	} else if set, ok := r.grants[pluginID]; ok {
		for _, p := range domain.ExpandPermissions(raw) {
			delete(set, p)
		}
		if len(set) == 0 {
			delete(r.grants, pluginID)
		}
	}
	doc := r.documentLocked()
	r.mu.Unlock()
	r.logger.Debug("permissions revoked", "plugin", pluginID, "permissions", raw)
	return r.persist(ctx, doc)
}

// Replace sets the plugin's grant set to exactly raw.
func (r *PermissionRegistry) Replace(ctx context.Context, pluginID string, raw []string) error {
	perms, err := concrete(raw)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.mu.Lock()
	if len(perms) == 0 {
		delete(r.grants, pluginID)
	} else {
		set := make(map[domain.Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		r.grants[pluginID] = set
	}
	doc := r.documentLocked()
	r.mu.Unlock()
	return r.persist(ctx, doc)
}

func (r *PermissionRegistry) Has(pluginID string, p domain.Permission) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.grants[pluginID][p]
	return ok
}

func (r *PermissionRegistry) HasAll(pluginID string, raw []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	held := r.grants[pluginID]
	for _, item := range raw {
		expanded := domain.ExpandPermission(item)
		if len(expanded) == 0 {
			return false
		}
		for _, p := range expanded {
			if _, ok := held[p]; !ok {
				return false
			}
		}
	}
	return true
}

func (r *PermissionRegistry) Granted(pluginID string) []domain.Permission {
	r.mu.Lock()
	defer r.mu.Unlock()
	perms := make([]domain.Permission, 0, len(r.grants[pluginID]))
	for p := range r.grants[pluginID] {
		perms = append(perms, p)
	}
	return domain.SortPermissions(perms)
}

// Ledger returns a copy of every plugin's grants.
func (r *PermissionRegistry) Ledger() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.documentLocked()
}

// Reset wipes the ledger and its stored copy.
func (r *PermissionRegistry) Reset(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.mu.Lock()
	r.grants = map[string]map[domain.Permission]struct{}{}
	r.mu.Unlock()
	if r.store == nil {
		return nil
	}
	if err := r.store.Delete(ctx, LedgerKey); err != nil {
		return fmt.Errorf("reset permission ledger: %w", err)
	}
	return nil
}

func (r *PermissionRegistry) documentLocked() map[string][]string {
	doc := make(map[string][]string, len(r.grants))
	for pluginID, set := range r.grants {
		perms := make([]domain.Permission, 0, len(set))
		for p := range set {
			perms = append(perms, p)
		}
		doc[pluginID] = domain.PermissionStrings(domain.SortPermissions(perms))
	}
	return doc
}

func (r *PermissionRegistry) persist(ctx context.Context, doc map[string][]string) error {
	if r.store == nil {
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode permission ledger: %w", err)
	}
	if err := r.store.Set(ctx, LedgerKey, string(raw)); err != nil {
		r.logger.Error("persist permission ledger", "error", err)
		return fmt.Errorf("persist permission ledger: %w", err)
	}
	return nil
}

func concrete(raw []string) ([]domain.Permission, error) {
	for _, item := range raw {
		if err := domain.ValidatePermissionString(item); err != nil {
			return nil, err
		}
	}
	return domain.ExpandPermissions(raw), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
