package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
	"plughost/internal/modules/plugin/service"
)

const testRoot = "mem://plugins"

var errNotFound = errors.New("not found")

type memAssets struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemAssets() *memAssets {
	return &memAssets{files: map[string][]byte{}}
}

func (a *memAssets) put(pluginID, name, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[service.PluginBaseURL(testRoot, pluginID)+name] = []byte(body)
}

func (a *memAssets) remove(pluginID, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, service.PluginBaseURL(testRoot, pluginID)+name)
}

func (a *memAssets) Fetch(_ context.Context, url string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	body, ok := a.files[url]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", url, errNotFound)
	}
	return body, nil
}

func (a *memAssets) Exists(ctx context.Context, url string) bool {
	_, err := a.Fetch(ctx, url)
	return err == nil
}

// addPlugin publishes a valid source plugin with an entry file.
func (a *memAssets) addPlugin(pluginID string, permissions ...string) {
	perms := "[]"
	if len(permissions) > 0 {
		perms = `["` + joinQuoted(permissions) + `"]`
	}
	a.put(pluginID, domain.ManifestFile, fmt.Sprintf(`{"id":%q,"name":%q,"version":"1.0.0","type":"source","entry":"index.js","permissions":%s}`, pluginID, pluginID+" plugin", perms))
	a.put(pluginID, "index.js", "export default {}")
}

func joinQuoted(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += `","`
		}
		out += item
	}
	return out
}

type bootstrapFunc func(ctx context.Context, bc domain.BootstrapContext) error

type memModule struct {
	boot   bootstrapFunc
	closed *int
	mu     *sync.Mutex
}

func (m memModule) Bootstrap(ctx context.Context, bc domain.BootstrapContext) error {
	if m.boot == nil {
		return domain.ErrNoBootstrap
	}
	return m.boot(ctx, bc)
}

func (m memModule) Close() error {
	m.mu.Lock()
	*m.closed++
	m.mu.Unlock()
	return nil
}

type memModules struct {
	mu        sync.Mutex
	boots     map[string]bootstrapFunc
	importErr map[string]error
	imports   []string
	closed    int
}

func newMemModules() *memModules {
	return &memModules{boots: map[string]bootstrapFunc{}, importErr: map[string]error{}}
}

func (m *memModules) set(pluginID string, boot bootstrapFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boots[pluginID] = boot
}

// registering returns a bootstrap that puts one component into slot.
func registering(slot, name string) bootstrapFunc {
	return func(_ context.Context, bc domain.BootstrapContext) error {
		bc.Host.RegisterComponent(slot, domain.Contribution{Name: name})
		return nil
	}
}

func (m *memModules) Import(_ context.Context, req pluginout.ImportRequest) (pluginout.Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imports = append(m.imports, req.EntryURL)
	if err := m.importErr[req.PluginID]; err != nil {
		return nil, err
	}
	boot, ok := m.boots[req.PluginID]
	if !ok {
		boot = func(context.Context, domain.BootstrapContext) error { return nil }
	}
	return memModule{boot: boot, closed: &m.closed, mu: &m.mu}, nil
}

func (m *memModules) importCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.imports)
}

type memStore struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}}
}

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

type memRegistry struct {
	mu           sync.Mutex
	records      map[string]domain.InstallRecord
	down         bool
	uninstallErr error
}

func newMemRegistry() *memRegistry {
	return &memRegistry{records: map[string]domain.InstallRecord{}}
}

func (r *memRegistry) unavailable() error {
	if r.down {
		return errors.New("registry unreachable")
	}
	return nil
}

func (r *memRegistry) ListInstalled(context.Context) ([]domain.InstallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable(); err != nil {
		return nil, err
	}
	out := make([]domain.InstallRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out, nil
}

func (r *memRegistry) ListEnabled(ctx context.Context) ([]string, error) {
	records, err := r.ListInstalled(ctx)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, rec := range records {
		if rec.Enabled {
			ids = append(ids, rec.PluginID)
		}
	}
	return ids, nil
}

func (r *memRegistry) Install(_ context.Context, req pluginout.InstallRequest) (domain.InstallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable(); err != nil {
		return domain.InstallRecord{}, err
	}
	if _, ok := r.records[req.PluginID]; ok {
		return domain.InstallRecord{}, errors.New("plugin already installed")
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := domain.InstallRecord{
		ID:                 "rec-" + req.PluginID,
		PluginID:           req.PluginID,
		PluginName:         req.PluginName,
		PluginVersion:      req.PluginVersion,
		Enabled:            true,
		GrantedPermissions: append([]string{}, req.GrantedPermissions...),
		InstalledAt:        now,
		UpdatedAt:          now,
	}
	r.records[req.PluginID] = rec
	return rec, nil
}

func (r *memRegistry) Uninstall(_ context.Context, pluginID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.uninstallErr != nil {
		return r.uninstallErr
	}
	if _, ok := r.records[pluginID]; !ok {
		return errNotFound
	}
	delete(r.records, pluginID)
	return nil
}

func (r *memRegistry) UpdateStatus(_ context.Context, pluginID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[pluginID]
	if !ok {
		return errNotFound
	}
	rec.Enabled = enabled
	r.records[pluginID] = rec
	return nil
}

func (r *memRegistry) GetPermissions(_ context.Context, pluginID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[pluginID]
	if !ok {
		return nil, errNotFound
	}
	return rec.GrantedPermissions, nil
}

func (r *memRegistry) UpdatePermissions(_ context.Context, pluginID string, permissions []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[pluginID]
	if !ok {
		return errNotFound
	}
	rec.GrantedPermissions = append([]string{}, permissions...)
	r.records[pluginID] = rec
	return nil
}

func (r *memRegistry) record(pluginID string) (domain.InstallRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[pluginID]
	return rec, ok
}

func (r *memRegistry) seed(pluginID string, enabled bool, perms ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[pluginID] = domain.InstallRecord{ID: "rec-" + pluginID, PluginID: pluginID, PluginName: pluginID, PluginVersion: "1.0.0", Enabled: enabled, GrantedPermissions: perms}
}

type chanWatcher struct {
	events chan domain.RegistryEvent
}

func (w chanWatcher) Watch(context.Context) (<-chan domain.RegistryEvent, error) {
	return w.events, nil
}

type fixedIDs struct {
	mu sync.Mutex
	n  int
}

func (f *fixedIDs) New() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("approval-%d", f.n)
}

type fixture struct {
	assets   *memAssets
	modules  *memModules
	store    *memStore
	registry *memRegistry
	events   chan domain.RegistryEvent
	rt       *service.Runtime
}

func newFixture(fallback domain.Confirmer) *fixture {
	f := &fixture{
		assets:   newMemAssets(),
		modules:  newMemModules(),
		store:    newMemStore(),
		registry: newMemRegistry(),
		events:   make(chan domain.RegistryEvent, 4),
	}
	f.rt = service.NewRuntime(service.RuntimeConfig{
		Assets:     f.assets,
		Modules:    f.modules,
		Store:      f.store,
		Registry:   f.registry,
		Watcher:    chanWatcher{events: f.events},
		Fallback:   fallback,
		PluginRoot: testRoot,
		Origin:     "http://localhost:8080",
		Timeout:    time.Second,
		IDs:        &fixedIDs{},
	})
	return f
}

func approveAll() domain.Confirmer {
	return domain.ConfirmFunc(func(context.Context, domain.PendingApproval) (bool, error) { return true, nil })
}

func denyAll() domain.Confirmer {
	return domain.ConfirmFunc(func(context.Context, domain.PendingApproval) (bool, error) { return false, nil })
}
