package in_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pluginin "plughost/internal/modules/plugin/adapter/in"
	pluginout "plughost/internal/modules/plugin/adapter/out"
	"plughost/internal/modules/plugin/dto"
	"plughost/internal/modules/plugin/service"
	"plughost/internal/modules/plugin/usecase"
	registryout "plughost/internal/modules/registry/adapter/out"
	registryservice "plughost/internal/modules/registry/service"
	registryusecase "plughost/internal/modules/registry/usecase"
	"plughost/internal/platform/clock"
	"plughost/internal/platform/id"
)

func writePlugin(t *testing.T, root, pluginID, manifest, entry string) {
	t.Helper()
	dir := filepath.Join(root, pluginID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte(entry), 0o644))
}

func newHostServer(t *testing.T) *httptest.Server {
	t.Helper()
	root, data := t.TempDir(), t.TempDir()
	writePlugin(t, root, "badge",
		`{"id":"badge","name":"Badge","version":"1.0.0","entry":"index.js","permissions":["ui:notification","user:profile"]}`,
		`export function bootstrap(ctx) { PluginSDK.registerComponent("header", { name: "badge", props: { user: ctx.user.name } }); }`)
	writePlugin(t, root, "plain",
		`{"id":"plain","name":"Plain","version":"1.0.0","entry":"index.js"}`,
		`export default { bootstrap() { PluginSDK.registerAction("toolbar", "plain-action"); } }`)

	kv, err := pluginout.NewSQLiteKVStore(filepath.Join(data, "grants.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	records, err := registryout.NewSQLiteRecordStore(filepath.Join(data, "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	registry := pluginout.NewLocalRegistry(
		registryusecase.NewInteractor(registryservice.NewRegistryService(clock.SystemClock{}, id.UUID{}, records, registryout.NewMemoryEventHub(), nil)),
		"7",
	)
	assets := pluginout.NewFileAssetHost()
	uc := usecase.NewInteractor(service.NewRuntime(service.RuntimeConfig{
		Assets:     assets,
		Modules:    pluginout.NewMultiLoader(pluginout.NewJSLoader(assets, nil), nil, nil),
		Store:      kv,
		Registry:   registry,
		PluginRoot: "file://" + filepath.ToSlash(root),
		Timeout:    2 * time.Second,
		IDs:        id.UUID{},
	}))
	t.Cleanup(uc.Shutdown)

	r := chi.NewRouter()
	pluginin.NewHTTPHandler(uc, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, out any) (int, pluginin.Envelope) {
	t.Helper()
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = raw
	}
	req, err := http.NewRequest(method, srv.URL+pluginin.BasePath+path, bytes.NewReader(payload))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env pluginin.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if out != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return resp.StatusCode, env
}

func TestHostAPIInstallApprovalFlow(t *testing.T) {
	t.Parallel()
	srv := newHostServer(t)

	status, _ := call(t, srv, http.MethodPut, "/session/user", map[string]any{"name": "grace"}, nil)
	require.Equal(t, http.StatusOK, status)

	var install pluginin.InstallResponse
	status, env := call(t, srv, http.MethodPost, "/plugins/badge/install", nil, &install)
	require.Equal(t, http.StatusOK, status, env.Message)
	require.NotNil(t, install.Pending)
	assert.False(t, install.Result.Success)
	assert.Len(t, install.Pending.Medium, 1)
	assert.Len(t, install.Pending.Low, 1)

	var pending []dto.PendingApproval
	call(t, srv, http.MethodGet, "/pending", nil, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, install.Pending.ID, pending[0].ID)

	var result dto.LifecycleResult
	call(t, srv, http.MethodPost, "/pending/"+pending[0].ID+"/approve", nil, &result)
	require.True(t, result.Success, result.Message)

	var components []dto.Extension
	call(t, srv, http.MethodGet, "/slots/header/components", nil, &components)
	require.Len(t, components, 1)
	assert.Equal(t, "badge", components[0].PluginID)
	assert.Equal(t, "grace", components[0].Props["user"])

	var grants []string
	call(t, srv, http.MethodGet, "/plugins/badge/grants", nil, &grants)
	assert.Equal(t, []string{"ui:notification", "user:profile"}, grants)

	call(t, srv, http.MethodPost, "/pending/"+pending[0].ID+"/approve", nil, &result)
	assert.False(t, result.Success, "an approval can only be used once")
}

func TestHostAPIDenyAndToggle(t *testing.T) {
	t.Parallel()
	srv := newHostServer(t)

	var install pluginin.InstallResponse
	call(t, srv, http.MethodPost, "/plugins/badge/install", nil, &install)
	require.NotNil(t, install.Pending)
	var result dto.LifecycleResult
	call(t, srv, http.MethodPost, "/pending/"+install.Pending.ID+"/deny", nil, &result)
	assert.False(t, result.Success)

	install = pluginin.InstallResponse{}
	call(t, srv, http.MethodPost, "/plugins/plain/install", nil, &install)
	require.Nil(t, install.Pending)
	require.True(t, install.Result.Success, install.Result.Message)

	var loaded []string
	call(t, srv, http.MethodGet, "/loaded", nil, &loaded)
	assert.Equal(t, []string{"plain"}, loaded)

	call(t, srv, http.MethodPost, "/plugins/plain/disable", nil, &result)
	require.True(t, result.Success, result.Message)
	var slots []pluginin.SlotView
	call(t, srv, http.MethodGet, "/slots", nil, &slots)
	assert.Empty(t, slots)

	call(t, srv, http.MethodPost, "/plugins/plain/enable", nil, &result)
	require.True(t, result.Success, result.Message)
	call(t, srv, http.MethodGet, "/slots", nil, &slots)
	require.Len(t, slots, 1)
	assert.Equal(t, "toolbar", slots[0].Slot)
	require.Len(t, slots[0].Actions, 1)

	call(t, srv, http.MethodDelete, "/plugins/plain", nil, &result)
	require.True(t, result.Success, result.Message)
	var installed []dto.InstalledPlugin
	call(t, srv, http.MethodGet, "/installed", nil, &installed)
	assert.Empty(t, installed)
}

func TestHostAPIGrantsAndValidation(t *testing.T) {
	t.Parallel()
	srv := newHostServer(t)

	var install pluginin.InstallResponse
	call(t, srv, http.MethodPost, "/plugins/plain/install", nil, &install)
	require.True(t, install.Result.Success, install.Result.Message)

	var grants []string
	status, env := call(t, srv, http.MethodPost, "/plugins/plain/grants", map[string]any{"permissions": []string{"file:*"}}, &grants)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, []string{"file:upload", "file:download"}, grants)

	status, _ = call(t, srv, http.MethodDelete, "/plugins/plain/grants?permission=file:upload", nil, &grants)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"file:download"}, grants)

	status, env = call(t, srv, http.MethodPost, "/plugins/plain/grants", map[string]any{"permissions": []string{"ui:teleport"}}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, http.StatusBadRequest, env.Code)

	status, _ = call(t, srv, http.MethodGet, "/scan", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var scan dto.ScanResult
	call(t, srv, http.MethodGet, "/scan?id=plain&id=missing", nil, &scan)
	assert.Equal(t, 2, scan.Total)
	assert.Equal(t, 1, scan.Valid)

	var resolved string
	call(t, srv, http.MethodGet, "/resolve?base=http://cdn.test/plugins/plain/&rel=img/icon.png", nil, &resolved)
	assert.Equal(t, "http://cdn.test/plugins/plain/img/icon.png", resolved)

	var catalog []dto.PermissionInfo
	call(t, srv, http.MethodGet, "/catalog", nil, &catalog)
	assert.NotEmpty(t, catalog)
}
