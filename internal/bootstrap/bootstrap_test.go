package bootstrap_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plughost/internal/bootstrap"
	"plughost/internal/platform/config"
)

const counterEntry = `export default function bootstrap() {
  PluginSDK.registerComponent("footer", { name: "counter" });
}
`

func newConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.New(t.TempDir())
	require.NoError(t, err)
	cfg.LogLevel = "error"
	dir := filepath.Join(cfg.PluginDir, "counter")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"id":"counter","name":"Counter","version":"1.0.0","entry":"index.js"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte(counterEntry), 0o644))
	return cfg
}

func newApp(t *testing.T, cfg config.Config) (*bootstrap.App, *httptest.Server) {
	t.Helper()
	app, err := bootstrap.New(cfg, io.Discard)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	srv := httptest.NewServer(app.Router())
	t.Cleanup(srv.Close)
	return app, srv
}

func getData(t *testing.T, srv *httptest.Server, method, path, token string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if out != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return resp.StatusCode
}

func TestRouterServesHostRegistryAndAssets(t *testing.T) {
	t.Parallel()
	app, srv := newApp(t, newConfig(t))
	require.NotNil(t, app.Registry)

	var install struct {
		Result struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		} `json:"result"`
	}
	require.Equal(t, http.StatusOK, getData(t, srv, http.MethodPost, "/api/v1/host/plugins/counter/install", "", &install))
	require.True(t, install.Result.Success, install.Result.Message)
	assert.True(t, app.Plugins.IsLoaded("counter"))

	var enabled []string
	require.Equal(t, http.StatusOK, getData(t, srv, http.MethodGet, "/api/v1/plugins/enabled", "user:local", &enabled))
	assert.Equal(t, []string{"counter"}, enabled)

	resp, err := srv.Client().Get(srv.URL + "/plugins/counter/index.js")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, counterEntry, string(body))

	resp, err = srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRemoteRegistryMode(t *testing.T) {
	t.Parallel()
	_, registrySrv := newApp(t, newConfig(t))

	cfg := newConfig(t)
	cfg.RegistryURL = registrySrv.URL
	cfg.UserID = "remote-user"
	client, err := bootstrap.New(cfg, io.Discard)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	assert.Nil(t, client.Registry)

	res := client.PluginCLI.Install(t.Context(), []string{"counter"}, nil)
	require.Equal(t, []string{"counter"}, res.Success, "%+v", res.Failed)

	var installed []map[string]any
	require.Equal(t, http.StatusOK, getData(t, registrySrv, http.MethodGet, "/api/v1/plugins/installed", "user:remote-user", &installed))
	require.Len(t, installed, 1)
	assert.Equal(t, "counter", installed[0]["pluginId"])
}

func TestRedisBackends(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	cfg := newConfig(t)
	cfg.GrantBackend = config.GrantBackendRedis
	cfg.RedisURL = "redis://" + mr.Addr()
	app, _ := newApp(t, cfg)

	res := app.PluginCLI.Install(t.Context(), []string{"counter"}, nil)
	require.Equal(t, []string{"counter"}, res.Success, "%+v", res.Failed)
	require.NoError(t, app.PluginCLI.Grant(t.Context(), "counter", []string{"ui:modal"}))
	assert.Equal(t, []string{"ui:modal"}, app.PluginCLI.Grants("counter"))
	assert.NotEmpty(t, mr.Keys())
}
