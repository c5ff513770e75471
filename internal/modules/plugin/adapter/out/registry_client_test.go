package out_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pluginout "plughost/internal/modules/plugin/adapter/out"
	"plughost/internal/modules/plugin/domain"
	pluginport "plughost/internal/modules/plugin/port/out"
	registryhttp "plughost/internal/modules/registry/adapter/in"
	registrystore "plughost/internal/modules/registry/adapter/out"
	registryin "plughost/internal/modules/registry/port/in"
	"plughost/internal/modules/registry/service"
	"plughost/internal/modules/registry/usecase"
	"plughost/internal/platform/clock"
	apperrors "plughost/internal/platform/errors"
	"plughost/internal/platform/id"
)

func newRegistryUsecase(t *testing.T) registryin.Usecase {
	t.Helper()
	store, err := registrystore.NewSQLiteRecordStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	svc := service.NewRegistryService(clock.SystemClock{}, id.UUID{}, store, registrystore.NewMemoryEventHub(), nil)
	return usecase.NewInteractor(svc)
}

func newRegistryServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	registryhttp.NewHandler(newRegistryUsecase(t), nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type registryUnderTest interface {
	pluginport.Registry
	pluginport.RegistryWatcher
}

type watchingHTTPRegistry struct {
	*pluginout.HTTPRegistry
	*pluginout.WSRegistryWatcher
}

func exerciseRegistry(t *testing.T, reg registryUnderTest) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := reg.Watch(ctx)
	require.NoError(t, err)

	record, err := reg.Install(ctx, pluginport.InstallRequest{
		PluginID:           "hello",
		PluginName:         "Hello",
		PluginVersion:      "1.0.0",
		GrantedPermissions: []string{"ui:modal"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", record.PluginID)
	assert.True(t, record.Enabled)

	_, err = reg.Install(ctx, pluginport.InstallRequest{PluginID: "hello", PluginName: "Hello", PluginVersion: "1.0.0"})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	enabled, err := reg.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, enabled)

	require.NoError(t, reg.UpdateStatus(ctx, "hello", false))
	require.NoError(t, reg.UpdatePermissions(ctx, "hello", []string{"ui:modal", "http:api"}))
	perms, err := reg.GetPermissions(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"ui:modal", "http:api"}, perms)

	installed, err := reg.ListInstalled(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.False(t, installed[0].Enabled)

	require.NoError(t, reg.Uninstall(ctx, "hello"))
	assert.ErrorIs(t, reg.Uninstall(ctx, "hello"), apperrors.ErrNotFound)

	want := []domain.RegistryEventType{domain.EventInstalled, domain.EventStatus, domain.EventPermissions, domain.EventUninstalled}
	for _, kind := range want {
		select {
		case event, ok := <-events:
			require.True(t, ok, "feed closed early")
			assert.Equal(t, kind, event.Type)
			assert.Equal(t, "hello", event.PluginID)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestHTTPRegistryAgainstRegistryAPI(t *testing.T) {
	t.Parallel()
	srv := newRegistryServer(t)
	watcher, err := pluginout.NewWSRegistryWatcher(srv.URL, "user:9", nil)
	require.NoError(t, err)
	exerciseRegistry(t, watchingHTTPRegistry{
		HTTPRegistry:      pluginout.NewHTTPRegistry(srv.URL, "user:9", 2*time.Second),
		WSRegistryWatcher: watcher,
	})
}

func TestLocalRegistry(t *testing.T) {
	t.Parallel()
	exerciseRegistry(t, pluginout.NewLocalRegistry(newRegistryUsecase(t), "local"))
}

func TestHTTPRegistryErrors(t *testing.T) {
	t.Parallel()
	srv := newRegistryServer(t)
	ctx := context.Background()

	_, err := pluginout.NewHTTPRegistry(srv.URL, "", time.Second).ListEnabled(ctx)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	_, err = pluginout.NewHTTPRegistry(down.URL, "user:1", time.Second).ListInstalled(ctx)
	assert.ErrorIs(t, err, domain.ErrRegistryUnavailable)

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer garbage.Close()
	_, err = pluginout.NewHTTPRegistry(garbage.URL, "user:1", time.Second).ListInstalled(ctx)
	assert.ErrorIs(t, err, domain.ErrRegistryUnavailable)

	_, err = pluginout.NewWSRegistryWatcher("ftp://example.com", "", nil)
	assert.ErrorIs(t, err, pluginout.ErrUnsupportedScheme)
	watcher, err := pluginout.NewWSRegistryWatcher(srv.URL, "", nil)
	require.NoError(t, err)
	_, err = watcher.Watch(ctx)
	assert.ErrorIs(t, err, domain.ErrRegistryUnavailable)
}
