package out_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pluginout "plughost/internal/modules/plugin/adapter/out"
	"plughost/internal/modules/plugin/domain"
)

const entryURL = "http://assets/plugins/hello/index.js"

func bootJS(t *testing.T, src string, timeout time.Duration, granted ...domain.Permission) (*recordingHost, error) {
	t.Helper()
	loader := pluginout.NewJSLoader(mapAssets{entryURL: []byte(src)}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	mod, err := loader.Import(ctx, importRequest("hello", entryURL, domain.Manifest{}))
	if err != nil {
		return nil, err
	}
	defer mod.Close()
	host := newRecordingHost("http://assets/plugins/hello/", granted...)
	return host, mod.Bootstrap(ctx, bootstrapContext("hello", host, domain.Manifest{}))
}

func TestJSLoaderDefaultExportObject(t *testing.T) {
	t.Parallel()
	src := `
export default {
  bootstrap(ctx) {
    PluginSDK.clearSlot("sidebar");
    const id = PluginSDK.registerComponent("sidebar", {
      name: "hello-panel",
      props: { user: ctx.user.name, icon: PluginSDK.resolveUrl("icon.png") }
    });
    if (window.PluginSDK.hasPermission("ui:notification")) {
      PluginSDK.registerAction("toolbar", "hello-notify");
    }
    console.log("registered", id, ctx.pluginId);
  }
}
`
	host, err := bootJS(t, src, 2*time.Second, domain.PermissionUINotification)
	require.NoError(t, err)
	assert.Equal(t, []string{"sidebar"}, host.cleared)
	require.Len(t, host.components, 1)
	assert.Equal(t, "hello-panel", host.components[0].Name)
	assert.Equal(t, map[string]any{"user": "ada", "icon": "http://assets/plugins/hello/icon.png"}, host.components[0].Props)
	require.Len(t, host.actions, 1)
	assert.Equal(t, "hello-notify", host.actions[0].Name)
}

func TestJSLoaderNamedAsyncBootstrap(t *testing.T) {
	t.Parallel()
	src := `
export const slot = "header";
export async function bootstrap(ctx) {
  await Promise.resolve();
  PluginSDK.registerComponent(slot, ctx.config.theme);
}
`
	host, err := bootJS(t, src, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, host.components, 1)
	assert.Equal(t, "header", host.components[0].Slot)
	assert.Equal(t, "dark", host.components[0].Name)
}

func TestJSLoaderCommonJSFunction(t *testing.T) {
	t.Parallel()
	src := `module.exports = function (ctx) { PluginSDK.registerAction("menu", ctx.manifest.id); };`
	host, err := bootJS(t, src, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, host.actions, 1)
	assert.Equal(t, "hello", host.actions[0].Name)
}

func TestJSLoaderFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  string
		is   error
	}{
		{name: "no bootstrap", src: `export const x = 1;`, is: domain.ErrNoBootstrap},
		{name: "throws", src: `export function bootstrap() { throw new Error("boom"); }`},
		{name: "rejects", src: `export async function bootstrap() { throw new Error("later"); }`},
		{name: "runaway", src: `export function bootstrap() { for (;;) {} }`, is: domain.ErrPluginTimeout},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := bootJS(t, tc.src, 300*time.Millisecond)
			require.Error(t, err)
			if tc.is != nil {
				assert.True(t, errors.Is(err, tc.is), "got %v", err)
			}
		})
	}
}

func TestJSLoaderImportErrors(t *testing.T) {
	t.Parallel()
	loader := pluginout.NewJSLoader(mapAssets{entryURL: []byte(`export default {`)}, nil)
	_, err := loader.Import(context.Background(), importRequest("hello", entryURL, domain.Manifest{}))
	assert.Error(t, err, "syntax error must fail import")

	_, err = loader.Import(context.Background(), importRequest("hello", "http://assets/missing.js", domain.Manifest{}))
	assert.Error(t, err)

	src := []byte(`export default function () {}`)
	loader = pluginout.NewJSLoader(mapAssets{entryURL: src}, nil)
	_, err = loader.Import(context.Background(), importRequest("hello", entryURL, domain.Manifest{SHA256: digest([]byte("other"))}))
	assert.ErrorIs(t, err, domain.ErrChecksumMismatch)
	_, err = loader.Import(context.Background(), importRequest("hello", entryURL, domain.Manifest{SHA256: digest(src)}))
	assert.NoError(t, err)
}
