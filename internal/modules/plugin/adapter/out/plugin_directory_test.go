package out_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	pluginout "plughost/internal/modules/plugin/adapter/out"
)

func TestPluginDirectoryListMissingReturnsEmpty(t *testing.T) {
	t.Parallel()
	dir := pluginout.NewPluginDirectory(filepath.Join(t.TempDir(), "absent"))
	ids, err := dir.List(context.Background())
	if err != nil {
		t.Fatalf("list plugins: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no plugins, got %v", ids)
	}
}

func TestPluginDirectoryListsManifestDirs(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	for _, id := range []string{"zeta", "alpha", ".hidden"} {
		if err := os.MkdirAll(filepath.Join(base, id), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", id, err)
		}
		if err := os.WriteFile(filepath.Join(base, id, "manifest.json"), []byte(`{}`), 0o644); err != nil {
			t.Fatalf("write manifest: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(base, "no-manifest"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "stray.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	ids, err := pluginout.NewPluginDirectory(base).List(context.Background())
	if err != nil {
		t.Fatalf("list plugins: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"alpha", "zeta"}) {
		t.Fatalf("unexpected ids: %v", ids)
	}
}
