package out

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"plughost/internal/modules/plugin/domain"
)

// PluginDirectory discovers plugin ids on disk: every immediate subdirectory
// holding a manifest.json.
type PluginDirectory struct {
	dir string
}

func NewPluginDirectory(dir string) *PluginDirectory {
	return &PluginDirectory{dir: dir}
}

func (d *PluginDirectory) Dir() string {
	return d.dir
}

// List returns plugin ids in lexical order. A missing directory is empty.
func (d *PluginDirectory) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}
	ids := []string{}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		info, err := os.Stat(filepath.Join(d.dir, entry.Name(), domain.ManifestFile))
		if err != nil || info.IsDir() {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Strings(ids)
	return ids, nil
}
