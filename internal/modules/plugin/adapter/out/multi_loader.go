package out

import (
	"context"
	"fmt"
	"path"
	"strings"

	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
)

// MultiLoader picks a runtime per entry. Script extensions decide first, so a
// compiled (bundled) .js entry still runs in the JS runtime; only compiled
// manifests with a non-script entry go to the subprocess loader.
type MultiLoader struct {
	compiled pluginout.ModuleLoader
	byExt    map[string]pluginout.ModuleLoader
}

func NewMultiLoader(js, lua, compiled pluginout.ModuleLoader) *MultiLoader {
	byExt := map[string]pluginout.ModuleLoader{}
	if js != nil {
		byExt[".js"] = js
		byExt[".mjs"] = js
	}
	if lua != nil {
		byExt[".lua"] = lua
	}
	return &MultiLoader{compiled: compiled, byExt: byExt}
}

func (m *MultiLoader) Import(ctx context.Context, req pluginout.ImportRequest) (pluginout.Module, error) {
	loader, err := m.pick(req)
	if err != nil {
		return nil, err
	}
	return loader.Import(ctx, req)
}

func (m *MultiLoader) pick(req pluginout.ImportRequest) (pluginout.ModuleLoader, error) {
	entry := req.Manifest.EntryPath()
	if i := strings.IndexAny(entry, "?#"); i >= 0 {
		entry = entry[:i]
	}
	ext := strings.ToLower(path.Ext(entry))
	if loader, ok := m.byExt[ext]; ok {
		return loader, nil
	}
	if isScript(ext) {
		return nil, fmt.Errorf("%w: no runtime for %s", domain.ErrUnsupportedEntry, entry)
	}
	if req.Manifest.Type == domain.TypeCompiled {
		if m.compiled == nil {
			return nil, fmt.Errorf("%w: compiled plugins disabled", domain.ErrUnsupportedEntry)
		}
		return m.compiled, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedEntry, entry)
}

func isScript(ext string) bool {
	switch ext {
	case ".js", ".mjs", ".lua":
		return true
	}
	return false
}
