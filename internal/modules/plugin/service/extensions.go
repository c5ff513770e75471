package service

import (
	"sort"
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"plughost/internal/modules/plugin/domain"
)

// ExtensionRegistry holds the slots plugins register into, the stylesheets
// they inject, the handles each plugin owns and the loaded-plugin set.
type ExtensionRegistry struct {
	mu         sync.Mutex
	nextID     uint64
	components map[string][]domain.Extension
	actions    map[string][]domain.Extension
	styles     []domain.Stylesheet
	handles    map[string][]domain.ResourceHandle
	loaded     map[string]struct{}
	logger     hclog.Logger
}

func NewExtensionRegistry(logger hclog.Logger) *ExtensionRegistry {
	return &ExtensionRegistry{
		components: map[string][]domain.Extension{},
		actions:    map[string][]domain.Extension{},
		handles:    map[string][]domain.ResourceHandle{},
		loaded:     map[string]struct{}{},
		logger:     loggerOrNull(logger).Named("extensions"),
	}
}

func (r *ExtensionRegistry) RegisterComponent(slot string, c domain.Contribution, pluginID string) domain.Extension {
	return r.register(r.components, domain.ExtensionComponent, domain.HandleComponent, slot, c, pluginID)
}

func (r *ExtensionRegistry) RegisterAction(slot string, c domain.Contribution, pluginID string) domain.Extension {
	return r.register(r.actions, domain.ExtensionAction, domain.HandleAction, slot, c, pluginID)
}

func (r *ExtensionRegistry) register(target map[string][]domain.Extension, kind domain.ExtensionKind, handle domain.HandleKind, slot string, c domain.Contribution, pluginID string) domain.Extension {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ext := domain.Extension{
		ID:       r.nextID,
		PluginID: pluginID,
		Slot:     slot,
		Kind:     kind,
		Name:     c.Name,
		Props:    c.Props,
	}
	target[slot] = append(target[slot], ext)
	r.track(pluginID, domain.ResourceHandle{Kind: handle, Slot: slot, EntryID: ext.ID})
	r.logger.Debug("extension registered", "plugin", pluginID, "slot", slot, "kind", kind, "name", c.Name)
	return ext
}

func (r *ExtensionRegistry) InjectStyle(pluginID, href string) domain.Stylesheet {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sheet := domain.Stylesheet{ID: r.nextID, PluginID: pluginID, Href: href}
	r.styles = append(r.styles, sheet)
	r.track(pluginID, domain.ResourceHandle{Kind: domain.HandleStyle, EntryID: sheet.ID})
	return sheet
}

// track records a handle; entries without an owning plugin cannot be released.
func (r *ExtensionRegistry) track(pluginID string, h domain.ResourceHandle) {
	if pluginID == "" {
		return
	}
	r.handles[pluginID] = append(r.handles[pluginID], h)
}

func (r *ExtensionRegistry) Components(slot string) []domain.Extension {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Extension{}, r.components[slot]...)
}

func (r *ExtensionRegistry) Actions(slot string) []domain.Extension {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Extension{}, r.actions[slot]...)
}

func (r *ExtensionRegistry) Styles() []domain.Stylesheet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Stylesheet{}, r.styles...)
}

// Slots lists every slot holding at least one component or action.
func (r *ExtensionRegistry) Slots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]struct{}{}
	for slot, list := range r.components {
		if len(list) > 0 {
			seen[slot] = struct{}{}
		}
	}
	for slot, list := range r.actions {
		if len(list) > 0 {
			seen[slot] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// ClearSlot empties the components of a slot regardless of owner.
func (r *ExtensionRegistry) ClearSlot(slot string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[slot] = []domain.Extension{}
	r.logger.Debug("slot cleared", "slot", slot)
}

// Release frees every handle owned by pluginID and drops it from the loaded
// set. It reports whether the plugin had anything to release.
func (r *ExtensionRegistry) Release(pluginID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles, owned := r.handles[pluginID]
	_, wasLoaded := r.loaded[pluginID]
	for _, h := range handles {
		switch h.Kind {
		case domain.HandleComponent:
			r.components[h.Slot] = removeExtension(r.components[h.Slot], h.EntryID)
		case domain.HandleAction:
			r.actions[h.Slot] = removeExtension(r.actions[h.Slot], h.EntryID)
		case domain.HandleStyle:
			r.styles = removeStyle(r.styles, h.EntryID)
		}
	}
	delete(r.handles, pluginID)
	delete(r.loaded, pluginID)
	if owned || wasLoaded {
		r.logger.Debug("plugin resources released", "plugin", pluginID, "handles", len(handles))
	}
	return owned || wasLoaded
}

func (r *ExtensionRegistry) Handles(pluginID string) []domain.ResourceHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ResourceHandle{}, r.handles[pluginID]...)
}

func (r *ExtensionRegistry) MarkLoaded(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded[pluginID] = struct{}{}
}

func (r *ExtensionRegistry) IsLoaded(pluginID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loaded[pluginID]
	return ok
}

func (r *ExtensionRegistry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.loaded))
	for id := range r.loaded {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func removeExtension(list []domain.Extension, id uint64) []domain.Extension {
	for i, ext := range list {
		if ext.ID == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func removeStyle(list []domain.Stylesheet, id uint64) []domain.Stylesheet {
	for i, sheet := range list {
		if sheet.ID == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
