package out_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"plughost/internal/modules/plugin/domain"
	pluginport "plughost/internal/modules/plugin/port/out"
)

type mapAssets map[string][]byte

func (m mapAssets) Fetch(_ context.Context, url string) ([]byte, error) {
	raw, ok := m[url]
	if !ok {
		return nil, fmt.Errorf("fetch %s: status 404", url)
	}
	return raw, nil
}

func (m mapAssets) Exists(_ context.Context, url string) bool {
	_, ok := m[url]
	return ok
}

// recordingHost is a HostAPI that keeps every call in order.
type recordingHost struct {
	mu         sync.Mutex
	base       string
	granted    map[domain.Permission]bool
	nextID     uint64
	components []domain.Extension
	actions    []domain.Extension
	cleared    []string
}

func newRecordingHost(base string, granted ...domain.Permission) *recordingHost {
	h := &recordingHost{base: base, granted: map[domain.Permission]bool{}}
	for _, p := range granted {
		h.granted[p] = true
	}
	return h
}

func (h *recordingHost) register(kind domain.ExtensionKind, slot string, c domain.Contribution) domain.Extension {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ext := domain.Extension{ID: h.nextID, Slot: slot, Kind: kind, Name: c.Name, Props: c.Props}
	if kind == domain.ExtensionAction {
		h.actions = append(h.actions, ext)
	} else {
		h.components = append(h.components, ext)
	}
	return ext
}

func (h *recordingHost) RegisterComponent(slot string, c domain.Contribution) domain.Extension {
	return h.register(domain.ExtensionComponent, slot, c)
}

func (h *recordingHost) RegisterAction(slot string, c domain.Contribution) domain.Extension {
	return h.register(domain.ExtensionAction, slot, c)
}

func (h *recordingHost) ClearSlot(slot string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleared = append(h.cleared, slot)
}

func (h *recordingHost) ResolveURL(rel string) string {
	return h.base + rel
}

func (h *recordingHost) HasPermission(p domain.Permission) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.granted[p]
}

func importRequest(id, entryURL string, manifest domain.Manifest) pluginport.ImportRequest {
	if manifest.ID == "" {
		manifest.ID = id
	}
	return pluginport.ImportRequest{PluginID: id, BaseURL: "http://assets/plugins/" + id + "/", EntryURL: entryURL, Manifest: manifest}
}

func bootstrapContext(id string, host *recordingHost, manifest domain.Manifest) domain.BootstrapContext {
	session := domain.NewSessionContext()
	session.SetUser(map[string]any{"name": "ada"})
	session.SetConfig("theme", "dark")
	if manifest.ID == "" {
		manifest.ID = id
	}
	return domain.BootstrapContext{
		PluginID: id,
		BaseURL:  "http://assets/plugins/" + id + "/",
		Manifest: manifest,
		Session:  session,
		Host:     host,
	}
}

func digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
