package domain

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrManifestUnavailable = errors.New("plugin manifest unavailable")
	ErrInvalidPlugin       = errors.New("plugin is invalid")
	ErrBootstrapFailed     = errors.New("plugin bootstrap failed")
	ErrNoBootstrap         = errors.New("plugin module has no bootstrap function")
	ErrUnsupportedEntry    = errors.New("plugin entry type unsupported")
	ErrPermissionDenied    = errors.New("plugin permissions not granted")
	ErrUnknownPermission   = errors.New("unknown permission")
	ErrApprovalNotFound    = errors.New("pending approval not found")
	ErrRegistryUnavailable = errors.New("plugin registry unavailable")
	ErrChecksumMismatch    = errors.New("plugin checksum mismatch")
	ErrPluginTimeout       = errors.New("plugin timeout")
)

// PluginInfo is the result of scanning one plugin id. Valid is true exactly
// when Errors is empty; Warnings never affect it.
type PluginInfo struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	Author      string            `json:"author,omitempty"`
	Manifest    *Manifest         `json:"manifest,omitempty"`
	Valid       bool              `json:"valid"`
	Errors      []ValidationError `json:"errors"`
	Warnings    []ValidationError `json:"warnings"`
	Permissions []string          `json:"permissions"`
}

// Placeholder describes a plugin whose manifest could not be read.
func Placeholder(pluginID string, cause ValidationError) PluginInfo {
	return PluginInfo{
		ID:          pluginID,
		Name:        pluginID,
		Version:     UnknownVersion,
		Valid:       false,
		Errors:      []ValidationError{cause},
		Warnings:    []ValidationError{},
		Permissions: []string{},
	}
}

type ScanResult struct {
	Total   int          `json:"total"`
	Valid   int          `json:"valid"`
	Invalid int          `json:"invalid"`
	Plugins []PluginInfo `json:"plugins"`
}

type ExtensionKind string

const (
	ExtensionComponent ExtensionKind = "component"
	ExtensionAction    ExtensionKind = "action"
)

// Contribution is what a plugin hands the host for a slot.
type Contribution struct {
	Name  string         `json:"name"`
	Props map[string]any `json:"props,omitempty"`
}

type Extension struct {
	ID       uint64         `json:"id"`
	PluginID string         `json:"plugin_id"`
	Slot     string         `json:"slot"`
	Kind     ExtensionKind  `json:"kind"`
	Name     string         `json:"name"`
	Props    map[string]any `json:"props,omitempty"`
}

type Stylesheet struct {
	ID       uint64 `json:"id"`
	PluginID string `json:"plugin_id"`
	Href     string `json:"href"`
}

type HandleKind string

const (
	HandleComponent HandleKind = "component"
	HandleAction    HandleKind = "action"
	HandleStyle     HandleKind = "style"
)

// ResourceHandle records one host resource owned by a plugin so it can be
// released by identity.
type ResourceHandle struct {
	Kind    HandleKind `json:"kind"`
	Slot    string     `json:"slot,omitempty"`
	EntryID uint64     `json:"entry_id"`
}

// HostAPI is the host surface a bootstrapping plugin sees. Every call is bound
// to the plugin being loaded.
type HostAPI interface {
	RegisterComponent(slot string, c Contribution) Extension
	RegisterAction(slot string, c Contribution) Extension
	ClearSlot(slot string)
	ResolveURL(rel string) string
	HasPermission(p Permission) bool
}

type BootstrapContext struct {
	PluginID string
	BaseURL  string
	Manifest Manifest
	Session  *SessionContext
	Host     HostAPI
}

// SessionContext is the user/config state shared by every bootstrapped plugin.
type SessionContext struct {
	mu     sync.RWMutex
	user   map[string]any
	config map[string]any
}

func NewSessionContext() *SessionContext {
	return &SessionContext{config: map[string]any{}}
}

func (s *SessionContext) SetUser(user map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = cloneMap(user)
}

func (s *SessionContext) User() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMap(s.user)
}

func (s *SessionContext) SetConfig(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
}

func (s *SessionContext) Config() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMap(s.config)
}

// Snapshot is the {user, config} view handed to plugin runtimes.
func (s *SessionContext) Snapshot() map[string]any {
	return map[string]any{"user": s.User(), "config": s.Config()}
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type InstallResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PendingApproval is an install waiting on a user decision about permissions.
type PendingApproval struct {
	ID          string           `json:"id"`
	PluginID    string           `json:"plugin_id"`
	Plugin      PluginInfo       `json:"plugin"`
	Permissions []PermissionInfo `json:"permissions"`
	Groups      RiskGroups       `json:"groups"`
	CreatedAt   time.Time        `json:"created_at"`
}

// InstallRecord is the durable registry's view of an installed plugin.
type InstallRecord struct {
	ID                 string    `json:"id"`
	PluginID           string    `json:"pluginId"`
	PluginName         string    `json:"pluginName"`
	PluginVersion      string    `json:"pluginVersion"`
	Enabled            bool      `json:"enabled"`
	GrantedPermissions []string  `json:"grantedPermissions"`
	InstalledAt        time.Time `json:"installedAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type RegistryEventType string

const (
	EventInstalled   RegistryEventType = "installed"
	EventUninstalled RegistryEventType = "uninstalled"
	EventStatus      RegistryEventType = "status"
	EventPermissions RegistryEventType = "permissions"
)

type RegistryEvent struct {
	Type     RegistryEventType `json:"type"`
	PluginID string            `json:"pluginId"`
	Enabled  bool              `json:"enabled"`
	At       time.Time         `json:"at"`
}

// Confirmer decides whether a pending install may be granted.
type Confirmer interface {
	ConfirmInstall(ctx context.Context, pending PendingApproval) (bool, error)
}

type UninstallConfirmer interface {
	ConfirmUninstall(ctx context.Context, pluginID string) (bool, error)
}

type ConfirmFunc func(ctx context.Context, pending PendingApproval) (bool, error)

func (f ConfirmFunc) ConfirmInstall(ctx context.Context, pending PendingApproval) (bool, error) {
	return f(ctx, pending)
}

type UninstallConfirmFunc func(ctx context.Context, pluginID string) (bool, error)

func (f UninstallConfirmFunc) ConfirmUninstall(ctx context.Context, pluginID string) (bool, error) {
	return f(ctx, pluginID)
}
