package dto

import (
	"context"
	"time"
)

type PluginInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	Type        string   `json:"type"`
	Entry       string   `json:"entry"`
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Permissions []string `json:"permissions"`
}

type ScanResult struct {
	Total   int          `json:"total"`
	Valid   int          `json:"valid"`
	Invalid int          `json:"invalid"`
	Plugins []PluginInfo `json:"plugins"`
}

type InitInput struct {
	// PluginIDs empty means "every plugin the registry reports as enabled".
	PluginIDs  []string
	AutoGrant  bool
	KeepLoaded bool
	// Confirm is asked for grants a plugin still lacks. Nil skips such plugins.
	Confirm    ConfirmFunc
}

type InitResult struct {
	PluginID string `json:"pluginId"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

type InitOutput struct {
	Total   int          `json:"total"`
	Loaded  int          `json:"loaded"`
	Failed  int          `json:"failed"`
	Skipped int          `json:"skipped"`
	Results []InitResult `json:"results"`
}

type LifecycleResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type PermissionInfo struct {
	Permission  string `json:"permission"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Risk        string `json:"risk"`
	Category    string `json:"category"`
}

type PendingApproval struct {
	ID          string           `json:"id"`
	PluginID    string           `json:"pluginId"`
	PluginName  string           `json:"pluginName"`
	Version     string           `json:"version"`
	Permissions []PermissionInfo `json:"permissions"`
	High        []PermissionInfo `json:"high"`
	Medium      []PermissionInfo `json:"medium"`
	Low         []PermissionInfo `json:"low"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type ConfirmFunc func(ctx context.Context, pending PendingApproval) (bool, error)

type UninstallConfirmFunc func(ctx context.Context, pluginID string) (bool, error)

type Extension struct {
	ID       uint64         `json:"id"`
	PluginID string         `json:"pluginId"`
	Slot     string         `json:"slot"`
	Kind     string         `json:"kind"`
	Name     string         `json:"name"`
	Props    map[string]any `json:"props,omitempty"`
}

type Stylesheet struct {
	PluginID string `json:"pluginId"`
	Href     string `json:"href"`
}

type InstalledPlugin struct {
	PluginID           string    `json:"pluginId"`
	Name               string    `json:"name"`
	Version            string    `json:"version"`
	Enabled            bool      `json:"enabled"`
	Loaded             bool      `json:"loaded"`
	GrantedPermissions []string  `json:"grantedPermissions"`
	InstalledAt        time.Time `json:"installedAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type RegistryEvent struct {
	Type     string    `json:"type"`
	PluginID string    `json:"pluginId"`
	Enabled  bool      `json:"enabled"`
	At       time.Time `json:"at"`
}

type BatchFailure struct {
	PluginID string `json:"pluginId"`
	Reason   string `json:"reason,omitempty"`
}

type BatchResult struct {
	Success []string       `json:"success"`
	Failed  []BatchFailure `json:"failed"`
}
