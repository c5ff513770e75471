package dto

import "time"

type InstallInput struct {
	UserID             string
	PluginID           string   `json:"pluginId"`
	PluginName         string   `json:"pluginName"`
	PluginVersion      string   `json:"pluginVersion"`
	GrantedPermissions []string `json:"grantedPermissions"`
}

type UpdateStatusInput struct {
	UserID   string
	PluginID string
	Enabled  bool `json:"enabled"`
}

type UpdatePermissionsInput struct {
	UserID      string
	PluginID    string
	Permissions []string `json:"permissions"`
}

// RecordOutput is the wire shape of an install record.
type RecordOutput struct {
	ID                 string    `json:"id"`
	PluginID           string    `json:"pluginId"`
	PluginName         string    `json:"pluginName"`
	PluginVersion      string    `json:"pluginVersion"`
	Enabled            bool      `json:"enabled"`
	GrantedPermissions []string  `json:"grantedPermissions"`
	InstalledAt        time.Time `json:"installedAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type EventOutput struct {
	Type     string    `json:"type"`
	PluginID string    `json:"pluginId"`
	Enabled  bool      `json:"enabled"`
	At       time.Time `json:"at"`
}
