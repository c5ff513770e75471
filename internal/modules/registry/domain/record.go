package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "plughost/internal/platform/errors"
)

// Record is one plugin installed by one user.
type Record struct {
	ID                 string
	UserID             string
	PluginID           string
	PluginName         string
	PluginVersion      string
	Enabled            bool
	GrantedPermissions []string
	InstalledAt        time.Time
	UpdatedAt          time.Time
}

func (r Record) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user id is required", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(r.PluginID) == "" {
		return fmt.Errorf("%w: plugin id is required", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(r.PluginName) == "" {
		return fmt.Errorf("%w: plugin name is required", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(r.PluginVersion) == "" {
		return fmt.Errorf("%w: plugin version is required", apperrors.ErrInvalidInput)
	}
	return nil
}

// NormalizePermissions trims, drops empties and duplicates, and keeps first
// occurrence order.
func NormalizePermissions(perms []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// SortByInstalled orders records oldest first, ties broken by plugin id.
func SortByInstalled(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].InstalledAt.Equal(records[j].InstalledAt) {
			return records[i].InstalledAt.Before(records[j].InstalledAt)
		}
		return records[i].PluginID < records[j].PluginID
	})
}

type EventType string

const (
	EventInstalled   EventType = "installed"
	EventUninstalled EventType = "uninstalled"
	EventStatus      EventType = "status"
	EventPermissions EventType = "permissions"
)

// Event is published after every successful registry mutation.
type Event struct {
	Type     EventType `json:"type"`
	UserID   string    `json:"userId"`
	PluginID string    `json:"pluginId"`
	Enabled  bool      `json:"enabled"`
	At       time.Time `json:"at"`
}
