package domain

import (
	"fmt"
	"strings"
)

type Permission string

const (
	PermissionStorageLocal     Permission = "storage:local"
	PermissionStorageSession   Permission = "storage:session"
	PermissionHTTPAPI          Permission = "http:api"
	PermissionHTTPExternal     Permission = "http:external"
	PermissionRouterNavigate   Permission = "router:navigate"
	PermissionRouterGuard      Permission = "router:guard"
	PermissionUIModal          Permission = "ui:modal"
	PermissionUINotification   Permission = "ui:notification"
	PermissionUserProfile      Permission = "user:profile"
	PermissionUserModify       Permission = "user:modify"
	PermissionFileUpload       Permission = "file:upload"
	PermissionFileDownload     Permission = "file:download"
	PermissionWebsocketConnect Permission = "websocket:connect"
)

type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

type PermissionInfo struct {
	Permission  Permission `json:"permission"`
	Label       string     `json:"label"`
	Description string     `json:"description"`
	Risk        Risk       `json:"risk"`
	Category    string     `json:"category"`
}

// permissionTable order is the canonical order for every expansion and listing.
var permissionTable = []PermissionInfo{
	{PermissionStorageLocal, "Local storage", "Read and write data in local storage", RiskLow, "storage"},
	{PermissionStorageSession, "Session storage", "Read and write data in session storage", RiskLow, "storage"},
	{PermissionHTTPAPI, "Host API", "Call the host backend API", RiskMedium, "network"},
	{PermissionHTTPExternal, "External requests", "Send requests to third-party servers", RiskHigh, "network"},
	{PermissionRouterNavigate, "Navigation", "Navigate between host pages", RiskLow, "navigation"},
	{PermissionRouterGuard, "Route guards", "Intercept and redirect navigation", RiskMedium, "navigation"},
	{PermissionUIModal, "Dialogs", "Open modal dialogs", RiskLow, "ui"},
	{PermissionUINotification, "Notifications", "Show notification messages", RiskLow, "ui"},
	{PermissionUserProfile, "User profile", "Read the signed-in user's profile", RiskMedium, "user"},
	{PermissionUserModify, "Modify user", "Change the signed-in user's data", RiskHigh, "user"},
	{PermissionFileUpload, "File upload", "Upload files on behalf of the user", RiskMedium, "file"},
	{PermissionFileDownload, "File download", "Download files", RiskLow, "file"},
	{PermissionWebsocketConnect, "Realtime connection", "Open WebSocket connections", RiskMedium, "realtime"},
}

// Permissions lists the static capability table.
func Permissions() []PermissionInfo {
	out := make([]PermissionInfo, len(permissionTable))
	copy(out, permissionTable)
	return out
}

func LookupPermission(p Permission) (PermissionInfo, bool) {
	for _, info := range permissionTable {
		if info.Permission == p {
			return info, true
		}
	}
	return PermissionInfo{}, false
}

func (p Permission) Validate() error {
	if _, ok := LookupPermission(p); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, p)
	}
	return nil
}

// Category is the text before the first ':'.
func (p Permission) Category() string {
	category, _, _ := strings.Cut(string(p), ":")
	return category
}

func IsWildcard(raw string) bool {
	return strings.Contains(raw, "*")
}

// ExpandPermission turns "category:*" into the category's concrete permissions.
// Anything else passes through as a single permission, known or not.
func ExpandPermission(raw string) []Permission {
	if !IsWildcard(raw) {
		return []Permission{Permission(raw)}
	}
	category, _, _ := strings.Cut(raw, ":")
	out := []Permission{}
	for _, info := range permissionTable {
		if strings.HasPrefix(string(info.Permission), category+":") {
			out = append(out, info.Permission)
		}
	}
	return out
}

// ExpandPermissions expands every input and drops repeats, keeping first occurrence.
func ExpandPermissions(raw []string) []Permission {
	seen := map[Permission]struct{}{}
	out := make([]Permission, 0, len(raw))
	for _, item := range raw {
		for _, p := range ExpandPermission(item) {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// ValidatePermissionString accepts known permissions and wildcards that match at
// least one table entry.
func ValidatePermissionString(raw string) error {
	if IsWildcard(raw) {
		category, rest, ok := strings.Cut(raw, ":")
		if !ok || rest != "*" || category == "" || len(ExpandPermission(raw)) == 0 {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, raw)
		}
		return nil
	}
	return Permission(raw).Validate()
}

// SortPermissions orders permissions by table position; unknown ones go last.
func SortPermissions(perms []Permission) []Permission {
	index := map[Permission]int{}
	for i, info := range permissionTable {
		index[info.Permission] = i
	}
	out := make([]Permission, 0, len(perms))
	unknown := []Permission{}
	for _, info := range permissionTable {
		for _, p := range perms {
			if p == info.Permission {
				out = append(out, p)
				break
			}
		}
	}
	for _, p := range perms {
		if _, ok := index[p]; !ok {
			unknown = append(unknown, p)
		}
	}
	return append(out, unknown...)
}

func Describe(perms []Permission) []PermissionInfo {
	out := make([]PermissionInfo, 0, len(perms))
	for _, p := range perms {
		info, ok := LookupPermission(p)
		if !ok {
			info = PermissionInfo{Permission: p, Label: string(p), Risk: RiskHigh, Category: p.Category()}
		}
		out = append(out, info)
	}
	return out
}

type RiskGroups struct {
	High   []PermissionInfo `json:"high"`
	Medium []PermissionInfo `json:"medium"`
	Low    []PermissionInfo `json:"low"`
}

func GroupByRisk(infos []PermissionInfo) RiskGroups {
	groups := RiskGroups{High: []PermissionInfo{}, Medium: []PermissionInfo{}, Low: []PermissionInfo{}}
	for _, info := range infos {
		switch info.Risk {
		case RiskHigh:
			groups.High = append(groups.High, info)
		case RiskMedium:
			groups.Medium = append(groups.Medium, info)
		default:
			groups.Low = append(groups.Low, info)
		}
	}
	return groups
}

func (g RiskGroups) Len() int {
	return len(g.High) + len(g.Medium) + len(g.Low)
}

func PermissionStrings(perms []Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	return out
}
