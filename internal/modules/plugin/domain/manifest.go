package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/tidwall/gjson"
)

type ManifestType string

const (
	TypeSource   ManifestType = "source"
	TypeCompiled ManifestType = "compiled"
)

const (
	ManifestFile     = "manifest.json"
	DefaultEntry     = "index.js"
	UnknownVersion   = "unknown"
	manifestIDField  = "id"
	permissionsField = "permissions"
)

var (
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+`)
	sha256Pattern  = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

type Manifest struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description,omitempty"`
	Author       string            `json:"author,omitempty"`
	Type         ManifestType      `json:"type,omitempty"`
	Entry        string            `json:"entry"`
	Style        string            `json:"style,omitempty"`
	Icon         string            `json:"icon,omitempty"`
	SHA256       string            `json:"sha256,omitempty"`
	Permissions  []string          `json:"permissions,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`

	permissionsBadShape bool
}

// ParseManifest decodes a manifest document without rejecting odd field
// shapes; shape problems are reported later by Validate. The error is only
// returned for documents that are not a JSON object at all.
func ParseManifest(raw []byte) (Manifest, error) {
	if !gjson.ValidBytes(raw) {
		var probe any
		if err := json.Unmarshal(raw, &probe); err != nil {
			return Manifest{}, err
		}
		return Manifest{}, fmt.Errorf("invalid json document")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Manifest{}, fmt.Errorf("manifest must be a json object")
	}
	m := Manifest{
		ID:          scalar(doc.Get(manifestIDField)),
		Name:        scalar(doc.Get("name")),
		Version:     scalar(doc.Get("version")),
		Description: scalar(doc.Get("description")),
		Author:      scalar(doc.Get("author")),
		Type:        ManifestType(scalar(doc.Get("type"))),
		Entry:       scalar(doc.Get("entry")),
		Style:       scalar(doc.Get("style")),
		Icon:        scalar(doc.Get("icon")),
		SHA256:      scalar(doc.Get("sha256")),
	}
	perms := doc.Get(permissionsField)
	switch {
	case !perms.Exists() || perms.Type == gjson.Null:
	case perms.IsArray():
		for _, item := range perms.Array() {
			m.Permissions = append(m.Permissions, scalar(item))
		}
	default:
		m.permissionsBadShape = !isFalsy(perms)
	}
	deps := doc.Get("dependencies")
	if deps.IsObject() {
		m.Dependencies = map[string]string{}
		deps.ForEach(func(key, value gjson.Result) bool {
			m.Dependencies[key.String()] = scalar(value)
			return true
		})
	}
	return m, nil
}

// Validate checks the descriptor fields against pluginID. Asset reachability
// is the scanner's job.
func (m Manifest) Validate(pluginID string) []ValidationError {
	errs := []ValidationError{}
	if m.ID == "" {
		errs = append(errs, MissingField("id"))
	} else if m.ID != pluginID {
		errs = append(errs, IDMismatch(m.ID, pluginID))
	}
	if m.Name == "" {
		errs = append(errs, MissingField("name"))
	}
	if m.Version == "" {
		errs = append(errs, MissingField("version"))
	} else if !versionPattern.MatchString(m.Version) {
		errs = append(errs, BadVersionFormat(m.Version))
	}
	if m.Entry == "" {
		errs = append(errs, MissingField("entry"))
	}
	if m.Type != "" && m.Type != TypeSource && m.Type != TypeCompiled {
		errs = append(errs, BadType(string(m.Type)))
	}
	if m.permissionsBadShape {
		errs = append(errs, BadPermissionsShape())
	}
	for _, p := range m.Permissions {
		if err := ValidatePermissionString(p); err != nil {
			errs = append(errs, UnknownPermission(p))
		}
	}
	if m.SHA256 != "" && !sha256Pattern.MatchString(m.SHA256) {
		errs = append(errs, ValidationError{Kind: KindChecksumMismatch, Field: "sha256", Message: "sha256 must be lowercase 64-char hex"})
	}
	return errs
}

// EntryPath is the entry relative to the plugin base, index.js when unset.
func (m Manifest) EntryPath() string {
	if m.Entry == "" {
		return DefaultEntry
	}
	return m.Entry
}

func (m Manifest) DependencyIDs() []string {
	ids := make([]string, 0, len(m.Dependencies))
	for id := range m.Dependencies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func scalar(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Null:
		return ""
	case gjson.False:
		return ""
	default:
		if !r.Exists() {
			return ""
		}
		return r.Raw
	}
}

func isFalsy(r gjson.Result) bool {
	switch r.Type {
	case gjson.False, gjson.Null:
		return true
	case gjson.String:
		return r.Str == ""
	case gjson.Number:
		return r.Num == 0
	default:
		return false
	}
}
