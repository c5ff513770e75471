package domain

import (
	"fmt"
	"strings"
)

type ValidationKind string

const (
	KindManifestUnavailable  ValidationKind = "manifest_unavailable"
	KindParseFailed          ValidationKind = "parse_failed"
	KindMissingField         ValidationKind = "missing_field"
	KindIDMismatch           ValidationKind = "id_mismatch"
	KindBadVersionFormat     ValidationKind = "bad_version_format"
	KindBadType              ValidationKind = "bad_type"
	KindBadPermissionsShape  ValidationKind = "bad_permissions_shape"
	KindUnknownPermission    ValidationKind = "unknown_permission"
	KindEntryUnreachable     ValidationKind = "entry_unreachable"
	KindStyleUnreachable     ValidationKind = "style_unreachable"
	KindChecksumMismatch     ValidationKind = "checksum_mismatch"
	KindDependencyUnresolved ValidationKind = "dependency_unresolved"
)

// ValidationError is one scan finding. Scans collect every finding instead of
// stopping at the first.
type ValidationError struct {
	Kind    ValidationKind `json:"kind"`
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Message
}

func ManifestUnavailable() ValidationError {
	return ValidationError{Kind: KindManifestUnavailable, Message: "manifest.json not found or inaccessible"}
}

func ParseFailed(cause error) ValidationError {
	return ValidationError{Kind: KindParseFailed, Message: fmt.Sprintf("parse failed: %v", cause)}
}

func MissingField(field string) ValidationError {
	return ValidationError{Kind: KindMissingField, Field: field, Message: "missing required field: " + field}
}

func IDMismatch(manifestID, pluginID string) ValidationError {
	return ValidationError{
		Kind:    KindIDMismatch,
		Field:   "id",
		Message: fmt.Sprintf("manifest id (%s) does not match plugin id (%s)", manifestID, pluginID),
	}
}

func BadVersionFormat(version string) ValidationError {
	return ValidationError{
		Kind:    KindBadVersionFormat,
		Field:   "version",
		Message: fmt.Sprintf("invalid version format: %s (expected x.y.z)", version),
	}
}

func BadType(t string) ValidationError {
	return ValidationError{
		Kind:    KindBadType,
		Field:   "type",
		Message: fmt.Sprintf("invalid type: %s (expected source or compiled)", t),
	}
}

func BadPermissionsShape() ValidationError {
	return ValidationError{Kind: KindBadPermissionsShape, Field: "permissions", Message: "permissions must be an array"}
}

func UnknownPermission(p string) ValidationError {
	return ValidationError{Kind: KindUnknownPermission, Field: "permissions", Message: "unknown permission: " + p}
}

func EntryUnreachable(entry string) ValidationError {
	return ValidationError{Kind: KindEntryUnreachable, Field: "entry", Message: "entry file not found: " + entry}
}

func StyleUnreachable(style string) ValidationError {
	return ValidationError{
		Kind:    KindStyleUnreachable,
		Field:   "style",
		Message: fmt.Sprintf("style file not found: %s (warning)", style),
	}
}

func ChecksumMismatch(entry string) ValidationError {
	return ValidationError{Kind: KindChecksumMismatch, Field: "sha256", Message: "entry checksum mismatch: " + entry}
}

func DependencyUnresolved(id, reason string) ValidationError {
	return ValidationError{
		Kind:    KindDependencyUnresolved,
		Field:   "dependencies",
		Message: fmt.Sprintf("dependency %s unresolved: %s (warning)", id, reason),
	}
}

// JoinMessages renders findings for a single user-facing message.
func JoinMessages(errs []ValidationError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, "; ")
}

func HasKind(errs []ValidationError, kind ValidationKind) bool {
	for _, e := range errs {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
