package slug

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var nonAlphaNum = regexp.MustCompile(`[^a-z0-9]+`)

// Make lowercases input and collapses everything outside [a-z0-9] into
// single dashes.
func Make(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	s = nonAlphaNum.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "plugin"
	}
	return s
}

// Unique is Make plus a short digest of the raw input, so ids that slug the
// same still map to distinct names.
func Unique(input string) string {
	sum := sha256.Sum256([]byte(input))
	return Make(input) + "-" + hex.EncodeToString(sum[:4])
}
