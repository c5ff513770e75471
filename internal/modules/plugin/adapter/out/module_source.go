package out

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
)

// fetchEntry downloads the entry and checks it against the manifest digest.
func fetchEntry(ctx context.Context, assets pluginout.AssetHost, req pluginout.ImportRequest) ([]byte, error) {
	raw, err := assets.Fetch(ctx, req.EntryURL)
	if err != nil {
		return nil, fmt.Errorf("fetch entry: %w", err)
	}
	if err := verifyChecksum(req.Manifest, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func verifyChecksum(manifest domain.Manifest, raw []byte) error {
	if manifest.SHA256 == "" {
		return nil
	}
	sum := sha256.Sum256(raw)
	if got := hex.EncodeToString(sum[:]); got != manifest.SHA256 {
		return fmt.Errorf("%w: %s: got %s", domain.ErrChecksumMismatch, manifest.EntryPath(), got)
	}
	return nil
}

// manifestMap is the plain-data view of a manifest handed to plugin code.
func manifestMap(m domain.Manifest) map[string]any {
	raw, err := json.Marshal(m)
	if err != nil {
		return map[string]any{"id": m.ID}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"id": m.ID}
	}
	return out
}

func grantedStrings(bc domain.BootstrapContext) []string {
	out := []string{}
	for _, info := range domain.Permissions() {
		if bc.Host.HasPermission(info.Permission) {
			out = append(out, string(info.Permission))
		}
	}
	return out
}
