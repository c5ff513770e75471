package out

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	pluginout "plughost/internal/modules/plugin/port/out"
)

const maxAssetBytes = 32 << 20

var ErrUnsupportedScheme = errors.New("unsupported asset url scheme")

// HTTPAssetHost fetches plugin assets over http and https.
type HTTPAssetHost struct {
	client *http.Client
}

func NewHTTPAssetHost(timeout time.Duration) *HTTPAssetHost {
	return &HTTPAssetHost{client: &http.Client{Timeout: timeout}}
}

func (h *HTTPAssetHost) Fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return body, nil
}

// Exists probes with HEAD and retries with GET for servers that refuse HEAD.
func (h *HTTPAssetHost) Exists(ctx context.Context, target string) bool {
	status, err := h.probe(ctx, http.MethodHead, target)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = h.probe(ctx, http.MethodGet, target)
	}
	return err == nil && status >= 200 && status <= 299
}

func (h *HTTPAssetHost) probe(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// FileAssetHost reads file:// URLs from the local filesystem.
type FileAssetHost struct{}

func NewFileAssetHost() FileAssetHost {
	return FileAssetHost{}
}

func (FileAssetHost) Fetch(ctx context.Context, target string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := FilePath(target)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

func (FileAssetHost) Exists(_ context.Context, target string) bool {
	path, err := FilePath(target)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FilePath converts a file:// URL into a local path.
func FilePath(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse asset url: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

// AssetMux routes asset requests to a host by URL scheme.
type AssetMux struct {
	hosts map[string]pluginout.AssetHost
}

func NewAssetMux(httpHost pluginout.AssetHost, fileHost pluginout.AssetHost) *AssetMux {
	return &AssetMux{hosts: map[string]pluginout.AssetHost{
		"http":  httpHost,
		"https": httpHost,
		"file":  fileHost,
	}}
}

func (m *AssetMux) Fetch(ctx context.Context, target string) ([]byte, error) {
	host, err := m.route(target)
	if err != nil {
		return nil, err
	}
	return host.Fetch(ctx, target)
}

func (m *AssetMux) Exists(ctx context.Context, target string) bool {
	host, err := m.route(target)
	if err != nil {
		return false
	}
	return host.Exists(ctx, target)
}

func (m *AssetMux) route(target string) (pluginout.AssetHost, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse asset url: %w", err)
	}
	host, ok := m.hosts[u.Scheme]
	if !ok || host == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return host, nil
}
