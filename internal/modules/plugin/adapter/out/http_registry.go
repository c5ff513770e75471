package out

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
	apperrors "plughost/internal/platform/errors"
)

const registryAPIPath = "/api/v1/plugins"

// HTTPRegistry talks to a plugin registry service over its REST API. Every
// response is a {code, message, data} envelope.
type HTTPRegistry struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPRegistry(baseURL, token string, timeout time.Duration) *HTTPRegistry {
	return &HTTPRegistry{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (r *HTTPRegistry) ListInstalled(ctx context.Context) ([]domain.InstallRecord, error) {
	var out []domain.InstallRecord
	if err := r.do(ctx, http.MethodGet, "/installed", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *HTTPRegistry) ListEnabled(ctx context.Context) ([]string, error) {
	out := []string{}
	if err := r.do(ctx, http.MethodGet, "/enabled", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *HTTPRegistry) Install(ctx context.Context, req pluginout.InstallRequest) (domain.InstallRecord, error) {
	body := map[string]any{
		"pluginId":           req.PluginID,
		"pluginName":         req.PluginName,
		"pluginVersion":      req.PluginVersion,
		"grantedPermissions": req.GrantedPermissions,
	}
	var out domain.InstallRecord
	if err := r.do(ctx, http.MethodPost, "/install", body, &out); err != nil {
		return domain.InstallRecord{}, err
	}
	return out, nil
}

func (r *HTTPRegistry) Uninstall(ctx context.Context, pluginID string) error {
	return r.do(ctx, http.MethodDelete, "/"+url.PathEscape(pluginID), nil, nil)
}

func (r *HTTPRegistry) UpdateStatus(ctx context.Context, pluginID string, enabled bool) error {
	return r.do(ctx, http.MethodPut, "/"+url.PathEscape(pluginID)+"/status", map[string]bool{"enabled": enabled}, nil)
}

func (r *HTTPRegistry) GetPermissions(ctx context.Context, pluginID string) ([]string, error) {
	out := []string{}
	if err := r.do(ctx, http.MethodGet, "/"+url.PathEscape(pluginID)+"/permissions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *HTTPRegistry) UpdatePermissions(ctx context.Context, pluginID string, permissions []string) error {
	if permissions == nil {
		permissions = []string{}
	}
	return r.do(ctx, http.MethodPut, "/"+url.PathEscape(pluginID)+"/permissions", map[string][]string{"permissions": permissions}, nil)
}

func (r *HTTPRegistry) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode registry request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+registryAPIPath+path, reader)
	if err != nil {
		return fmt.Errorf("build registry request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRegistryUnavailable, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAssetBytes)).Decode(&env); err != nil {
		return fmt.Errorf("%w: decode %s %s: http %d: %v", domain.ErrRegistryUnavailable, method, path, resp.StatusCode, err)
	}
	code := env.Code
	if resp.StatusCode >= 300 {
		code = resp.StatusCode
	}
	if code != http.StatusOK {
		return fmt.Errorf("%w: %s %s: %s", registryError(code), method, path, env.Message)
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode registry data: %w", err)
		}
	}
	return nil
}

func registryError(code int) error {
	switch code {
	case http.StatusBadRequest:
		return apperrors.ErrInvalidInput
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.ErrUnauthorized
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusConflict:
		return apperrors.ErrAlreadyExists
	default:
		return domain.ErrRegistryUnavailable
	}
}
