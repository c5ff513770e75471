package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
)

const defaultFetchTimeout = 10 * time.Second

// Scanner fetches and validates plugin manifests from the asset host.
type Scanner struct {
	assets  pluginout.AssetHost
	root    string
	origin  string
	timeout time.Duration
	logger  hclog.Logger
	tracer  trace.Tracer
}

func NewScanner(assets pluginout.AssetHost, root, origin string, timeout time.Duration, logger hclog.Logger, tracer trace.Tracer) *Scanner {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Scanner{
		assets:  assets,
		root:    root,
		origin:  origin,
		timeout: timeout,
		logger:  loggerOrNull(logger).Named("scanner"),
		tracer:  tracerOrNoop(tracer),
	}
}

// BaseURL is the directory URL of a plugin under the root, with a trailing
// slash. A page-relative root is resolved against the origin.
func (s *Scanner) BaseURL(pluginID string) string {
	base := PluginBaseURL(s.root, pluginID)
	if u, err := url.Parse(base); err == nil && !u.IsAbs() {
		if abs := ResolveURL(base, ".", s.origin); abs != "." {
			return abs
		}
	}
	return base
}

func PluginBaseURL(root, pluginID string) string {
	return strings.TrimRight(root, "/") + "/" + url.PathEscape(pluginID) + "/"
}

// FetchManifest downloads and parses the manifest without validating it.
func (s *Scanner) FetchManifest(ctx context.Context, pluginID string) (domain.Manifest, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.assets.Fetch(fetchCtx, s.BaseURL(pluginID)+domain.ManifestFile)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: %s: %v", domain.ErrManifestUnavailable, pluginID, err)
	}
	m, err := domain.ParseManifest(raw)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("parse manifest %s: %w", pluginID, err)
	}
	return m, nil
}

// Scan never fails: every problem is reported inside the returned info.
func (s *Scanner) Scan(ctx context.Context, pluginID string) domain.PluginInfo {
	ctx, span := s.tracer.Start(ctx, "plugin.scan", trace.WithAttributes(attribute.String("plugin.id", pluginID)))
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	raw, err := s.assets.Fetch(fetchCtx, s.BaseURL(pluginID)+domain.ManifestFile)
	cancel()
	if err != nil {
		s.logger.Warn("manifest unavailable", "plugin", pluginID, "error", err)
		span.SetAttributes(attribute.Bool("plugin.valid", false))
		return domain.Placeholder(pluginID, domain.ManifestUnavailable())
	}
	manifest, err := domain.ParseManifest(raw)
	if err != nil {
		s.logger.Warn("manifest parse failed", "plugin", pluginID, "error", err)
		span.SetAttributes(attribute.Bool("plugin.valid", false))
		return domain.Placeholder(pluginID, domain.ParseFailed(err))
	}

	errs := manifest.Validate(pluginID)
	warnings := []domain.ValidationError{}
	base := s.BaseURL(pluginID)
	if manifest.Entry != "" && !s.exists(ctx, ResolveURL(base, manifest.Entry, s.origin)) {
		errs = append(errs, domain.EntryUnreachable(manifest.Entry))
	}
	if manifest.Style != "" && !s.exists(ctx, ResolveURL(base, manifest.Style, s.origin)) {
		warnings = append(warnings, domain.StyleUnreachable(manifest.Style))
	}
	warnings = append(warnings, s.checkDependencies(ctx, manifest)...)

	info := domain.PluginInfo{
		ID:          orDefault(manifest.ID, pluginID),
		Name:        orDefault(manifest.Name, pluginID),
		Version:     orDefault(manifest.Version, domain.UnknownVersion),
		Description: manifest.Description,
		Author:      manifest.Author,
		Manifest:    &manifest,
		Valid:       len(errs) == 0,
		Errors:      errs,
		Warnings:    warnings,
		Permissions: append([]string{}, manifest.Permissions...),
	}
	span.SetAttributes(attribute.Bool("plugin.valid", info.Valid), attribute.Int("plugin.errors", len(errs)))
	if !info.Valid {
		s.logger.Warn("plugin invalid", "plugin", pluginID, "errors", domain.JoinMessages(errs))
	}
	for _, w := range warnings {
		s.logger.Warn("plugin warning", "plugin", pluginID, "warning", w.Message)
	}
	return info
}

// ScanAll scans every id concurrently; results keep the input order.
func (s *Scanner) ScanAll(ctx context.Context, pluginIDs []string) domain.ScanResult {
	ctx, span := s.tracer.Start(ctx, "plugin.scan_all", trace.WithAttributes(attribute.Int("plugin.count", len(pluginIDs))))
	defer span.End()

	plugins := make([]domain.PluginInfo, len(pluginIDs))
	var wg sync.WaitGroup
	for i, id := range pluginIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			plugins[i] = s.Scan(ctx, id)
		}(i, id)
	}
	wg.Wait()

	valid := 0
	for _, p := range plugins {
		if p.Valid {
			valid++
		}
	}
	s.logger.Info("scan complete", "total", len(plugins), "valid", valid, "invalid", len(plugins)-valid)
	return domain.ScanResult{Total: len(plugins), Valid: valid, Invalid: len(plugins) - valid, Plugins: plugins}
}

func (s *Scanner) exists(ctx context.Context, target string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.assets.Exists(probeCtx, target)
}

// checkDependencies reports unresolved or mismatched dependencies as warnings.
func (s *Scanner) checkDependencies(ctx context.Context, manifest domain.Manifest) []domain.ValidationError {
	warnings := []domain.ValidationError{}
	for _, depID := range manifest.DependencyIDs() {
		dep, err := s.FetchManifest(ctx, depID)
		if err != nil {
			warnings = append(warnings, domain.DependencyUnresolved(depID, "manifest not found"))
			continue
		}
		constraint := manifest.Dependencies[depID]
		ok, err := domain.SatisfiesConstraint(dep.Version, constraint)
		switch {
		case err != nil:
			warnings = append(warnings, domain.DependencyUnresolved(depID, err.Error()))
		case !ok:
			warnings = append(warnings, domain.DependencyUnresolved(depID, fmt.Sprintf("version %s does not satisfy %s", dep.Version, constraint)))
		}
	}
	return warnings
}

// ResolveURL resolves rel against base. A base without a scheme is made
// absolute against origin first. On any failure rel is returned unchanged.
func ResolveURL(base, rel, origin string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return rel
	}
	if !baseURL.IsAbs() {
		if origin == "" {
			return rel
		}
		originURL, err := url.Parse(origin)
		if err != nil || !originURL.IsAbs() {
			return rel
		}
		baseURL = originURL.ResolveReference(baseURL)
	}
	relURL, err := url.Parse(rel)
	if err != nil {
		return rel
	}
	return baseURL.ResolveReference(relURL).String()
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
