package service_test

import (
	"context"
	"testing"
	"time"

	"plughost/internal/modules/plugin/domain"
	"plughost/internal/modules/plugin/service"
)

func newScanner(assets *memAssets) *service.Scanner {
	return service.NewScanner(assets, testRoot, "", time.Second, nil, nil)
}

func TestScanValidPlugin(t *testing.T) {
	t.Parallel()
	assets := newMemAssets()
	assets.put("wk-checkin", domain.ManifestFile, `{"id":"wk-checkin","name":"Check-in","version":"1.2.0","type":"source","entry":"index.js","permissions":["storage:local","ui:*"]}`)
	assets.put("wk-checkin", "index.js", "export default {}")

	info := newScanner(assets).Scan(context.Background(), "wk-checkin")
	if !info.Valid {
		t.Fatalf("expected valid plugin, got errors %v", info.Errors)
	}
	if info.Name != "Check-in" || info.Version != "1.2.0" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if len(info.Permissions) != 2 || info.Permissions[1] != "ui:*" {
		t.Fatalf("declared permissions must be kept verbatim: %v", info.Permissions)
	}
}

func TestScanResolvesPageRelativeRootAgainstOrigin(t *testing.T) {
	t.Parallel()
	assets := newMemAssets()
	base := "http://host.test/plugins/wk-checkin/"
	assets.files[base+domain.ManifestFile] = []byte(`{"id":"wk-checkin","name":"Check-in","version":"1.0.0","entry":"index.js","style":"style.css"}`)
	assets.files[base+"index.js"] = []byte("export default {}")
	assets.files[base+"style.css"] = []byte("body{}")

	scanner := service.NewScanner(assets, "/plugins", "http://host.test", time.Second, nil, nil)
	if got := scanner.BaseURL("wk-checkin"); got != base {
		t.Fatalf("base url: want %q got %q", base, got)
	}
	info := scanner.Scan(context.Background(), "wk-checkin")
	if !info.Valid || len(info.Warnings) != 0 {
		t.Fatalf("expected valid plugin without warnings, got errors %v warnings %v", info.Errors, info.Warnings)
	}

	bare := service.NewScanner(assets, "/plugins", "", time.Second, nil, nil)
	if got := bare.BaseURL("wk-checkin"); got != "/plugins/wk-checkin/" {
		t.Fatalf("without origin the root stays as configured, got %q", got)
	}
}

func TestScanPlaceholders(t *testing.T) {
	t.Parallel()
	assets := newMemAssets()
	assets.put("broken", domain.ManifestFile, `{"id":`)
	scanner := newScanner(assets)

	cases := []struct {
		name string
		id   string
		kind domain.ValidationKind
	}{
		{name: "missing manifest", id: "ghost", kind: domain.KindManifestUnavailable},
		{name: "malformed json", id: "broken", kind: domain.KindParseFailed},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			info := scanner.Scan(context.Background(), tc.id)
			if info.Valid || info.Name != tc.id || info.Version != domain.UnknownVersion {
				t.Fatalf("unexpected placeholder: %+v", info)
			}
			if len(info.Errors) != 1 || info.Errors[0].Kind != tc.kind {
				t.Fatalf("expected single %s error, got %+v", tc.kind, info.Errors)
			}
		})
	}
}

func TestScanMissingEntryIsErrorMissingStyleIsWarning(t *testing.T) {
	t.Parallel()
	assets := newMemAssets()
	assets.put("p1", domain.ManifestFile, `{"id":"p1","name":"P1","version":"1.0.0","type":"source","entry":"main.js","style":"style.css"}`)

	info := newScanner(assets).Scan(context.Background(), "p1")
	if info.Valid {
		t.Fatalf("unreachable entry must invalidate the plugin")
	}
	if !domain.HasKind(info.Errors, domain.KindEntryUnreachable) {
		t.Fatalf("expected entry error, got %+v", info.Errors)
	}
	if domain.HasKind(info.Errors, domain.KindStyleUnreachable) || !domain.HasKind(info.Warnings, domain.KindStyleUnreachable) {
		t.Fatalf("missing style must be a warning only: errors=%+v warnings=%+v", info.Errors, info.Warnings)
	}

	assets.put("p1", "main.js", "export default {}")
	info = newScanner(assets).Scan(context.Background(), "p1")
	if !info.Valid || len(info.Warnings) != 1 {
		t.Fatalf("expected valid plugin with style warning, got %+v", info)
	}
}

func TestScanDependencyWarnings(t *testing.T) {
	t.Parallel()
	assets := newMemAssets()
	assets.addPlugin("base")
	assets.put("child", domain.ManifestFile, `{"id":"child","name":"Child","version":"1.0.0","type":"source","entry":"index.js","dependencies":{"base":"^2.0.0","absent":"*"}}`)
	assets.put("child", "index.js", "export default {}")

	info := newScanner(assets).Scan(context.Background(), "child")
	if !info.Valid {
		t.Fatalf("dependency problems must not invalidate: %+v", info.Errors)
	}
	if len(info.Warnings) != 2 {
		t.Fatalf("expected two dependency warnings, got %+v", info.Warnings)
	}
	for _, w := range info.Warnings {
		if w.Kind != domain.KindDependencyUnresolved {
			t.Fatalf("unexpected warning kind: %+v", w)
		}
	}
}

func TestScanAllKeepsOrderAndCounts(t *testing.T) {
	t.Parallel()
	assets := newMemAssets()
	assets.addPlugin("a")
	assets.addPlugin("c")

	result := newScanner(assets).ScanAll(context.Background(), []string{"c", "b", "a"})
	if result.Total != 3 || result.Valid != 2 || result.Invalid != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	order := []string{result.Plugins[0].ID, result.Plugins[1].ID, result.Plugins[2].ID}
	if order[0] != "c" || order[1] != "b" || order[2] != "a" {
		t.Fatalf("scan order not preserved: %v", order)
	}
}

func TestResolveURL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		base   string
		rel    string
		origin string
		want   string
	}{
		{name: "relative entry", base: "http://host/plugins/p1/", rel: "index.js", want: "http://host/plugins/p1/index.js"},
		{name: "parent segment", base: "http://host/plugins/p1/", rel: "../shared/a.js", want: "http://host/plugins/shared/a.js"},
		{name: "absolute rel wins", base: "http://host/plugins/p1/", rel: "https://cdn.example/x.js", want: "https://cdn.example/x.js"},
		{name: "path base uses origin", base: "/plugins/p1/", rel: "style.css", origin: "http://localhost:8080", want: "http://localhost:8080/plugins/p1/style.css"},
		{name: "path base without origin", base: "/plugins/p1/", rel: "style.css", want: "style.css"},
		{name: "unparseable base", base: "http://[::1", rel: "x.js", want: "x.js"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := service.ResolveURL(tc.base, tc.rel, tc.origin); got != tc.want {
				t.Fatalf("ResolveURL(%q, %q) = %q, want %q", tc.base, tc.rel, got, tc.want)
			}
		})
	}
}
