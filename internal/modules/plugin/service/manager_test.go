package service_test

import (
	"context"
	"errors"
	"testing"

	"plughost/internal/modules/plugin/domain"
	"plughost/internal/modules/plugin/service"
)

func resultFor(summary service.InitSummary, pluginID string) service.InitResult {
	for _, r := range summary.Results {
		if r.PluginID == pluginID {
			return r
		}
	}
	return service.InitResult{}
}

func TestInitializeGatesOnGrants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(nil)
	f.assets.addPlugin("free")
	f.assets.addPlugin("granted", "storage:local")
	f.assets.addPlugin("ungranted", "http:external")
	f.assets.put("invalid", domain.ManifestFile, `{"id":"other","name":"X","version":"1.0.0","entry":"index.js"}`)
	for _, id := range []string{"free", "granted", "ungranted"} {
		f.modules.set(id, registering("sidebar", id))
	}
	if err := f.rt.Permissions.Grant(ctx, "granted", []string{"storage:local"}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	summary := f.rt.Manager.Initialize(ctx, []string{"free", "granted", "ungranted", "invalid"}, service.InitOptions{})
	if summary.Total != 4 || summary.Loaded != 2 || summary.Skipped != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if r := resultFor(summary, "ungranted"); r.Status != service.StatusSkipped || r.Reason != domain.ErrPermissionDenied.Error() {
		t.Fatalf("unexpected ungranted result: %+v", r)
	}
	if r := resultFor(summary, "invalid"); r.Status != service.StatusInvalid {
		t.Fatalf("unexpected invalid result: %+v", r)
	}
	if f.rt.Extensions.IsLoaded("ungranted") || !f.rt.Extensions.IsLoaded("free") {
		t.Fatalf("loaded set mismatch: %v", f.rt.Extensions.Loaded())
	}
}

func TestInitializeAutoGrantAndConfirm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(nil)
	f.assets.addPlugin("p1", "ui:*")
	summary := f.rt.Manager.Initialize(ctx, []string{"p1"}, service.InitOptions{AutoGrant: true})
	if summary.Loaded != 1 || !f.rt.Permissions.HasAll("p1", []string{"ui:*"}) {
		t.Fatalf("auto grant must grant and load: %+v", summary)
	}

	f = newFixture(nil)
	f.assets.addPlugin("p1", "ui:modal", "http:external")
	var asked domain.PendingApproval
	confirm := domain.ConfirmFunc(func(_ context.Context, pending domain.PendingApproval) (bool, error) {
		asked = pending
		return true, nil
	})
	summary = f.rt.Manager.Initialize(ctx, []string{"p1"}, service.InitOptions{Confirm: confirm})
	if summary.Loaded != 1 {
		t.Fatalf("confirmed plugin must load: %+v", summary)
	}
	if len(asked.Groups.High) != 1 || len(asked.Groups.Low) != 1 {
		t.Fatalf("confirmation must group by risk: %+v", asked.Groups)
	}

	f = newFixture(nil)
	f.assets.addPlugin("p1", "ui:modal")
	failing := domain.ConfirmFunc(func(context.Context, domain.PendingApproval) (bool, error) {
		return false, errors.New("prompt closed")
	})
	summary = f.rt.Manager.Initialize(ctx, []string{"p1"}, service.InitOptions{Confirm: failing})
	if summary.Skipped != 1 || f.rt.Permissions.Has("p1", domain.PermissionUIModal) {
		t.Fatalf("prompt failure must skip without granting: %+v", summary)
	}
}

func TestInitializeHotReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(nil)
	f.assets.addPlugin("a")
	f.assets.addPlugin("b")
	f.modules.set("a", registering("sidebar", "a"))
	f.modules.set("b", registering("sidebar", "b"))

	f.rt.Manager.Initialize(ctx, []string{"a", "b"}, service.InitOptions{})
	if got := f.rt.Extensions.Loaded(); len(got) != 2 {
		t.Fatalf("expected a and b loaded, got %v", got)
	}

	summary := f.rt.Manager.Initialize(ctx, []string{"a"}, service.InitOptions{})
	if f.rt.Extensions.IsLoaded("b") || len(f.rt.Extensions.Components("sidebar")) != 1 {
		t.Fatalf("b must be unloaded once no longer listed")
	}
	if r := resultFor(summary, "a"); r.Status != service.StatusReloaded {
		t.Fatalf("a must be reloaded under the default policy: %+v", r)
	}

	imports := f.modules.importCount()
	summary = f.rt.Manager.Initialize(ctx, []string{"a"}, service.InitOptions{Reload: service.ReloadChanged})
	if r := resultFor(summary, "a"); r.Status != service.StatusKept || f.modules.importCount() != imports {
		t.Fatalf("ReloadChanged must keep loaded plugins: %+v", r)
	}

	f.assets.put("a", domain.ManifestFile, `{"id":"a"}`)
	f.rt.Manager.Initialize(ctx, []string{"a"}, service.InitOptions{})
	if f.rt.Extensions.IsLoaded("a") {
		t.Fatalf("a plugin that became invalid must be unloaded")
	}
}

func TestInitializeIsolatesFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(nil)
	f.assets.addPlugin("bad")
	f.assets.addPlugin("good")
	f.modules.set("bad", func(context.Context, domain.BootstrapContext) error { return errors.New("boom") })
	f.modules.set("good", registering("sidebar", "good"))

	summary := f.rt.Manager.Initialize(context.Background(), []string{"bad", "good"}, service.InitOptions{})
	if summary.Loaded != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if r := resultFor(summary, "bad"); r.Status != service.StatusFailed || r.Reason == "" {
		t.Fatalf("unexpected bad result: %+v", r)
	}
}
