package service_test

import (
	"reflect"
	"testing"

	"plughost/internal/modules/plugin/domain"
	"plughost/internal/modules/plugin/service"
)

func TestReleaseRemovesOnlyOwnedEntries(t *testing.T) {
	t.Parallel()
	reg := service.NewExtensionRegistry(nil)
	reg.RegisterComponent("sidebar", domain.Contribution{Name: "a1"}, "a")
	reg.RegisterComponent("sidebar", domain.Contribution{Name: "b1"}, "b")
	reg.RegisterAction("toolbar", domain.Contribution{Name: "a-act"}, "a")
	reg.InjectStyle("a", "http://host/plugins/a/style.css")
	reg.MarkLoaded("a")

	before := reg.Components("sidebar")
	if !reg.Release("a") {
		t.Fatalf("expected release to report owned resources")
	}
	if len(before) != 2 {
		t.Fatalf("earlier snapshots must not change after release: %+v", before)
	}
	got := reg.Components("sidebar")
	if len(got) != 1 || got[0].PluginID != "b" {
		t.Fatalf("unexpected components after release: %+v", got)
	}
	if len(reg.Actions("toolbar")) != 0 || len(reg.Styles()) != 0 {
		t.Fatalf("actions and styles of a must be gone")
	}
	if reg.IsLoaded("a") || len(reg.Handles("a")) != 0 {
		t.Fatalf("release must drop handles and loaded state")
	}
	if reg.Release("a") {
		t.Fatalf("second release must be a no-op")
	}
}

func TestSlotsAndClearSlot(t *testing.T) {
	t.Parallel()
	reg := service.NewExtensionRegistry(nil)
	reg.RegisterComponent("sidebar", domain.Contribution{Name: "s"}, "a")
	reg.RegisterComponent("header", domain.Contribution{Name: "h"}, "a")
	reg.RegisterAction("header", domain.Contribution{Name: "act"}, "a")

	if got := reg.Slots(); !reflect.DeepEqual(got, []string{"header", "sidebar"}) {
		t.Fatalf("unexpected slots: %v", got)
	}
	reg.ClearSlot("header")
	if len(reg.Components("header")) != 0 {
		t.Fatalf("clear slot must remove components")
	}
	if len(reg.Actions("header")) != 1 {
		t.Fatalf("clear slot must keep actions")
	}
	if !reg.Release("a") {
		t.Fatalf("release after clear must still succeed")
	}
	if len(reg.Slots()) != 0 {
		t.Fatalf("expected no slots, got %v", reg.Slots())
	}
}

func TestExtensionIDsAreUnique(t *testing.T) {
	t.Parallel()
	reg := service.NewExtensionRegistry(nil)
	first := reg.RegisterComponent("x", domain.Contribution{Name: "a"}, "p")
	second := reg.RegisterComponent("x", domain.Contribution{Name: "a"}, "p")
	if first.ID == second.ID {
		t.Fatalf("identical contributions must get distinct ids")
	}
	reg.Release("p")
	if len(reg.Components("x")) != 0 {
		t.Fatalf("both registrations must be released")
	}
}
