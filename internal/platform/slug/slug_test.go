package slug_test

import (
	"strings"
	"testing"

	"plughost/internal/platform/slug"
)

func TestMake(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"Weather Widget": "weather-widget",
		"../../etc":      "etc",
		"@acme/clock":    "acme-clock",
		"   ":            "plugin",
	}
	for in, want := range cases {
		if got := slug.Make(in); got != want {
			t.Fatalf("Make(%q): want %q got %q", in, want, got)
		}
	}
}

func TestUniqueSeparatesCollidingIDs(t *testing.T) {
	t.Parallel()
	a, b := slug.Unique("acme.clock"), slug.Unique("acme-clock")
	if a == b {
		t.Fatalf("want distinct names, both %q", a)
	}
	if !strings.HasPrefix(a, "acme-clock-") || strings.ContainsAny(a, "./") {
		t.Fatalf("unexpected name %q", a)
	}
}
