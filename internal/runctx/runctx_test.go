package runctx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ifgsweep/internal/services"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "_context.json", `{"ifg_version":"v2.0.0","count_to_blacklist":3,"other":"ignored"}`)
	rc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rc.IFGVersion != "v2.0.0" || rc.CountToBlacklist != 3 {
		t.Fatalf("unexpected context: %+v", rc)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "context.yaml", "ifg_version: v1.1\ncount_to_blacklist: 5\n")
	rc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rc.IFGVersion != "v1.1" || rc.CountToBlacklist != 5 {
		t.Fatalf("unexpected context: %+v", rc)
	}
}

func TestLoadFailuresAreContextLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(t.TempDir(), "absent.json")},
		{name: "unparseable", path: writeFile(t, "bad.json", `{"ifg_version":`)},
		{name: "missing version", path: writeFile(t, "nover.json", `{"count_to_blacklist":2}`)},
		{name: "zero threshold", path: writeFile(t, "zero.json", `{"ifg_version":"v1","count_to_blacklist":0}`)},
		{name: "negative threshold", path: writeFile(t, "neg.json", `{"ifg_version":"v1","count_to_blacklist":-1}`)},
		{name: "empty path", path: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, services.ErrContextLoad) {
				t.Fatalf("expected ErrContextLoad, got %v", err)
			}
		})
	}
}

func TestWithOverrides(t *testing.T) {
	base := Context{IFGVersion: "v1", CountToBlacklist: 3}
	got, err := base.WithOverrides("v2", 7)
	if err != nil {
		t.Fatalf("WithOverrides: %v", err)
	}
	if got.IFGVersion != "v2" || got.CountToBlacklist != 7 {
		t.Fatalf("unexpected override result: %+v", got)
	}
	if base.IFGVersion != "v1" {
		t.Fatal("original context mutated")
	}
	kept, err := base.WithOverrides(" ", 0)
	if err != nil || kept != base {
		t.Fatalf("expected no-op override, got %+v err=%v", kept, err)
	}
	if _, err := base.WithOverrides("", -2); !errors.Is(err, services.ErrContextLoad) {
		t.Fatalf("expected ErrContextLoad for negative threshold, got %v", err)
	}
}
