package preflight_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ifgsweep/internal/preflight"
	"ifgsweep/internal/search"
	"ifgsweep/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := preflight.CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := preflight.CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckIndex_OK(t *testing.T) {
	index := testsupport.NewFakeIndex(t)
	index.Add("grq_v1_ifg-cfg", testsupport.SceneDoc("grq_v1_ifg-cfg", "c1", []string{"A"}, []string{"B"}))

	result := preflight.CheckIndex(context.Background(), "GRQ", search.Config{BaseURL: index.URL()}, "grq_v1_ifg-cfg")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "1 records") {
		t.Fatalf("detail = %q", result.Detail)
	}
}

func TestCheckIndex_ServerError(t *testing.T) {
	index := testsupport.NewFakeIndex(t)
	index.FailNext("grq_*_ifg", http.StatusServiceUnavailable)

	result := preflight.CheckIndex(context.Background(), "Mozart", search.Config{BaseURL: index.URL()}, "grq_*_ifg")
	if result.Passed {
		t.Fatal("expected failure for 503")
	}
	if !strings.Contains(result.Detail, "503") {
		t.Fatalf("detail = %q", result.Detail)
	}
	if n := index.RequestCount("grq_*_ifg"); n != 1 {
		t.Fatalf("readiness check must not retry, got %d requests", n)
	}
}

func TestCheckIndex_MissingURL(t *testing.T) {
	result := preflight.CheckIndex(context.Background(), "GRQ", search.Config{}, "grq_*_ifg")
	if result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestCheckLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	if result := preflight.CheckLedger("Ledger", path); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected ledger file: %v", err)
	}
}

func TestRunAll(t *testing.T) {
	index := testsupport.NewFakeIndex(t)
	cfg := testsupport.NewConfig(t, testsupport.WithIndex(index))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := preflight.RunAll(context.Background(), cfg, "v1")
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %+v", results)
	}
	if preflight.Failed(results) {
		t.Fatalf("expected all checks to pass: %+v", results)
	}
	if !strings.Contains(results[2].Detail, "grq_v1_ifg-cfg") {
		t.Fatalf("GRQ check should probe the versioned configs collection: %+v", results[2])
	}

	cfg = testsupport.NewConfig(t, testsupport.WithLedgerDisabled())
	results = preflight.RunAll(context.Background(), cfg, "")
	if len(results) != 3 || !preflight.Failed(results) {
		t.Fatalf("expected failing checks without a state dir or reachable index: %+v", results)
	}
}
