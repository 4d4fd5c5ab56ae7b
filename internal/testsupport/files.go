package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// WriteRunContext writes a _context.json at path with the given fields.
func WriteRunContext(t testing.TB, path, version string, threshold int) string {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"ifg_version":        version,
		"count_to_blacklist": threshold,
	})
	if err != nil {
		t.Fatalf("encode run context: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
