package jobs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleanupExpiredArtifacts(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	old := now.AddDate(0, 0, -10)

	files := map[string]time.Time{
		"page_source_1_20250101_000000.html": old,
		"screenshot_1_20250101_000000.png":   old,
		"page_source_2_20250101_000000.md":   now,
		"paciente_1_20250101_000000.json":    old,
	}
	for name, mt := range files {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	stats, err := CleanupExpiredArtifacts(dir, 7, now)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if stats.ArtifactsDeleted != 2 {
		t.Fatalf("expected 2 deletions, got %d", stats.ArtifactsDeleted)
	}
	for _, keep := range []string{"page_source_2_20250101_000000.md", "paciente_1_20250101_000000.json"} {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Fatalf("expected %s to be kept: %v", keep, err)
		}
	}
}

func TestCleanupExpiredArtifactsDisabled(t *testing.T) {
	stats, err := CleanupExpiredArtifacts(filepath.Join(t.TempDir(), "missing"), 0, time.Now())
	if err != nil || stats.ArtifactsDeleted != 0 {
		t.Fatalf("expected no-op, got %+v %v", stats, err)
	}
}
