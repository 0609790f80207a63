package jobs

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JVLegend/iausp-prontuario/internal/metrics"
)

// RetentionStats captures the number of artifacts deleted by cleanup.
type RetentionStats struct {
	ArtifactsDeleted int64 `json:"artifactsDeleted"`
}

var diagnosticPrefixes = []string{"page_source_", "screenshot_"}

// CleanupExpiredArtifacts deletes diagnostic snapshots older than days
// from dir so that debugging output does not grow without bound.
// Patient records are never touched.
func CleanupExpiredArtifacts(dir string, days int, now time.Time) (RetentionStats, error) {
	var stats RetentionStats
	if days <= 0 {
		return stats, nil
	}
	cutoff := now.AddDate(0, 0, -days)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, err
	}

	for _, e := range entries {
		if e.IsDir() || !isDiagnostic(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			stats.ArtifactsDeleted++
		}
	}

	metrics.RecordRetentionArtifacts(stats.ArtifactsDeleted)
	return stats, nil
}

func isDiagnostic(name string) bool {
	for _, p := range diagnosticPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
