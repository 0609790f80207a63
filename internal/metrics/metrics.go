package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for batch capture runs.
// In-memory only; a run may dump them to a textfile on exit.

var (
	mu              sync.RWMutex
	itemsTotal      = make(map[string]int64)
	itemLatencySum  = make(map[string]int64)
	itemLatencyCnt  = make(map[string]int64)
	fieldsTotal     = make(map[fieldKey]int64)
	stepFailures    = make(map[string]int64)
	checkpointFails int64
	mirrorFails     = make(map[string]int64)

	retentionArtifactsDeleted int64
)

type fieldKey struct {
	Field    string
	Captured string
}

// RecordItem increments the per-outcome item counter and records latency.
func RecordItem(outcome string, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	itemsTotal[outcome]++
	itemLatencySum[outcome] += latencyMs
	itemLatencyCnt[outcome]++
}

// RecordField counts whether a demographic field was captured.
func RecordField(field string, captured bool) {
	mu.Lock()
	defer mu.Unlock()

	c := "false"
	if captured {
		c = "true"
	}
	fieldsTotal[fieldKey{Field: field, Captured: c}]++
}

// RecordStepFailure counts failures of a session step (search, select...).
func RecordStepFailure(step string) {
	mu.Lock()
	defer mu.Unlock()
	stepFailures[step]++
}

// RecordCheckpointWriteError counts checkpoint writes that failed.
func RecordCheckpointWriteError() {
	mu.Lock()
	defer mu.Unlock()
	checkpointFails++
}

// RecordMirrorWriteError counts failed writes to a secondary record sink.
func RecordMirrorWriteError(mirror string) {
	mu.Lock()
	defer mu.Unlock()
	mirrorFails[mirror]++
}

// RecordRetentionArtifacts increments the counter of diagnostic
// artifacts deleted by retention cleanup.
func RecordRetentionArtifacts(deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionArtifactsDeleted += deleted
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP prontuario_items_total Worklist items processed by outcome\n")
	b.WriteString("# TYPE prontuario_items_total counter\n")

	outcomes := sortedKeys(itemsTotal)
	for _, o := range outcomes {
		fmt.Fprintf(&b, "prontuario_items_total{outcome=\"%s\"} %d\n", o, itemsTotal[o])
	}

	b.WriteString("# HELP prontuario_item_duration_ms_sum Total item processing time in milliseconds\n")
	b.WriteString("# TYPE prontuario_item_duration_ms_sum counter\n")
	b.WriteString("# HELP prontuario_item_duration_ms_count Item count for latency metric\n")
	b.WriteString("# TYPE prontuario_item_duration_ms_count counter\n")

	for _, o := range sortedKeys(itemLatencySum) {
		fmt.Fprintf(&b, "prontuario_item_duration_ms_sum{outcome=\"%s\"} %d\n", o, itemLatencySum[o])
		fmt.Fprintf(&b, "prontuario_item_duration_ms_count{outcome=\"%s\"} %d\n", o, itemLatencyCnt[o])
	}

	b.WriteString("# HELP prontuario_fields_total Demographic fields by capture result\n")
	b.WriteString("# TYPE prontuario_fields_total counter\n")

	var fKeys []fieldKey
	for k := range fieldsTotal {
		fKeys = append(fKeys, k)
	}
	sort.Slice(fKeys, func(i, j int) bool {
		if fKeys[i].Field != fKeys[j].Field {
			return fKeys[i].Field < fKeys[j].Field
		}
		return fKeys[i].Captured < fKeys[j].Captured
	})
	for _, k := range fKeys {
		fmt.Fprintf(&b, "prontuario_fields_total{field=\"%s\",captured=\"%s\"} %d\n", k.Field, k.Captured, fieldsTotal[k])
	}

	b.WriteString("# HELP prontuario_step_failures_total Session step failures\n")
	b.WriteString("# TYPE prontuario_step_failures_total counter\n")
	for _, s := range sortedKeys(stepFailures) {
		fmt.Fprintf(&b, "prontuario_step_failures_total{step=\"%s\"} %d\n", s, stepFailures[s])
	}

	b.WriteString("# HELP prontuario_checkpoint_write_errors_total Failed checkpoint writes\n")
	b.WriteString("# TYPE prontuario_checkpoint_write_errors_total counter\n")
	fmt.Fprintf(&b, "prontuario_checkpoint_write_errors_total %d\n", checkpointFails)

	b.WriteString("# HELP prontuario_mirror_write_errors_total Failed record writes to a mirror sink\n")
	b.WriteString("# TYPE prontuario_mirror_write_errors_total counter\n")
	for _, m := range sortedKeys(mirrorFails) {
		fmt.Fprintf(&b, "prontuario_mirror_write_errors_total{mirror=\"%s\"} %d\n", m, mirrorFails[m])
	}

	b.WriteString("# HELP prontuario_retention_artifacts_deleted_total Diagnostic artifacts deleted by retention\n")
	b.WriteString("# TYPE prontuario_retention_artifacts_deleted_total counter\n")
	fmt.Fprintf(&b, "prontuario_retention_artifacts_deleted_total %d\n", retentionArtifactsDeleted)

	return b.String()
}

// WriteTextfile writes Export() to path through a temp file and rename,
// so a textfile collector never reads a partial file.
func WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".metrics-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(Export()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
