package records

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JVLegend/iausp-prontuario/internal/model"
)

func TestWriteRecordKeepsEmptyFields(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, filepath.Join(dir, "errors"), nil)
	rec := model.PatientRecord{Prontuario: "123", NomeRegistro: "JOÃO <SILVA>", DataCaptura: "2025-06-01 14:30:05"}

	path, err := w.Write(rec)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(path) != "paciente_123_20250601_143005.json" {
		t.Fatalf("unexpected file name %q", filepath.Base(path))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "JOÃO <SILVA>") {
		t.Fatalf("expected unescaped UTF-8 output, got %s", raw)
	}
	var doc map[string]string
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc) != 8 {
		t.Fatalf("expected 8 fields, got %d: %v", len(doc), doc)
	}
	if v, ok := doc["cpf"]; !ok || v != "" {
		t.Fatalf("expected empty cpf to be present, got %q (present=%v)", v, ok)
	}
}

func TestWriteDiagnosticsHonorsFormats(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, filepath.Join(dir, "errors"), []string{"html", "markdown"})
	snap := Snapshot{
		URL:        "http://pep.example/#/h/1",
		HTML:       "<html><body><h1>Paciente</h1><p>CPF: 1</p></body></html>",
		Screenshot: []byte{0x89, 'P', 'N', 'G'},
	}
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)

	paths, err := w.WriteDiagnostics("55", at, snap)
	if err != nil {
		t.Fatalf("WriteDiagnostics: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected html and markdown only, got %v", paths)
	}
	md, err := os.ReadFile(filepath.Join(dir, "page_source_55_20250102_030405.md"))
	if err != nil {
		t.Fatalf("read markdown: %v", err)
	}
	if !strings.Contains(string(md), "# Paciente") {
		t.Fatalf("expected markdown heading, got %q", md)
	}
	if _, err := os.Stat(filepath.Join(dir, "screenshot_55_20250102_030405.png")); !os.IsNotExist(err) {
		t.Fatalf("expected no screenshot when format is disabled")
	}
}

func TestWriteErrorGoesToErrorsDir(t *testing.T) {
	dir := t.TempDir()
	errDir := filepath.Join(dir, "errors")
	w := NewWriter(dir, errDir, []string{"screenshot"})
	w.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local) }

	paths, err := w.WriteError("erro_login", Snapshot{Screenshot: []byte("png")})
	if err != nil {
		t.Fatalf("WriteError: %v", err)
	}
	if len(paths) != 1 || filepath.Dir(paths[0]) != errDir {
		t.Fatalf("unexpected paths %v", paths)
	}
	if filepath.Base(paths[0]) != "screenshot_erro_login_20250101_000000.png" {
		t.Fatalf("unexpected name %q", filepath.Base(paths[0]))
	}
}

type failingSink struct{ calls int }

func (f *failingSink) SavePatient(context.Context, model.PatientRecord, []string) error {
	f.calls++
	return errors.New("db down")
}

func TestMultiSinkCallsEverySink(t *testing.T) {
	dir := t.TempDir()
	bad := &failingSink{}
	sink := MultiSink{bad, NewWriter(dir, dir, nil), nil}

	err := sink.SavePatient(context.Background(), model.PatientRecord{Prontuario: "1"}, nil)
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if bad.calls != 1 {
		t.Fatalf("expected failing sink to be called once, got %d", bad.calls)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected file sink to still write, got %d entries", len(entries))
	}
}

func TestMirrorFailureDoesNotFailItem(t *testing.T) {
	dir := t.TempDir()
	db := &failingSink{}
	sink := MultiSink{
		NewWriter(dir, dir, nil),
		Mirror{Sink: db, Name: "postgres", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
	}

	if err := sink.SavePatient(context.Background(), model.PatientRecord{Prontuario: "7"}, nil); err != nil {
		t.Fatalf("expected mirror failure to be swallowed, got %v", err)
	}
	if db.calls != 1 {
		t.Fatalf("expected mirror to be called once, got %d", db.calls)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected the record file to be written, got %d entries", len(entries))
	}
}
