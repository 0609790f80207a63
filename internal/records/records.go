package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/JVLegend/iausp-prontuario/internal/formats"
	"github.com/JVLegend/iausp-prontuario/internal/metrics"
	"github.com/JVLegend/iausp-prontuario/internal/model"
)

const fileTimeLayout = "20060102_150405"

// Sink receives every captured patient record.
type Sink interface {
	SavePatient(ctx context.Context, rec model.PatientRecord, missing []string) error
}

// MultiSink fans a record out to several sinks. All sinks are called;
// their errors are joined.
type MultiSink []Sink

func (m MultiSink) SavePatient(ctx context.Context, rec model.PatientRecord, missing []string) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.SavePatient(ctx, rec, missing); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Mirror wraps a secondary sink, such as the database copy. A failed
// write is logged and counted but never fails the item: the record file
// is the primary output.
type Mirror struct {
	Sink   Sink
	Name   string
	Logger *slog.Logger
}

func (m Mirror) SavePatient(ctx context.Context, rec model.PatientRecord, missing []string) error {
	if m.Sink == nil {
		return nil
	}
	if err := m.Sink.SavePatient(ctx, rec, missing); err != nil {
		metrics.RecordMirrorWriteError(m.Name)
		logger := m.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("mirror write failed", "mirror", m.Name, "prontuario", rec.Prontuario, "err", err)
	}
	return nil
}

// Snapshot is the page state captured for debugging.
type Snapshot struct {
	URL        string
	HTML       string
	Screenshot []byte
}

// Writer persists records and diagnostics as files.
type Writer struct {
	OutputDir string
	ErrorsDir string
	Formats   []string

	now func() time.Time
}

// NewWriter creates a Writer. formats selects the diagnostic snapshots
// written when a capture is incomplete.
func NewWriter(outputDir, errorsDir string, diagFormats []string) *Writer {
	return &Writer{OutputDir: outputDir, ErrorsDir: errorsDir, Formats: diagFormats, now: time.Now}
}

// RecordFileName returns the deterministic file name of a record.
func RecordFileName(prontuario string, at time.Time) string {
	return fmt.Sprintf("paciente_%s_%s.json", prontuario, at.Format(fileTimeLayout))
}

// Write stores rec as indented JSON and returns the file path.
func (w *Writer) Write(rec model.PatientRecord) (string, error) {
	at := w.captureTime(rec)
	path := filepath.Join(w.OutputDir, RecordFileName(rec.Prontuario, at))
	if err := writeJSON(path, rec); err != nil {
		return "", fmt.Errorf("write record %s: %w", rec.Prontuario, err)
	}
	return path, nil
}

// SavePatient implements Sink.
func (w *Writer) SavePatient(_ context.Context, rec model.PatientRecord, _ []string) error {
	_, err := w.Write(rec)
	return err
}

// WriteDiagnostics stores the snapshot of an incomplete capture next to
// the record, in each configured format, and returns the written paths.
func (w *Writer) WriteDiagnostics(prontuario string, at time.Time, snap Snapshot) ([]string, error) {
	return w.writeSnapshot(w.OutputDir, fmt.Sprintf("%s_%s", prontuario, at.Format(fileTimeLayout)), snap)
}

// WriteError stores a snapshot for a failed step (login, search...) in
// the errors directory under the given name.
func (w *Writer) WriteError(name string, snap Snapshot) ([]string, error) {
	return w.writeSnapshot(w.ErrorsDir, fmt.Sprintf("%s_%s", name, w.now().Format(fileTimeLayout)), snap)
}

func (w *Writer) writeSnapshot(dir, suffix string, snap Snapshot) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	var errs []error

	write := func(name string, data []byte) {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0o644); err != nil {
			errs = append(errs, err)
			return
		}
		written = append(written, p)
	}

	if snap.HTML != "" && formats.Has(w.Formats, formats.HTML) {
		write("page_source_"+suffix+".html", []byte(snap.HTML))
	}
	if snap.HTML != "" && formats.Has(w.Formats, formats.Markdown) {
		md, err := ToMarkdown(snap.URL, snap.HTML)
		if err != nil {
			errs = append(errs, err)
		} else {
			write("page_source_"+suffix+".md", []byte(md))
		}
	}
	if len(snap.Screenshot) > 0 && formats.Has(w.Formats, formats.Screenshot) {
		write("screenshot_"+suffix+".png", snap.Screenshot)
	}
	return written, errors.Join(errs...)
}

// ToMarkdown converts a page snapshot to CommonMark for quick reading.
func ToMarkdown(pageURL, html string) (string, error) {
	converter := htmlmd.NewConverter(hostOf(pageURL), true, nil)
	return converter.ConvertString(html)
}

func (w *Writer) captureTime(rec model.PatientRecord) time.Time {
	if t, err := time.ParseInLocation(model.CaptureTimeLayout, rec.DataCaptura, time.Local); err == nil {
		return t
	}
	return w.now()
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func hostOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
