// Package sigh loads the patient worklist from CSV exports of the
// hospital information system (SIGH).
//
// Exports are ISO-8859-1 encoded, comma separated, and carry stray
// double quotes around values. Several exports may overlap, so rows are
// de-duplicated before they become work items.
package sigh

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/JVLegend/iausp-prontuario/internal/model"
	"github.com/JVLegend/iausp-prontuario/internal/scrapeutil"
)

// Column headers in SIGH exports.
const (
	ColumnID   = "MATRÍCULA"
	ColumnName = "NOME PACIENTE"
	ColumnDate = "DATA"
)

const dateLayout = "02/01/2006"

// ErrMissingColumn is returned when an export lacks the identifier column.
var ErrMissingColumn = errors.New("missing column")

// Row is one raw export line after quote stripping.
type Row struct {
	ID   string
	Name string
	Date string
}

// Stats summarizes a load for reporting.
type Stats struct {
	Files         int
	FailedFiles   int
	Rows          int
	DuplicateRows int
	EmptyIDs      int
	Unique        int
}

// FindCSVs returns the *.csv files in dir sorted by name. A missing
// directory yields no files and no error.
func FindCSVs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadFile parses a single export.
func LoadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads an ISO-8859-1 encoded export from r.
func Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(transform.NewReader(r, charmap.ISO8859_1.NewDecoder()))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	idCol, nameCol, dateCol := -1, -1, -1
	for i, h := range header {
		switch normalizeHeader(h) {
		case ColumnID, "MATRICULA":
			idCol = i
		case ColumnName:
			nameCol = i
		case ColumnDate:
			dateCol = i
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("%w %s", ErrMissingColumn, ColumnID)
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, Row{
			ID:   field(rec, idCol),
			Name: field(rec, nameCol),
			Date: field(rec, dateCol),
		})
	}
	return rows, nil
}

// Load reads every export in dir and returns de-duplicated work items in
// file-then-row order. Unreadable files are skipped with a warning.
func Load(dir string, logger *slog.Logger) ([]model.WorkItem, Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var stats Stats

	files, err := FindCSVs(dir)
	if err != nil {
		return nil, stats, err
	}
	logger.Info("csv files found", "dir", dir, "count", len(files))

	var all []Row
	for _, path := range files {
		rows, err := LoadFile(path)
		if err != nil {
			stats.FailedFiles++
			logger.Warn("skipping csv", "file", filepath.Base(path), "err", err)
			continue
		}
		stats.Files++
		logger.Info("csv loaded", "file", filepath.Base(path), "rows", len(rows))
		all = append(all, rows...)
	}
	stats.Rows = len(all)

	items, dedup := Unify(all)
	stats.DuplicateRows = dedup.DuplicateRows
	stats.EmptyIDs = dedup.EmptyIDs
	stats.Unique = len(items)
	return items, stats, nil
}

// Unify normalizes rows and removes duplicates. Rows repeating an
// (identifier, date) pair are dropped first, then each identifier is
// kept once with its first occurrence winning.
func Unify(rows []Row) ([]model.WorkItem, Stats) {
	var stats Stats
	type pair struct{ id, date string }
	seenPair := make(map[pair]struct{}, len(rows))
	seenID := make(map[string]struct{}, len(rows))
	items := make([]model.WorkItem, 0, len(rows))

	for _, r := range rows {
		id := scrapeutil.DigitsOnly(r.ID)
		if id == "" {
			stats.EmptyIDs++
			continue
		}
		p := pair{id: id, date: strings.TrimSpace(r.Date)}
		if _, dup := seenPair[p]; dup {
			stats.DuplicateRows++
			continue
		}
		seenPair[p] = struct{}{}
		if _, dup := seenID[id]; dup {
			stats.DuplicateRows++
			continue
		}
		seenID[id] = struct{}{}

		item := model.WorkItem{ID: id, Name: scrapeutil.NormalizeName(r.Name)}
		if d, err := time.Parse(dateLayout, strings.TrimSpace(r.Date)); err == nil {
			item.VisitDate = d
		}
		items = append(items, item)
	}
	stats.Unique = len(items)
	return items, stats
}

func normalizeHeader(h string) string {
	return strings.ToUpper(scrapeutil.StripQuotes(h))
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return scrapeutil.StripQuotes(rec[i])
}
