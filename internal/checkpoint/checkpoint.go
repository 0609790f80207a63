// Package checkpoint persists which worklist items a batch run has
// completed so that later runs can resume where the previous one stopped.
//
// The state is a single JSON document rewritten after every processed
// item. Identifiers in the processed list are never attempted again;
// identifiers that only ever failed are retried on the next run.
package checkpoint

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/JVLegend/iausp-prontuario/internal/metrics"
	"github.com/JVLegend/iausp-prontuario/internal/model"
)

// Outcome is the result of processing one worklist item.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Record is one append-only checkpoint entry.
type Record struct {
	Identifier string    `json:"matricula"`
	Timestamp  Timestamp `json:"timestamp"`
	Success    bool      `json:"sucesso"`
	Reason     string    `json:"motivo,omitempty"`
}

// State is the durable record of progress across runs.
type State struct {
	Processed     []Record  `json:"processados"`
	Failed        []Record  `json:"falhas"`
	StartedAt     Timestamp `json:"inicio"`
	LastUpdatedAt Timestamp `json:"ultima_atualizacao"`

	done map[string]struct{}
}

// NewState returns an empty state started at now.
func NewState(now time.Time) *State {
	return &State{
		Processed: []Record{},
		Failed:    []Record{},
		StartedAt: Timestamp{now},
		done:      map[string]struct{}{},
	}
}

func (s *State) index() {
	s.done = make(map[string]struct{}, len(s.Processed))
	for _, r := range s.Processed {
		s.done[r.Identifier] = struct{}{}
	}
}

// IsDone reports whether id appears in the processed list.
func (s *State) IsDone(id string) bool {
	if s.done == nil {
		s.index()
	}
	_, ok := s.done[id]
	return ok
}

// Pending returns the items that are not done, preserving input order.
func (s *State) Pending(items []model.WorkItem) []model.WorkItem {
	pending := make([]model.WorkItem, 0, len(items))
	for _, it := range items {
		if !s.IsDone(it.ID) {
			pending = append(pending, it)
		}
	}
	return pending
}

// Summary describes a checkpoint for reporting.
type Summary struct {
	Processed      int
	FailedAttempts int
	// OpenFailures counts identifiers that failed and never succeeded.
	OpenFailures  int
	StartedAt     time.Time
	LastUpdatedAt time.Time
}

func (s *State) Summary() Summary {
	open := map[string]struct{}{}
	for _, r := range s.Failed {
		if !s.IsDone(r.Identifier) {
			open[r.Identifier] = struct{}{}
		}
	}
	return Summary{
		Processed:      len(s.Processed),
		FailedAttempts: len(s.Failed),
		OpenFailures:   len(open),
		StartedAt:      s.StartedAt.Time,
		LastUpdatedAt:  s.LastUpdatedAt.Time,
	}
}

// Store loads and saves a State at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a Store backed by the file at path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger, now: time.Now}
}

// Path returns the checkpoint file location.
func (st *Store) Path() string { return st.path }

// Load reads the persisted state. A missing or corrupt file yields a
// fresh state; Load never fails the run. A corrupt file is renamed to
// <path>.corrupt-<timestamp> so the next save does not overwrite it.
func (st *Store) Load() *State {
	raw, err := os.ReadFile(st.path)
	if err != nil {
		if !os.IsNotExist(err) {
			st.logger.Warn("checkpoint unreadable, starting fresh", "path", st.path, "err", err)
		} else {
			st.logger.Info("no checkpoint found, starting fresh", "path", st.path)
		}
		return NewState(st.now())
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		now := st.now()
		kept := st.path + ".corrupt-" + now.Format("20060102_150405")
		if rerr := os.Rename(st.path, kept); rerr != nil {
			st.logger.Error("checkpoint corrupt and could not be set aside", "path", st.path, "err", err, "rename_err", rerr)
		} else {
			st.logger.Warn("checkpoint corrupt, starting fresh", "path", st.path, "kept_as", kept, "err", err)
		}
		return NewState(now)
	}
	if state.Processed == nil {
		state.Processed = []Record{}
	}
	if state.Failed == nil {
		state.Failed = []Record{}
	}
	if state.StartedAt.IsZero() {
		state.StartedAt = Timestamp{st.now()}
	}
	state.index()

	st.logger.Info("checkpoint loaded", "path", st.path, "processed", len(state.Processed), "failed", len(state.Failed))
	return &state
}

// Record appends one entry, persists the full state and returns it.
// A failed write is logged and swallowed: the worst case is that the
// item is processed again on a later run.
func (st *Store) Record(state *State, id string, outcome Outcome, reason string) *State {
	if state == nil {
		state = NewState(st.now())
	}
	if state.done == nil {
		state.index()
	}

	now := st.now()
	rec := Record{Identifier: id, Timestamp: Timestamp{now}}
	if outcome == OutcomeSuccess {
		rec.Success = true
		state.Processed = append(state.Processed, rec)
		state.done[id] = struct{}{}
	} else {
		rec.Reason = reason
		state.Failed = append(state.Failed, rec)
	}
	state.LastUpdatedAt = Timestamp{now}

	if err := st.save(state); err != nil {
		metrics.RecordCheckpointWriteError()
		st.logger.Error("checkpoint write failed", "path", st.path, "prontuario", id, "err", err)
	}
	return state
}

func (st *Store) save(state *State) error {
	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(state); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), st.path)
}
