package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"github.com/JVLegend/iausp-prontuario/internal/jobs"
	"github.com/JVLegend/iausp-prontuario/internal/model"
)

// Store mirrors runs and captured records into Postgres. The file
// checkpoint stays the source of truth for resuming.
type Store struct {
	DB *sql.DB

	// RunID tags captures saved through SavePatient.
	RunID uuid.NullUUID
}

// New creates a new Store that uses a shared *sql.DB with pooling.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

// Open connects with the pgx stdlib driver and applies basic pool settings.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db), nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// CreateRun inserts a running capture_runs row and tags later captures with it.
func (s *Store) CreateRun(ctx context.Context, id uuid.UUID, startedAt time.Time, total, pending int) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO capture_runs (id, status, started_at, total, pending) VALUES ($1, $2, $3, $4, $5)`,
		id, string(jobs.StatusRunning), startedAt.UTC(), total, pending)
	if err != nil {
		return err
	}
	s.RunID = uuid.NullUUID{UUID: id, Valid: true}
	return nil
}

// FinishRun records the final status and counts of a run.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status jobs.Status, sum jobs.Summary, finishedAt time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE capture_runs SET status = $2, finished_at = $3, succeeded = $4, failed = $5 WHERE id = $1`,
		id, string(status), finishedAt.UTC(), sum.Succeeded, sum.Failed)
	return err
}

// SavePatient inserts one captured record. It implements records.Sink.
func (s *Store) SavePatient(ctx context.Context, rec model.PatientRecord, missing []string) error {
	capturedAt, err := time.ParseInLocation(model.CaptureTimeLayout, rec.DataCaptura, time.Local)
	if err != nil {
		capturedAt = time.Now()
	}

	var miss pqtype.NullRawMessage
	if len(missing) > 0 {
		raw, err := json.Marshal(missing)
		if err != nil {
			return err
		}
		miss = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO patient_captures
		   (id, run_id, prontuario, nome_registro, data_nascimento, raca, cpf, codigo_paciente, naturalidade, captured_at, missing)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New(), s.RunID, rec.Prontuario, rec.NomeRegistro, rec.DataNascimento, rec.Raca,
		rec.CPF, rec.CodigoPaciente, rec.Naturalidade, capturedAt.UTC(), miss)
	return err
}

// CountCaptures returns how many captures exist for a prontuario.
func (s *Store) CountCaptures(ctx context.Context, prontuario string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM patient_captures WHERE prontuario = $1`, prontuario).Scan(&n)
	return n, err
}
