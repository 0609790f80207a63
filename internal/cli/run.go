package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JVLegend/iausp-prontuario/internal/checkpoint"
	"github.com/JVLegend/iausp-prontuario/internal/config"
	"github.com/JVLegend/iausp-prontuario/internal/jobs"
	"github.com/JVLegend/iausp-prontuario/internal/metrics"
	"github.com/JVLegend/iausp-prontuario/internal/migrate"
	"github.com/JVLegend/iausp-prontuario/internal/pep"
	"github.com/JVLegend/iausp-prontuario/internal/records"
	"github.com/JVLegend/iausp-prontuario/internal/sigh"
	"github.com/JVLegend/iausp-prontuario/internal/store"
)

type sessionFactory func(ctx context.Context, cfg *config.Config, sink records.Sink, writer *records.Writer, logger *slog.Logger) (jobs.Session, error)

func openBrowserSession(ctx context.Context, cfg *config.Config, sink records.Sink, writer *records.Writer, logger *slog.Logger) (jobs.Session, error) {
	s, err := pep.Open(ctx, cfg, sink, writer, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *app) runBatch(cmd *cobra.Command) error {
	cfg, logger, out := a.cfg, a.logger, cmd.OutOrStdout()

	if cfg.PEP.Username == "" || cfg.PEP.Password == "" {
		logger.Warn("PEP credentials not configured; set " + config.EnvUsername + " and " + config.EnvPassword)
	}

	items, stats, err := sigh.Load(cfg.Paths.Data, logger)
	if err != nil {
		return fmt.Errorf("load worklist: %w", err)
	}
	if len(items) == 0 {
		fmt.Fprintf(out, "No patients found in %s\n", cfg.Paths.Data)
		return nil
	}
	a.cleanupDiagnostics()

	cp := checkpoint.NewStore(cfg.Paths.Checkpoint, logger)
	pending := len(cp.Load().Pending(items))
	fmt.Fprintf(out, "Worklist: %d patients from %d file(s), %d already processed, %d pending\n",
		stats.Unique, stats.Files, len(items)-pending, pending)
	if pending == 0 {
		fmt.Fprintln(out, "All patients have already been processed.")
		return nil
	}

	in := bufio.NewReader(cmd.InOrStdin())
	limit, ok, err := askScope(in, out, cfg, pending)
	if err != nil || !ok {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer := records.NewWriter(cfg.Paths.Output, cfg.Paths.Errors, cfg.Diagnostics.Formats)
	sink := records.MultiSink{writer}

	var (
		db    *store.Store
		runID uuid.UUID
	)
	if cfg.Database.DSN != "" {
		db, err = openStore(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		runID = uuid.New()
		if err := db.CreateRun(ctx, runID, time.Now(), len(items), pending); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		sink = append(sink, records.Mirror{Sink: db, Name: "postgres", Logger: logger})
	}

	open := func(ctx context.Context) (jobs.Session, error) {
		return a.openSession(ctx, cfg, sink, writer, logger)
	}
	minDelay, maxDelay := cfg.DelayRange()
	runner := jobs.NewRunner(cp, open, jobs.Delay{Min: minDelay, Max: maxDelay}, logger)

	sum, runErr := runner.Run(ctx, items, jobs.Options{Limit: limit})
	status := jobs.StatusFor(sum, runErr)

	if db != nil {
		if err := db.FinishRun(context.WithoutCancel(ctx), runID, status, sum, time.Now()); err != nil {
			logger.Warn("finish run failed", "run_id", runID, "err", err)
		}
	}
	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("write metrics textfile failed", "path", cfg.Metrics.Textfile, "err", err)
		}
	}

	printSummary(out, sum, status, cfg)
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// askScope asks for test mode first and, when declined, confirms the
// full run with its estimated duration.
func askScope(in *bufio.Reader, out io.Writer, cfg *config.Config, pending int) (limit int, ok bool, err error) {
	test, err := Confirm(in, out, fmt.Sprintf("Process only the first %d pending patients (test mode)? (s/N): ", cfg.Batch.TestLimit))
	if err != nil {
		return 0, false, err
	}
	if test {
		return cfg.Batch.TestLimit, true, nil
	}

	hours := EstimateHours(pending, cfg.Batch.EstimatedSecondsPerItem)
	fmt.Fprintf(out, "Full run: %d patients, estimated %.1f hours.\n", pending, hours)
	full, err := Confirm(in, out, "Continue? (s/N): ")
	if err != nil {
		return 0, false, err
	}
	if !full {
		fmt.Fprintln(out, "Cancelled.")
		return 0, false, nil
	}
	return 0, true, nil
}

func openStore(ctx context.Context, dsn string) (*store.Store, error) {
	if err := migrate.Run(dsn); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	st, err := store.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := st.DB.PingContext(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return st, nil
}

func (a *app) cleanupDiagnostics() {
	r := a.cfg.Retention
	if !r.Enabled || r.DiagnosticsDays <= 0 {
		return
	}
	now := time.Now()
	for _, dir := range []string{a.cfg.Paths.Output, a.cfg.Paths.Errors} {
		stats, err := jobs.CleanupExpiredArtifacts(dir, r.DiagnosticsDays, now)
		if err != nil {
			a.logger.Warn("diagnostics cleanup failed", "dir", dir, "err", err)
			continue
		}
		if stats.ArtifactsDeleted > 0 {
			a.logger.Info("expired diagnostics deleted", "dir", dir, "count", stats.ArtifactsDeleted)
		}
	}
}

func printSummary(out io.Writer, sum jobs.Summary, status jobs.Status, cfg *config.Config) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Status:       %s\n", status)
	fmt.Fprintf(out, "Attempted:    %d of %d pending\n", sum.Attempted, sum.Pending)
	fmt.Fprintf(out, "Succeeded:    %d\n", sum.Succeeded)
	fmt.Fprintf(out, "Failed:       %d\n", sum.Failed)
	fmt.Fprintf(out, "Success rate: %.1f%%\n", sum.SuccessRate())
	fmt.Fprintf(out, "Records:      %s\n", cfg.Paths.Output)
	fmt.Fprintf(out, "Checkpoint:   %s\n", cfg.Paths.Checkpoint)
	if sum.Interrupted {
		fmt.Fprintln(out, "Interrupted. Run again to resume from the checkpoint.")
	}
}
