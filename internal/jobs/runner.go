package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/JVLegend/iausp-prontuario/internal/checkpoint"
	"github.com/JVLegend/iausp-prontuario/internal/metrics"
	"github.com/JVLegend/iausp-prontuario/internal/model"
)

// ErrSetup is returned when one-time session setup (login) fails. No
// worklist item is attempted or recorded in that case.
var ErrSetup = errors.New("session setup failed")

// Session is the single external handle used for a whole run.
// Process is the per-item callback; a nil error means success.
type Session interface {
	Setup(ctx context.Context) error
	Process(ctx context.Context, item model.WorkItem) error
	Close() error
}

// SessionOpener acquires a Session. It is called at most once per run
// and only when there is pending work.
type SessionOpener func(ctx context.Context) (Session, error)

// Delay is the pacing range between consecutive items.
type Delay struct {
	Min time.Duration
	Max time.Duration
}

// Validate checks that the range is non-negative and ordered.
func (d Delay) Validate() error {
	if d.Min < 0 || d.Max < 0 {
		return fmt.Errorf("delay must not be negative (min=%s max=%s)", d.Min, d.Max)
	}
	if d.Min > d.Max {
		return fmt.Errorf("delay min %s is greater than max %s", d.Min, d.Max)
	}
	return nil
}

// Options tune a single Run call.
type Options struct {
	// Limit caps the number of pending items processed; <= 0 means all.
	Limit int
}

// Summary reports what a run did.
type Summary struct {
	Total       int
	AlreadyDone int
	Pending     int
	Attempted   int
	Succeeded   int
	Failed      int
	Interrupted bool
}

// SuccessRate returns the percentage of attempted items that succeeded.
func (s Summary) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Attempted) * 100
}

// Runner walks a worklist sequentially, skipping items already recorded
// as processed in the checkpoint and recording every outcome.
type Runner struct {
	store  *checkpoint.Store
	open   SessionOpener
	delay  Delay
	logger *slog.Logger

	randDuration func(min, max time.Duration) time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewRunner constructs a Runner over the given checkpoint store and
// session opener.
func NewRunner(st *checkpoint.Store, open SessionOpener, delay Delay, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:        st,
		open:         open,
		delay:        delay,
		logger:       logger,
		randDuration: uniformDuration,
		sleep:        sleepContext,
	}
}

// Run processes the pending part of items. Cancellation of ctx is
// observed between steps only; the session is always closed exactly
// once before Run returns.
func (r *Runner) Run(ctx context.Context, items []model.WorkItem, opts Options) (sum Summary, err error) {
	if err := r.delay.Validate(); err != nil {
		return sum, err
	}

	state := r.store.Load()
	pending := state.Pending(items)

	sum.Total = len(items)
	sum.AlreadyDone = len(items) - len(pending)
	r.logger.Info("worklist", "total", sum.Total, "already_processed", sum.AlreadyDone, "pending", len(pending))

	if opts.Limit > 0 && len(pending) > opts.Limit {
		pending = pending[:opts.Limit]
		r.logger.Info("limit applied", "limit", opts.Limit)
	}
	sum.Pending = len(pending)

	if len(pending) == 0 {
		r.logger.Info("all patients already processed")
		return sum, nil
	}
	if err := ctx.Err(); err != nil {
		sum.Interrupted = true
		return sum, err
	}

	// Driver calls must never be cut short by an interrupt.
	callCtx := context.WithoutCancel(ctx)

	sess, err := r.open(callCtx)
	if err != nil {
		return sum, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		r.logger.Info("closing session")
		if cerr := sess.Close(); cerr != nil {
			r.logger.Warn("session close failed", "err", cerr)
		}
	}()

	if err := r.setup(callCtx, sess); err != nil {
		return sum, err
	}

	for i, item := range pending {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}

		r.logger.Info("processing patient", "index", i+1, "pending", len(pending), "prontuario", item.ID, "name", item.Name)

		start := time.Now()
		perr := r.process(callCtx, sess, item)
		latency := time.Since(start).Milliseconds()
		sum.Attempted++

		if perr == nil {
			state = r.store.Record(state, item.ID, checkpoint.OutcomeSuccess, "")
			sum.Succeeded++
			metrics.RecordItem(string(checkpoint.OutcomeSuccess), latency)
			r.logger.Info("patient processed", "prontuario", item.ID, "ms", latency)
		} else {
			state = r.store.Record(state, item.ID, checkpoint.OutcomeFailure, perr.Error())
			sum.Failed++
			metrics.RecordItem(string(checkpoint.OutcomeFailure), latency)
			r.logger.Warn("patient failed", "prontuario", item.ID, "err", perr)
		}

		if i == len(pending)-1 {
			break
		}
		wait := r.randDuration(r.delay.Min, r.delay.Max)
		r.logger.Info("waiting before next patient", "delay", wait)
		if err := r.sleep(ctx, wait); err != nil {
			sum.Interrupted = true
			break
		}
	}

	if sum.Interrupted {
		r.logger.Warn("run interrupted; checkpoint saved, run again to resume",
			"succeeded", sum.Succeeded, "failed", sum.Failed)
		return sum, context.Canceled
	}

	r.logger.Info("run finished",
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"success_rate", fmt.Sprintf("%.1f%%", sum.SuccessRate()))
	return sum, nil
}

func (r *Runner) setup(ctx context.Context, sess Session) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrSetup, p)
		}
	}()
	if err := sess.Setup(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSetup, err)
	}
	return nil
}

// process converts a panic in the callback into an item failure so one
// patient can never abort the batch.
func (r *Runner) process(ctx context.Context, sess Session, item model.WorkItem) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return sess.Process(ctx, item)
}

func uniformDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min+1)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
