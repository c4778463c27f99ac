package batch

import (
	"booklend/internal/domain/loan"
	"booklend/internal/event"
	"booklend/internal/infrastructure/monitoring"
	"booklend/internal/pkg/clock"
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSchedule    = "0 1 * * *"
	DefaultTimeout     = 30 * time.Minute
	defaultConcurrency = 8
)

type OverdueFinder interface {
	FindOverdue(ctx context.Context, asOf time.Time) ([]*loan.Loan, error)
}

// OverdueScanJob announces every active loan past its due date together with the late fee
// accrued so far. It never changes loan state.
type OverdueScanJob struct {
	finder        OverdueFinder
	publisher     event.Publisher
	clock         clock.Clock
	lateFeePerDay decimal.Decimal
	concurrency   int
	logger        *slog.Logger
}

type JobOption func(*OverdueScanJob)

func WithClock(c clock.Clock) JobOption {
	return func(j *OverdueScanJob) { j.clock = c }
}

func WithConcurrency(n int) JobOption {
	return func(j *OverdueScanJob) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

func NewOverdueScanJob(finder OverdueFinder, publisher event.Publisher, lateFeePerDay string, logger *slog.Logger, opts ...JobOption) (*OverdueScanJob, error) {
	if finder == nil || publisher == nil || logger == nil {
		panic("OverdueScanJob dependencies cannot be nil")
	}

	fee := decimal.Zero
	if lateFeePerDay != "" {
		var err error
		fee, err = decimal.NewFromString(lateFeePerDay)
		if err != nil {
			return nil, fmt.Errorf("invalid late fee per day %q: %w", lateFeePerDay, err)
		}
		if fee.IsNegative() {
			return nil, fmt.Errorf("late fee per day must not be negative, got %s", fee)
		}
	}

	j := &OverdueScanJob{
		finder:        finder,
		publisher:     publisher,
		clock:         clock.System{},
		lateFeePerDay: fee,
		concurrency:   defaultConcurrency,
		logger:        logger.With("job", "OverdueScan"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// LateFee is the fee accrued for the given number of overdue days.
func (j *OverdueScanJob) LateFee(daysOverdue int) decimal.Decimal {
	if daysOverdue <= 0 {
		return decimal.Zero
	}
	return j.lateFeePerDay.Mul(decimal.NewFromInt(int64(daysOverdue)))
}

func (j *OverdueScanJob) Run(ctx context.Context) error {
	startTime := time.Now()
	today := clock.Today(j.clock)
	j.logger.InfoContext(ctx, "Starting overdue loan scan.", slog.String("as_of", today.Format(clock.DateLayout)))

	overdue, err := j.finder.FindOverdue(ctx, today)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to list overdue loans, aborting job.", slog.Any("error", err))
		return fmt.Errorf("cannot run job, failed to list overdue loans: %w", err)
	}
	j.logger.InfoContext(ctx, "Fetched overdue loans.", slog.Int("count", len(overdue)))

	var published, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, l := range overdue {
		l := l // per-iteration copy; go.mod targets go1.21 loop semantics
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			days := l.DaysOverdue(today)
			fee := j.LateFee(days)
			evt := loan.NewLoanEvent(event.LoanOverdue, l, j.clock.Now())
			evt.DaysOverdue = days
			evt.LateFee = &fee

			logCtx := j.logger.With(slog.Int64("loanID", l.ID), slog.Int("days_overdue", days))
			if err := j.publisher.PublishLoanEvent(gctx, evt); err != nil {
				monitoring.RecordEventPublished(string(event.LoanOverdue), "failure")
				logCtx.ErrorContext(gctx, "Failed to publish overdue event", slog.Any("error", err))
				failed.Add(1)
				return nil
			}
			monitoring.RecordEventPublished(string(event.LoanOverdue), "success")
			logCtx.DebugContext(gctx, "Overdue event published.", slog.String("late_fee", fee.StringFixed(2)))
			published.Add(1)
			return nil
		})
	}
	waitErr := g.Wait()

	duration := time.Since(startTime)
	monitoring.RecordOverdueScan(len(overdue), duration)

	summaryLog := j.logger.With(
		slog.Duration("duration", duration),
		slog.Int("overdue_loans", len(overdue)),
		slog.Int("events_published", int(published.Load())),
		slog.Int("errors_encountered", int(failed.Load())),
	)

	if waitErr != nil {
		summaryLog.WarnContext(ctx, "Overdue loan scan interrupted.", slog.Any("error", waitErr))
		return fmt.Errorf("overdue scan interrupted: %w", waitErr)
	}
	if n := failed.Load(); n > 0 {
		summaryLog.WarnContext(ctx, "Overdue loan scan finished with errors.")
		return fmt.Errorf("job completed with %d errors", n)
	}
	summaryLog.InfoContext(ctx, "Overdue loan scan finished successfully.")
	return nil
}

// Schedule registers the job on c. Each run gets its own timeout.
func (j *OverdueScanJob) Schedule(c *cron.Cron, spec string, timeout time.Duration) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultSchedule
		j.logger.Warn("Overdue scan schedule not configured, using default", "schedule", spec)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	id, err := c.AddJob(spec, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if runErr := j.Run(ctx); runErr != nil {
			j.logger.Error("Overdue scan job finished with error", slog.Any("error", runErr))
		}
	}))
	if err != nil {
		j.logger.Error("Failed to schedule overdue scan job", "schedule", spec, slog.Any("error", err))
		return 0, fmt.Errorf("failed to schedule overdue scan %q: %w", spec, err)
	}

	j.logger.Info("Scheduled overdue scan job", "schedule", spec, "job_id", id)
	return id, nil
}
