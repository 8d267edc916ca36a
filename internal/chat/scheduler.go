package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/synerchat/server/internal/observability"
)

// DefaultSweepInterval is used when the scheduler is given no interval.
const DefaultSweepInterval = 60 * time.Second

// ItemFailure is one session a sweep could not process. The session is
// retried on the next sweep. A zero SessionID means the listing itself failed.
type ItemFailure struct {
	SessionID uuid.UUID
	Err       error
}

func (f ItemFailure) Error() string {
	if f.SessionID == uuid.Nil {
		return fmt.Sprintf("sweep: %v", f.Err)
	}
	return fmt.Sprintf("sweep chat %s: %v", f.SessionID, f.Err)
}

func (f ItemFailure) Unwrap() error {
	return f.Err
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Scanned   int
	Pending   int
	Destroyed int
	Failures  []ItemFailure
}

// Scheduler runs the verification sweep on a fixed interval.
type Scheduler struct {
	lc       *Lifecycle
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler creates a stopped scheduler. A zero interval uses DefaultSweepInterval.
func NewScheduler(lc *Lifecycle, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Scheduler{
		lc:       lc,
		interval: interval,
		logger:   lc.base.With("component", "scheduler"),
	}
}

// Start schedules the sweep. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.logger.Info("verification scheduler started", "interval", s.interval)
	return nil
}

// Stop prevents new sweeps and waits for an in-flight sweep to finish or ctx
// to expire. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping verification scheduler")
	done := c.Stop()
	select {
	case <-done.Done():
		s.logger.Info("verification scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether sweeps are scheduled.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Sweep advances every stored session once. Each session is processed in
// isolation: a failure or panic on one is recorded and the sweep moves on.
func (s *Scheduler) Sweep(ctx context.Context) SweepReport {
	var report SweepReport
	start := time.Now()

	_ = observability.WithSpan(ctx, s.lc.tracer, "chat.sweep", func(ctx context.Context, span trace.Span) error {
		sessions, err := s.lc.store.Chats.ListNonDestroyedSessions(ctx)
		if err != nil {
			report.Failures = append(report.Failures, ItemFailure{Err: err})
			return err
		}

		for _, sess := range sessions {
			report.Scanned++
			t, err := s.advance(ctx, sess.ID)
			if err != nil {
				report.Failures = append(report.Failures, ItemFailure{SessionID: sess.ID, Err: err})
				continue
			}
			switch t {
			case TransitionPending:
				report.Pending++
			case TransitionDestroyed:
				report.Destroyed++
			}
		}
		span.SetAttributes(
			attribute.Int("sweep.scanned", report.Scanned),
			attribute.Int("sweep.pending", report.Pending),
			attribute.Int("sweep.destroyed", report.Destroyed),
		)
		return nil
	})

	for _, f := range report.Failures {
		s.logger.Error("sweep item failed", "chat_id", f.SessionID, "error", f.Err)
	}
	s.lc.metrics.RecordSweep(time.Since(start), len(report.Failures))
	if report.Pending > 0 || report.Destroyed > 0 || len(report.Failures) > 0 {
		s.logger.Info("sweep finished",
			"scanned", report.Scanned,
			"pending", report.Pending,
			"destroyed", report.Destroyed,
			"failures", len(report.Failures),
		)
	}
	return report
}

func (s *Scheduler) advance(ctx context.Context, id uuid.UUID) (t Transition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.lc.Advance(ctx, id)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
