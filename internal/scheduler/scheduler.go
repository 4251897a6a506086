// Package scheduler triggers the license expiry job on a cron schedule
// inside the server process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"

	"shaluqa.app/crm/internal/logger"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron    *cron.Cron
	job     Job
	timeout time.Duration
	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec (standard five-field cron syntax or descriptors such as
// "@daily") and evaluates it in loc. Runs are bounded by timeout when it is
// positive.
func New(spec string, loc *time.Location, timeout time.Duration, job Job) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("scheduler: job is required")
	}
	if loc == nil {
		loc = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		job:     job,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}

	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{})),
	)
	if _, err := s.cron.AddFunc(spec, func() { s.Trigger() }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		logger.Info("Scheduler started", map[string]interface{}{
			"next_run": e.Next.Format(time.RFC3339),
		})
	}
}

// Stop prevents new runs, cancels the one in flight and waits for it until
// ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: %w", ctx.Err())
	}
}

// Trigger runs the job now unless a run is already in progress. It reports
// whether the job ran.
func (s *Scheduler) Trigger() bool {
	if !s.running.CompareAndSwap(false, true) {
		logger.Warn("Skipping scheduled run: previous run still in progress")
		return false
	}
	defer s.running.Store(false)

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.job(ctx); err != nil {
		logger.Error("Scheduled run failed", map[string]interface{}{
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       err.Error(),
		})
		return true
	}

	logger.Info("Scheduled run completed", map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return true
}

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// cronLogger routes cron's own messages to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, pairs(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := pairs(keysAndValues)
	fields["error"] = err.Error()
	logger.Error("cron: "+msg, fields)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
