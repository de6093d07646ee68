package job

import (
	"context"
	"fmt"
	"time"

	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/telemetry"
)

// Enqueuer hands a job id to the workers
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Sweeper re-enqueues pending jobs whose trigger never reached a worker
// and fails processing jobs whose worker is gone. Re-enqueueing a job that
// is already being handled is harmless: Process ignores jobs that are no
// longer pending.
type Sweeper struct {
	jobs     *StateMachine
	queue    Enqueuer
	interval time.Duration
	stuck    time.Duration
	abandon  time.Duration
	batch    int
}

// NewSweeper creates a sweeper that runs every interval. It picks up jobs
// pending for longer than stuckAfter and fails jobs processing for longer
// than abandonAfter, which must exceed the engine's job timeout.
func NewSweeper(jobs *StateMachine, queue Enqueuer, interval, stuckAfter, abandonAfter time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if stuckAfter <= 0 {
		stuckAfter = 2 * time.Minute
	}
	if abandonAfter <= 0 {
		abandonAfter = 6 * time.Minute
	}
	return &Sweeper{jobs: jobs, queue: queue, interval: interval, stuck: stuckAfter, abandon: abandonAfter, batch: 100}
}

// Run sweeps until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				logging.WithError(err).Warn("Stuck job sweep failed")
			}
			if _, err := s.FailAbandoned(ctx); err != nil && ctx.Err() == nil {
				logging.WithError(err).Warn("Abandoned job sweep failed")
			}
		}
	}
}

// Sweep re-enqueues one batch of stuck pending jobs and returns how many
// were handed back
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stuck, err := s.jobs.Stuck(ctx, s.stuck, s.batch)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, job := range stuck {
		if err := s.queue.Enqueue(ctx, job.ID); err != nil {
			logging.WithError(err).WithField("job_id", job.ID).Warn("Failed to re-enqueue stuck job")
			continue
		}
		telemetry.RecordJobRequeued()
		requeued++
	}
	if requeued > 0 {
		logging.Infof("Re-enqueued %d stuck pending jobs", requeued)
	}
	return requeued, nil
}

// FailAbandoned fails one batch of jobs left processing past the abandon
// age and returns how many it ended
func (s *Sweeper) FailAbandoned(ctx context.Context) (int, error) {
	abandoned, err := s.jobs.Abandoned(ctx, s.abandon, s.batch)
	if err != nil {
		return 0, err
	}

	failed := 0
	message := fmt.Sprintf("job did not finish within %s", s.abandon)
	for _, job := range abandoned {
		if err := s.jobs.Fail(ctx, job.ID, message); err != nil {
			if isInvalidTransition(err) {
				continue
			}
			logging.WithError(err).WithField("job_id", job.ID).Warn("Failed to end abandoned job")
			continue
		}
		failed++
	}
	if failed > 0 {
		logging.Warnf("Failed %d abandoned processing jobs", failed)
	}
	return failed, nil
}
