package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lead-scanner/internal/logging"
)

// Processor runs one job to a terminal state
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// TriggerQueue is the consumer side of the trigger list
type TriggerQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	RecoverProcessing(ctx context.Context) (int, error)
}

// WorkerPool consumes the trigger queue with at most N jobs in flight
type WorkerPool struct {
	mu sync.RWMutex

	queue       TriggerQueue
	processor   Processor
	workers     int
	workerSem   chan struct{}
	pollTimeout time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	wg          sync.WaitGroup
	active      map[string]time.Time
}

// NewWorkerPool creates a worker pool
func NewWorkerPool(queue TriggerQueue, processor Processor, workers int) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	return &WorkerPool{
		queue:       queue,
		processor:   processor,
		workers:     workers,
		workerSem:   make(chan struct{}, workers),
		pollTimeout: time.Second,
		active:      make(map[string]time.Time),
	}
}

// Start recovers ids left by a previous run and begins consuming
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already started")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	if n, err := p.queue.RecoverProcessing(ctx); err != nil {
		logging.WithError(err).Warn("Failed to recover in-flight jobs")
	} else if n > 0 {
		logging.Infof("Recovered %d in-flight jobs", n)
	}

	go p.run(ctx)
	logging.Infof("Worker pool started with %d workers", p.workers)
	return nil
}

// Stop stops consuming and waits for in-flight jobs to finish
func (p *WorkerPool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("worker pool not running")
	}
	p.running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
	p.wg.Wait()
	logging.Info("Worker pool stopped")
	return nil
}

// StopWithin stops consuming and waits up to grace for in-flight jobs.
// Jobs still running when grace ends are left processing.
func (p *WorkerPool) StopWithin(grace time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- p.Stop() }()

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		return fmt.Errorf("%d jobs still running after %s", p.ActiveJobs(), grace)
	}
}

func (p *WorkerPool) run(ctx context.Context) {
	defer close(p.doneCh)

	for {
		// take a worker slot before pulling, so ids stay queued while busy
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case p.workerSem <- struct{}{}:
		}

		jobID, err := p.queue.Dequeue(ctx, p.pollTimeout)
		if err != nil || jobID == "" {
			<-p.workerSem
			if err != nil && ctx.Err() == nil {
				logging.WithError(err).Warn("Dequeue failed")
				select {
				case <-time.After(p.pollTimeout):
				case <-p.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
			continue
		}

		p.wg.Add(1)
		go p.handle(ctx, jobID)
	}
}

func (p *WorkerPool) handle(ctx context.Context, jobID string) {
	defer p.wg.Done()
	defer func() { <-p.workerSem }()

	p.track(jobID, true)
	defer p.track(jobID, false)

	logger := logging.WithField("job_id", jobID)
	if err := p.processor.Process(ctx, jobID); err != nil {
		logger.WithError(err).Error("Job processing error")
	}
	// the job row is the source of truth; the id is acked whatever happened
	if err := p.queue.Ack(context.WithoutCancel(ctx), jobID); err != nil {
		logger.WithError(err).Warn("Failed to ack job")
	}
}

func (p *WorkerPool) track(jobID string, start bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if start {
		p.active[jobID] = time.Now()
	} else {
		delete(p.active, jobID)
	}
}

// ActiveJobs returns the number of jobs being processed
func (p *WorkerPool) ActiveJobs() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

// Workers returns the pool size
func (p *WorkerPool) Workers() int {
	return p.workers
}
