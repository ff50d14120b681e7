package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"docflow/internal/util"
)

// Scheduler runs deferred jobs outside the request that created them.
type Scheduler interface {
	Schedule(ctx context.Context, job DeferredJob) error
}

type ProcessFunc func(ctx context.Context, job DeferredJob) DeferredResult

type queuedJob struct {
	ctx context.Context
	job DeferredJob
}

// LocalScheduler executes jobs on an in-process goroutine pool. Schedule only
// enqueues: a dispatcher goroutine feeds the pool, so a busy pool never stalls
// the caller. Jobs are detached from the caller's cancellation.
type LocalScheduler struct {
	pool    *ants.Pool
	process ProcessFunc
	queue   chan queuedJob
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
	// wg counts queued and running jobs.
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewLocalScheduler(size, queueSize int, process ProcessFunc) (*LocalScheduler, error) {
	if size <= 0 {
		size = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	logger := slog.Default().With("component", "local_scheduler")
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p any) {
		logger.Error("deferred job panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	s := &LocalScheduler{
		pool:    pool,
		process: process,
		queue:   make(chan queuedJob, queueSize),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go s.dispatch()
	return s, nil
}

// Schedule queues the job and returns immediately. A full queue fails with
// util.ErrOverloaded.
func (s *LocalScheduler) Schedule(ctx context.Context, job DeferredJob) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: scheduler closed", util.ErrOverloaded)
	}
	s.wg.Add(1)
	select {
	case s.queue <- queuedJob{ctx: context.WithoutCancel(ctx), job: job}:
		return nil
	default:
		s.wg.Done()
		return fmt.Errorf("%w: %d jobs waiting, cannot queue %s", util.ErrOverloaded, cap(s.queue), job.PdfID)
	}
}

func (s *LocalScheduler) dispatch() {
	defer close(s.done)
	for qj := range s.queue {
		err := s.pool.Submit(func() {
			defer s.wg.Done()
			res := s.process(qj.ctx, qj.job)
			s.logger.Debug("deferred job done", "pdf_id", qj.job.PdfID, "status", res.Status)
		})
		if err != nil {
			s.wg.Done()
			s.logger.Error("deferred job dropped", "pdf_id", qj.job.PdfID, "error", err)
		}
	}
}

// Wait blocks until every queued job has returned.
func (s *LocalScheduler) Wait() {
	s.wg.Wait()
}

// Close stops accepting jobs, drains the queue and releases the pool.
func (s *LocalScheduler) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
	s.wg.Wait()
	s.pool.Release()
}
