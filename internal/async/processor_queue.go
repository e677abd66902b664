package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/joseph-ayodele/kid-extractor/internal/common"
	"github.com/joseph-ayodele/kid-extractor/internal/entity"
	"github.com/joseph-ayodele/kid-extractor/internal/pipeline"
)

// Analyzer is satisfied by *pipeline.Processor.
type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.AnalyzeRequest) (*entity.Analysis, error)
}

type ProcessorQueue struct {
	proc    Analyzer
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch       chan Job
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

var errClosed = fmt.Errorf("%w: queue is shutting down", common.ErrUnavailable)

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(proc Analyzer, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: 2,
		timeout: 15 * time.Minute,
		ch:      make(chan Job, 32),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("queue.worker.started", "worker_id", workerID)
				for job := range q.ch {
					q.process(workerID, job)
				}
				q.logger.Info("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) process(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if job.TraceID != "" {
		ctx = common.WithRequestID(ctx, job.TraceID)
	}

	start := time.Now()
	a, err := q.proc.Analyze(ctx, pipeline.AnalyzeRequest{
		PDFPath:    job.PDFPath,
		SourceName: job.SourceName,
		AnalysisID: job.AnalysisID,
		Force:      job.Force,
	})
	attrs := []any{
		"worker_id", workerID,
		"analysis_id", job.AnalysisID,
		"file", job.SourceName,
		"waited_ms", start.Sub(job.SubmittedAt).Milliseconds(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	}
	if job.RemoveAfter {
		if rmErr := os.Remove(job.PDFPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			q.logger.Warn("queue.job.cleanup_failed", "path", job.PDFPath, "error", rmErr)
		}
	}
	switch {
	case errors.Is(err, common.ErrRejected):
		q.logger.Warn("queue.job.rejected", append(attrs, "error", err)...)
	case err != nil:
		q.logger.Error("queue.job.failed", append(attrs, "error", err)...)
	default:
		q.logger.Info("queue.job.ok", append(attrs, "status", a.Status)...)
	}
}

// Enqueue hands job to a worker, blocking while the buffer is full until ctx
// is done.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.closed", "analysis_id", job.AnalysisID)
		return errClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Info("queue.enqueue.ok", "analysis_id", job.AnalysisID, "file", job.SourceName, "force", job.Force)
		return nil
	default:
	}

	q.logger.Warn("queue.enqueue.full", "analysis_id", job.AnalysisID)
	select {
	case q.ch <- job:
		return nil
	case <-q.done:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for in-flight ones until ctx is done.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	// release producers blocked on a full buffer before taking the write lock
	q.stopOnce.Do(func() { close(q.done) })
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}
