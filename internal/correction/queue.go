package correction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobKind identifies what a queued job does.
type JobKind int

const (
	JobParagraphCorrection JobKind = iota
	JobChapterCorrections
	JobChapterSummary
)

func (k JobKind) String() string {
	switch k {
	case JobParagraphCorrection:
		return "paragraph_correction"
	case JobChapterCorrections:
		return "chapter_corrections"
	case JobChapterSummary:
		return "chapter_summary"
	}
	return "unknown"
}

// Job is one unit of generation work. Jobs run strictly in submission order
// on a single worker.
type Job struct {
	ID          string
	Kind        JobKind
	ChapterID   int64
	Paragraph   int
	SubmittedAt time.Time
	run         func(ctx context.Context) error
}

// Queue runs jobs one at a time in FIFO order. Busy reports true from the
// moment a job is submitted until the last job has finished, which is what
// feeds the thinking indicator.
type Queue struct {
	logger   *zap.Logger
	mu       sync.Mutex
	pending  []*Job
	running  bool
	started  bool
	stopped  bool
	done     chan struct{}
	wake     chan struct{}
	stopOnce sync.Once
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets a logger for job lifecycle output.
func WithQueueLogger(l *zap.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// NewQueue creates a stopped queue; call Start to begin processing.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		logger: zap.NewNop(),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the worker. It runs until ctx is cancelled or Stop is called.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	if q.stopped {
		q.mu.Unlock()
		return fmt.Errorf("queue already stopped")
	}
	q.started = true
	q.mu.Unlock()
	go q.loop(ctx)
	return nil
}

func (q *Queue) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.Stop()
			return
		case <-q.done:
			return
		case <-q.wake:
			q.drain(ctx)
		}
	}
}

// drain runs queued jobs until none remain or the queue stops. One wake
// token is enough because drain keeps going while work exists.
func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if q.stopped || len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.running = true
		q.mu.Unlock()

		q.execute(ctx, job)

		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}
}

func (q *Queue) execute(ctx context.Context, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked",
				zap.String("job_id", job.ID),
				zap.String("kind", job.Kind.String()),
				zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := job.run(ctx); err != nil {
		q.logger.Error("job failed",
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind.String()),
			zap.Int64("chapter_id", job.ChapterID),
			zap.Error(err))
		return
	}
	q.logger.Debug("job completed",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind.String()),
		zap.Duration("took", time.Since(start)))
}

// Submit appends a job. Jobs may be submitted before Start; they wait until
// the worker runs.
func (q *Queue) Submit(job *Job) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return fmt.Errorf("queue stopped")
	}
	job.SubmittedAt = time.Now()
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Busy reports whether any job is queued or running.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running || len(q.pending) > 0
}

// Clear drops all pending jobs and reports how many were dropped. A job
// already running is not interrupted.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	return n
}

// Wait blocks until the queue is idle or ctx expires.
func (q *Queue) Wait(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !q.Busy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop halts the worker and rejects further submissions.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.stopOnce.Do(func() { close(q.done) })
}
