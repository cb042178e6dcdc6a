package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

const requeuePageSize = 100

// GradingQueue runs automated grading on a bounded pool of workers so upload
// requests return as soon as the pending row is stored.
type GradingQueue struct {
	grader  SubmissionGrader
	workers int
	jobs    chan uint
	logger  zerolog.Logger

	mu        sync.Mutex
	closed    bool
	scheduled map[uint]struct{}
}

// NewGradingQueue builds a queue with the given worker count and buffer size.
func NewGradingQueue(grader SubmissionGrader, workers, size int, logger zerolog.Logger) *GradingQueue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 64
	}

	return &GradingQueue{
		grader:    grader,
		workers:   workers,
		jobs:      make(chan uint, size),
		scheduled: make(map[uint]struct{}),
		logger:    logger.With().Str("component", "grading_queue").Logger(),
	}
}

// Enqueue schedules a submission without blocking. It reports false when the
// queue is full or closed; the submission then stays pending until re-graded.
// A submission that is already buffered or being graded is not queued twice.
func (q *GradingQueue) Enqueue(submissionID uint) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		observability.GradingQueueRejected().Inc()
		q.logger.Warn().Uint("submission_id", submissionID).Msg("grading queue closed, submission left pending")
		return false
	}
	if _, ok := q.scheduled[submissionID]; ok {
		return true
	}

	select {
	case q.jobs <- submissionID:
		q.scheduled[submissionID] = struct{}{}
		observability.GradingQueueDepth().Set(float64(len(q.jobs)))
		return true
	default:
		observability.GradingQueueRejected().Inc()
		q.logger.Warn().Uint("submission_id", submissionID).Msg("grading queue full, submission left pending")
		return false
	}
}

// Scheduled reports whether the submission is buffered or being graded.
func (q *GradingQueue) Scheduled(submissionID uint) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.scheduled[submissionID]
	return ok
}

// Run processes jobs until the queue is closed and drained. Cancelling ctx does
// not abandon buffered jobs; callers stop the queue with Close.
func (q *GradingQueue) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		worker := i
		group.Go(func() error {
			q.work(groupCtx, worker)
			return nil
		})
	}
	return group.Wait()
}

// Close stops accepting jobs. Workers finish what is already buffered.
func (q *GradingQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
}

func (q *GradingQueue) work(ctx context.Context, worker int) {
	for id := range q.jobs {
		observability.GradingQueueDepth().Set(float64(len(q.jobs)))
		q.process(ctx, worker, id)
	}
}

func (q *GradingQueue) process(ctx context.Context, worker int, submissionID uint) {
	defer q.release(submissionID)
	defer func() {
		if recovered := recover(); recovered != nil {
			q.logger.Error().
				Int("worker", worker).
				Uint("submission_id", submissionID).
				Str("panic", fmt.Sprint(recovered)).
				Msg("grading worker recovered from panic")
		}
	}()

	// A grading run must reach a terminal state even while shutting down.
	if err := q.grader.Grade(context.WithoutCancel(ctx), submissionID); err != nil {
		q.logger.Error().Err(err).Int("worker", worker).Uint("submission_id", submissionID).Msg("grading run failed")
	}
}

func (q *GradingQueue) release(submissionID uint) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.scheduled, submissionID)
}

// RequeuePending schedules every stored pending submission that is not already
// queued. It runs at startup so uploads accepted before a restart still reach
// a terminal state. Paging stops early once the scheduler refuses a job.
func RequeuePending(ctx context.Context, repo repository.SubmissionRepository, scheduler GradingScheduler, logger zerolog.Logger) (int, error) {
	status := models.SubmissionStatusPending
	var ids []uint
	for offset := 0; ; offset += requeuePageSize {
		rows, total, err := repo.List(ctx, repository.SubmissionFilter{Status: &status, Limit: requeuePageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("list pending submissions: %w", err)
		}
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		if len(rows) == 0 || int64(offset+len(rows)) >= total {
			break
		}
	}

	queued := 0
	for _, id := range ids {
		if scheduler.Scheduled(id) {
			continue
		}
		if !scheduler.Enqueue(id) {
			logger.Warn().Int("queued", queued).Int("pending", len(ids)).Msg("grading queue full while requeueing pending submissions")
			break
		}
		queued++
	}
	if queued > 0 {
		logger.Info().Int("queued", queued).Msg("requeued pending submissions")
	}
	return queued, nil
}
