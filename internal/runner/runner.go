package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SoCaTel/data-handlers/pkg/logger"
	"github.com/SoCaTel/data-handlers/pkg/models"
	"github.com/SoCaTel/data-handlers/pkg/queue"
)

// SubjectSource yields subjects until drained
type SubjectSource interface {
	Len(ctx context.Context) (int64, error)
	Pop(ctx context.Context) (*models.Subject, error)
}

// HarvestFunc processes one subject end to end
type HarvestFunc func(ctx context.Context, subject *models.Subject) error

// Runner drains the work queue through a pool of harvest workers. The
// default single worker preserves strict one-at-a-time processing; with
// more workers, subjects sharing a credential set still serialize inside
// the harvester. The first subject error cancels the run: already-popped
// but unprocessed subjects are lost from the queue, an accepted and
// logged data-loss risk.
type Runner struct {
	source  SubjectSource
	harvest HarvestFunc
	workers int

	subjectTimeout time.Duration
	runTimeout     time.Duration

	logger logger.Logger
}

// New creates a runner
func New(source SubjectSource, harvest HarvestFunc, workers int, subjectTimeout, runTimeout time.Duration, log logger.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &Runner{
		source:         source,
		harvest:        harvest,
		workers:        workers,
		subjectTimeout: subjectTimeout,
		runTimeout:     runTimeout,
		logger:         log,
	}
}

// Run drains the queue to empty or aborts on the first subject error
func (r *Runner) Run(ctx context.Context) error {
	if r.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.runTimeout)
		defer cancel()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if pending, err := r.source.Len(ctx); err == nil {
		r.logger.InfoWithFields("draining work queue", map[string]interface{}{
			"pending": pending,
			"workers": r.workers,
		})
	}

	jobs := make(chan *models.Subject)

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, id, jobs, fail)
		}(i)
	}

	r.produce(ctx, jobs, fail)
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		r.logger.WithError(firstErr).Error("run aborted")
		return firstErr
	}

	r.logger.Info("work queue drained")
	return nil
}

// produce pops subjects until the queue is empty or the run is cancelled
func (r *Runner) produce(ctx context.Context, jobs chan<- *models.Subject, fail func(error)) {
	for {
		if ctx.Err() != nil {
			return
		}

		subject, err := r.source.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				return
			}
			// A malformed or unreadable record is consumed and
			// unrecoverable; the run does not continue past it
			fail(err)
			return
		}

		if subject.ScreenName == "" {
			r.logger.WarnWithFields("queue record has no screen name, skipping", map[string]interface{}{
				"organisation": subject.Organisation,
			})
			continue
		}

		select {
		case jobs <- subject:
		case <-ctx.Done():
			return
		}
	}
}

// worker processes subjects until the job channel closes
func (r *Runner) worker(ctx context.Context, id int, jobs <-chan *models.Subject, fail func(error)) {
	for subject := range jobs {
		if ctx.Err() != nil {
			return
		}

		sctx := ctx
		var cancel context.CancelFunc
		if r.subjectTimeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, r.subjectTimeout)
		}

		err := r.harvest(sctx, subject)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			r.logger.ErrorWithFields("subject failed", map[string]interface{}{
				"worker_id":    id,
				"screen_name":  subject.ScreenName,
				"organisation": subject.Organisation,
				"error":        err.Error(),
			})
			fail(err)
			return
		}
	}
}
