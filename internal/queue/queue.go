// Package queue implements the asynchronous budget-generation queue on
// top of the kv substrate's list primitives.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arcflow/budget-engine/internal/kv"
	"github.com/arcflow/budget-engine/internal/model"
)

// queueKey is the FIFO backlog: producers push left, workers pop right,
// so jobs drain in arrival order.
const queueKey = "queue:orcamentos"

func jobKey(id string) string { return "job:" + id }

// Queue enqueues and drains budget-generation jobs. Each job also has an
// individual `job:{id}` record tracking its lifecycle, so status survives
// the job leaving the backlog list.
type Queue struct {
	store kv.Store
	now   func() time.Time
}

func New(store kv.Store) *Queue {
	return &Queue{store: store, now: time.Now}
}

// SetClock overrides the time source for tests.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// Enqueue registers a job for the briefing and pushes it onto the
// backlog. Priority is advisory metadata; ordering stays FIFO.
func (q *Queue) Enqueue(ctx context.Context, briefingID string, priority int) (model.Job, error) {
	job := model.Job{
		ID:         uuid.NewString(),
		BriefingID: briefingID,
		Priority:   priority,
		Status:     model.JobStatusQueued,
		EnqueuedAt: q.now(),
	}
	if err := q.saveJob(ctx, job); err != nil {
		return model.Job{}, err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return model.Job{}, eris.Wrap(err, "queue: marshal job")
	}
	if err := q.store.ListPushLeft(ctx, queueKey, string(data)); err != nil {
		return model.Job{}, eris.Wrapf(err, "queue: push job %s", job.ID)
	}
	zap.L().Info("queue: job enqueued",
		zap.String("job", job.ID), zap.String("briefing", briefingID))
	return job, nil
}

// Dequeue pops the oldest job and marks it RUNNING. ok=false means the
// backlog is empty; it never blocks.
func (q *Queue) Dequeue(ctx context.Context) (model.Job, bool, error) {
	raw, ok, err := q.store.ListPopRight(ctx, queueKey)
	if err != nil {
		return model.Job{}, false, eris.Wrap(err, "queue: pop")
	}
	if !ok {
		return model.Job{}, false, nil
	}
	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return model.Job{}, false, eris.Wrap(err, "queue: decode job")
	}
	job.Status = model.JobStatusRunning
	if err := q.saveJob(ctx, job); err != nil {
		return model.Job{}, false, err
	}
	return job, true, nil
}

// Complete marks the job's terminal state. A non-empty failure reason
// flips it to FAILED.
func (q *Queue) Complete(ctx context.Context, job model.Job, failure string) error {
	if failure == "" {
		job.Status = model.JobStatusCompleted
	} else {
		job.Status = model.JobStatusFailed
		job.Error = failure
	}
	job.FinishedAt = q.now()
	return q.saveJob(ctx, job)
}

// Job returns the lifecycle record for a job id.
func (q *Queue) Job(ctx context.Context, id string) (model.Job, bool, error) {
	raw, ok, err := q.store.Get(ctx, jobKey(id))
	if err != nil {
		return model.Job{}, false, eris.Wrapf(err, "queue: read job %s", id)
	}
	if !ok {
		return model.Job{}, false, nil
	}
	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return model.Job{}, false, eris.Wrapf(err, "queue: decode job %s", id)
	}
	return job, true, nil
}

// Length returns the backlog depth.
func (q *Queue) Length(ctx context.Context) (int, error) {
	n, err := q.store.ListLength(ctx, queueKey)
	if err != nil {
		return 0, eris.Wrap(err, "queue: length")
	}
	return n, nil
}

// Drain processes the backlog with a bounded worker pool until it is
// empty. Each job reaches a terminal state exactly once; a handler error
// fails that job only and never stops the drain.
func (q *Queue) Drain(ctx context.Context, workers int, handle func(ctx context.Context, job model.Job) error) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for {
		job, ok, err := q.Dequeue(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		g.Go(func() error {
			failure := ""
			if err := handle(ctx, job); err != nil {
				failure = err.Error()
				zap.L().Warn("queue: job failed",
					zap.String("job", job.ID),
					zap.String("briefing", job.BriefingID),
					zap.Error(err))
			}
			if err := q.Complete(ctx, job, failure); err != nil {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (q *Queue) saveJob(ctx context.Context, job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "queue: marshal job")
	}
	if err := q.store.Set(ctx, jobKey(job.ID), string(data), 0); err != nil {
		return eris.Wrapf(err, "queue: save job %s", job.ID)
	}
	return nil
}
