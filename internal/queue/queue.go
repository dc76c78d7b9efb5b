// Package queue implements the persistent, claim-based job queue of §4.5
// (C5): Postgres rows (internal/storage/model.Job) are the durable source of
// truth, claimed with `FOR UPDATE SKIP LOCKED` so only one worker ever holds
// a job in a non-terminal non-pending state; NATS (via
// internal/transport/broadcast) carries fan-out notifications only, never
// job state itself — the split the teacher's kernel.go draws between
// JetStream-durable consumption and a plain notification channel.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/memorall/core/internal/errkind"
	"github.com/memorall/core/internal/idgen"
	"github.com/memorall/core/internal/jsonx"
	"github.com/memorall/core/internal/storage/model"
	"github.com/memorall/core/internal/transport/broadcast"
)

const (
	visibilityTimeout = 60 * time.Second
	heartbeatInterval = 20 * time.Second
	pollInterval      = 250 * time.Millisecond
)

// DefaultMaxConcurrentJobs bounds how many handlers run at once per host
// (§5's "bounded by maxConcurrentJobs (default 3) per host").
const DefaultMaxConcurrentJobs = 3

// Deps are the host collaborators a handler may call, threaded through
// rather than looked up globally so handlers stay testable in isolation.
type Deps struct {
	Logger *zap.Logger
	// Embedding, LLM and a Driver are attached by internal/registry at
	// construction time via concrete, component-specific fields on the
	// handler closures themselves; Deps only carries what every handler
	// needs regardless of job type.
	Progress func(ctx context.Context, percent int, result map[string]any) error
	Cancelled func() bool
}

// HandlerFunc processes one claimed job and returns its final result.
type HandlerFunc func(ctx context.Context, job *model.Job, deps Deps) (map[string]any, error)

// EnqueueOptions configures enqueue.
type EnqueueOptions struct {
	// Stream, if true, is advisory only at this layer: Get callers may poll,
	// or subscribe to broadcast.SubjectJobUpdated for push updates.
	Stream bool
}

// Queue is the host-side job queue. Only the host ever constructs one;
// clients only ever see jobs through the proxy + broadcast subscriptions.
type Queue struct {
	pool   *pgxpool.Pool
	bus    *broadcast.Bus
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	sem chan struct{}

	cancelMu sync.Mutex
	cancels  map[idgen.ID]context.CancelFunc
}

// New builds a Queue over pool, fanning job events out through bus.
func New(pool *pgxpool.Pool, bus *broadcast.Bus, maxConcurrentJobs int, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	return &Queue{
		pool:     pool,
		bus:      bus,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
		sem:      make(chan struct{}, maxConcurrentJobs),
		cancels:  make(map[idgen.ID]context.CancelFunc),
	}
}

// RegisterHandler binds a job type to its handler. Called explicitly by
// ingestion.RegisterHandlers from internal/registry, never from an init()
// side effect.
func (q *Queue) RegisterHandler(jobType string, fn HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = fn
}

// Enqueue inserts a pending job row and fans out NEW_JOB.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload map[string]any, opts EnqueueOptions) (idgen.ID, error) {
	var id idgen.ID
	err := q.pool.QueryRow(ctx, `
		INSERT INTO job (job_type, payload, status) VALUES ($1, $2, 'pending')
		RETURNING id`, jobType, payload).Scan(&id)
	if err != nil {
		return idgen.Nil, errkind.Wrap(errkind.QueryError, "enqueue job", err)
	}

	q.bus.Publish(broadcast.SubjectNewJob, broadcast.JobEvent{
		JobID: id.String(), JobType: jobType, Status: string(model.JobPending),
	})
	return id, nil
}

// Get returns the current row for jobId.
func (q *Queue) Get(ctx context.Context, jobID idgen.ID) (*model.Job, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT id, job_type, payload, status, progress, result, error,
		       created_at, updated_at, visibility_deadline, abort_requested
		FROM job WHERE id = $1`, jobID)
	return scanJob(row)
}

// Abort sets status=aborted if the job is still pending (§4.5's "cancel
// before claim"), otherwise flips abort_requested so the running handler's
// cancellation token trips at its next checked suspension point.
func (q *Queue) Abort(ctx context.Context, jobID idgen.ID) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE job SET status = 'aborted' WHERE id = $1 AND status = 'pending'`, jobID)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "abort pending job", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := q.pool.Exec(ctx, `UPDATE job SET abort_requested = true WHERE id = $1`, jobID); err != nil {
		return errkind.Wrap(errkind.QueryError, "flag abort_requested", err)
	}

	q.cancelMu.Lock()
	cancel, ok := q.cancels[jobID]
	q.cancelMu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// claim atomically moves the oldest eligible pending row to claimed using
// FOR UPDATE SKIP LOCKED, so concurrent workers never double-claim.
func (q *Queue) claim(ctx context.Context, jobTypes []string) (*model.Job, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "begin claim tx", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id FROM job
		WHERE status = 'pending' AND job_type = ANY($1)
		ORDER BY created_at ASC, id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, jobTypes)

	var id idgen.ID
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, errkind.Wrap(errkind.QueryError, "select claimable job", err)
	}

	deadline := time.Now().Add(visibilityTimeout)
	full := tx.QueryRow(ctx, `
		UPDATE job SET status = 'claimed', visibility_deadline = $2
		WHERE id = $1
		RETURNING id, job_type, payload, status, progress, result, error,
		          created_at, updated_at, visibility_deadline, abort_requested`,
		id, deadline)

	job, err := scanJob(full)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errkind.Wrap(errkind.QueryError, "commit claim", err)
	}
	return job, nil
}

// reclaimExpired finds claimed/processing jobs whose visibility_deadline has
// lapsed and returns them to pending, the at-least-once path of §4.5.
func (q *Queue) reclaimExpired(ctx context.Context) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE job SET status = 'pending', visibility_deadline = NULL
		WHERE status IN ('claimed', 'processing') AND visibility_deadline < now()`)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "reclaim expired jobs", err)
	}
	return nil
}

func (q *Queue) setProcessing(ctx context.Context, jobID idgen.ID) error {
	_, err := q.pool.Exec(ctx, `UPDATE job SET status = 'processing' WHERE id = $1`, jobID)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "set processing", err)
	}
	return nil
}

func (q *Queue) progress(ctx context.Context, jobID idgen.ID, jobType string, percent int, result map[string]any) error {
	_, err := q.pool.Exec(ctx, `UPDATE job SET progress = $2, result = coalesce($3, result) WHERE id = $1`,
		jobID, percent, result)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "update progress", err)
	}
	q.bus.Publish(broadcast.SubjectJobUpdated, broadcast.JobEvent{
		JobID: jobID.String(), JobType: jobType, Status: string(model.JobProcessing), Progress: percent,
	})
	return nil
}

func (q *Queue) heartbeat(ctx context.Context, jobID idgen.ID) error {
	deadline := time.Now().Add(visibilityTimeout)
	_, err := q.pool.Exec(ctx, `
		UPDATE job SET visibility_deadline = $2 WHERE id = $1 AND status = 'processing'`, jobID, deadline)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "heartbeat", err)
	}
	return nil
}

func (q *Queue) complete(ctx context.Context, jobID idgen.ID, jobType string, result map[string]any) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE job SET status = 'completed', progress = 100, result = $2 WHERE id = $1`, jobID, result)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "complete job", err)
	}
	q.bus.Publish(broadcast.SubjectJobCompleted, broadcast.JobEvent{
		JobID: jobID.String(), JobType: jobType, Status: string(model.JobCompleted), Progress: 100,
	})
	return nil
}

func (q *Queue) fail(ctx context.Context, jobID idgen.ID, jobType string, failErr error) error {
	status := model.JobFailed
	if errkind.Is(failErr, errkind.Cancelled) {
		status = model.JobAborted
	}
	_, err := q.pool.Exec(ctx, `UPDATE job SET status = $2, error = $3 WHERE id = $1`, jobID, status, failErr.Error())
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "fail job", err)
	}
	q.bus.Publish(broadcast.SubjectJobCompleted, broadcast.JobEvent{
		JobID: jobID.String(), JobType: jobType, Status: string(status),
	})
	return nil
}

// Run drives the claim loop until ctx is cancelled, dispatching each claimed
// job to its handler bounded by the Queue's maxConcurrentJobs semaphore.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	reclaimTicker := time.NewTicker(visibilityTimeout / 2)
	defer reclaimTicker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reclaimTicker.C:
			if err := q.reclaimExpired(ctx); err != nil {
				q.logger.Warn("reclaim sweep failed", zap.Error(err))
			}
		case <-ticker.C:
			select {
			case q.sem <- struct{}{}:
			default:
				continue
			}

			q.mu.RLock()
			types := make([]string, 0, len(q.handlers))
			for t := range q.handlers {
				types = append(types, t)
			}
			q.mu.RUnlock()
			if len(types) == 0 {
				<-q.sem
				continue
			}

			job, err := q.claim(ctx, types)
			if err != nil {
				q.logger.Error("claim failed", zap.Error(err))
				<-q.sem
				continue
			}
			if job == nil {
				<-q.sem
				continue
			}

			wg.Add(1)
			go func(job *model.Job) {
				defer wg.Done()
				defer func() { <-q.sem }()
				q.process(ctx, job)
			}(job)
		}
	}
}

func (q *Queue) process(ctx context.Context, job *model.Job) {
	q.mu.RLock()
	handler, ok := q.handlers[job.JobType]
	q.mu.RUnlock()
	if !ok {
		q.fail(ctx, job.ID, job.JobType, errkind.New(errkind.QueryError, fmt.Sprintf("no handler for %q", job.JobType)))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	q.cancelMu.Lock()
	q.cancels[job.ID] = cancel
	q.cancelMu.Unlock()
	defer func() {
		cancel()
		q.cancelMu.Lock()
		delete(q.cancels, job.ID)
		q.cancelMu.Unlock()
	}()

	if err := q.setProcessing(ctx, job.ID); err != nil {
		q.logger.Error("set processing failed", zap.Error(err))
		return
	}

	stop := q.startHeartbeat(jobCtx, job.ID)
	defer stop()

	deps := Deps{
		Logger: q.logger,
		Progress: func(ctx context.Context, percent int, result map[string]any) error {
			return q.progress(ctx, job.ID, job.JobType, percent, result)
		},
		Cancelled: func() bool { return jobCtx.Err() != nil },
	}

	result, err := handler(jobCtx, job, deps)
	if err != nil {
		if jobCtx.Err() != nil {
			err = errkind.Wrap(errkind.Cancelled, "job aborted", err)
		}
		if failErr := q.fail(ctx, job.ID, job.JobType, err); failErr != nil {
			q.logger.Error("mark failed failed", zap.Error(failErr))
		}
		return
	}
	if err := q.complete(ctx, job.ID, job.JobType, result); err != nil {
		q.logger.Error("mark complete failed", zap.Error(err))
	}
}

func (q *Queue) startHeartbeat(ctx context.Context, jobID idgen.ID) func() {
	ticker := time.NewTicker(heartbeatInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := q.heartbeat(context.Background(), jobID); err != nil {
					q.logger.Warn("heartbeat failed", zap.Error(err))
				}
			case <-done:
				ticker.Stop()
				return
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

func scanJob(row pgx.Row) (*model.Job, error) {
	j := &model.Job{}
	var payload, result []byte
	err := row.Scan(&j.ID, &j.JobType, &payload, &j.Status, &j.Progress, &result, &j.Error,
		&j.CreatedAt, &j.UpdatedAt, &j.VisibilityDeadline, &j.AbortRequested)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errkind.New(errkind.QueryError, "job not found")
		}
		return nil, errkind.Wrap(errkind.QueryError, "scan job", err)
	}
	if len(payload) > 0 {
		_ = jsonx.Unmarshal(payload, &j.Payload)
	}
	if len(result) > 0 {
		_ = jsonx.Unmarshal(result, &j.Result)
	}
	return j, nil
}
