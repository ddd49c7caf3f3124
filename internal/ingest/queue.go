package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status describes where a job is in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrQueueClosed is returned by Enqueue after Stop has been called.
var ErrQueueClosed = errors.New("ingest queue is closed")

// ErrJobNotFound is returned by Job lookups for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// Job is one statement upload. Data holds the fully-read file contents so
// workers never touch the original request body.
type Job struct {
	ID           string
	AccountID    string
	UserID       string
	Filename     string
	Data         []byte
	Status       Status
	Error        string
	EnqueuedAt   time.Time
	FinishedAt   time.Time
	Staged       int
	Materialized int
}

// Runner executes one job. Workers hand the runner a private copy of the
// job record; counts the runner sets on it are folded back into the shared
// record under the queue lock when the job finishes.
type Runner func(ctx context.Context, job *Job) error

// Queue is a fixed-size worker pool over a buffered job channel. Jobs for
// the same account are serialized; distinct accounts run concurrently.
type Queue struct {
	runner  Runner
	workers int
	jobs    chan *Job
	wg      sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	records map[string]*Job

	lockMu       sync.Mutex
	accountLocks map[string]*sync.Mutex
}

// NewQueue creates a queue with the given number of workers. Workers do not
// run until Start is called.
func NewQueue(runner Runner, workers int) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		runner:       runner,
		workers:      workers,
		jobs:         make(chan *Job, workers*16),
		records:      make(map[string]*Job),
		accountLocks: make(map[string]*sync.Mutex),
	}
}

// Enqueue records the job as pending and hands it to the worker pool. It
// assigns the job an id when none is set and returns that id.
func (q *Queue) Enqueue(ctx context.Context, job *Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = StatusPending
	job.EnqueuedAt = time.Now().UTC()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	q.records[job.ID] = job
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return job.ID, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.records, job.ID)
		q.mu.Unlock()
		return "", ctx.Err()
	}
}

// Start launches the worker pool. ctx cancellation is observed by the
// runner, not the pool itself; use Stop to drain and shut down.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(q.workers)
	for i := 0; i < q.workers; i++ {
		go q.work(ctx)
	}
}

// Stop closes the queue and blocks until in-flight and buffered jobs have
// drained.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.jobs)
	q.wg.Wait()
}

// Job returns a snapshot of the job record with the given id.
func (q *Queue) Job(id string) (Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.records[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return *job, nil
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()

	for job := range q.jobs {
		lock := q.lockFor(job.AccountID)
		lock.Lock()

		q.setStatus(job, StatusRunning, "")

		// The shared record is only ever written under q.mu; the runner
		// works on its own copy.
		run := *job
		err := q.runner(ctx, &run)
		if err != nil {
			log.Printf("ERROR: job %s (account %s): %v", job.ID, job.AccountID, err)
		}
		q.finish(job, &run, err)

		lock.Unlock()
	}
}

func (q *Queue) lockFor(accountID string) *sync.Mutex {
	q.lockMu.Lock()
	defer q.lockMu.Unlock()

	lock, ok := q.accountLocks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		q.accountLocks[accountID] = lock
	}
	return lock
}

func (q *Queue) setStatus(job *Job, status Status, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job.Status = status
	job.Error = errMsg
}

// finish folds the runner's results into the shared record.
func (q *Queue) finish(job, run *Job, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job.Staged = run.Staged
	job.Materialized = run.Materialized
	job.FinishedAt = time.Now().UTC()
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = StatusCompleted
	}
}
