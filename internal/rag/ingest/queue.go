// Package ingest decouples document uploads from embedding and upsert work.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/toleds/rag-bot/internal/agent/model"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

// DefaultBatchSize is the maximum number of fragments per upsert call.
const DefaultBatchSize = 10

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("ingestion queue is closed")

// Task is one enqueued batch of fragments.
type Task struct {
	ID         uint64
	Fragments  []model.Fragment
	Persist    bool
	Collection string // captured at enqueue time
}

// TaskReport summarizes a processed task.
type TaskReport struct {
	TaskID        uint64
	Collection    string
	Fragments     int
	Batches       int
	FailedBatches int
	Duration      time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithBatchSize sets the maximum sub-batch size.
func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithConcurrency sets how many sub-batches of one task are upserted at once.
// Tasks themselves are always processed one at a time in enqueue order.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithObserver registers a callback invoked after each task completes.
func WithObserver(fn func(TaskReport)) Option {
	return func(q *Queue) {
		q.observer = fn
	}
}

// Queue is an unbounded FIFO of ingestion tasks drained by a single worker
// goroutine. The worker starts on demand and exits when the queue is empty.
type Queue struct {
	store       model.ChunkStore
	batchSize   int
	concurrency int
	observer    func(TaskReport)
	pool        *ants.Pool

	mu      sync.Mutex
	tasks   []Task
	seq     uint64
	running bool
	closed  bool
	done    chan struct{} // closed when the current worker exits
}

// NewQueue creates a queue that upserts into store.
func NewQueue(store model.ChunkStore, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("chunk store is nil")
	}
	q := &Queue{
		store:       store,
		batchSize:   DefaultBatchSize,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.concurrency > 1 {
		pool, err := ants.NewPool(q.concurrency)
		if err != nil {
			return nil, fmt.Errorf("failed to create ingestion worker pool: %w", err)
		}
		q.pool = pool
	}
	return q, nil
}

// Enqueue appends a task targeting the store's active collection and returns
// without waiting for it to be processed.
func (q *Queue) Enqueue(fragments []model.Fragment, persist bool) (uint64, error) {
	return q.EnqueueTo(q.store.ActiveCollection(), fragments, persist)
}

// EnqueueTo appends a task targeting collection.
func (q *Queue) EnqueueTo(collection string, fragments []model.Fragment, persist bool) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}

	q.seq++
	q.tasks = append(q.tasks, Task{
		ID:         q.seq,
		Fragments:  fragments,
		Persist:    persist,
		Collection: collection,
	})

	if !q.running {
		q.running = true
		q.done = make(chan struct{})
		go q.run(q.done)
	}

	logx.Debug().Uint64("task_id", q.seq).Int("fragments", len(fragments)).Str("collection", collection).
		Int("pending", len(q.tasks)).Msg("Ingestion task enqueued")
	return q.seq, nil
}

// Pending reports tasks waiting for the worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops accepting tasks and waits until queued work is drained or ctx ends.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	running, done := q.running, q.done
	q.mu.Unlock()

	if running {
		select {
		case <-done:
		case <-ctx.Done():
			logx.Warn().Int("pending", q.Pending()).Msg("Ingestion queue closed before draining")
			return ctx.Err()
		}
	}
	if q.pool != nil {
		q.pool.Release()
	}
	return nil
}

func (q *Queue) run(done chan struct{}) {
	defer close(done)
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = Task{}
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		report := q.process(task)
		if q.observer != nil {
			q.observer(report)
		}
	}
}

// process assigns ids and upserts sub-batches. Sub-batch failures are logged
// and skipped; the task always completes.
func (q *Queue) process(task Task) TaskReport {
	start := time.Now()
	ctx := context.Background()

	model.AssignIDs(task.Fragments)
	batches := split(task.Fragments, q.batchSize)

	var failed int
	if q.pool == nil || len(batches) < 2 {
		for i, b := range batches {
			if !q.upsert(ctx, task, i, b) {
				failed++
			}
		}
	} else {
		failed = q.upsertConcurrently(ctx, task, batches)
	}

	if task.Persist {
		if err := q.store.Persist(ctx); err != nil {
			logx.Error().Err(err).Uint64("task_id", task.ID).Msg("Failed to persist vector store")
		}
	}

	report := TaskReport{
		TaskID:        task.ID,
		Collection:    task.Collection,
		Fragments:     len(task.Fragments),
		Batches:       len(batches),
		FailedBatches: failed,
		Duration:      time.Since(start),
	}
	logx.Info().Uint64("task_id", task.ID).Str("collection", task.Collection).Int("fragments", report.Fragments).
		Int("batches", report.Batches).Int("failed_batches", failed).Dur("duration", report.Duration).
		Msg("Ingestion task completed")
	return report
}

func (q *Queue) upsertConcurrently(ctx context.Context, task Task, batches [][]model.Fragment) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for i, b := range batches {
		wg.Add(1)
		idx, batch := i, b
		err := q.pool.Submit(func() {
			defer wg.Done()
			if !q.upsert(ctx, task, idx, batch) {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		})
		if err != nil {
			// pool unavailable; fall back to the worker goroutine
			wg.Done()
			if !q.upsert(ctx, task, idx, batch) {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}
	}
	wg.Wait()
	return failed
}

// upsert reports whether the sub-batch was stored. Panics are treated as failures.
func (q *Queue) upsert(ctx context.Context, task Task, index int, batch []model.Fragment) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Uint64("task_id", task.ID).Int("batch", index).Interface("panic", r).
				Msg("Recovered panic while upserting sub-batch")
			ok = false
		}
	}()

	if err := q.store.UpsertBatch(ctx, task.Collection, batch); err != nil {
		logx.Error().Err(err).Uint64("task_id", task.ID).Int("batch", index).Int("size", len(batch)).
			Str("collection", task.Collection).Msg("Failed to upsert sub-batch; skipping")
		return false
	}
	return true
}

func split(fragments []model.Fragment, size int) [][]model.Fragment {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]model.Fragment
	for start := 0; start < len(fragments); start += size {
		end := start + size
		if end > len(fragments) {
			end = len(fragments)
		}
		out = append(out, fragments[start:end])
	}
	return out
}
