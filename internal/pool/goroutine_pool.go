// Package pool provides bounded background workers and object reuse for
// the API layer.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolFull is returned when the queue is full and no worker slot
	// is free.
	ErrPoolFull = errors.New("worker pool queue is full")

	errTaskPanicked = errors.New("task panicked")
)

// Task is one unit of background work.
type Task func(ctx context.Context) error

// WorkerPoolConfig bounds a WorkerPool.
type WorkerPoolConfig struct {
	// MaxWorkers caps concurrent workers. Workers spawn on demand and
	// retire after IdleTimeout without work; one stays resident.
	MaxWorkers  int           `json:"max_workers" yaml:"max_workers"`
	QueueSize   int           `json:"queue_size" yaml:"queue_size"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// DefaultWorkerPoolConfig suits background archiving: small worker count,
// generous queue.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxWorkers:  8,
		QueueSize:   256,
		IdleTimeout: time.Minute,
	}
}

// WorkerPool runs tasks on a bounded set of goroutines. Submission never
// blocks: a full queue with no spawnable worker rejects the task instead.
type WorkerPool struct {
	maxWorkers  int
	idleTimeout time.Duration
	logger      *zap.Logger

	tasks       chan queuedTask
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

type queuedTask struct {
	ctx  context.Context
	task Task

	// result is nil for fire-and-forget submissions.
	result chan error
}

// NewWorkerPool creates a pool. Zero config fields fall back to defaults;
// logger may be nil.
func NewWorkerPool(cfg WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	def := DefaultWorkerPoolConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		maxWorkers:  cfg.MaxWorkers,
		idleTimeout: cfg.IdleTimeout,
		logger:      logger.With(zap.String("component", "worker_pool")),
		tasks:       make(chan queuedTask, cfg.QueueSize),
	}
}

// Submit enqueues a task without waiting for it to run.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	return p.enqueue(queuedTask{ctx: ctx, task: task})
}

// SubmitWait enqueues a task and blocks until it finishes or ctx is done.
func (p *WorkerPool) SubmitWait(ctx context.Context, task Task) error {
	qt := queuedTask{ctx: ctx, task: task, result: make(chan error, 1)}
	if err := p.enqueue(qt); err != nil {
		return err
	}
	select {
	case err := <-qt.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) enqueue(qt queuedTask) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	select {
	case p.tasks <- qt:
		p.ensureWorker()
		return nil
	default:
	}

	// Queue full: a fresh worker may drain it enough to accept.
	if p.spawnWorker() {
		select {
		case p.tasks <- qt:
			return nil
		default:
		}
	}
	p.rejected.Add(1)
	return ErrPoolFull
}

func (p *WorkerPool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.spawnWorker()
	}
}

func (p *WorkerPool) spawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case qt, ok := <-p.tasks:
			if !ok {
				return
			}
			p.activeCount.Add(1)
			err := p.runTask(qt)
			p.activeCount.Add(-1)

			if qt.result != nil {
				qt.result <- err
			}
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			idle.Reset(p.idleTimeout)

		case <-idle.C:
			// Keep one worker resident so the next task starts fast.
			if p.workerCount.Load() > 1 {
				return
			}
			idle.Reset(p.idleTimeout)
		}
	}
}

func (p *WorkerPool) runTask(qt queuedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool task panicked", zap.Any("panic", r))
			err = errTaskPanicked
		}
	}()
	return qt.task(qt.ctx)
}

// Close stops accepting tasks, drains the queue and waits for workers.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.tasks)
	p.wg.Wait()
}

// Stats reports a point-in-time view of the pool.
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// WorkerPoolStats are cumulative pool counters plus current occupancy.
type WorkerPoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
