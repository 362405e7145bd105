package pool

import (
	"sync"

	"go.uber.org/zap"
)

// WorkerPool is a fixed-size goroutine pool for fire-and-forget jobs.
// A panicking job is recovered and logged; it never takes a worker down.
type WorkerPool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	once     sync.Once
	closed   bool
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int, queueSize int, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := &WorkerPool{
		workers:  workers,
		jobQueue: make(chan func(), queueSize),
		logger:   logger,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for job := range p.jobQueue {
		p.run(job)
	}
}

func (p *WorkerPool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker job panicked", zap.Any("panic", r))
		}
	}()
	job()
}

// Submit queues a job. When the pool is closed or the queue is full the job
// runs on its own goroutine instead and Submit returns false.
func (p *WorkerPool) Submit(job func()) bool {
	if job == nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		go p.run(job)
		return false
	}

	select {
	case p.jobQueue <- job:
		return true
	default:
		go p.run(job)
		return false
	}
}

// Close stops accepting jobs and waits for queued jobs to finish
func (p *WorkerPool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobQueue)
		p.mu.Unlock()

		p.wg.Wait()
	})
}

// IsClosed returns true if the pool is closed
func (p *WorkerPool) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
