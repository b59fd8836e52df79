package main

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sourcegraph/conc/panics"
)

// Job represents a task to be processed by the worker pool.
type Job func()

type messageKind int

const (
	messageJob messageKind = iota
	messageTerminate
)

// message is what travels through the job queue: either a job or the request to stop.
type message struct {
	kind messageKind
	job  Job
}

// WorkerPool defines the interface for a task distribution system.
type WorkerPool interface {
	// Submit enqueues a job without waiting for it to run.
	Submit(job Job) error

	// Close stops all workers after they finished the jobs queued before it. Only the first call has an effect.
	Close()

	// Size returns the number of workers.
	Size() int

	// QueueLen returns the number of messages waiting in the queue.
	QueueLen() int
}

// worker is the handle of one worker goroutine. done is closed when the goroutine returned.
type worker struct {
	id   int
	done chan struct{}
}

// channelWorkerPool implements WorkerPool using Go channels.
type channelWorkerPool struct {
	workers         []*worker
	queue           chan message
	logger          *slog.Logger
	panics          metrics.Counter
	shutdownTimeout time.Duration

	// quit is closed when teardown begins and releases submitters blocked on a full queue.
	quit chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewWorkerPool creates and starts a pool of size workers sharing a queue of queueSize slots.
// No worker is started when size is not positive.
func NewWorkerPool(size, queueSize int, shutdownTimeout time.Duration, logger *slog.Logger, registry metrics.Registry) (WorkerPool, error) {
	if size <= 0 {
		return nil, ErrInvalidPoolSize
	}

	if queueSize <= 0 {
		queueSize = size * defaultQueueFactor
	}

	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	if registry == nil {
		registry = metrics.NewRegistry()
	}

	wp := &channelWorkerPool{
		workers:         make([]*worker, 0, size),
		queue:           make(chan message, queueSize),
		logger:          logger,
		panics:          metrics.GetOrRegisterCounter("pool.panics", registry),
		shutdownTimeout: shutdownTimeout,
		quit:            make(chan struct{}),
	}

	for id := range size {
		w := &worker{id: id, done: make(chan struct{})}
		wp.workers = append(wp.workers, w)

		go wp.run(w)
	}

	logger.Info("Worker pool started", slog.Int("workers", size), slog.Int("queue_size", queueSize))

	return wp, nil
}

func (wp *channelWorkerPool) run(w *worker) {
	defer close(w.done)

	for {
		msg := <-wp.queue

		switch msg.kind {
		case messageTerminate:
			wp.logger.Debug("Worker is terminating", slog.Int("worker", w.id))

			return
		case messageJob:
			wp.logger.Debug("Worker got a new job", slog.Int("worker", w.id))
			wp.execute(w.id, msg.job)
		}
	}
}

// execute runs job and turns a panic into a log line so the worker survives it.
func (wp *channelWorkerPool) execute(id int, job Job) {
	var catcher panics.Catcher

	catcher.Try(job)

	if recovered := catcher.Recovered(); recovered != nil {
		wp.panics.Inc(1)
		wp.logger.Error(
			"Job panicked",
			slog.Int("worker", id),
			slog.Any("panic", recovered.Value),
			slog.String("stack", string(recovered.Stack)),
		)
	}
}

func (wp *channelWorkerPool) Submit(job Job) error {
	if job == nil {
		return errors.New("job must not be nil")
	}

	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		wp.logger.Error("Failed to send job to the worker pool", slog.String("error", ErrPoolClosed.Error()))

		return ErrPoolClosed
	}

	select {
	case wp.queue <- message{kind: messageJob, job: job}:
		return nil
	case <-wp.quit:
		wp.logger.Error("Failed to send job to the worker pool", slog.String("error", ErrPoolClosed.Error()))

		return ErrPoolClosed
	}
}

func (wp *channelWorkerPool) Close() {
	wp.closeOnce.Do(wp.teardown)
}

func (wp *channelWorkerPool) teardown() {
	close(wp.quit)

	// Waits for in-flight Submit calls, so every accepted job is queued ahead of the terminate messages
	wp.mu.Lock()
	wp.closed = true
	wp.mu.Unlock()

	timer := time.NewTimer(wp.shutdownTimeout)
	defer timer.Stop()

	wp.logger.Info("Sending terminate message to all workers", slog.Int("workers", len(wp.workers)))

	expired := false
	sent := 0

	for sent < len(wp.workers) && !expired {
		select {
		case wp.queue <- message{kind: messageTerminate}:
			sent++
		case <-timer.C:
			expired = true

			wp.logger.Error(
				"Could not deliver terminate message in time",
				slog.Int("undelivered", len(wp.workers)-sent),
				slog.Int("queued", len(wp.queue)),
				slog.Duration("timeout", wp.shutdownTimeout),
			)
		}
	}

	wp.logger.Info("Shutting down all workers")

	for _, w := range wp.workers {
		if expired {
			select {
			case <-w.done:
			default:
				wp.logger.Error("Worker did not stop in time", slog.Int("worker", w.id))
			}

			continue
		}

		select {
		case <-w.done:
			wp.logger.Debug("Worker stopped", slog.Int("worker", w.id))
		case <-timer.C:
			expired = true

			wp.logger.Error("Worker did not stop in time", slog.Int("worker", w.id), slog.Duration("timeout", wp.shutdownTimeout))
		}
	}

	wp.logger.Info("Worker pool stopped")
}

func (wp *channelWorkerPool) Size() int {
	return len(wp.workers)
}

func (wp *channelWorkerPool) QueueLen() int {
	return len(wp.queue)
}

var _ WorkerPool = (*channelWorkerPool)(nil)
