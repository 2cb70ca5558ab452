package reflection

import (
	"sync"
	"time"

	"enmap/internal/logging"
	"enmap/internal/types"
)

// Worker runs reflection passes off the task's critical path. Enqueue
// never blocks the caller: when the queue is full the batch is dropped,
// since reflection is an optimization and the next similar batch will
// teach the same lesson.
type Worker struct {
	analyzer *Analyzer

	mu    sync.Mutex
	queue chan []types.MappingResult
	stop  chan struct{}
	done  chan struct{}

	processed int
	dropped   int
}

// NewWorker creates a worker with the given queue depth.
func NewWorker(analyzer *Analyzer, queueSize int) *Worker {
	if queueSize < 1 {
		queueSize = 16
	}
	return &Worker{
		analyzer: analyzer,
		queue:    make(chan []types.MappingResult, queueSize),
	}
}

// Start launches the worker goroutine. Safe to call once started; extra
// calls are no-ops.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.run(w.stop, w.done)
	logging.Reflection("reflection worker started (queue=%d)", cap(w.queue))
}

// Stop drains in-flight work and shuts the worker down, waiting briefly
// for the current pass to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	stop := w.stop
	done := w.done
	w.stop = nil
	w.done = nil
	w.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logging.Reflection("reflection worker stop timed out")
	}
}

// Enqueue submits a finished batch for analysis without blocking.
func (w *Worker) Enqueue(results []types.MappingResult) {
	if len(results) == 0 {
		return
	}
	// Results are immutable after creation, so sharing the slice is safe.
	select {
	case w.queue <- results:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		logging.ReflectionDebug("reflection queue full, dropping batch of %d", len(results))
	}
}

// Processed reports how many batches have been analyzed.
func (w *Worker) Processed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processed
}

// Dropped reports batches discarded because the queue was full.
func (w *Worker) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *Worker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case batch := <-w.queue:
			w.analyzer.Analyze(batch)
			w.mu.Lock()
			w.processed++
			w.mu.Unlock()
		case <-stop:
			// Drain what is already queued before exiting.
			for {
				select {
				case batch := <-w.queue:
					w.analyzer.Analyze(batch)
					w.mu.Lock()
					w.processed++
					w.mu.Unlock()
				default:
					return
				}
			}
		}
	}
}
