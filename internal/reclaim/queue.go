package reclaim

import (
	"sync"
	"sync/atomic"

	"github.com/vkngwrapper/vks/metrics"
	"golang.org/x/exp/slog"
)

// Resource is a unit of deferred work, usually the release of a native object that must not be
// destroyed on the calling goroutine
type Resource interface {
	Reclaim()
}

// ResourceFunc adapts a plain function to the Resource interface
type ResourceFunc func()

func (f ResourceFunc) Reclaim() {
	f()
}

// Queue hands resources to a single worker goroutine that releases them in batches. Reclaim never
// waits on the release work itself.
type Queue struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mutex      sync.Mutex
	cond       *sync.Cond
	pending    []Resource
	shouldExit bool
	started    bool
	exited     bool

	done          chan struct{}
	terminateOnce sync.Once

	processed atomic.Int64
}

// New creates a Queue. Its worker is not running until Start is called, which should happen after
// every subsystem the queued resources refer to has been constructed.
func New(logger *slog.Logger, metrics *metrics.Metrics) *Queue {
	q := &Queue{
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mutex)

	return q
}

func (q *Queue) Start() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.started {
		return
	}
	q.started = true

	go q.main()
}

// Reclaim queues a resource for release on the worker. Once the worker has exited the resource
// is released on the calling goroutine instead.
func (q *Queue) Reclaim(resource Resource) {
	if resource == nil {
		return
	}

	q.mutex.Lock()
	if q.exited {
		q.mutex.Unlock()

		q.logger.Debug("ReclaimQueue::Reclaim released after termination")
		resource.Reclaim()
		q.processed.Add(1)
		q.metrics.DeferredReclaims(1)
		return
	}
	q.pending = append(q.pending, resource)
	q.mutex.Unlock()

	q.cond.Signal()
}

// Pending is the number of resources waiting for the worker
func (q *Queue) Pending() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return len(q.pending)
}

// Processed is the number of resources released so far
func (q *Queue) Processed() int {
	return int(q.processed.Load())
}

// Terminate asks the worker to exit once the resources already queued are released, and waits for
// it to do so. It is safe to call more than once.
func (q *Queue) Terminate() {
	q.terminateOnce.Do(func() {
		q.mutex.Lock()
		q.shouldExit = true
		started := q.started
		q.mutex.Unlock()
		q.cond.Broadcast()

		if started {
			<-q.done
		} else {
			q.drain()
		}
	})
}

func (q *Queue) main() {
	defer close(q.done)

	for {
		q.mutex.Lock()
		for len(q.pending) == 0 && !q.shouldExit {
			q.cond.Wait()
		}

		batch := q.pending
		q.pending = nil
		shouldExit := q.shouldExit
		if shouldExit && len(batch) == 0 {
			q.exited = true
		}
		q.mutex.Unlock()

		q.release(batch)

		if shouldExit && len(batch) == 0 {
			return
		}
	}
}

// drain handles a queue that was terminated without its worker ever starting
func (q *Queue) drain() {
	q.mutex.Lock()
	batch := q.pending
	q.pending = nil
	q.exited = true
	q.mutex.Unlock()

	q.release(batch)
	close(q.done)
}

func (q *Queue) release(batch []Resource) {
	if len(batch) == 0 {
		return
	}

	for _, resource := range batch {
		resource.Reclaim()
	}

	q.processed.Add(int64(len(batch)))
	q.metrics.DeferredReclaims(len(batch))
	q.logger.Debug("ReclaimQueue::release", slog.Int("Count", len(batch)))
}
