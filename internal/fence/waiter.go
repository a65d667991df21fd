package fence

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/vks/metrics"
	"golang.org/x/exp/slog"
)

// DefaultWaitTimeout bounds each driver wait so termination requests are noticed promptly
const DefaultWaitTimeout = 100 * time.Millisecond

type waitSetEntry struct {
	fence    core1_0.Fence
	callback func()
}

// Waiter owns a goroutine that waits for fences to signal and runs their callbacks on that
// goroutine. Each signaled fence is destroyed after its callback returns.
type Waiter struct {
	logger    *slog.Logger
	driver    core1_0.DeviceDriver
	callbacks *loader.AllocationCallbacks
	metrics   *metrics.Metrics
	timeout   time.Duration

	mutex     sync.Mutex
	cond      *sync.Cond
	waitSet   []*waitSetEntry
	terminate bool

	done          chan struct{}
	terminateOnce sync.Once

	completed  atomic.Int64
	deviceLost atomic.Bool
}

func New(logger *slog.Logger, driver core1_0.DeviceDriver, callbacks *loader.AllocationCallbacks, metrics *metrics.Metrics, timeout time.Duration) *Waiter {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	w := &Waiter{
		logger:    logger,
		driver:    driver,
		callbacks: callbacks,
		metrics:   metrics,
		timeout:   timeout,
		done:      make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mutex)

	go w.main()

	return w
}

// AddFence registers a fence and the callback to run once it signals. The waiter takes ownership
// of the fence. It returns false, without ever running the callback, if the fence is null, the
// callback is nil, or termination has begun.
func (w *Waiter) AddFence(fence core1_0.Fence, callback func()) bool {
	if !fence.Initialized() || callback == nil {
		return false
	}

	w.mutex.Lock()
	if w.terminate {
		w.mutex.Unlock()
		return false
	}
	w.waitSet = append(w.waitSet, &waitSetEntry{fence: fence, callback: callback})
	pending := len(w.waitSet)
	w.mutex.Unlock()

	w.metrics.SetFencesPending(pending)
	w.cond.Signal()
	return true
}

// Terminate stops accepting fences and waits for the fences already registered to signal before
// the wait goroutine exits. It must not be called from a fence callback.
func (w *Waiter) Terminate() {
	w.terminateOnce.Do(func() {
		w.mutex.Lock()
		w.terminate = true
		w.mutex.Unlock()
		w.cond.Broadcast()

		<-w.done
	})
}

func (w *Waiter) IsTerminating() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return w.terminate
}

// Pending is the number of fences that have not signaled yet
func (w *Waiter) Pending() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	return len(w.waitSet)
}

// Completed is the number of callbacks run so far
func (w *Waiter) Completed() int {
	return int(w.completed.Load())
}

// DeviceLost reports whether the wait loop stopped because the device became unusable
func (w *Waiter) DeviceLost() bool {
	return w.deviceLost.Load()
}

func (w *Waiter) main() {
	defer close(w.done)

	for w.wait() {
	}

	// Nothing more will be accepted once the loop has exited, including after device loss
	w.mutex.Lock()
	w.terminate = true
	w.mutex.Unlock()
}

func (w *Waiter) wait() bool {
	w.mutex.Lock()
	for len(w.waitSet) == 0 && !w.terminate {
		w.cond.Wait()
	}

	if len(w.waitSet) == 0 {
		// Terminated and drained
		w.mutex.Unlock()
		return false
	}

	snapshot := make([]*waitSetEntry, len(w.waitSet))
	copy(snapshot, w.waitSet)
	w.mutex.Unlock()

	var signaled []*waitSetEntry
	var remaining []core1_0.Fence
	for _, entry := range snapshot {
		res, err := w.driver.GetFenceStatus(entry.fence)
		switch res {
		case core1_0.VKSuccess:
			signaled = append(signaled, entry)
		case core1_0.VKNotReady:
			remaining = append(remaining, entry.fence)
		default:
			w.fatal(err)
			return false
		}
	}

	for _, entry := range signaled {
		entry.callback()
		w.driver.DestroyFence(entry.fence, w.callbacks)
	}

	if len(signaled) > 0 {
		w.remove(signaled)
		w.completed.Add(int64(len(signaled)))
	}

	if len(remaining) == 0 {
		return true
	}

	res, err := w.driver.WaitForFences(false, w.timeout, remaining...)
	if res != core1_0.VKSuccess && res != core1_0.VKTimeout {
		w.fatal(err)
		return false
	}

	return true
}

func (w *Waiter) remove(signaled []*waitSetEntry) {
	w.mutex.Lock()
	kept := w.waitSet[:0]
	for _, entry := range w.waitSet {
		found := false
		for _, done := range signaled {
			if entry == done {
				found = true
				break
			}
		}

		if !found {
			kept = append(kept, entry)
		}
	}

	for i := len(kept); i < len(w.waitSet); i++ {
		w.waitSet[i] = nil
	}
	w.waitSet = kept
	pending := len(kept)
	w.mutex.Unlock()

	w.metrics.SetFencesPending(pending)
}

// fatal stops the waiter from accepting fences before the wait loop has exited
func (w *Waiter) fatal(err error) {
	w.mutex.Lock()
	w.terminate = true
	w.mutex.Unlock()

	w.deviceLost.Store(true)
	w.logger.Error("FenceWaiter::wait encountered an unrecoverable error, tearing down the wait goroutine", slog.Any("Error", err))
}
