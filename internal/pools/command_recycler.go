package pools

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/vks/internal/reclaim"
	"github.com/vkngwrapper/vks/metrics"
	"github.com/vkngwrapper/vks/poolutils"
	"golang.org/x/exp/slog"
)

// DefaultUnusedCommandBufferLimit is the number of never-used command buffers a reclaimed pool
// may carry before its reset releases resources back to the driver
const DefaultUnusedCommandBufferLimit = 16

type recycledCommandPool struct {
	handle  core1_0.CommandPool
	buffers []core1_0.CommandBuffer
}

type CommandPoolRecyclerOptions struct {
	ContextID                uint64
	QueueFamilyIndex         int
	UnusedCommandBufferLimit int
	VulkanCallbacks          *loader.AllocationCallbacks
	Metrics                  *metrics.Metrics
}

// CommandPoolRecycler lends one command pool per recording goroutine and context, and resets
// reclaimed pools on the deferred destruction queue so they can be lent again
type CommandPoolRecycler struct {
	logger           *slog.Logger
	driver           core1_0.DeviceDriver
	queue            *reclaim.Queue
	callbacks        *loader.AllocationCallbacks
	metrics          *metrics.Metrics
	contextID        uint64
	queueFamilyIndex int
	unusedLimit      int

	mutex     sync.Mutex
	recycled  []recycledCommandPool
	destroyed bool
	stats     poolutils.Statistics
}

func NewCommandPoolRecycler(logger *slog.Logger, driver core1_0.DeviceDriver, queue *reclaim.Queue, options CommandPoolRecyclerOptions) *CommandPoolRecycler {
	unusedLimit := options.UnusedCommandBufferLimit
	if unusedLimit <= 0 {
		unusedLimit = DefaultUnusedCommandBufferLimit
	}

	return &CommandPoolRecycler{
		logger:           logger,
		driver:           driver,
		queue:            queue,
		callbacks:        options.VulkanCallbacks,
		metrics:          options.Metrics,
		contextID:        options.ContextID,
		queueFamilyIndex: options.QueueFamilyIndex,
		unusedLimit:      unusedLimit,
	}
}

// Get returns the pool cached for this context in the calling goroutine's cache, creating and
// caching one on first use
func (r *CommandPoolRecycler) Get(cache *LocalCache) (*CommandPool, error) {
	if pool := cache.commandPools[r.contextID]; pool != nil {
		return pool, nil
	}

	handle, buffers, err := r.create()
	if err != nil {
		return nil, err
	}

	pool := newCommandPool(r, handle, buffers)
	cache.commandPools[r.contextID] = pool
	commandPoolRegistry.register(r.contextID, pool)

	return pool, nil
}

func (r *CommandPoolRecycler) create() (core1_0.CommandPool, []core1_0.CommandBuffer, error) {
	r.mutex.Lock()
	if count := len(r.recycled); count > 0 {
		entry := r.recycled[count-1]
		r.recycled[count-1] = recycledCommandPool{}
		r.recycled = r.recycled[:count-1]
		r.stats.Reused++
		r.stats.Idle--
		r.mutex.Unlock()

		r.metrics.PoolReused(metrics.PoolKindCommand)
		r.logger.Debug("CommandPoolRecycler::Get reused pool", slog.Int("Buffers", len(entry.buffers)))
		return entry.handle, entry.buffers, nil
	}
	r.mutex.Unlock()

	handle, _, err := r.driver.CreateCommandPool(r.callbacks, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: r.queueFamilyIndex,
		Flags:            core1_0.CommandPoolCreateTransient,
	})
	if err != nil {
		return core1_0.CommandPool{}, nil, errors.Wrap(err, "failed to create command pool")
	}

	r.mutex.Lock()
	r.stats.Created++
	r.mutex.Unlock()

	r.metrics.PoolCreated(metrics.PoolKindCommand)
	r.logger.Debug("CommandPoolRecycler::Get created pool", slog.Int("QueueFamilyIndex", r.queueFamilyIndex))
	return handle, nil, nil
}

// Reclaim schedules a reset of the pool on the deferred destruction queue, after which the pool
// and its buffers become available to the next Get. collected are buffers that were used, unused
// are buffers the pool carried and never handed out.
func (r *CommandPoolRecycler) Reclaim(handle core1_0.CommandPool, collected []core1_0.CommandBuffer, unused []core1_0.CommandBuffer, shouldTrim bool) {
	r.queue.Reclaim(reclaim.ResourceFunc(func() {
		r.reset(handle, collected, unused, shouldTrim)
	}))
}

func (r *CommandPoolRecycler) reset(handle core1_0.CommandPool, collected []core1_0.CommandBuffer, unused []core1_0.CommandBuffer, shouldTrim bool) {
	var flags core1_0.CommandPoolResetFlags
	trim := shouldTrim || len(unused) > r.unusedLimit
	if trim {
		if len(unused) > 0 {
			r.driver.FreeCommandBuffers(unused...)
		}
		unused = nil
		flags = core1_0.CommandPoolResetReleaseResources
	}

	_, err := r.driver.ResetCommandPool(handle, flags)
	if err != nil {
		r.logger.Warn("CommandPoolRecycler::Reclaim failed to reset pool, destroying it", slog.Any("Error", err))
		r.destroyNative(handle, append(collected, unused...))
		return
	}

	buffers := append(collected, unused...)

	r.mutex.Lock()
	if r.destroyed {
		r.mutex.Unlock()
		r.destroyNative(handle, buffers)
		return
	}

	r.recycled = append(r.recycled, recycledCommandPool{handle: handle, buffers: buffers})
	r.stats.Recycled++
	r.stats.Idle++
	if trim {
		r.stats.Trimmed++
	}
	r.mutex.Unlock()

	r.logger.Debug("CommandPoolRecycler::Reclaim recycled pool", slog.Int("Buffers", len(buffers)), slog.Bool("Trimmed", trim))
}

// DisposeThreadLocal drops the calling goroutine's cached pool for this context. The pool is
// reclaimed once every session recording from it has been released.
func (r *CommandPoolRecycler) DisposeThreadLocal(cache *LocalCache) {
	pool := cache.commandPools[r.contextID]
	if pool == nil {
		return
	}

	delete(cache.commandPools, r.contextID)
	pool.Release()
}

// DestroyAll destroys every pool lent for this context, including pools cached by other
// goroutines, and clears the caller's cache entry. It must only be called once the device is idle.
func (r *CommandPoolRecycler) DestroyAll(cache *LocalCache) {
	pools := commandPoolRegistry.take(r.contextID)
	for _, pool := range pools {
		pool.Destroy()
	}

	if cache != nil {
		delete(cache.commandPools, r.contextID)
	}

	r.logger.Debug("CommandPoolRecycler::DestroyAll", slog.Int("Pools", len(pools)))
}

// Destroy destroys every pool waiting in the recycled list. Pools reclaimed afterward are
// destroyed instead of recycled.
func (r *CommandPoolRecycler) Destroy() {
	r.mutex.Lock()
	r.destroyed = true
	recycled := r.recycled
	r.recycled = nil
	r.stats.Idle = 0
	r.mutex.Unlock()

	for _, entry := range recycled {
		r.destroyNative(entry.handle, entry.buffers)
	}
}

func (r *CommandPoolRecycler) Statistics() poolutils.Statistics {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.stats
}

// destroyNative frees the buffers before destroying the pool that owns them
func (r *CommandPoolRecycler) destroyNative(handle core1_0.CommandPool, buffers []core1_0.CommandBuffer) {
	if len(buffers) > 0 {
		r.driver.FreeCommandBuffers(buffers...)
	}
	r.driver.DestroyCommandPool(handle, r.callbacks)

	r.mutex.Lock()
	r.stats.Destroyed++
	r.mutex.Unlock()
}
