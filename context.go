package vks

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/vks/internal/fence"
	"github.com/vkngwrapper/vks/internal/pools"
	"github.com/vkngwrapper/vks/internal/reclaim"
	"github.com/vkngwrapper/vks/internal/vulkan"
	"github.com/vkngwrapper/vks/metrics"
	"golang.org/x/exp/slog"
)

// Context owns the submission machinery for one device: the command and descriptor pool recyclers,
// the fence goroutine and the deferred destruction goroutine. Every command buffer recorded for the
// device is created from a Context and submitted through its CommandQueue.
type Context struct {
	logger     *slog.Logger
	driver     core1_0.DeviceDriver
	id         uint64
	flags      CreateFlags
	callbacks  *loader.AllocationCallbacks
	metrics    *metrics.Metrics
	extensions *vulkan.ExtensionData

	maxBindings     int
	timestampPeriod float32

	reclaimQueue       *reclaim.Queue
	commandRecycler    *pools.CommandPoolRecycler
	descriptorRecycler *pools.DescriptorPoolRecycler
	fenceWaiter        *fence.Waiter
	commandQueue       *CommandQueue

	shutdown     atomic.Bool
	shutdownOnce sync.Once

	gpuTimeMutex sync.Mutex
	gpuSamples   int
	gpuTotal     time.Duration
	gpuLast      time.Duration
}

// CreateCommandBuffer begins recording a new command buffer on the calling goroutine. The command
// pool and descriptor pool the command buffer draws from are the ones cached on worker for this
// context, so command buffers created back to back on one Worker share them.
func (c *Context) CreateCommandBuffer(worker *Worker) (*CommandBuffer, error) {
	if c.shutdown.Load() {
		return nil, ContextShutdownError
	}

	commandPool, err := c.commandRecycler.Get(worker.cache)
	if err != nil {
		return nil, err
	}
	descriptorPool := c.descriptorRecycler.GetLocal(worker.cache)

	return newCommandBuffer(c, commandPool, descriptorPool)
}

// DisposeThreadLocalCachedResources drops the pools cached on worker for this context. They return
// to their recyclers once every command buffer created from them has completed. The next command
// buffer created on worker receives fresh pools.
func (c *Context) DisposeThreadLocalCachedResources(worker *Worker) {
	c.commandRecycler.DisposeThreadLocal(worker.cache)
	c.descriptorRecycler.DisposeThreadLocal(worker.cache)
}

func (c *Context) CommandQueue() *CommandQueue {
	return c.commandQueue
}

func (c *Context) Driver() core1_0.DeviceDriver {
	return c.driver
}

// ReclaimLater runs fn on the deferred destruction goroutine. It is the only safe way to destroy a
// native object that in-flight GPU work might still reference from an arbitrary goroutine.
func (c *Context) ReclaimLater(fn func()) {
	if fn == nil {
		return
	}

	c.reclaimQueue.Reclaim(reclaim.ResourceFunc(fn))
}

// Shutdown waits for the device to go idle and tears the context down: every fence is waited on
// and its callback run, deferred destruction is drained, and every pool this context lent out is
// destroyed, including pools cached on Workers owned by other goroutines. Command buffers must not
// be recorded or submitted concurrently with Shutdown.
func (c *Context) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.shutdown.Store(true)

		_, err := c.driver.DeviceWaitIdle()
		if err != nil {
			c.logger.Error("Context::Shutdown failed to wait for device idle", slog.Any("Error", err))
		}

		c.fenceWaiter.Terminate()
		c.reclaimQueue.Terminate()

		c.commandRecycler.DestroyAll(nil)
		c.commandRecycler.Destroy()
		c.descriptorRecycler.DestroyAll(nil)
		c.descriptorRecycler.Destroy()

		c.logger.Debug("Context::Shutdown", slog.Bool("DeviceLost", c.fenceWaiter.DeviceLost()))
	})
}

func (c *Context) IsShutdown() bool {
	return c.shutdown.Load()
}

func (c *Context) recordGPUTime(duration time.Duration) {
	c.gpuTimeMutex.Lock()
	c.gpuSamples++
	c.gpuTotal += duration
	c.gpuLast = duration
	c.gpuTimeMutex.Unlock()

	c.metrics.GPUTime(duration)
}

func (c *Context) gpuTracing() bool {
	return c.flags&ContextCreateGPUTracing != 0
}

func (c *Context) checkOwnership(buffer *CommandBuffer) error {
	if buffer == nil {
		return errors.Wrap(InvalidCommandBufferError, "nil command buffer")
	}
	if buffer.context != c {
		return errors.Wrap(InvalidCommandBufferError, "command buffer was created by a different context")
	}
	return nil
}
