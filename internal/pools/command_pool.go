package pools

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vks/internal/utils"
	"github.com/vkngwrapper/vks/poolutils"
	"golang.org/x/exp/slog"
)

// CommandPool is a native command pool lent to one recording goroutine. The LocalCache that
// received it and every session recording from it hold a reference; when the last reference is
// released the pool goes back to its recycler.
type CommandPool struct {
	logger   *slog.Logger
	driver   core1_0.DeviceDriver
	recycler *CommandPoolRecycler
	refs     utils.RefCount

	mutex            sync.Mutex
	handle           core1_0.CommandPool
	unusedBuffers    []core1_0.CommandBuffer
	collectedBuffers []core1_0.CommandBuffer
}

func newCommandPool(recycler *CommandPoolRecycler, handle core1_0.CommandPool, buffers []core1_0.CommandBuffer) *CommandPool {
	pool := &CommandPool{
		logger:        recycler.logger,
		driver:        recycler.driver,
		recycler:      recycler,
		handle:        handle,
		unusedBuffers: buffers,
	}
	pool.refs.Init("CommandPool", pool.reclaim)

	return pool
}

func (p *CommandPool) Handle() core1_0.CommandPool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.handle
}

func (p *CommandPool) Retain() {
	p.refs.Retain()
}

func (p *CommandPool) Release() {
	p.refs.Release()
}

// CreateCommandBuffer hands out a primary command buffer, preferring the buffers that came back
// with the pool when it was recycled
func (p *CommandPool) CreateCommandBuffer() (core1_0.CommandBuffer, common.VkResult, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.handle.Initialized() {
		return core1_0.CommandBuffer{}, core1_0.VKErrorUnknown, poolutils.PoolDestroyedError
	}

	if count := len(p.unusedBuffers); count > 0 {
		buffer := p.unusedBuffers[count-1]
		p.unusedBuffers[count-1] = core1_0.CommandBuffer{}
		p.unusedBuffers = p.unusedBuffers[:count-1]
		return buffer, core1_0.VKSuccess, nil
	}

	buffers, res, err := p.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        p.handle,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, res, errors.Wrap(err, "failed to allocate command buffer")
	}

	return buffers[0], res, nil
}

// CollectCommandBuffer returns a buffer whose work has finished. It is kept until the pool is
// reset, then reused.
func (p *CommandPool) CollectCommandBuffer(buffer core1_0.CommandBuffer) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.handle.Initialized() {
		// Destroying the pool already freed the buffer
		return
	}

	p.collectedBuffers = append(p.collectedBuffers, buffer)
}

func (p *CommandPool) reclaim() {
	p.mutex.Lock()
	if !p.handle.Initialized() {
		p.mutex.Unlock()
		return
	}

	handle := p.handle
	collected := p.collectedBuffers
	unused := p.unusedBuffers
	p.handle = core1_0.CommandPool{}
	p.collectedBuffers = nil
	p.unusedBuffers = nil
	p.mutex.Unlock()

	commandPoolRegistry.unregister(p.recycler.contextID, p)
	p.recycler.Reclaim(handle, collected, unused, false)
}

// Destroy frees every buffer the pool still holds and then destroys the native pool, regardless
// of outstanding references. It is only used at context teardown.
func (p *CommandPool) Destroy() {
	p.mutex.Lock()
	if !p.handle.Initialized() {
		p.mutex.Unlock()
		return
	}

	handle := p.handle
	buffers := append(p.collectedBuffers, p.unusedBuffers...)
	p.handle = core1_0.CommandPool{}
	p.collectedBuffers = nil
	p.unusedBuffers = nil
	p.mutex.Unlock()

	p.recycler.destroyNative(handle, buffers)
}
