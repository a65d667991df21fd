package vks

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vks/internal/pools"
	"golang.org/x/exp/slog"
)

type commandBufferState int

const (
	commandBufferRecording commandBufferState = iota
	commandBufferEnded
	commandBufferSubmitted
	commandBufferReleased
)

// CommandBuffer is a recording session: one native command buffer, the descriptor pool its
// descriptor sets are allocated from, and the set of objects it keeps alive until the GPU has
// finished with it. It must only be recorded into from the goroutine that created it.
//
// A submitted CommandBuffer is released by the CommandQueue once its work completes. One that is
// never submitted must be released by the caller.
type CommandBuffer struct {
	context        *Context
	logger         *slog.Logger
	driver         core1_0.DeviceDriver
	commandPool    *pools.CommandPool
	descriptorPool *pools.DescriptorPool
	handle         core1_0.CommandBuffer
	probe          *gpuProbe

	mutex   sync.Mutex
	state   commandBufferState
	tracked *swiss.Map[Trackable, struct{}]
}

func newCommandBuffer(context *Context, commandPool *pools.CommandPool, descriptorPool *pools.DescriptorPool) (*CommandBuffer, error) {
	commandPool.Retain()
	descriptorPool.Retain()

	buffer := &CommandBuffer{
		context:        context,
		logger:         context.logger,
		driver:         context.driver,
		commandPool:    commandPool,
		descriptorPool: descriptorPool,
		tracked:        swiss.NewMap[Trackable, struct{}](16),
		state:          commandBufferReleased,
	}

	handle, _, err := commandPool.CreateCommandBuffer()
	if err != nil {
		buffer.releasePools()
		return nil, err
	}
	buffer.handle = handle

	_, err = context.driver.BeginCommandBuffer(handle, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		// The buffer goes back to the pool to be reset with it
		commandPool.CollectCommandBuffer(handle)
		buffer.releasePools()
		return nil, errors.Wrap(err, "failed to begin command buffer")
	}
	buffer.state = commandBufferRecording

	if context.gpuTracing() {
		probe, err := newGPUProbe(context, handle)
		if err != nil {
			context.logger.Warn("CommandBuffer::New failed to create GPU probe", slog.Any("Error", err))
		} else {
			buffer.probe = probe
		}
	}

	return buffer, nil
}

// Handle is the native command buffer. Commands recorded directly into it must follow the same
// goroutine rules as the CommandBuffer itself.
func (b *CommandBuffer) Handle() core1_0.CommandBuffer {
	return b.handle
}

// IsValid reports whether the command buffer is still recording
func (b *CommandBuffer) IsValid() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.state == commandBufferRecording
}

// Track keeps resource alive until this command buffer is released. Tracking a resource more than
// once has no further effect. It returns false if the command buffer is no longer recording.
func (b *CommandBuffer) Track(resource Trackable) bool {
	if resource == nil {
		return false
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.state != commandBufferRecording {
		return false
	}
	if b.tracked.Has(resource) {
		return true
	}

	resource.Retain()
	b.tracked.Put(resource, struct{}{})
	return true
}

func (b *CommandBuffer) IsTracking(resource Trackable) bool {
	if resource == nil {
		return false
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.tracked.Has(resource)
}

// TrackedCount is the number of distinct resources this command buffer keeps alive
func (b *CommandBuffer) TrackedCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.tracked.Count()
}

// AllocateDescriptorSet allocates a descriptor set for layout from this command buffer's descriptor
// pool. The set is valid until the command buffer is released.
func (b *CommandBuffer) AllocateDescriptorSet(layout core1_0.DescriptorSetLayout) (core1_0.DescriptorSet, common.VkResult, error) {
	if !b.IsValid() {
		return core1_0.DescriptorSet{}, core1_0.VKErrorUnknown, InvalidCommandBufferError
	}

	return b.descriptorPool.AllocateDescriptorSet(layout)
}

// DescriptorPool is the pool this command buffer allocates descriptor sets from
func (b *CommandBuffer) DescriptorPool() *pools.DescriptorPool {
	return b.descriptorPool
}

func (b *CommandBuffer) CreateRenderPass(target RenderTarget) (*RenderPass, error) {
	if !b.IsValid() {
		return nil, InvalidCommandBufferError
	}

	return newRenderPass(b, target)
}

func (b *CommandBuffer) CreateBlitPass() (*BlitPass, error) {
	if !b.IsValid() {
		return nil, InvalidCommandBufferError
	}

	return newBlitPass(b), nil
}

func (b *CommandBuffer) CreateComputePass() (*ComputePass, error) {
	if !b.IsValid() {
		return nil, InvalidCommandBufferError
	}

	return newComputePass(b), nil
}

// end finishes recording. It is called by the CommandQueue before submission.
func (b *CommandBuffer) end() (common.VkResult, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.state != commandBufferRecording {
		return core1_0.VKErrorUnknown, InvalidCommandBufferError
	}

	if b.probe != nil {
		b.probe.recordEnd(b.handle)
	}

	res, err := b.driver.EndCommandBuffer(b.handle)
	if err != nil {
		return res, errors.Wrap(err, "failed to end command buffer")
	}

	b.state = commandBufferEnded
	return res, nil
}

func (b *CommandBuffer) markSubmitted() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.state = commandBufferSubmitted
}

// collectTimings reads the GPU probe of a completed command buffer
func (b *CommandBuffer) collectTimings() {
	if b.probe != nil {
		b.probe.collect()
	}
}

// Release discards a command buffer that will not be submitted. Submitted command buffers are
// released by the CommandQueue once their work completes, and releasing one here has no effect.
// Releasing more than once has no effect.
func (b *CommandBuffer) Release() {
	b.mutex.Lock()
	submitted := b.state == commandBufferSubmitted
	b.mutex.Unlock()

	if submitted {
		return
	}

	b.release()
}

// release returns the native command buffer to its pool before releasing any tracked resource, and
// releases the pools last
func (b *CommandBuffer) release() {
	b.mutex.Lock()
	if b.state == commandBufferReleased {
		b.mutex.Unlock()
		return
	}
	b.state = commandBufferReleased

	var tracked []Trackable
	b.tracked.Iter(func(resource Trackable, _ struct{}) bool {
		tracked = append(tracked, resource)
		return false
	})
	b.tracked.Clear()
	b.mutex.Unlock()

	b.commandPool.CollectCommandBuffer(b.handle)

	for _, resource := range tracked {
		resource.Release()
	}

	if b.probe != nil {
		b.probe.release()
	}

	b.releasePools()
}

func (b *CommandBuffer) releasePools() {
	b.descriptorPool.Release()
	b.commandPool.Release()
}
