package vks

import (
	"sync/atomic"
	"time"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/vks/internal/fence"
	"github.com/vkngwrapper/vks/internal/pools"
	"github.com/vkngwrapper/vks/internal/reclaim"
	"github.com/vkngwrapper/vks/internal/utils"
	"github.com/vkngwrapper/vks/internal/vulkan"
	"github.com/vkngwrapper/vks/metrics"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific context behaviors to activate or deactivate
type CreateFlags int32

var contextCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	contextCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return contextCreateFlagsMapping.FlagsToString(f)
}

const (
	// ContextCreateExternallySynchronizedQueue indicates that the consumer guarantees CommandQueue.Submit
	// is never called from more than one goroutine at a time, or that the device queue is synchronized
	// by some other mechanism. Submission will not take an internal lock.
	ContextCreateExternallySynchronizedQueue CreateFlags = 1 << iota
	// ContextCreateGPUTracing records a pair of timestamps around every command buffer and reports the
	// GPU execution time once the command buffer completes
	ContextCreateGPUTracing
)

func init() {
	ContextCreateExternallySynchronizedQueue.Register("ContextCreateExternallySynchronizedQueue")
	ContextCreateGPUTracing.Register("ContextCreateGPUTracing")
}

const (
	// defaultMaxBindingsPerPass is the number of descriptor writes a single draw or dispatch may
	// carry when none is provided via CreateOptions
	defaultMaxBindingsPerPass int = 32
)

var nextContextID atomic.Uint64

// CreateOptions contains optional settings when creating a Context
type CreateOptions struct {
	// Flags indicates specific context behaviors to activate or deactivate
	Flags CreateFlags

	// QueueFamilyIndex is the queue family of the queue that command buffers are submitted to. Command
	// pools are created for this family.
	QueueFamilyIndex int
	// QueueIndex is the index of the submission queue within QueueFamilyIndex
	QueueIndex int

	// FenceWaitTimeout bounds each wait the fence goroutine makes on the driver. It determines how
	// quickly termination is noticed while fences are outstanding. Defaults to 100ms.
	FenceWaitTimeout time.Duration

	// MinimumDescriptorPoolCapacity is the smallest descriptor pool that will be created, in
	// descriptor sets. It must be a power of two. Defaults to 64.
	MinimumDescriptorPoolCapacity int
	// MaxRecycledDescriptorPools is the number of idle descriptor pools kept for reuse. Defaults to 32.
	MaxRecycledDescriptorPools int
	// UnusedCommandBufferLimit is the number of never-used command buffers a reclaimed command pool
	// may carry before it is trimmed. Defaults to 16.
	UnusedCommandBufferLimit int
	// MaxBindingsPerPass is the number of buffers and textures a single draw or dispatch may bind.
	// Binding more is an error. Defaults to 32.
	MaxBindingsPerPass int

	// TimestampPeriod is the number of nanoseconds per timestamp tick, as reported by the physical
	// device limits. It is only used with ContextCreateGPUTracing. Defaults to 1.
	TimestampPeriod float32

	// VulkanCallbacks is an optional set of callbacks that will be passed to Vulkan when this context
	// creates or destroys native objects
	VulkanCallbacks *loader.AllocationCallbacks

	// Metrics is an optional set of Prometheus collectors that will be updated by this context. It may
	// be shared between contexts.
	Metrics *metrics.Metrics
}

// New creates a new Context
//
// driver - The DeviceDriver for the Device that all work will be recorded and submitted on
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, driver core1_0.DeviceDriver, options CreateOptions) (*Context, error) {
	id := nextContextID.Add(1)
	logger = logger.With(slog.Uint64("Context", id))

	ctx := &Context{
		logger:          logger,
		driver:          driver,
		id:              id,
		flags:           options.Flags,
		callbacks:       options.VulkanCallbacks,
		metrics:         options.Metrics,
		extensions:      vulkan.NewExtensionData(driver.Device()),
		maxBindings:     options.MaxBindingsPerPass,
		timestampPeriod: options.TimestampPeriod,
	}

	if ctx.maxBindings <= 0 {
		ctx.maxBindings = defaultMaxBindingsPerPass
	}
	if ctx.timestampPeriod <= 0 {
		ctx.timestampPeriod = 1
	}

	ctx.reclaimQueue = reclaim.New(logger, options.Metrics)

	ctx.commandRecycler = pools.NewCommandPoolRecycler(logger, driver, ctx.reclaimQueue, pools.CommandPoolRecyclerOptions{
		ContextID:                id,
		QueueFamilyIndex:         options.QueueFamilyIndex,
		UnusedCommandBufferLimit: options.UnusedCommandBufferLimit,
		VulkanCallbacks:          options.VulkanCallbacks,
		Metrics:                  options.Metrics,
	})

	var err error
	ctx.descriptorRecycler, err = pools.NewDescriptorPoolRecycler(logger, driver, ctx.reclaimQueue, ctx.extensions, pools.DescriptorPoolRecyclerOptions{
		ContextID:       id,
		MinimumCapacity: options.MinimumDescriptorPoolCapacity,
		MaxRecycled:     options.MaxRecycledDescriptorPools,
		VulkanCallbacks: options.VulkanCallbacks,
		Metrics:         options.Metrics,
	})
	if err != nil {
		return nil, err
	}

	ctx.fenceWaiter = fence.New(logger, driver, options.VulkanCallbacks, options.Metrics, options.FenceWaitTimeout)

	ctx.commandQueue = &CommandQueue{
		context: ctx,
		logger:  logger,
		driver:  driver,
		queue:   driver.GetQueue(options.QueueFamilyIndex, options.QueueIndex),
		mutex: utils.OptionalMutex{
			UseMutex: options.Flags&ContextCreateExternallySynchronizedQueue == 0,
		},
	}

	// The deferred destruction worker refers to everything above, so it starts last
	ctx.reclaimQueue.Start()

	logger.Debug("Context::New", slog.String("Flags", options.Flags.String()))
	return ctx, nil
}
