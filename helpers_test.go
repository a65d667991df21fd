package vks

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/core/v3/mocks/mocks1_0"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type harness struct {
	driver  *mocks1_0.MockDeviceDriver
	device  core1_0.Device
	context *Context
	worker  *Worker

	recording bool

	commandPoolsCreated      atomic.Int32
	commandPoolsDestroyed    atomic.Int32
	descriptorPoolsCreated   atomic.Int32
	descriptorPoolsDestroyed atomic.Int32
}

// newHarness builds a context over a mock driver that accepts every pool lifecycle call. Recorded
// commands and submission calls are left for each test to expect.
func newHarness(t *testing.T, options CreateOptions, deviceExtensions ...string) *harness {
	ctrl := gomock.NewController(t)
	driver := mocks1_0.NewMockDeviceDriver(ctrl)
	device := mocks.NewDummyDevice(common.Vulkan1_0, deviceExtensions)
	h := &harness{
		driver: driver,
		device: device,
		worker: NewWorker(),
	}

	driver.EXPECT().Device().Return(device).AnyTimes()
	driver.EXPECT().GetQueue(gomock.Any(), gomock.Any()).Return(mocks.NewDummyQueue(device)).AnyTimes()
	driver.EXPECT().DeviceWaitIdle().Return(core1_0.VKSuccess, nil).AnyTimes()

	driver.EXPECT().CreateCommandPool(gomock.Any(), gomock.Any()).DoAndReturn(
		func(callbacks *loader.AllocationCallbacks, o core1_0.CommandPoolCreateInfo) (core1_0.CommandPool, common.VkResult, error) {
			h.commandPoolsCreated.Add(1)
			return mocks.NewDummyCommandPool(device), core1_0.VKSuccess, nil
		}).AnyTimes()
	driver.EXPECT().AllocateCommandBuffers(gomock.Any()).DoAndReturn(
		func(o core1_0.CommandBufferAllocateInfo) ([]core1_0.CommandBuffer, common.VkResult, error) {
			buffers := make([]core1_0.CommandBuffer, 0, o.CommandBufferCount)
			for i := 0; i < o.CommandBufferCount; i++ {
				buffers = append(buffers, mocks.NewDummyCommandBuffer(o.CommandPool, device))
			}
			return buffers, core1_0.VKSuccess, nil
		}).AnyTimes()
	driver.EXPECT().ResetCommandPool(gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	driver.EXPECT().FreeCommandBuffers(gomock.Any()).AnyTimes()
	driver.EXPECT().DestroyCommandPool(gomock.Any(), gomock.Any()).Do(
		func(pool core1_0.CommandPool, callbacks *loader.AllocationCallbacks) {
			h.commandPoolsDestroyed.Add(1)
		}).AnyTimes()

	driver.EXPECT().CreateDescriptorPool(gomock.Any(), gomock.Any()).DoAndReturn(
		func(callbacks *loader.AllocationCallbacks, o core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, common.VkResult, error) {
			h.descriptorPoolsCreated.Add(1)
			return mocks.NewDummyDescriptorPool(device), core1_0.VKSuccess, nil
		}).AnyTimes()
	driver.EXPECT().AllocateDescriptorSets(gomock.Any()).DoAndReturn(
		func(o core1_0.DescriptorSetAllocateInfo) ([]core1_0.DescriptorSet, common.VkResult, error) {
			sets := make([]core1_0.DescriptorSet, 0, len(o.SetLayouts))
			for range o.SetLayouts {
				sets = append(sets, mocks.NewDummyDescriptorSet(o.DescriptorPool, device))
			}
			return sets, core1_0.VKSuccess, nil
		}).AnyTimes()
	driver.EXPECT().ResetDescriptorPool(gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	driver.EXPECT().DestroyDescriptorPool(gomock.Any(), gomock.Any()).Do(
		func(pool core1_0.DescriptorPool, callbacks *loader.AllocationCallbacks) {
			h.descriptorPoolsDestroyed.Add(1)
		}).AnyTimes()

	context, err := New(testLogger(), driver, options)
	require.NoError(t, err)
	t.Cleanup(context.Shutdown)
	h.context = context

	return h
}

// requireNativePoolsDestroyed checks that every native pool the context created was destroyed
func (h *harness) requireNativePoolsDestroyed(t *testing.T) {
	require.Equal(t, h.commandPoolsCreated.Load(), h.commandPoolsDestroyed.Load(), "command pools leaked")
	require.Equal(t, h.descriptorPoolsCreated.Load(), h.descriptorPoolsDestroyed.Load(), "descriptor pools leaked")
}

// expectSubmissions lets every submission reach the GPU and signal immediately
func (h *harness) expectSubmissions() {
	h.driver.EXPECT().EndCommandBuffer(gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	h.driver.EXPECT().CreateFence(gomock.Any(), gomock.Any()).DoAndReturn(
		func(callbacks *loader.AllocationCallbacks, o core1_0.FenceCreateInfo) (core1_0.Fence, common.VkResult, error) {
			return mocks.NewDummyFence(h.device), core1_0.VKSuccess, nil
		}).AnyTimes()
	h.driver.EXPECT().QueueSubmit(gomock.Any(), gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	h.driver.EXPECT().GetFenceStatus(gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	h.driver.EXPECT().DestroyFence(gomock.Any(), gomock.Any()).AnyTimes()
}

// expectRecording lets every command buffer begin recording
func (h *harness) expectRecording() {
	if h.recording {
		return
	}
	h.recording = true
	h.driver.EXPECT().BeginCommandBuffer(gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
}

func (h *harness) commandBuffer(t *testing.T) *CommandBuffer {
	h.expectRecording()
	buffer, err := h.context.CreateCommandBuffer(h.worker)
	require.NoError(t, err)
	return buffer
}

func (h *harness) texture(options TextureOptions) *Texture {
	if !options.Image.Initialized() {
		options.Image = mocks.NewDummyImage(h.device)
	}
	if !options.View.Initialized() {
		options.View = mocks.NewDummyImageView(h.device)
	}
	if options.Width == 0 {
		options.Width = 256
	}
	if options.Height == 0 {
		options.Height = 256
	}
	return h.context.NewTexture(options)
}

func (h *harness) buffer(size int) *Buffer {
	return h.context.NewBuffer(mocks.NewDummyBuffer(h.device), size, nil)
}

// statusRecorder collects completion callbacks
type statusRecorder struct {
	statuses chan CompletionStatus
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{statuses: make(chan CompletionStatus, 16)}
}

func (r *statusRecorder) callback(status CompletionStatus) {
	r.statuses <- status
}

func (r *statusRecorder) next(t *testing.T) CompletionStatus {
	select {
	case status := <-r.statuses:
		return status
	case <-time.After(5 * time.Second):
		require.FailNow(t, "completion callback was never called")
	}
	return Error
}

func (r *statusRecorder) requireNoMore(t *testing.T) {
	select {
	case status := <-r.statuses:
		require.FailNow(t, "completion callback called more than once", "extra status %s", status)
	default:
	}
}
