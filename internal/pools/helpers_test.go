package pools

import (
	"io"
	"sync/atomic"
	"testing"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/core/v3/mocks/mocks1_0"
	"github.com/vkngwrapper/vks/internal/reclaim"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

var testContextID atomic.Uint64

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// inlineQueue returns a terminated queue, which releases everything on the calling goroutine
func inlineQueue() *reclaim.Queue {
	queue := reclaim.New(testLogger(), nil)
	queue.Terminate()
	return queue
}

func mockDriver(t *testing.T) (*mocks1_0.MockDeviceDriver, core1_0.Device) {
	ctrl := gomock.NewController(t)
	driver := mocks1_0.NewMockDeviceDriver(ctrl)
	device := mocks.NewDummyDevice(common.Vulkan1_0, nil)
	driver.EXPECT().Device().Return(device).AnyTimes()

	return driver, device
}

func expectCommandPools(driver *mocks1_0.MockDeviceDriver, device core1_0.Device) *gomock.Call {
	return driver.EXPECT().CreateCommandPool(gomock.Nil(), gomock.Any()).DoAndReturn(
		func(callbacks *loader.AllocationCallbacks, o core1_0.CommandPoolCreateInfo) (core1_0.CommandPool, common.VkResult, error) {
			return mocks.NewDummyCommandPool(device), core1_0.VKSuccess, nil
		})
}

func expectCommandBuffers(driver *mocks1_0.MockDeviceDriver, device core1_0.Device) *gomock.Call {
	return driver.EXPECT().AllocateCommandBuffers(gomock.Any()).DoAndReturn(
		func(o core1_0.CommandBufferAllocateInfo) ([]core1_0.CommandBuffer, common.VkResult, error) {
			buffers := make([]core1_0.CommandBuffer, 0, o.CommandBufferCount)
			for i := 0; i < o.CommandBufferCount; i++ {
				buffers = append(buffers, mocks.NewDummyCommandBuffer(o.CommandPool, device))
			}
			return buffers, core1_0.VKSuccess, nil
		})
}

func expectDescriptorPools(driver *mocks1_0.MockDeviceDriver, device core1_0.Device) *gomock.Call {
	return driver.EXPECT().CreateDescriptorPool(gomock.Nil(), gomock.Any()).DoAndReturn(
		func(callbacks *loader.AllocationCallbacks, o core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, common.VkResult, error) {
			return mocks.NewDummyDescriptorPool(device), core1_0.VKSuccess, nil
		})
}

func registeredCommandPools(contextID uint64) int {
	return commandPoolRegistry.count(contextID)
}

func registeredDescriptorPools(contextID uint64) int {
	return descriptorPoolRegistry.count(contextID)
}
