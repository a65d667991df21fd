package vulkan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_1"
	"github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/extensions/v3/khr_maintenance1"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

func TestExtensionDataVulkan10(t *testing.T) {
	device := mocks.NewDummyDevice(common.Vulkan1_0, nil)
	data := NewExtensionData(device)

	require.False(t, data.Swapchain)
	require.False(t, data.OutOfPoolMemory)
	require.True(t, data.IsPoolExhausted(core1_0.VKErrorFragmentedPool))
	require.True(t, data.IsPoolExhausted(core1_0.VKErrorOutOfDeviceMemory))
	require.False(t, data.IsPoolExhausted(core1_0.VKErrorDeviceLost))
	require.False(t, data.IsPoolExhausted(core1_0.VKSuccess))
}

func TestExtensionDataMaintenance1(t *testing.T) {
	device := mocks.NewDummyDevice(common.Vulkan1_0, []string{khr_maintenance1.ExtensionName, khr_swapchain.ExtensionName})
	data := NewExtensionData(device)

	require.True(t, data.Swapchain)
	require.True(t, data.OutOfPoolMemory)
	require.True(t, data.IsPoolExhausted(khr_maintenance1.VkErrorOutOfPoolMemory))
	require.False(t, data.IsPoolExhausted(core1_0.VKErrorOutOfDeviceMemory))
}

func TestExtensionDataVulkan11(t *testing.T) {
	device := mocks.NewDummyDevice(common.Vulkan1_1, nil)
	data := NewExtensionData(device)

	require.True(t, data.OutOfPoolMemory)
	require.True(t, data.IsPoolExhausted(core1_1.VkErrorOutOfPoolMemory))
	require.False(t, data.IsPoolExhausted(core1_0.VKErrorOutOfHostMemory))
}
