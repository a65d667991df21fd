package vulkan

import (
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_1"
	"github.com/vkngwrapper/extensions/v3/khr_maintenance1"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

type ExtensionData struct {
	// Swapchain is true when khr_swapchain is active, which makes the present layout available
	Swapchain bool
	// OutOfPoolMemory is true when descriptor pools report exhaustion with VK_ERROR_OUT_OF_POOL_MEMORY.
	// Without core 1.1 or khr_maintenance1 an exhausted pool may instead report an out of memory error.
	OutOfPoolMemory bool
}

func NewExtensionData(device core1_0.Device) *ExtensionData {
	data := &ExtensionData{}

	data.Swapchain = device.IsDeviceExtensionActive(khr_swapchain.ExtensionName)

	// Core 1.1 promoted khr_maintenance1
	if device.APIVersion().IsAtLeast(common.Vulkan1_1) || device.IsDeviceExtensionActive(khr_maintenance1.ExtensionName) {
		data.OutOfPoolMemory = true
	}

	return data
}

// IsPoolExhausted reports whether a descriptor set allocation result means the pool ran out of room
// and a fresh pool could satisfy the request
func (d *ExtensionData) IsPoolExhausted(result common.VkResult) bool {
	switch result {
	case core1_0.VKErrorFragmentedPool, core1_1.VkErrorOutOfPoolMemory:
		return true
	case core1_0.VKErrorOutOfHostMemory, core1_0.VKErrorOutOfDeviceMemory:
		return !d.OutOfPoolMemory
	}

	return false
}
