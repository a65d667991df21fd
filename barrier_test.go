package vks

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"go.uber.org/mock/gomock"
)

func TestSetLayoutSkipsRedundantBarrier(t *testing.T) {
	h := newHarness(t, CreateOptions{})
	texture := h.texture(TextureOptions{MipLevels: 3})
	buffer := h.commandBuffer(t)

	h.driver.EXPECT().CmdPipelineBarrier(buffer.Handle(),
		core1_0.PipelineStageTransfer, core1_0.PipelineStageFragmentShader,
		core1_0.DependencyFlags(0), gomock.Nil(), gomock.Nil(), gomock.Any()).DoAndReturn(
		func(commandBuffer core1_0.CommandBuffer, src, dst core1_0.PipelineStageFlags, dependencies core1_0.DependencyFlags,
			memory []core1_0.MemoryBarrier, buffers []core1_0.BufferMemoryBarrier, images []core1_0.ImageMemoryBarrier) error {
			require.Len(t, images, 1)
			require.Equal(t, core1_0.ImageMemoryBarrier{
				SrcAccessMask:       core1_0.AccessTransferWrite,
				DstAccessMask:       core1_0.AccessShaderRead,
				OldLayout:           core1_0.ImageLayoutUndefined,
				NewLayout:           core1_0.ImageLayoutShaderReadOnlyOptimal,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               texture.Image(),
				SubresourceRange: core1_0.ImageSubresourceRange{
					AspectMask:     core1_0.ImageAspectColor,
					BaseMipLevel:   0,
					LevelCount:     3,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
			}, images[0])
			return nil
		}).Times(1)

	barrier := Barrier{
		NewLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
		SrcAccess: core1_0.AccessTransferWrite,
		SrcStage:  core1_0.PipelineStageTransfer,
		DstAccess: core1_0.AccessShaderRead,
		DstStage:  core1_0.PipelineStageFragmentShader,
	}

	recorded, err := texture.SetLayout(buffer, barrier)
	require.NoError(t, err)
	require.True(t, recorded)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, texture.Layout())
	require.True(t, buffer.IsTracking(texture))

	recorded, err = texture.SetLayout(buffer, barrier)
	require.NoError(t, err)
	require.False(t, recorded)

	buffer.Release()
}

func TestSetLayoutFromBaseMipLevel(t *testing.T) {
	h := newHarness(t, CreateOptions{})
	texture := h.texture(TextureOptions{MipLevels: 5, InitialLayout: core1_0.ImageLayoutShaderReadOnlyOptimal})
	buffer := h.commandBuffer(t)

	h.driver.EXPECT().CmdPipelineBarrier(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Nil(), gomock.Nil(), gomock.Any()).DoAndReturn(
		func(commandBuffer core1_0.CommandBuffer, src, dst core1_0.PipelineStageFlags, dependencies core1_0.DependencyFlags,
			memory []core1_0.MemoryBarrier, buffers []core1_0.BufferMemoryBarrier, images []core1_0.ImageMemoryBarrier) error {
			require.Equal(t, 2, images[0].SubresourceRange.BaseMipLevel)
			require.Equal(t, 3, images[0].SubresourceRange.LevelCount)
			require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, images[0].OldLayout)
			require.Equal(t, core1_0.ImageLayoutGeneral, images[0].NewLayout)
			return nil
		}).Times(1)

	recorded, err := texture.SetLayout(buffer, Barrier{
		NewLayout:    core1_0.ImageLayoutGeneral,
		SrcStage:     core1_0.PipelineStageFragmentShader,
		DstAccess:    core1_0.AccessShaderWrite,
		DstStage:     core1_0.PipelineStageComputeShader,
		BaseMipLevel: 2,
	})
	require.NoError(t, err)
	require.True(t, recorded)

	buffer.Release()
}

func TestSetLayoutRequiresRecording(t *testing.T) {
	h := newHarness(t, CreateOptions{})
	texture := h.texture(TextureOptions{})
	buffer := h.commandBuffer(t)
	buffer.Release()

	_, err := texture.SetLayout(buffer, transferDstBarrier())
	require.True(t, errors.Is(err, InvalidCommandBufferError))
	require.Equal(t, core1_0.ImageLayoutUndefined, texture.Layout())
}

func TestSetLayoutWithoutEncoding(t *testing.T) {
	h := newHarness(t, CreateOptions{})
	texture := h.texture(TextureOptions{InitialLayout: core1_0.ImageLayoutTransferDstOptimal})

	previous := texture.SetLayoutWithoutEncoding(core1_0.ImageLayoutGeneral)
	require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, previous)
	require.Equal(t, core1_0.ImageLayoutGeneral, texture.Layout())
}
