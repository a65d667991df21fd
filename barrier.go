package vks

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

const queueFamilyIgnored = -1

// Barrier describes a layout transition of a texture, along with the memory dependency that
// accompanies it
type Barrier struct {
	NewLayout core1_0.ImageLayout

	// SrcAccess and SrcStage are the writes that must be complete before the transition
	SrcAccess core1_0.AccessFlags
	SrcStage  core1_0.PipelineStageFlags

	// DstAccess and DstStage are the accesses that must wait for the transition
	DstAccess core1_0.AccessFlags
	DstStage  core1_0.PipelineStageFlags

	// BaseMipLevel is the first mip level transitioned. Every level from BaseMipLevel on is included.
	BaseMipLevel int
}

// SetLayout records barrier into the command buffer if the texture is not already in the requested
// layout, and reports whether a barrier was recorded. The texture is tracked by the command buffer.
func (t *Texture) SetLayout(buffer *CommandBuffer, barrier Barrier) (bool, error) {
	if !buffer.IsValid() {
		return false, InvalidCommandBufferError
	}
	buffer.Track(t)

	t.layoutMutex.Lock()
	old := t.layout
	if old == barrier.NewLayout {
		t.layoutMutex.Unlock()
		return false, nil
	}
	t.layout = barrier.NewLayout
	t.layoutMutex.Unlock()

	err := insertImageBarrier(buffer, imageBarrier{
		image:     t.image,
		aspect:    t.aspect,
		layers:    t.arrayLayers,
		oldLayout: old,
		newLayout: barrier.NewLayout,
		srcAccess: barrier.SrcAccess,
		srcStage:  barrier.SrcStage,
		dstAccess: barrier.DstAccess,
		dstStage:  barrier.DstStage,
		baseMip:   barrier.BaseMipLevel,
		mipCount:  t.mipLevels - barrier.BaseMipLevel,
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

type imageBarrier struct {
	image     core1_0.Image
	aspect    core1_0.ImageAspectFlags
	layers    int
	oldLayout core1_0.ImageLayout
	newLayout core1_0.ImageLayout
	srcAccess core1_0.AccessFlags
	srcStage  core1_0.PipelineStageFlags
	dstAccess core1_0.AccessFlags
	dstStage  core1_0.PipelineStageFlags
	baseMip   int
	mipCount  int
}

func insertImageBarrier(buffer *CommandBuffer, barrier imageBarrier) error {
	err := buffer.driver.CmdPipelineBarrier(buffer.handle, barrier.srcStage, barrier.dstStage, 0, nil, nil,
		[]core1_0.ImageMemoryBarrier{
			{
				SrcAccessMask:       barrier.srcAccess,
				DstAccessMask:       barrier.dstAccess,
				OldLayout:           barrier.oldLayout,
				NewLayout:           barrier.newLayout,
				SrcQueueFamilyIndex: queueFamilyIgnored,
				DstQueueFamilyIndex: queueFamilyIgnored,
				Image:               barrier.image,
				SubresourceRange: core1_0.ImageSubresourceRange{
					AspectMask:     barrier.aspect,
					BaseMipLevel:   barrier.baseMip,
					LevelCount:     barrier.mipCount,
					BaseArrayLayer: 0,
					LayerCount:     barrier.layers,
				},
			},
		})
	if err != nil {
		return errors.Wrapf(err, "failed to transition image from %s to %s", barrier.oldLayout, barrier.newLayout)
	}

	return nil
}

func insertMemoryBarrier(buffer *CommandBuffer, srcAccess, dstAccess core1_0.AccessFlags, srcStage, dstStage core1_0.PipelineStageFlags) error {
	return buffer.driver.CmdPipelineBarrier(buffer.handle, srcStage, dstStage, 0,
		[]core1_0.MemoryBarrier{
			{
				SrcAccessMask: srcAccess,
				DstAccessMask: dstAccess,
			},
		}, nil, nil)
}

// Common transitions

func shaderReadBarrier(srcAccess core1_0.AccessFlags, srcStage core1_0.PipelineStageFlags) Barrier {
	return Barrier{
		NewLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
		SrcAccess: srcAccess,
		SrcStage:  srcStage,
		DstAccess: core1_0.AccessShaderRead,
		DstStage:  core1_0.PipelineStageFragmentShader | core1_0.PipelineStageComputeShader,
	}
}

func transferDstBarrier() Barrier {
	return Barrier{
		NewLayout: core1_0.ImageLayoutTransferDstOptimal,
		SrcAccess: core1_0.AccessTransferWrite | core1_0.AccessShaderWrite | core1_0.AccessColorAttachmentWrite,
		SrcStage:  core1_0.PipelineStageTransfer | core1_0.PipelineStageFragmentShader | core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageComputeShader,
		DstAccess: core1_0.AccessTransferWrite,
		DstStage:  core1_0.PipelineStageTransfer,
	}
}

func transferSrcBarrier() Barrier {
	return Barrier{
		NewLayout: core1_0.ImageLayoutTransferSrcOptimal,
		SrcAccess: core1_0.AccessTransferWrite | core1_0.AccessShaderWrite | core1_0.AccessColorAttachmentWrite,
		SrcStage:  core1_0.PipelineStageTransfer | core1_0.PipelineStageFragmentShader | core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageComputeShader,
		DstAccess: core1_0.AccessTransferRead,
		DstStage:  core1_0.PipelineStageTransfer,
	}
}
