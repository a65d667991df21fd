package vks

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// BlitPass records transfer operations. Every texture written or read by a BlitPass is left in the
// shader read layout.
type BlitPass struct {
	buffer *CommandBuffer
	ended  bool
}

func newBlitPass(buffer *CommandBuffer) *BlitPass {
	return &BlitPass{
		buffer: buffer,
	}
}

func (p *BlitPass) check() error {
	if p.ended {
		return PassEndedError
	}
	if !p.buffer.IsValid() {
		return InvalidCommandBufferError
	}
	return nil
}

func (p *BlitPass) CopyBufferToBuffer(source *Buffer, sourceOffset int, destination *Buffer, destinationOffset int, size int) error {
	err := p.check()
	if err != nil {
		return err
	}
	if source == nil || destination == nil {
		return errors.New("nil buffer in copy")
	}

	p.buffer.Track(source)
	p.buffer.Track(destination)

	err = p.buffer.driver.CmdCopyBuffer(p.buffer.handle, source.Handle(), destination.Handle(), core1_0.BufferCopy{
		SrcOffset: sourceOffset,
		DstOffset: destinationOffset,
		Size:      size,
	})
	if err != nil {
		return errors.Wrap(err, "failed to copy buffer")
	}

	return nil
}

// CopyBufferToTexture copies tightly packed texels starting at sourceOffset into region of one mip
// level of destination
func (p *BlitPass) CopyBufferToTexture(source *Buffer, sourceOffset int, destination *Texture, region core1_0.Rect2D, mipLevel int) error {
	err := p.check()
	if err != nil {
		return err
	}
	if source == nil || destination == nil {
		return errors.New("nil resource in copy")
	}

	p.buffer.Track(source)
	_, err = destination.SetLayout(p.buffer, transferDstBarrier())
	if err != nil {
		return err
	}

	err = p.buffer.driver.CmdCopyBufferToImage(p.buffer.handle, source.Handle(), destination.Image(), core1_0.ImageLayoutTransferDstOptimal, core1_0.BufferImageCopy{
		BufferOffset:     sourceOffset,
		ImageSubresource: destination.subresourceLayers(mipLevel),
		ImageOffset:      core1_0.Offset3D{X: region.Offset.X, Y: region.Offset.Y},
		ImageExtent:      core1_0.Extent3D{Width: region.Extent.Width, Height: region.Extent.Height, Depth: 1},
	})
	if err != nil {
		return errors.Wrap(err, "failed to copy buffer to texture")
	}

	_, err = destination.SetLayout(p.buffer, shaderReadBarrier(core1_0.AccessTransferWrite, core1_0.PipelineStageTransfer))
	return err
}

// CopyTextureToBuffer copies region of mip level 0 of source into destination as tightly packed texels
func (p *BlitPass) CopyTextureToBuffer(source *Texture, region core1_0.Rect2D, destination *Buffer, destinationOffset int) error {
	err := p.check()
	if err != nil {
		return err
	}
	if source == nil || destination == nil {
		return errors.New("nil resource in copy")
	}

	p.buffer.Track(destination)
	_, err = source.SetLayout(p.buffer, transferSrcBarrier())
	if err != nil {
		return err
	}

	err = p.buffer.driver.CmdCopyImageToBuffer(p.buffer.handle, source.Image(), core1_0.ImageLayoutTransferSrcOptimal, destination.Handle(), core1_0.BufferImageCopy{
		BufferOffset:     destinationOffset,
		ImageSubresource: source.subresourceLayers(0),
		ImageOffset:      core1_0.Offset3D{X: region.Offset.X, Y: region.Offset.Y},
		ImageExtent:      core1_0.Extent3D{Width: region.Extent.Width, Height: region.Extent.Height, Depth: 1},
	})
	if err != nil {
		return errors.Wrap(err, "failed to copy texture to buffer")
	}

	_, err = source.SetLayout(p.buffer, shaderReadBarrier(core1_0.AccessTransferRead, core1_0.PipelineStageTransfer))
	return err
}

// CopyTextureToTexture copies sourceRegion of mip level 0 of source to destinationOrigin in mip
// level 0 of destination
func (p *BlitPass) CopyTextureToTexture(source *Texture, sourceRegion core1_0.Rect2D, destination *Texture, destinationOrigin core1_0.Offset2D) error {
	err := p.check()
	if err != nil {
		return err
	}
	if source == nil || destination == nil {
		return errors.New("nil texture in copy")
	}
	if source == destination {
		return errors.New("cannot copy a texture onto itself")
	}

	_, err = source.SetLayout(p.buffer, transferSrcBarrier())
	if err != nil {
		return err
	}
	_, err = destination.SetLayout(p.buffer, transferDstBarrier())
	if err != nil {
		return err
	}

	err = p.buffer.driver.CmdCopyImage(p.buffer.handle,
		source.Image(), core1_0.ImageLayoutTransferSrcOptimal,
		destination.Image(), core1_0.ImageLayoutTransferDstOptimal,
		core1_0.ImageCopy{
			SrcSubresource: source.subresourceLayers(0),
			SrcOffset:      core1_0.Offset3D{X: sourceRegion.Offset.X, Y: sourceRegion.Offset.Y},
			DstSubresource: destination.subresourceLayers(0),
			DstOffset:      core1_0.Offset3D{X: destinationOrigin.X, Y: destinationOrigin.Y},
			Extent:         core1_0.Extent3D{Width: sourceRegion.Extent.Width, Height: sourceRegion.Extent.Height, Depth: 1},
		})
	if err != nil {
		return errors.Wrap(err, "failed to copy texture")
	}

	_, err = destination.SetLayout(p.buffer, shaderReadBarrier(core1_0.AccessTransferWrite, core1_0.PipelineStageTransfer))
	if err != nil {
		return err
	}
	_, err = source.SetLayout(p.buffer, shaderReadBarrier(core1_0.AccessTransferRead, core1_0.PipelineStageTransfer))
	return err
}

// GenerateMipmaps fills every mip level of texture from level 0 by repeated half-size linear blits.
// Every level is left in the shader read layout.
func (p *BlitPass) GenerateMipmaps(texture *Texture) error {
	err := p.check()
	if err != nil {
		return err
	}
	if texture == nil {
		return errors.New("nil texture")
	}

	mipCount := texture.MipLevels()
	if mipCount < 2 {
		return nil
	}

	p.buffer.Track(texture)
	image := texture.Image()
	level := func(oldLayout, newLayout core1_0.ImageLayout, srcAccess, dstAccess core1_0.AccessFlags, baseMip, count int) imageBarrier {
		return imageBarrier{
			image:     image,
			aspect:    texture.aspect,
			layers:    texture.arrayLayers,
			oldLayout: oldLayout,
			newLayout: newLayout,
			srcAccess: srcAccess,
			srcStage:  core1_0.PipelineStageTransfer | core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageFragmentShader,
			dstAccess: dstAccess,
			dstStage:  core1_0.PipelineStageTransfer,
			baseMip:   baseMip,
			mipCount:  count,
		}
	}

	// Every level starts as a blit destination
	err = insertImageBarrier(p.buffer, level(texture.Layout(), core1_0.ImageLayoutTransferDstOptimal,
		core1_0.AccessTransferWrite|core1_0.AccessColorAttachmentWrite, core1_0.AccessTransferRead|core1_0.AccessTransferWrite,
		0, mipCount))
	if err != nil {
		return err
	}
	texture.SetLayoutWithoutEncoding(core1_0.ImageLayoutTransferDstOptimal)

	width, height := texture.Size()
	for mip := 1; mip < mipCount; mip++ {
		err = insertImageBarrier(p.buffer, level(core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutTransferSrcOptimal,
			core1_0.AccessTransferWrite, core1_0.AccessTransferRead,
			mip-1, 1))
		if err != nil {
			return err
		}

		nextWidth := max(width/2, 1)
		nextHeight := max(height/2, 1)

		err = p.buffer.driver.CmdBlitImage(p.buffer.handle,
			image, core1_0.ImageLayoutTransferSrcOptimal,
			image, core1_0.ImageLayoutTransferDstOptimal,
			[]core1_0.ImageBlit{
				{
					SrcSubresource: texture.subresourceLayers(mip - 1),
					SrcOffsets:     [2]core1_0.Offset3D{{}, {X: width, Y: height, Z: 1}},
					DstSubresource: texture.subresourceLayers(mip),
					DstOffsets:     [2]core1_0.Offset3D{{}, {X: nextWidth, Y: nextHeight, Z: 1}},
				},
			}, core1_0.FilterLinear)
		if err != nil {
			return errors.Wrapf(err, "failed to blit mip level %d", mip)
		}

		width = nextWidth
		height = nextHeight
	}

	// The last level was only ever written, so it joins the rest of the chain as a blit source
	err = insertImageBarrier(p.buffer, level(core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutTransferSrcOptimal,
		core1_0.AccessTransferWrite, core1_0.AccessTransferRead,
		mipCount-1, 1))
	if err != nil {
		return err
	}

	finalBarrier := level(core1_0.ImageLayoutTransferSrcOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal,
		core1_0.AccessTransferWrite|core1_0.AccessTransferRead, core1_0.AccessShaderRead,
		0, mipCount)
	finalBarrier.srcStage = core1_0.PipelineStageTransfer
	finalBarrier.dstStage = core1_0.PipelineStageFragmentShader | core1_0.PipelineStageComputeShader
	err = insertImageBarrier(p.buffer, finalBarrier)
	if err != nil {
		return err
	}

	texture.SetLayoutWithoutEncoding(core1_0.ImageLayoutShaderReadOnlyOptimal)
	return nil
}

// EncodeCommands finishes the pass. It may only be called once.
func (p *BlitPass) EncodeCommands() error {
	err := p.check()
	if err != nil {
		return err
	}

	p.ended = true
	return nil
}
