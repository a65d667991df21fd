package vks

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// RenderPass records draws into a RenderTarget. The native render pass begins when the RenderPass is
// created and ends with EncodeCommands, after which every color result is transitioned for sampling,
// or for presentation if it is a swapchain image.
type RenderPass struct {
	binder
	target      RenderTarget
	width       int
	height      int
	indexBuffer bool
	ended       bool
}

func newRenderPass(buffer *CommandBuffer, target RenderTarget) (*RenderPass, error) {
	if len(target.Colors) == 0 && target.DepthStencil == nil {
		return nil, errors.New("render target has no attachments")
	}
	for i, color := range target.Colors {
		if color.Texture == nil {
			return nil, errors.Newf("render target color attachment %d has no texture", i)
		}
	}
	if target.DepthStencil != nil && target.DepthStencil.Texture == nil {
		return nil, errors.New("render target depth/stencil attachment has no texture")
	}

	width, height := target.size()
	pass := &RenderPass{
		binder: binder{
			buffer:    buffer,
			workspace: newBindingWorkspace(buffer.context.maxBindings),
		},
		target: target,
		width:  width,
		height: height,
	}

	err := pass.begin()
	if err != nil {
		return nil, err
	}

	return pass, nil
}

func (p *RenderPass) begin() error {
	buffer := p.buffer
	context := buffer.context

	colorBarrier := Barrier{
		NewLayout: core1_0.ImageLayoutColorAttachmentOptimal,
		SrcAccess: core1_0.AccessTransferWrite | core1_0.AccessShaderWrite | core1_0.AccessColorAttachmentWrite,
		SrcStage:  core1_0.PipelineStageTransfer | core1_0.PipelineStageComputeShader | core1_0.PipelineStageColorAttachmentOutput,
		DstAccess: core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite,
		DstStage:  core1_0.PipelineStageColorAttachmentOutput,
	}
	for _, color := range p.target.Colors {
		_, err := color.Texture.SetLayout(buffer, colorBarrier)
		if err != nil {
			return err
		}

		if color.ResolveTexture != nil {
			_, err = color.ResolveTexture.SetLayout(buffer, colorBarrier)
			if err != nil {
				return err
			}
		}
	}

	if p.target.DepthStencil != nil {
		_, err := p.target.DepthStencil.Texture.SetLayout(buffer, Barrier{
			NewLayout: core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			SrcAccess: core1_0.AccessDepthStencilAttachmentWrite | core1_0.AccessTransferWrite,
			SrcStage:  core1_0.PipelineStageLateFragmentTests | core1_0.PipelineStageTransfer,
			DstAccess: core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite,
			DstStage:  core1_0.PipelineStageEarlyFragmentTests | core1_0.PipelineStageLateFragmentTests,
		})
		if err != nil {
			return err
		}
	}

	views, clearValues := p.target.attachments()
	framebuffer, _, err := buffer.driver.CreateFramebuffer(context.callbacks, core1_0.FramebufferCreateInfo{
		RenderPass:  p.target.RenderPass,
		Attachments: views,
		Width:       p.width,
		Height:      p.height,
		Layers:      1,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create framebuffer")
	}

	// The command buffer owns the framebuffer from here
	driver := buffer.driver
	framebufferObject := context.NewSharedObject("Framebuffer", func() {
		driver.DestroyFramebuffer(framebuffer, context.callbacks)
	})
	buffer.Track(framebufferObject)
	framebufferObject.Release()

	renderArea := core1_0.Rect2D{
		Extent: core1_0.Extent2D{Width: p.width, Height: p.height},
	}
	err = buffer.driver.CmdBeginRenderPass(buffer.handle, core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  p.target.RenderPass,
		Framebuffer: framebuffer,
		RenderArea:  renderArea,
		ClearValues: clearValues,
	})
	if err != nil {
		return errors.Wrap(err, "failed to begin render pass")
	}

	buffer.driver.CmdSetViewport(buffer.handle, core1_0.Viewport{
		Width:    float32(p.width),
		Height:   float32(p.height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	buffer.driver.CmdSetScissor(buffer.handle, renderArea)
	return nil
}

func (p *RenderPass) check() error {
	if p.ended {
		return PassEndedError
	}
	if !p.buffer.IsValid() {
		return InvalidCommandBufferError
	}
	return nil
}

func (p *RenderPass) SetPipeline(pipeline *Pipeline) error {
	err := p.check()
	if err != nil {
		return err
	}
	if pipeline == nil || pipeline.BindPoint != core1_0.PipelineBindPointGraphics {
		return errors.New("render passes require a graphics pipeline")
	}

	p.pipeline = pipeline
	p.buffer.driver.CmdBindPipeline(p.buffer.handle, core1_0.PipelineBindPointGraphics, pipeline.Handle)
	return nil
}

func (p *RenderPass) SetViewport(viewport core1_0.Viewport) error {
	err := p.check()
	if err != nil {
		return err
	}

	p.buffer.driver.CmdSetViewport(p.buffer.handle, viewport)
	return nil
}

func (p *RenderPass) SetScissor(scissor core1_0.Rect2D) error {
	err := p.check()
	if err != nil {
		return err
	}

	p.buffer.driver.CmdSetScissor(p.buffer.handle, scissor)
	return nil
}

func (p *RenderPass) SetStencilReference(reference uint32) error {
	err := p.check()
	if err != nil {
		return err
	}

	p.buffer.driver.CmdSetStencilReference(p.buffer.handle, core1_0.StencilFaceFront|core1_0.StencilFaceBack, reference)
	return nil
}

func (p *RenderPass) SetVertexBuffer(binding int, buffer *Buffer, offset int) error {
	err := p.check()
	if err != nil {
		return err
	}
	if buffer == nil {
		return errors.New("nil vertex buffer")
	}

	p.buffer.Track(buffer)
	p.buffer.driver.CmdBindVertexBuffers(p.buffer.handle, binding, []core1_0.Buffer{buffer.Handle()}, []int{offset})
	return nil
}

func (p *RenderPass) SetIndexBuffer(buffer *Buffer, offset int, indexType core1_0.IndexType) error {
	err := p.check()
	if err != nil {
		return err
	}
	if buffer == nil {
		return errors.New("nil index buffer")
	}

	p.buffer.Track(buffer)
	p.buffer.driver.CmdBindIndexBuffer(p.buffer.handle, buffer.Handle(), offset, indexType)
	p.indexBuffer = true
	return nil
}

func (p *RenderPass) PushConstants(stages core1_0.ShaderStageFlags, offset int, data []byte) error {
	err := p.check()
	if err != nil {
		return err
	}
	if p.pipeline == nil {
		return errors.New("push constants require a pipeline")
	}

	p.buffer.driver.CmdPushConstants(p.buffer.handle, p.pipeline.Layout, stages, offset, data)
	return nil
}

// BindBuffer binds a uniform or storage buffer range for the next draw
func (p *RenderPass) BindBuffer(binding int, descriptorType core1_0.DescriptorType, buffer *Buffer, offset, size int) error {
	err := p.check()
	if err != nil {
		return err
	}

	return p.bindBuffer(binding, descriptorType, buffer, offset, size)
}

// BindTexture binds a sampled texture for the next draw. Layouts cannot change inside a render pass,
// so the texture must already be in the shader read layout.
func (p *RenderPass) BindTexture(binding int, texture *Texture, sampler *Sampler) error {
	err := p.check()
	if err != nil {
		return err
	}
	if texture == nil {
		return errors.Newf("binding %d: nil texture", binding)
	}
	if layout := texture.Layout(); layout != core1_0.ImageLayoutShaderReadOnlyOptimal {
		return errors.Newf("binding %d: texture is in layout %s and cannot be sampled in a render pass", binding, layout)
	}

	return p.bindTexture(binding, core1_0.DescriptorTypeCombinedImageSampler, texture, sampler, core1_0.ImageLayoutShaderReadOnlyOptimal)
}

func (p *RenderPass) prepareDraw() error {
	err := p.check()
	if err != nil {
		return err
	}
	if p.pipeline == nil {
		return errors.New("draw requires a pipeline")
	}

	return p.flush()
}

func (p *RenderPass) Draw(vertexCount, instanceCount int, firstVertex, firstInstance uint32) error {
	err := p.prepareDraw()
	if err != nil {
		return err
	}

	p.buffer.driver.CmdDraw(p.buffer.handle, vertexCount, instanceCount, firstVertex, firstInstance)
	return nil
}

func (p *RenderPass) DrawIndexed(indexCount, instanceCount int, firstIndex uint32, vertexOffset int, firstInstance uint32) error {
	err := p.check()
	if err != nil {
		return err
	}
	if !p.indexBuffer {
		return errors.New("indexed draw requires an index buffer")
	}

	err = p.prepareDraw()
	if err != nil {
		return err
	}

	p.buffer.driver.CmdDrawIndexed(p.buffer.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	return nil
}

// EncodeCommands ends the render pass. It may only be called once.
func (p *RenderPass) EncodeCommands() error {
	err := p.check()
	if err != nil {
		return err
	}
	p.ended = true
	p.workspace.reset()

	p.buffer.driver.CmdEndRenderPass(p.buffer.handle)

	present := p.buffer.context.extensions.Swapchain
	for _, result := range p.target.results() {
		barrier := shaderReadBarrier(core1_0.AccessColorAttachmentWrite, core1_0.PipelineStageColorAttachmentOutput)
		if result.IsSwapchainImage() && present {
			barrier = Barrier{
				NewLayout: khr_swapchain.ImageLayoutPresentSrc,
				SrcAccess: core1_0.AccessColorAttachmentWrite,
				SrcStage:  core1_0.PipelineStageColorAttachmentOutput,
				DstStage:  core1_0.PipelineStageBottomOfPipe,
			}
		}

		_, err = result.SetLayout(p.buffer, barrier)
		if err != nil {
			return err
		}
	}

	return nil
}
