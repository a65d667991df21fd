package vks

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// ComputePass records dispatches. Work written by the pass is made visible to vertex input when the
// pass is encoded, so index and vertex buffers produced by compute can be drawn from later in the
// same command buffer.
type ComputePass struct {
	binder
	ended bool
}

func newComputePass(buffer *CommandBuffer) *ComputePass {
	return &ComputePass{
		binder: binder{
			buffer:    buffer,
			workspace: newBindingWorkspace(buffer.context.maxBindings),
		},
	}
}

func (p *ComputePass) check() error {
	if p.ended {
		return PassEndedError
	}
	if !p.buffer.IsValid() {
		return InvalidCommandBufferError
	}
	return nil
}

func (p *ComputePass) SetPipeline(pipeline *Pipeline) error {
	err := p.check()
	if err != nil {
		return err
	}
	if pipeline == nil || pipeline.BindPoint != core1_0.PipelineBindPointCompute {
		return errors.New("compute passes require a compute pipeline")
	}

	p.pipeline = pipeline
	p.buffer.driver.CmdBindPipeline(p.buffer.handle, core1_0.PipelineBindPointCompute, pipeline.Handle)
	return nil
}

func (p *ComputePass) PushConstants(offset int, data []byte) error {
	err := p.check()
	if err != nil {
		return err
	}
	if p.pipeline == nil {
		return errors.New("push constants require a pipeline")
	}

	p.buffer.driver.CmdPushConstants(p.buffer.handle, p.pipeline.Layout, core1_0.StageCompute, offset, data)
	return nil
}

// BindBuffer binds a uniform or storage buffer range for the next dispatch
func (p *ComputePass) BindBuffer(binding int, descriptorType core1_0.DescriptorType, buffer *Buffer, offset, size int) error {
	err := p.check()
	if err != nil {
		return err
	}

	return p.bindBuffer(binding, descriptorType, buffer, offset, size)
}

// BindTexture binds a texture for the next dispatch. Storage images are moved to the general layout;
// every other descriptor type is moved to the shader read layout.
func (p *ComputePass) BindTexture(binding int, descriptorType core1_0.DescriptorType, texture *Texture, sampler *Sampler) error {
	err := p.check()
	if err != nil {
		return err
	}
	if texture == nil {
		return errors.Newf("binding %d: nil texture", binding)
	}
	err = p.workspace.checkCapacity(binding)
	if err != nil {
		return err
	}

	barrier := shaderReadBarrier(core1_0.AccessShaderWrite|core1_0.AccessTransferWrite|core1_0.AccessColorAttachmentWrite,
		core1_0.PipelineStageComputeShader|core1_0.PipelineStageTransfer|core1_0.PipelineStageColorAttachmentOutput)
	barrier.DstStage = core1_0.PipelineStageComputeShader
	if descriptorType == core1_0.DescriptorTypeStorageImage {
		barrier.NewLayout = core1_0.ImageLayoutGeneral
		barrier.DstAccess = core1_0.AccessShaderRead | core1_0.AccessShaderWrite
	}

	_, err = texture.SetLayout(p.buffer, barrier)
	if err != nil {
		return err
	}

	return p.bindTexture(binding, descriptorType, texture, sampler, barrier.NewLayout)
}

func (p *ComputePass) Dispatch(groupsX, groupsY, groupsZ int) error {
	err := p.check()
	if err != nil {
		return err
	}
	if p.pipeline == nil {
		return errors.New("dispatch requires a pipeline")
	}

	err = p.flush()
	if err != nil {
		return err
	}

	p.buffer.driver.CmdDispatch(p.buffer.handle, groupsX, groupsY, groupsZ)
	return nil
}

// AddBufferMemoryBarrier makes shader writes from earlier dispatches visible to later ones. Vulkan
// drivers are not known to track individual buffer ranges, so a global memory barrier is recorded.
func (p *ComputePass) AddBufferMemoryBarrier() error {
	err := p.check()
	if err != nil {
		return err
	}

	return insertMemoryBarrier(p.buffer,
		core1_0.AccessShaderWrite, core1_0.AccessShaderRead,
		core1_0.PipelineStageComputeShader, core1_0.PipelineStageComputeShader)
}

// AddTextureMemoryBarrier is AddBufferMemoryBarrier for storage images
func (p *ComputePass) AddTextureMemoryBarrier() error {
	return p.AddBufferMemoryBarrier()
}

// EncodeCommands finishes the pass. It may only be called once.
func (p *ComputePass) EncodeCommands() error {
	err := p.check()
	if err != nil {
		return err
	}
	p.ended = true
	p.workspace.reset()

	err = insertMemoryBarrier(p.buffer,
		core1_0.AccessShaderWrite|core1_0.AccessTransferWrite,
		core1_0.AccessIndexRead|core1_0.AccessVertexAttributeRead,
		core1_0.PipelineStageComputeShader,
		core1_0.PipelineStageVertexInput)
	if err != nil {
		return errors.Wrap(err, "failed to end compute pass")
	}

	return nil
}
