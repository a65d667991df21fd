package vks

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// bindingWorkspace collects the descriptor writes for one draw or dispatch. Its storage is sized
// once, when the pass is created, and never grows.
type bindingWorkspace struct {
	bufferInfos []core1_0.DescriptorBufferInfo
	imageInfos  []core1_0.DescriptorImageInfo
	writes      []core1_0.WriteDescriptorSet
}

func newBindingWorkspace(capacity int) *bindingWorkspace {
	return &bindingWorkspace{
		bufferInfos: make([]core1_0.DescriptorBufferInfo, 0, capacity),
		imageInfos:  make([]core1_0.DescriptorImageInfo, 0, capacity),
		writes:      make([]core1_0.WriteDescriptorSet, 0, capacity),
	}
}

func (w *bindingWorkspace) full() bool {
	return len(w.writes) == cap(w.writes)
}

func (w *bindingWorkspace) checkCapacity(binding int) error {
	if w.full() {
		return errors.Wrapf(BindingOverflowError, "binding %d exceeds the limit of %d", binding, cap(w.writes))
	}
	return nil
}

func (w *bindingWorkspace) addBuffer(binding int, descriptorType core1_0.DescriptorType, buffer *Buffer, offset, size int) error {
	err := w.checkCapacity(binding)
	if err != nil {
		return err
	}

	index := len(w.bufferInfos)
	w.bufferInfos = append(w.bufferInfos, core1_0.DescriptorBufferInfo{
		Buffer: buffer.Handle(),
		Offset: offset,
		Range:  size,
	})
	w.writes = append(w.writes, core1_0.WriteDescriptorSet{
		DstBinding:     binding,
		DescriptorType: descriptorType,
		BufferInfo:     w.bufferInfos[index : index+1],
	})

	return nil
}

func (w *bindingWorkspace) addImage(binding int, descriptorType core1_0.DescriptorType, texture *Texture, sampler *Sampler, layout core1_0.ImageLayout) error {
	err := w.checkCapacity(binding)
	if err != nil {
		return err
	}

	info := core1_0.DescriptorImageInfo{
		ImageView:   texture.View(),
		ImageLayout: layout,
	}
	if sampler != nil {
		info.Sampler = sampler.Handle()
	}

	index := len(w.imageInfos)
	w.imageInfos = append(w.imageInfos, info)
	w.writes = append(w.writes, core1_0.WriteDescriptorSet{
		DstBinding:     binding,
		DescriptorType: descriptorType,
		ImageInfo:      w.imageInfos[index : index+1],
	})

	return nil
}

func (w *bindingWorkspace) reset() {
	clear(w.bufferInfos)
	clear(w.imageInfos)
	clear(w.writes)
	w.bufferInfos = w.bufferInfos[:0]
	w.imageInfos = w.imageInfos[:0]
	w.writes = w.writes[:0]
}

// binder is the binding state shared by render and compute passes
type binder struct {
	buffer    *CommandBuffer
	pipeline  *Pipeline
	workspace *bindingWorkspace
}

func (b *binder) bindBuffer(binding int, descriptorType core1_0.DescriptorType, buffer *Buffer, offset, size int) error {
	if buffer == nil {
		return errors.Newf("binding %d: nil buffer", binding)
	}

	err := b.workspace.addBuffer(binding, descriptorType, buffer, offset, size)
	if err != nil {
		return err
	}

	b.buffer.Track(buffer)
	return nil
}

func (b *binder) bindTexture(binding int, descriptorType core1_0.DescriptorType, texture *Texture, sampler *Sampler, layout core1_0.ImageLayout) error {
	if texture == nil {
		return errors.Newf("binding %d: nil texture", binding)
	}

	err := b.workspace.addImage(binding, descriptorType, texture, sampler, layout)
	if err != nil {
		return err
	}

	b.buffer.Track(texture)
	if sampler != nil {
		b.buffer.Track(sampler)
	}
	return nil
}

// flush writes every pending binding into a fresh descriptor set with a single update and binds it.
// The workspace is empty afterward whether or not flushing succeeded.
func (b *binder) flush() error {
	defer b.workspace.reset()

	if len(b.workspace.writes) == 0 {
		return nil
	}
	if b.pipeline == nil {
		return errors.New("resources were bound without a pipeline")
	}

	set, _, err := b.buffer.AllocateDescriptorSet(b.pipeline.DescriptorSetLayout)
	if err != nil {
		return err
	}

	for i := range b.workspace.writes {
		b.workspace.writes[i].DstSet = set
	}

	err = b.buffer.driver.UpdateDescriptorSets(b.workspace.writes, nil)
	if err != nil {
		return errors.Wrap(err, "failed to update descriptor set")
	}

	b.buffer.driver.CmdBindDescriptorSets(b.buffer.handle, b.pipeline.BindPoint, b.pipeline.Layout, 0, []core1_0.DescriptorSet{set}, nil)
	return nil
}
