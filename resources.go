package vks

import (
	"sync"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vks/internal/utils"
)

// Trackable is a reference-counted object that a CommandBuffer can keep alive until the GPU has
// finished the work that refers to it
type Trackable interface {
	Retain()
	Release()
}

// SharedObject is an opaque reference-counted object. When its last reference is released, its
// destroy function runs on the context's deferred destruction goroutine.
type SharedObject struct {
	refs utils.RefCount
}

// NewSharedObject creates a SharedObject holding one reference, owned by the caller. destroy may be nil.
func (c *Context) NewSharedObject(name string, destroy func()) *SharedObject {
	object := &SharedObject{}
	object.init(c, name, destroy)
	return object
}

func (o *SharedObject) init(context *Context, name string, destroy func()) {
	o.refs.Init(name, func() {
		context.ReclaimLater(destroy)
	})
}

func (o *SharedObject) Retain() {
	o.refs.Retain()
}

func (o *SharedObject) Release() {
	o.refs.Release()
}

// References is the number of outstanding references
func (o *SharedObject) References() int {
	return o.refs.References()
}

// Buffer is a device buffer obtained from an allocator. The context never allocates or frees the
// memory behind it; destroy is whatever the allocator needs done once the GPU is finished with it.
type Buffer struct {
	SharedObject
	handle core1_0.Buffer
	size   int
}

// NewBuffer wraps a buffer of size bytes. The returned Buffer holds one reference owned by the caller.
func (c *Context) NewBuffer(handle core1_0.Buffer, size int, destroy func()) *Buffer {
	buffer := &Buffer{
		handle: handle,
		size:   size,
	}
	buffer.init(c, "Buffer", destroy)
	return buffer
}

func (b *Buffer) Handle() core1_0.Buffer {
	return b.handle
}

func (b *Buffer) Size() int {
	return b.size
}

// Sampler is a sampler obtained from a sampler library
type Sampler struct {
	SharedObject
	handle core1_0.Sampler
}

func (c *Context) NewSampler(handle core1_0.Sampler, destroy func()) *Sampler {
	sampler := &Sampler{
		handle: handle,
	}
	sampler.init(c, "Sampler", destroy)
	return sampler
}

func (s *Sampler) Handle() core1_0.Sampler {
	return s.handle
}

// TextureOptions describes an image obtained from an allocator or a swapchain
type TextureOptions struct {
	// Image is the native image
	Image core1_0.Image
	// View is a view covering every mip level and array layer of Image
	View core1_0.ImageView
	// Format is the format of Image
	Format core1_0.Format
	// Width and Height are the dimensions of mip level 0
	Width  int
	Height int
	// MipLevels is the number of mip levels in Image. Defaults to 1.
	MipLevels int
	// ArrayLayers is the number of array layers in Image. Defaults to 1.
	ArrayLayers int
	// Aspect is the aspect of Image that views and barriers refer to. Defaults to ImageAspectColor.
	Aspect core1_0.ImageAspectFlags
	// InitialLayout is the layout Image is in when it is handed to the context
	InitialLayout core1_0.ImageLayout
	// Swapchain is true for images owned by a swapchain. They are transitioned to the present layout
	// rather than for sampling when a render pass into them ends.
	Swapchain bool
	// Destroy runs on the deferred destruction goroutine once the texture is no longer referenced.
	// It may be nil.
	Destroy func()
}

// Texture is an image with a tracked layout. The layout is the last layout recorded for the image
// by any command buffer, in recording order, and barriers are only recorded when an operation needs
// a different one.
type Texture struct {
	SharedObject
	image       core1_0.Image
	view        core1_0.ImageView
	format      core1_0.Format
	width       int
	height      int
	mipLevels   int
	arrayLayers int
	aspect      core1_0.ImageAspectFlags
	swapchain   bool

	layoutMutex sync.Mutex
	layout      core1_0.ImageLayout
}

func (c *Context) NewTexture(options TextureOptions) *Texture {
	texture := &Texture{
		image:       options.Image,
		view:        options.View,
		format:      options.Format,
		width:       options.Width,
		height:      options.Height,
		mipLevels:   options.MipLevels,
		arrayLayers: options.ArrayLayers,
		aspect:      options.Aspect,
		swapchain:   options.Swapchain,
		layout:      options.InitialLayout,
	}

	if texture.mipLevels <= 0 {
		texture.mipLevels = 1
	}
	if texture.arrayLayers <= 0 {
		texture.arrayLayers = 1
	}
	if texture.aspect == 0 {
		texture.aspect = core1_0.ImageAspectColor
	}

	texture.init(c, "Texture", options.Destroy)
	return texture
}

func (t *Texture) Image() core1_0.Image {
	return t.image
}

func (t *Texture) View() core1_0.ImageView {
	return t.view
}

func (t *Texture) Format() core1_0.Format {
	return t.format
}

func (t *Texture) Size() (int, int) {
	return t.width, t.height
}

func (t *Texture) MipLevels() int {
	return t.mipLevels
}

func (t *Texture) IsSwapchainImage() bool {
	return t.swapchain
}

func (t *Texture) Layout() core1_0.ImageLayout {
	t.layoutMutex.Lock()
	defer t.layoutMutex.Unlock()

	return t.layout
}

// SetLayoutWithoutEncoding updates the tracked layout for a transition recorded by other means,
// such as a render pass's final layout, and returns the previous layout
func (t *Texture) SetLayoutWithoutEncoding(layout core1_0.ImageLayout) core1_0.ImageLayout {
	t.layoutMutex.Lock()
	defer t.layoutMutex.Unlock()

	old := t.layout
	t.layout = layout
	return old
}

func (t *Texture) subresourceLayers(mipLevel int) core1_0.ImageSubresourceLayers {
	return core1_0.ImageSubresourceLayers{
		AspectMask:     t.aspect,
		MipLevel:       mipLevel,
		BaseArrayLayer: 0,
		LayerCount:     t.arrayLayers,
	}
}
