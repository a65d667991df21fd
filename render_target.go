package vks

import "github.com/vkngwrapper/core/v3/core1_0"

// ColorAttachment is a color output of a render pass
type ColorAttachment struct {
	Texture *Texture
	// ResolveTexture receives the resolved result of a multisampled Texture. It may be nil.
	ResolveTexture *Texture
	// ClearColor is used when the render pass clears this attachment on load
	ClearColor [4]float32
}

// DepthStencilAttachment is the depth/stencil output of a render pass
type DepthStencilAttachment struct {
	Texture      *Texture
	ClearDepth   float32
	ClearStencil uint32
}

// RenderTarget is the set of attachments a render pass draws into
type RenderTarget struct {
	// RenderPass is a native render pass compatible with the attachments, supplied by the pipeline
	// library. Its attachments are ordered: each color attachment followed by its resolve attachment
	// when present, then the depth/stencil attachment.
	RenderPass core1_0.RenderPass
	// Colors are the color attachments, in attachment order
	Colors []ColorAttachment
	// DepthStencil is the depth/stencil attachment. It may be nil.
	DepthStencil *DepthStencilAttachment
}

func (t RenderTarget) size() (int, int) {
	if len(t.Colors) > 0 && t.Colors[0].Texture != nil {
		return t.Colors[0].Texture.Size()
	}
	if t.DepthStencil != nil && t.DepthStencil.Texture != nil {
		return t.DepthStencil.Texture.Size()
	}
	return 0, 0
}

// attachments lists the views and clear values in render pass attachment order
func (t RenderTarget) attachments() ([]core1_0.ImageView, []core1_0.ClearValue) {
	var views []core1_0.ImageView
	var clearValues []core1_0.ClearValue

	for _, color := range t.Colors {
		views = append(views, color.Texture.View())
		clearValues = append(clearValues, core1_0.ClearValueFloat(color.ClearColor))

		if color.ResolveTexture != nil {
			views = append(views, color.ResolveTexture.View())
			clearValues = append(clearValues, core1_0.ClearValueFloat(color.ClearColor))
		}
	}

	if t.DepthStencil != nil {
		views = append(views, t.DepthStencil.Texture.View())
		clearValues = append(clearValues, core1_0.ClearValueDepthStencil{
			Depth:   t.DepthStencil.ClearDepth,
			Stencil: t.DepthStencil.ClearStencil,
		})
	}

	return views, clearValues
}

// results are the textures holding the output of each color attachment once the pass ends
func (t RenderTarget) results() []*Texture {
	results := make([]*Texture, 0, len(t.Colors))
	for _, color := range t.Colors {
		if color.ResolveTexture != nil {
			results = append(results, color.ResolveTexture)
		} else {
			results = append(results, color.Texture)
		}
	}
	return results
}
