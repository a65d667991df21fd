package vks

import "github.com/vkngwrapper/core/v3/core1_0"

// Pipeline is a compiled pipeline supplied by a pipeline library. The context never creates or
// destroys pipelines; it only binds them and allocates descriptor sets for their layout.
type Pipeline struct {
	// Handle is the native pipeline
	Handle core1_0.Pipeline
	// Layout is the pipeline layout Handle was created with
	Layout core1_0.PipelineLayout
	// DescriptorSetLayout is the layout of descriptor set 0, which all bindings are written into
	DescriptorSetLayout core1_0.DescriptorSetLayout
	// BindPoint is PipelineBindPointGraphics for render pipelines and PipelineBindPointCompute for
	// compute pipelines
	BindPoint core1_0.PipelineBindPoint
}
