package vks

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStatsString returns a JSON document describing the pools, fences, deferred destruction and
// submissions of this context
func (c *Context) BuildStatsString() (string, error) {
	writer := jwriter.NewWriter()
	c.printStats(&writer)

	err := writer.Error()
	if err != nil {
		return "", err
	}

	return string(writer.Bytes()), nil
}

func (c *Context) printStats(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	commandStats := c.commandRecycler.Statistics()
	commandPools := obj.Name("CommandPools").Object()
	commandStats.PrintJSON(&commandPools)
	commandPools.End()

	descriptorStats := c.descriptorRecycler.Statistics()
	descriptorPools := obj.Name("DescriptorPools").Object()
	descriptorStats.PrintJSON(&descriptorPools)
	descriptorPools.End()

	fences := obj.Name("Fences").Object()
	fences.Name("Pending").Int(c.fenceWaiter.Pending())
	fences.Name("Completed").Int(c.fenceWaiter.Completed())
	fences.Name("DeviceLost").Bool(c.fenceWaiter.DeviceLost())
	fences.End()

	deferred := obj.Name("DeferredDestruction").Object()
	deferred.Name("Pending").Int(c.reclaimQueue.Pending())
	deferred.Name("Processed").Int(c.reclaimQueue.Processed())
	deferred.End()

	submissions := obj.Name("Submissions").Object()
	submissions.Name("Submitted").Int(c.commandQueue.Submitted())
	submissions.Name("Completed").Int(c.commandQueue.Completed())
	submissions.Name("Failed").Int(c.commandQueue.Failed())
	submissions.End()

	c.gpuTimeMutex.Lock()
	samples, total, last := c.gpuSamples, c.gpuTotal, c.gpuLast
	c.gpuTimeMutex.Unlock()

	gpuTime := obj.Name("GPUTime").Object()
	gpuTime.Name("Samples").Int(samples)
	gpuTime.Name("TotalNanoseconds").Int(int(total.Nanoseconds()))
	gpuTime.Name("LastNanoseconds").Int(int(last.Nanoseconds()))
	gpuTime.End()
}
