package vks

import (
	"encoding/binary"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"
)

const probeQueryCount = 2

// gpuProbe brackets a command buffer with a pair of timestamp queries
type gpuProbe struct {
	context   *Context
	queryPool core1_0.QueryPool
}

func newGPUProbe(context *Context, buffer core1_0.CommandBuffer) (*gpuProbe, error) {
	queryPool, _, err := context.driver.CreateQueryPool(context.callbacks, core1_0.QueryPoolCreateInfo{
		QueryType:  core1_0.QueryTypeTimestamp,
		QueryCount: probeQueryCount,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create timestamp query pool")
	}

	context.driver.CmdResetQueryPool(buffer, queryPool, 0, probeQueryCount)
	context.driver.CmdWriteTimestamp(buffer, core1_0.PipelineStageTopOfPipe, queryPool, 0)

	return &gpuProbe{
		context:   context,
		queryPool: queryPool,
	}, nil
}

func (p *gpuProbe) recordEnd(buffer core1_0.CommandBuffer) {
	p.context.driver.CmdWriteTimestamp(buffer, core1_0.PipelineStageBottomOfPipe, p.queryPool, 1)
}

// collect reads both timestamps. It must only be called once the command buffer has completed.
func (p *gpuProbe) collect() {
	results := make([]byte, probeQueryCount*8)
	_, err := p.context.driver.GetQueryPoolResults(p.queryPool, 0, probeQueryCount, results, 8, core1_0.QueryResult64Bit|core1_0.QueryResultWait)
	if err != nil {
		p.context.logger.Warn("GPUProbe::collect failed to read timestamps", slog.Any("Error", err))
		return
	}

	start := binary.LittleEndian.Uint64(results[0:8])
	end := binary.LittleEndian.Uint64(results[8:16])
	if end < start {
		return
	}

	duration := time.Duration(float64(end-start) * float64(p.context.timestampPeriod))
	p.context.recordGPUTime(duration)
	p.context.logger.Debug("GPUProbe::collect", slog.Duration("GPUTime", duration))
}

func (p *gpuProbe) release() {
	driver := p.context.driver
	callbacks := p.context.callbacks
	queryPool := p.queryPool

	p.context.ReclaimLater(func() {
		driver.DestroyQueryPool(queryPool, callbacks)
	})
}
