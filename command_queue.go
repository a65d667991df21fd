package vks

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vks/internal/utils"
	"golang.org/x/exp/slog"
)

// CompletionStatus is the outcome reported to a CompletionCallback
type CompletionStatus int

const (
	// Completed indicates the GPU finished executing the submitted command buffers
	Completed CompletionStatus = iota
	// Error indicates the command buffers were never executed
	Error
)

func (s CompletionStatus) String() string {
	switch s {
	case Completed:
		return "Completed"
	case Error:
		return "Error"
	}
	return "Unknown"
}

// CompletionCallback is called exactly once for every call to CommandQueue.Submit. When the
// submission reaches the GPU it is called on the fence goroutine after the command buffers have been
// released.
type CompletionCallback func(status CompletionStatus)

// CommandQueue submits command buffers to the context's device queue
type CommandQueue struct {
	context *Context
	logger  *slog.Logger
	driver  core1_0.DeviceDriver
	queue   core1_0.Queue
	mutex   utils.OptionalMutex

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// Submit ends every command buffer and submits them together, in order, with a single fence. Either
// all of them are submitted or none are. The command buffers belong to the queue from this point:
// they are released when the fence signals, or before Submit returns if submission failed.
func (q *CommandQueue) Submit(buffers []*CommandBuffer, callback CompletionCallback) error {
	if len(buffers) == 0 {
		return q.fail(nil, callback, errors.New("no command buffers to submit"))
	}

	for _, buffer := range buffers {
		err := q.context.checkOwnership(buffer)
		if err != nil {
			return q.fail(buffers, callback, err)
		}
	}

	if q.context.IsShutdown() {
		return q.fail(buffers, callback, ContextShutdownError)
	}

	handles := make([]core1_0.CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		_, err := buffer.end()
		if err != nil {
			return q.fail(buffers, callback, err)
		}
		handles = append(handles, buffer.handle)
	}

	fence, _, err := q.driver.CreateFence(q.context.callbacks, core1_0.FenceCreateInfo{})
	if err != nil {
		return q.fail(buffers, callback, errors.Wrap(err, "failed to create fence"))
	}

	_, err = q.submit(fence, handles)
	if err != nil {
		q.driver.DestroyFence(fence, q.context.callbacks)
		return q.fail(buffers, callback, errors.Wrap(err, "failed to submit to queue"))
	}

	for _, buffer := range buffers {
		buffer.markSubmitted()
	}
	q.submitted.Add(1)

	complete := func() {
		for _, buffer := range buffers {
			buffer.collectTimings()
			buffer.release()
		}

		q.completed.Add(1)
		q.context.metrics.Submission(Completed.String())
		if callback != nil {
			callback(Completed)
		}
	}

	if q.context.fenceWaiter.AddFence(fence, complete) {
		return nil
	}

	// The fence goroutine has exited. The work is already on the GPU, so wait for it here before
	// releasing anything it refers to.
	_, waitErr := q.driver.WaitForFences(true, common.NoTimeout, fence)
	q.driver.DestroyFence(fence, q.context.callbacks)
	if waitErr != nil {
		q.logger.Error("CommandQueue::Submit failed to wait for fence after termination", slog.Any("Error", waitErr))
	}

	for _, buffer := range buffers {
		buffer.release()
	}

	q.submitted.Add(-1)
	return q.fail(buffers, callback, errors.New("fence waiter has terminated"))
}

func (q *CommandQueue) submit(fence core1_0.Fence, handles []core1_0.CommandBuffer) (common.VkResult, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.driver.QueueSubmit(q.queue, &fence, core1_0.SubmitInfo{
		CommandBuffers: handles,
	})
}

// fail releases every command buffer that is not already in flight and reports Error exactly once
func (q *CommandQueue) fail(buffers []*CommandBuffer, callback CompletionCallback, err error) error {
	for _, buffer := range buffers {
		if buffer != nil {
			buffer.Release()
		}
	}

	q.failed.Add(1)
	q.context.metrics.Submission(Error.String())
	q.logger.Warn("CommandQueue::Submit dropped submission", slog.Int("CommandBuffers", len(buffers)), slog.Any("Error", err))

	if callback != nil {
		callback(Error)
	}

	return errors.Mark(err, SubmissionError)
}

// Submitted is the number of submissions handed to the GPU
func (q *CommandQueue) Submitted() int {
	return int(q.submitted.Load())
}

// Completed is the number of submissions whose fence has signaled
func (q *CommandQueue) Completed() int {
	return int(q.completed.Load())
}

// Failed is the number of submissions that never reached the GPU
func (q *CommandQueue) Failed() int {
	return int(q.failed.Load())
}
