package vks

import "github.com/cockroachdb/errors"

// ContextShutdownError is returned from operations attempted after Context.Shutdown
var ContextShutdownError error = errors.New("context has been shut down")

// InvalidCommandBufferError is returned when a command buffer that failed to begin recording, or was
// already submitted or released, is used
var InvalidCommandBufferError error = errors.New("command buffer is not valid for recording")

// PassEndedError is returned when a pass is used after EncodeCommands
var PassEndedError error = errors.New("pass has already been encoded")

// BindingOverflowError is returned when a draw or dispatch binds more resources than the pass
// workspace can hold
var BindingOverflowError error = errors.New("too many bindings for a single draw or dispatch")

// SubmissionError marks every error returned from CommandQueue.Submit. The completion callback has
// already been called with Error when it is returned.
var SubmissionError error = errors.New("submission failed")
