package vks

import (
	"runtime"

	"github.com/vkngwrapper/vks/internal/pools"
)

// Worker identifies a recording goroutine. Each goroutine that records command buffers owns one
// Worker and never shares it: the command and descriptor pools it has been lent are cached on the
// Worker without locking. A Worker may record for any number of contexts.
//
// A Worker that becomes unreachable releases its cached pools as if
// Context.DisposeThreadLocalCachedResources had been called for every context it recorded for.
type Worker struct {
	cache *pools.LocalCache
}

func NewWorker() *Worker {
	worker := &Worker{
		cache: pools.NewLocalCache(),
	}
	runtime.AddCleanup(worker, (*pools.LocalCache).Dispose, worker.cache)

	return worker
}
