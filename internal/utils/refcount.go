package utils

import (
	"fmt"
	"sync/atomic"
)

// RefCount is a shared-ownership counter. It starts with one reference held by the creator and
// calls the release hook exactly once, when the last reference is dropped.
type RefCount struct {
	name    string
	count   atomic.Int32
	release func()
}

func (r *RefCount) Init(name string, release func()) {
	r.name = name
	r.release = release
	r.count.Store(1)
}

func (r *RefCount) Retain() {
	if r.count.Add(1) <= 1 {
		panic(fmt.Sprintf("called %s::Retain on a released object", r.name))
	}
}

// Release drops one reference and reports whether it was the last one
func (r *RefCount) Release() bool {
	remaining := r.count.Add(-1)
	if remaining < 0 {
		panic(fmt.Sprintf("called %s::Release more times than the object was retained", r.name))
	}
	if remaining > 0 {
		return false
	}

	if r.release != nil {
		r.release()
	}
	return true
}

func (r *RefCount) References() int {
	return int(r.count.Load())
}
