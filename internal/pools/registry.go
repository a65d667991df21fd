package pools

import (
	"sync"

	"github.com/dolthub/swiss"
)

// registry holds every pool lent to a LocalCache until the pool is reclaimed, so that context
// teardown can reach pools cached by other goroutines, including goroutines whose Worker was
// dropped before its cleanup ran.
type registry[T comparable] struct {
	mutex sync.Mutex
	pools map[uint64]*swiss.Map[T, struct{}]
}

func newRegistry[T comparable]() *registry[T] {
	return &registry[T]{
		pools: make(map[uint64]*swiss.Map[T, struct{}]),
	}
}

var (
	commandPoolRegistry    = newRegistry[*CommandPool]()
	descriptorPoolRegistry = newRegistry[*DescriptorPool]()
)

func (r *registry[T]) register(contextID uint64, pool T) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entries, ok := r.pools[contextID]
	if !ok {
		entries = swiss.NewMap[T, struct{}](8)
		r.pools[contextID] = entries
	}
	entries.Put(pool, struct{}{})
}

func (r *registry[T]) unregister(contextID uint64, pool T) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entries, ok := r.pools[contextID]
	if !ok {
		return
	}

	entries.Delete(pool)
	if entries.Count() == 0 {
		delete(r.pools, contextID)
	}
}

// take removes the context from the registry and returns the pools that were never reclaimed
func (r *registry[T]) take(contextID uint64) []T {
	r.mutex.Lock()
	entries, ok := r.pools[contextID]
	delete(r.pools, contextID)
	r.mutex.Unlock()

	if !ok {
		return nil
	}

	pools := make([]T, 0, entries.Count())
	entries.Iter(func(pool T, _ struct{}) bool {
		pools = append(pools, pool)
		return false
	})

	return pools
}

func (r *registry[T]) count(contextID uint64) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entries, ok := r.pools[contextID]
	if !ok {
		return 0
	}
	return entries.Count()
}
