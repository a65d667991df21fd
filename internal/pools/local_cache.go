package pools

// LocalCache is the per-thread storage of the pool recyclers: the pools one recording goroutine
// has been lent, keyed by context. It is read and written without locking, so it must only ever be
// used from the goroutine that owns it.
type LocalCache struct {
	commandPools    map[uint64]*CommandPool
	descriptorPools map[uint64]*DescriptorPool
}

func NewLocalCache() *LocalCache {
	return &LocalCache{
		commandPools:    make(map[uint64]*CommandPool),
		descriptorPools: make(map[uint64]*DescriptorPool),
	}
}

// CachedCommandPool returns the command pool this cache holds for a context, or nil
func (c *LocalCache) CachedCommandPool(contextID uint64) *CommandPool {
	return c.commandPools[contextID]
}

// CachedDescriptorPool returns the descriptor pool this cache holds for a context, or nil
func (c *LocalCache) CachedDescriptorPool(contextID uint64) *DescriptorPool {
	return c.descriptorPools[contextID]
}

// Dispose releases the cache's reference to every pool it holds, for every context, and empties it
func (c *LocalCache) Dispose() {
	for contextID, pool := range c.commandPools {
		delete(c.commandPools, contextID)
		pool.Release()
	}

	for contextID, pool := range c.descriptorPools {
		delete(c.descriptorPools, contextID)
		pool.Release()
	}
}
