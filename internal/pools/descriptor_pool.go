package pools

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vks/internal/reclaim"
	"github.com/vkngwrapper/vks/internal/utils"
	"github.com/vkngwrapper/vks/poolutils"
	"golang.org/x/exp/slog"
)

type allocatedPool struct {
	handle   core1_0.DescriptorPool
	capacity int
}

// DescriptorPool carves descriptor sets out of native pools borrowed from a DescriptorPoolRecycler.
// It is shared by the sessions a single recording goroutine creates until that goroutine resets
// its cache; the native pools return to the recycler when the last reference is released.
type DescriptorPool struct {
	logger   *slog.Logger
	driver   core1_0.DeviceDriver
	recycler *DescriptorPoolRecycler
	refs     utils.RefCount

	mutex        sync.Mutex
	pools        []allocatedPool
	nextCapacity int
	released     bool
	allocated    int
	layoutCounts *swiss.Map[core1_0.DescriptorSetLayout, int]
}

func newDescriptorPool(recycler *DescriptorPoolRecycler) *DescriptorPool {
	pool := &DescriptorPool{
		logger:       recycler.logger,
		driver:       recycler.driver,
		recycler:     recycler,
		nextCapacity: recycler.minimumCapacity,
		layoutCounts: swiss.NewMap[core1_0.DescriptorSetLayout, int](8),
	}
	pool.refs.Init("DescriptorPool", pool.reclaim)

	return pool
}

func (p *DescriptorPool) Retain() {
	p.refs.Retain()
}

func (p *DescriptorPool) Release() {
	p.refs.Release()
}

// AllocateDescriptorSet allocates one set for the layout. When the current native pool is
// exhausted a fresh pool is acquired and the allocation is retried exactly once.
func (p *DescriptorPool) AllocateDescriptorSet(layout core1_0.DescriptorSetLayout) (core1_0.DescriptorSet, common.VkResult, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.released {
		return core1_0.DescriptorSet{}, core1_0.VKErrorUnknown, poolutils.PoolDestroyedError
	}

	if len(p.pools) == 0 {
		res, err := p.createNewPool()
		if err != nil {
			return core1_0.DescriptorSet{}, res, err
		}
	}

	set, res, err := p.allocate(layout)
	if err != nil && p.recycler.extensions.IsPoolExhausted(res) {
		p.logger.Debug("DescriptorPool::AllocateDescriptorSet pool exhausted, retrying with a new pool", slog.Int("Pools", len(p.pools)))

		res, err = p.createNewPool()
		if err != nil {
			return core1_0.DescriptorSet{}, res, err
		}

		set, res, err = p.allocate(layout)
		if err != nil && p.recycler.extensions.IsPoolExhausted(res) {
			err = errors.Mark(err, poolutils.PoolExhaustedError)
		}
	}
	if err != nil {
		return core1_0.DescriptorSet{}, res, errors.Wrap(err, "failed to allocate descriptor set")
	}

	p.allocated++
	count, _ := p.layoutCounts.Get(layout)
	p.layoutCounts.Put(layout, count+1)

	return set, res, nil
}

func (p *DescriptorPool) allocate(layout core1_0.DescriptorSetLayout) (core1_0.DescriptorSet, common.VkResult, error) {
	sets, res, err := p.driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: p.pools[len(p.pools)-1].handle,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	})
	if err != nil {
		return core1_0.DescriptorSet{}, res, err
	}

	return sets[0], res, nil
}

func (p *DescriptorPool) createNewPool() (common.VkResult, error) {
	handle, capacity, res, err := p.recycler.Get(p.nextCapacity)
	if err != nil {
		return res, err
	}

	p.pools = append(p.pools, allocatedPool{handle: handle, capacity: capacity})
	p.nextCapacity = capacity * 2
	return res, nil
}

// Allocated is the number of descriptor sets allocated from this pool
func (p *DescriptorPool) Allocated() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.allocated
}

// AllocatedForLayout is the number of descriptor sets allocated for a single layout
func (p *DescriptorPool) AllocatedForLayout(layout core1_0.DescriptorSetLayout) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	count, _ := p.layoutCounts.Get(layout)
	return count
}

// NativePools is the number of native pools currently borrowed from the recycler
func (p *DescriptorPool) NativePools() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.pools)
}

func (p *DescriptorPool) reclaim() {
	p.mutex.Lock()
	pools := p.pools
	p.pools = nil
	p.released = true
	p.layoutCounts.Clear()
	p.mutex.Unlock()

	descriptorPoolRegistry.unregister(p.recycler.contextID, p)
	for _, pool := range pools {
		pool := pool
		p.recycler.queue.Reclaim(reclaim.ResourceFunc(func() {
			p.recycler.Reclaim(pool.handle, pool.capacity)
		}))
	}
}

// Destroy destroys every native pool borrowed from the recycler, regardless of outstanding
// references. It is only used at context teardown.
func (p *DescriptorPool) Destroy() {
	p.mutex.Lock()
	pools := p.pools
	p.pools = nil
	p.released = true
	p.layoutCounts.Clear()
	p.mutex.Unlock()

	for _, pool := range pools {
		p.recycler.destroyNative(pool.handle)
	}
}
