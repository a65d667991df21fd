package pools

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/vks/internal/reclaim"
	"github.com/vkngwrapper/vks/internal/vulkan"
	"github.com/vkngwrapper/vks/metrics"
	"github.com/vkngwrapper/vks/poolutils"
	"golang.org/x/exp/slog"
)

const (
	// DefaultMinimumDescriptorPoolCapacity is the smallest bucket a descriptor pool is created with
	DefaultMinimumDescriptorPoolCapacity = 64
	// DefaultMaxRecycledDescriptorPools bounds the number of idle descriptor pools kept for reuse
	DefaultMaxRecycledDescriptorPools = 32
)

// descriptorPoolTypes are the descriptor types each pool reserves bucket-capacity descriptors of
var descriptorPoolTypes = []core1_0.DescriptorType{
	core1_0.DescriptorTypeCombinedImageSampler,
	core1_0.DescriptorTypeUniformBuffer,
	core1_0.DescriptorTypeStorageBuffer,
	core1_0.DescriptorTypeInputAttachment,
}

type recycledDescriptorPool struct {
	handle   core1_0.DescriptorPool
	capacity int
}

type DescriptorPoolRecyclerOptions struct {
	ContextID       uint64
	MinimumCapacity int
	MaxRecycled     int
	VulkanCallbacks *loader.AllocationCallbacks
	Metrics         *metrics.Metrics
}

// DescriptorPoolRecycler keeps a bounded list of reset native descriptor pools, bucketed by
// power-of-two capacity
type DescriptorPoolRecycler struct {
	logger          *slog.Logger
	driver          core1_0.DeviceDriver
	queue           *reclaim.Queue
	extensions      *vulkan.ExtensionData
	callbacks       *loader.AllocationCallbacks
	metrics         *metrics.Metrics
	contextID       uint64
	minimumCapacity int
	maxRecycled     int

	mutex     sync.Mutex
	recycled  []recycledDescriptorPool
	destroyed bool
	stats     poolutils.Statistics
}

func NewDescriptorPoolRecycler(logger *slog.Logger, driver core1_0.DeviceDriver, queue *reclaim.Queue, extensions *vulkan.ExtensionData, options DescriptorPoolRecyclerOptions) (*DescriptorPoolRecycler, error) {
	minimumCapacity := options.MinimumCapacity
	if minimumCapacity <= 0 {
		minimumCapacity = DefaultMinimumDescriptorPoolCapacity
	}
	err := poolutils.CheckPow2(minimumCapacity, "MinimumCapacity")
	if err != nil {
		return nil, err
	}

	maxRecycled := options.MaxRecycled
	if maxRecycled <= 0 {
		maxRecycled = DefaultMaxRecycledDescriptorPools
	}

	return &DescriptorPoolRecycler{
		logger:          logger,
		driver:          driver,
		queue:           queue,
		extensions:      extensions,
		callbacks:       options.VulkanCallbacks,
		metrics:         options.Metrics,
		contextID:       options.ContextID,
		minimumCapacity: minimumCapacity,
		maxRecycled:     maxRecycled,
	}, nil
}

// CreatePool returns a new DescriptorPool holding a single reference owned by the caller
func (r *DescriptorPoolRecycler) CreatePool() *DescriptorPool {
	return newDescriptorPool(r)
}

// GetLocal returns the descriptor pool cached for this context in the calling goroutine's cache,
// creating one on first use. The cache owns one reference; callers that keep the pool must Retain it.
func (r *DescriptorPoolRecycler) GetLocal(cache *LocalCache) *DescriptorPool {
	if pool := cache.descriptorPools[r.contextID]; pool != nil {
		return pool
	}

	pool := newDescriptorPool(r)
	cache.descriptorPools[r.contextID] = pool
	descriptorPoolRegistry.register(r.contextID, pool)
	return pool
}

// DisposeThreadLocal drops the calling goroutine's cached descriptor pool for this context
func (r *DescriptorPoolRecycler) DisposeThreadLocal(cache *LocalCache) {
	pool := cache.descriptorPools[r.contextID]
	if pool == nil {
		return
	}

	delete(cache.descriptorPools, r.contextID)
	pool.Release()
}

// DestroyAll destroys every native pool borrowed by descriptor pools cached for this context,
// including those cached by other goroutines, and clears the caller's cache entry. It must only be
// called once the device is idle.
func (r *DescriptorPoolRecycler) DestroyAll(cache *LocalCache) {
	pools := descriptorPoolRegistry.take(r.contextID)
	for _, pool := range pools {
		pool.Destroy()
	}

	if cache != nil {
		delete(cache.descriptorPools, r.contextID)
	}

	r.logger.Debug("DescriptorPoolRecycler::DestroyAll", slog.Int("Pools", len(pools)))
}

// Get returns a native pool able to hold at least minimumCapacity sets, rounded up to a
// power-of-two bucket, and the bucket it was created with
func (r *DescriptorPoolRecycler) Get(minimumCapacity int) (core1_0.DescriptorPool, int, common.VkResult, error) {
	capacity := poolutils.BucketCapacity(minimumCapacity, r.minimumCapacity)

	handle, reusedCapacity, ok := r.reuse(capacity)
	if ok {
		r.metrics.PoolReused(metrics.PoolKindDescriptor)
		return handle, reusedCapacity, core1_0.VKSuccess, nil
	}

	poolSizes := make([]core1_0.DescriptorPoolSize, 0, len(descriptorPoolTypes))
	for _, descriptorType := range descriptorPoolTypes {
		poolSizes = append(poolSizes, core1_0.DescriptorPoolSize{
			Type:            descriptorType,
			DescriptorCount: capacity,
		})
	}

	handle, res, err := r.driver.CreateDescriptorPool(r.callbacks, core1_0.DescriptorPoolCreateInfo{
		MaxSets:   capacity,
		PoolSizes: poolSizes,
	})
	if err != nil {
		return core1_0.DescriptorPool{}, 0, res, errors.Wrapf(err, "failed to create descriptor pool with capacity %d", capacity)
	}

	r.mutex.Lock()
	r.stats.Created++
	r.mutex.Unlock()

	r.metrics.PoolCreated(metrics.PoolKindDescriptor)
	r.logger.Debug("DescriptorPoolRecycler::Get created pool", slog.Int("Capacity", capacity))
	return handle, capacity, res, nil
}

func (r *DescriptorPoolRecycler) reuse(capacity int) (core1_0.DescriptorPool, int, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, entry := range r.recycled {
		if entry.capacity < capacity {
			continue
		}

		last := len(r.recycled) - 1
		r.recycled[i] = r.recycled[last]
		r.recycled[last] = recycledDescriptorPool{}
		r.recycled = r.recycled[:last]
		r.stats.Reused++
		r.stats.Idle--

		return entry.handle, entry.capacity, true
	}

	return core1_0.DescriptorPool{}, 0, false
}

// Reclaim resets the pool and keeps it for reuse. When the recycled list is full the pool replaces
// the smallest entry with less capacity than itself, and is destroyed if there is none.
func (r *DescriptorPoolRecycler) Reclaim(handle core1_0.DescriptorPool, capacity int) {
	defer poolutils.DebugValidate(r)

	_, err := r.driver.ResetDescriptorPool(handle, 0)
	if err != nil {
		r.logger.Warn("DescriptorPoolRecycler::Reclaim failed to reset pool, destroying it", slog.Any("Error", err))
		r.destroyNative(handle)
		return
	}

	r.mutex.Lock()
	if r.destroyed {
		r.mutex.Unlock()
		r.destroyNative(handle)
		return
	}

	if len(r.recycled) < r.maxRecycled {
		r.recycled = append(r.recycled, recycledDescriptorPool{handle: handle, capacity: capacity})
		r.stats.Recycled++
		r.stats.Idle++
		r.mutex.Unlock()
		return
	}

	victim := -1
	for i, entry := range r.recycled {
		if entry.capacity < capacity && (victim < 0 || entry.capacity < r.recycled[victim].capacity) {
			victim = i
		}
	}

	r.stats.Dropped++
	if victim < 0 {
		r.mutex.Unlock()

		r.metrics.PoolDropped(metrics.PoolKindDescriptor)
		r.destroyNative(handle)
		return
	}

	dropped := r.recycled[victim].handle
	r.recycled[victim] = recycledDescriptorPool{handle: handle, capacity: capacity}
	r.stats.Recycled++
	r.mutex.Unlock()

	r.metrics.PoolDropped(metrics.PoolKindDescriptor)
	r.destroyNative(dropped)
}

// Destroy destroys every pool waiting in the recycled list. Pools reclaimed afterward are
// destroyed instead of recycled.
func (r *DescriptorPoolRecycler) Destroy() {
	r.mutex.Lock()
	r.destroyed = true
	recycled := r.recycled
	r.recycled = nil
	r.stats.Idle = 0
	r.mutex.Unlock()

	for _, entry := range recycled {
		r.destroyNative(entry.handle)
	}
}

func (r *DescriptorPoolRecycler) Statistics() poolutils.Statistics {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.stats
}

// RecycledCapacities lists the bucket of every idle pool
func (r *DescriptorPoolRecycler) RecycledCapacities() []int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	capacities := make([]int, 0, len(r.recycled))
	for _, entry := range r.recycled {
		capacities = append(capacities, entry.capacity)
	}
	return capacities
}

func (r *DescriptorPoolRecycler) Validate() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(r.recycled) > r.maxRecycled {
		return errors.Newf("recycled list holds %d pools, more than the limit of %d", len(r.recycled), r.maxRecycled)
	}

	for i, entry := range r.recycled {
		err := poolutils.CheckPow2(entry.capacity, fmt.Sprintf("recycled pool %d capacity", i))
		if err != nil {
			return err
		}

		if entry.capacity < r.minimumCapacity {
			return errors.Newf("recycled pool %d has capacity %d, below the minimum of %d", i, entry.capacity, r.minimumCapacity)
		}
	}

	return nil
}

func (r *DescriptorPoolRecycler) destroyNative(handle core1_0.DescriptorPool) {
	r.driver.DestroyDescriptorPool(handle, r.callbacks)

	r.mutex.Lock()
	r.stats.Destroyed++
	r.mutex.Unlock()
}
