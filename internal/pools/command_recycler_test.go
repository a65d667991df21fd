package pools

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/core/v3/mocks/mocks1_0"
	"github.com/vkngwrapper/vks/poolutils"
	"go.uber.org/mock/gomock"
)

func readyCommandRecycler(t *testing.T, driver *mocks1_0.MockDeviceDriver) *CommandPoolRecycler {
	return NewCommandPoolRecycler(testLogger(), driver, inlineQueue(), CommandPoolRecyclerOptions{
		ContextID: testContextID.Add(1),
	})
}

func TestCommandPoolSameCacheReturnsSamePool(t *testing.T) {
	driver, device := mockDriver(t)
	expectCommandPools(driver, device).Times(1)

	recycler := readyCommandRecycler(t, driver)
	cache := NewLocalCache()

	first, err := recycler.Get(cache)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		pool, err := recycler.Get(cache)
		require.NoError(t, err)
		require.Same(t, first, pool)
	}
	require.Same(t, first, cache.CachedCommandPool(recycler.contextID))
}

func TestCommandPoolDistinctCachesGetDistinctPools(t *testing.T) {
	driver, device := mockDriver(t)
	expectCommandPools(driver, device).Times(8)

	recycler := readyCommandRecycler(t, driver)

	var wg sync.WaitGroup
	results := make([]*CommandPool, 8)
	for i := range results {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()

			cache := NewLocalCache()
			pool, err := recycler.Get(cache)
			require.NoError(t, err)

			again, err := recycler.Get(cache)
			require.NoError(t, err)
			require.Same(t, pool, again)

			results[index] = pool
		}(i)
	}
	wg.Wait()

	seen := make(map[*CommandPool]struct{})
	handles := make(map[core1_0.CommandPool]struct{})
	for _, pool := range results {
		seen[pool] = struct{}{}
		handles[pool.Handle()] = struct{}{}
	}
	require.Len(t, seen, 8)
	require.Len(t, handles, 8)
	require.Equal(t, 8, registeredCommandPools(recycler.contextID))
}

func TestCommandPoolReusedAfterReclaim(t *testing.T) {
	driver, device := mockDriver(t)
	expectCommandPools(driver, device).Times(1)
	expectCommandBuffers(driver, device).Times(1)

	recycler := readyCommandRecycler(t, driver)
	cache := NewLocalCache()

	pool, err := recycler.Get(cache)
	require.NoError(t, err)
	handle := pool.Handle()

	buffer, _, err := pool.CreateCommandBuffer()
	require.NoError(t, err)
	pool.CollectCommandBuffer(buffer)

	driver.EXPECT().ResetCommandPool(handle, core1_0.CommandPoolResetFlags(0)).Return(core1_0.VKSuccess, nil)
	recycler.DisposeThreadLocal(cache)
	require.Nil(t, cache.CachedCommandPool(recycler.contextID))
	require.Equal(t, 1, recycler.Statistics().Idle)
	require.Equal(t, 0, registeredCommandPools(recycler.contextID))

	reused, err := recycler.Get(cache)
	require.NoError(t, err)
	require.NotSame(t, pool, reused)
	require.Equal(t, handle, reused.Handle())

	// The collected buffer comes back without another allocation
	again, _, err := reused.CreateCommandBuffer()
	require.NoError(t, err)
	require.Equal(t, buffer, again)

	stats := recycler.Statistics()
	require.Equal(t, 1, stats.Created)
	require.Equal(t, 1, stats.Reused)
	require.Equal(t, 1, stats.Recycled)
	require.Equal(t, 0, stats.Idle)
}

func TestCommandPoolNotReclaimedWhileSessionHoldsIt(t *testing.T) {
	driver, device := mockDriver(t)
	expectCommandPools(driver, device).Times(1)

	recycler := readyCommandRecycler(t, driver)
	cache := NewLocalCache()

	pool, err := recycler.Get(cache)
	require.NoError(t, err)
	pool.Retain()

	recycler.DisposeThreadLocal(cache)
	require.Equal(t, 0, recycler.Statistics().Recycled)

	driver.EXPECT().ResetCommandPool(pool.Handle(), core1_0.CommandPoolResetFlags(0)).Return(core1_0.VKSuccess, nil)
	pool.Release()
	require.Equal(t, 1, recycler.Statistics().Recycled)
}

func TestCommandPoolTrimRequested(t *testing.T) {
	driver, device := mockDriver(t)
	recycler := readyCommandRecycler(t, driver)

	handle := mocks.NewDummyCommandPool(device)
	collected := []core1_0.CommandBuffer{mocks.NewDummyCommandBuffer(handle, device)}
	unused := []core1_0.CommandBuffer{
		mocks.NewDummyCommandBuffer(handle, device),
		mocks.NewDummyCommandBuffer(handle, device),
	}

	gomock.InOrder(
		driver.EXPECT().FreeCommandBuffers(unused[0], unused[1]),
		driver.EXPECT().ResetCommandPool(handle, core1_0.CommandPoolResetReleaseResources).Return(core1_0.VKSuccess, nil),
	)

	recycler.Reclaim(handle, collected, unused, true)

	stats := recycler.Statistics()
	require.Equal(t, 1, stats.Trimmed)
	require.Equal(t, 1, stats.Idle)
	require.Len(t, recycler.recycled[0].buffers, 1)
}

func TestCommandPoolTrimWhenTooManyUnusedBuffers(t *testing.T) {
	driver, device := mockDriver(t)
	recycler := NewCommandPoolRecycler(testLogger(), driver, inlineQueue(), CommandPoolRecyclerOptions{
		ContextID:                testContextID.Add(1),
		UnusedCommandBufferLimit: 2,
	})

	handle := mocks.NewDummyCommandPool(device)
	var unused []core1_0.CommandBuffer
	for i := 0; i < 3; i++ {
		unused = append(unused, mocks.NewDummyCommandBuffer(handle, device))
	}

	driver.EXPECT().FreeCommandBuffers(gomock.Any()).Do(func(buffers ...core1_0.CommandBuffer) {
		require.Len(t, buffers, 3)
	})
	driver.EXPECT().ResetCommandPool(handle, core1_0.CommandPoolResetReleaseResources).Return(core1_0.VKSuccess, nil)

	recycler.Reclaim(handle, nil, unused, false)
	require.Equal(t, 1, recycler.Statistics().Trimmed)

	// At the limit the buffers are kept
	kept := unused[:2]
	driver.EXPECT().ResetCommandPool(handle, core1_0.CommandPoolResetFlags(0)).Return(core1_0.VKSuccess, nil)
	recycler.Reclaim(handle, nil, kept, false)
	require.Equal(t, 1, recycler.Statistics().Trimmed)
	require.Equal(t, 2, recycler.Statistics().Idle)
}

func TestCommandPoolFailedResetDestroysPool(t *testing.T) {
	driver, device := mockDriver(t)
	recycler := readyCommandRecycler(t, driver)

	handle := mocks.NewDummyCommandPool(device)
	buffer := mocks.NewDummyCommandBuffer(handle, device)

	gomock.InOrder(
		driver.EXPECT().ResetCommandPool(handle, core1_0.CommandPoolResetFlags(0)).Return(core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()),
		driver.EXPECT().FreeCommandBuffers(buffer),
		driver.EXPECT().DestroyCommandPool(handle, gomock.Nil()),
	)

	recycler.Reclaim(handle, []core1_0.CommandBuffer{buffer}, nil, false)

	stats := recycler.Statistics()
	require.Equal(t, 0, stats.Idle)
	require.Equal(t, 1, stats.Destroyed)
}

func TestCommandPoolDestroyFreesBuffersFirst(t *testing.T) {
	driver, device := mockDriver(t)
	expectCommandPools(driver, device).Times(1)
	expectCommandBuffers(driver, device).Times(2)

	recycler := readyCommandRecycler(t, driver)
	cache := NewLocalCache()

	pool, err := recycler.Get(cache)
	require.NoError(t, err)
	handle := pool.Handle()

	first, _, err := pool.CreateCommandBuffer()
	require.NoError(t, err)
	second, _, err := pool.CreateCommandBuffer()
	require.NoError(t, err)
	pool.CollectCommandBuffer(first)
	pool.CollectCommandBuffer(second)

	var trace []string
	gomock.InOrder(
		driver.EXPECT().FreeCommandBuffers(first, second).Do(func(...core1_0.CommandBuffer) {
			trace = append(trace, "FreeCommandBuffers")
		}),
		driver.EXPECT().DestroyCommandPool(handle, gomock.Nil()).Do(func(core1_0.CommandPool, *loader.AllocationCallbacks) {
			trace = append(trace, "DestroyCommandPool")
		}),
	)

	recycler.DestroyAll(cache)
	require.Equal(t, []string{"FreeCommandBuffers", "DestroyCommandPool"}, trace)
}

func TestCommandPoolDestroyAllReachesOtherCaches(t *testing.T) {
	driver, device := mockDriver(t)
	expectCommandPools(driver, device).Times(3)
	driver.EXPECT().DestroyCommandPool(gomock.Any(), gomock.Nil()).Times(3)

	recycler := readyCommandRecycler(t, driver)
	mine := NewLocalCache()
	_, err := recycler.Get(mine)
	require.NoError(t, err)

	others := []*LocalCache{NewLocalCache(), NewLocalCache()}
	var wg sync.WaitGroup
	for _, cache := range others {
		wg.Add(1)
		go func(cache *LocalCache) {
			defer wg.Done()
			_, err := recycler.Get(cache)
			require.NoError(t, err)
		}(cache)
	}
	wg.Wait()

	recycler.DestroyAll(mine)
	require.Nil(t, mine.CachedCommandPool(recycler.contextID))
	require.Equal(t, 0, registeredCommandPools(recycler.contextID))

	// Pools left in other caches are dead but safe to touch and release
	for _, cache := range others {
		pool := cache.CachedCommandPool(recycler.contextID)
		require.False(t, pool.Handle().Initialized())

		_, _, err := pool.CreateCommandBuffer()
		require.True(t, errors.Is(err, poolutils.PoolDestroyedError))

		recycler.DisposeThreadLocal(cache)
	}
	require.Equal(t, 0, recycler.Statistics().Recycled)
}

func TestCommandPoolRecyclerDestroy(t *testing.T) {
	driver, device := mockDriver(t)
	recycler := readyCommandRecycler(t, driver)

	handle := mocks.NewDummyCommandPool(device)
	buffer := mocks.NewDummyCommandBuffer(handle, device)
	driver.EXPECT().ResetCommandPool(handle, core1_0.CommandPoolResetFlags(0)).Return(core1_0.VKSuccess, nil)
	recycler.Reclaim(handle, []core1_0.CommandBuffer{buffer}, nil, false)

	gomock.InOrder(
		driver.EXPECT().FreeCommandBuffers(buffer),
		driver.EXPECT().DestroyCommandPool(handle, gomock.Nil()),
	)
	recycler.Destroy()

	stats := recycler.Statistics()
	require.Equal(t, 0, stats.Idle)
	require.Equal(t, 1, stats.Destroyed)
}
