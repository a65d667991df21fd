package poolutils

import "github.com/cockroachdb/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// PoolExhaustedError is returned when a pool could not satisfy an allocation, even after the single
// retry against a fresh pool
var PoolExhaustedError error = errors.New("pool exhausted")

// PoolDestroyedError is returned when a pool is used after it was force-destroyed at context teardown
var PoolDestroyedError error = errors.New("pool has been destroyed")
