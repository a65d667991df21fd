package poolutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// NextPow2 returns the smallest power of two greater than or equal to value. Values below 1
// return 1.
func NextPow2(value int) int {
	if value <= 1 {
		return 1
	}

	return 1 << bits.Len(uint(value-1))
}

// BucketCapacity rounds a requested capacity up to its power-of-two bucket, never returning
// less than minimumBucket. minimumBucket must itself be a power of two.
func BucketCapacity(requested int, minimumBucket int) int {
	DebugCheckPow2(minimumBucket, "minimumBucket")

	if requested < minimumBucket {
		return minimumBucket
	}

	return NextPow2(requested)
}
