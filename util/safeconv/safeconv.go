package safeconv

import (
	"math"
	"time"
)

// IntSliceToUint32Slice converts token ids produced by the Go tokenizer, clamping into [0, MaxUint32].
func IntSliceToUint32Slice(input []int) []uint32 {
	out := make([]uint32, len(input))
	for i, v := range input {
		out[i] = Int64ToUint32(int64(v))
	}
	return out
}

// Uint32SliceToIntSlice converts token ids for the Go tokenizer decoder.
func Uint32SliceToIntSlice(input []uint32) []int {
	out := make([]int, len(input))
	for i, v := range input {
		out[i] = int(v)
	}
	return out
}

// Uint32SliceToInt64Slice widens token ids into the int64 layout onnx models expect.
func Uint32SliceToInt64Slice(input []uint32) []int64 {
	out := make([]int64, len(input))
	for i, v := range input {
		out[i] = int64(v)
	}
	return out
}

// Int64SliceToUint32Slice narrows generated token ids back to tokenizer ids.
func Int64SliceToUint32Slice(input []int64) []uint32 {
	out := make([]uint32, len(input))
	for i, v := range input {
		out[i] = Int64ToUint32(v)
	}
	return out
}

// Int64ToUint32 converts int64 to uint32 with clamping into [0, MaxUint32].
func Int64ToUint32(v int64) uint32 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// DurationToU64 converts a duration to an unsigned nanoseconds counter. Negative durations map to 0.
func DurationToU64(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d) // #nosec G115
}

// U64ToDuration converts an unsigned nanoseconds count to time.Duration, clamping at MaxInt64.
func U64ToDuration(u uint64) time.Duration {
	if u > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(u))
}
