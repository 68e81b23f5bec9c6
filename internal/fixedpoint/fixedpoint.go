// Package fixedpoint implements the deterministic integer arithmetic the
// policy engine is built on: prices and returns carry six implied decimals
// (1 unit = 1e-6), ratios are expressed in basis points (10,000 = 100%).
// Every operation either succeeds exactly or reports ErrOverflow; nothing
// here touches floating point.
package fixedpoint

import (
	"errors"
	"math"
	"math/bits"
)

const (
	// Scale is the fixed-point scale: 1.0 == 1,000,000.
	Scale = 1_000_000
	// BpsDenom is the basis-point denominator: 100% == 10,000 bps.
	BpsDenom = 10_000
	// MaxVolBps caps every volatility/score/drift output.
	MaxVolBps = 10_000
)

// ErrOverflow reports arithmetic that would leave the representable range.
var ErrOverflow = errors.New("fixedpoint: overflow")

// Abs returns |x|. math.MinInt64 has no positive counterpart and saturates.
func Abs(x int64) int64 {
	if x == math.MinInt64 {
		return math.MaxInt64
	}
	if x < 0 {
		return -x
	}
	return x
}

// Add returns a+b with overflow detection.
func Add(a, b int64) (int64, error) {
	sum := a + b
	if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum >= 0) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b with overflow detection.
func Sub(a, b int64) (int64, error) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, ErrOverflow
	}
	return diff, nil
}

// AddU returns a+b for unsigned operands with overflow detection.
func AddU(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// MulDiv computes a*b/den with a full 128-bit intermediate product and
// truncation toward zero. den must be positive.
func MulDiv(a, b, den int64) (int64, error) {
	if den <= 0 {
		return 0, ErrOverflow
	}
	neg := false
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		neg = !neg
		ua = uint64(-a)
	}
	if b < 0 {
		neg = !neg
		ub = uint64(-b)
	}
	q, err := MulDivU(ua, ub, uint64(den))
	if err != nil {
		return 0, err
	}
	if neg {
		if q > uint64(math.MaxInt64)+1 {
			return 0, ErrOverflow
		}
		return -int64(q), nil
	}
	if q > uint64(math.MaxInt64) {
		return 0, ErrOverflow
	}
	return int64(q), nil
}

// MulDivU is the unsigned counterpart of MulDiv.
func MulDivU(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}

// BpsOf returns v*bps/10,000, truncated.
func BpsOf(v int64, bps int64) (int64, error) {
	return MulDiv(v, bps, BpsDenom)
}

// RelDiffBps returns |current-reference|/reference scaled to basis points,
// capped at MaxVolBps. A non-positive current yields 0; a missing (non-
// positive) reference yields the maximal value, which callers treat as
// "always past the threshold".
func RelDiffBps(current, reference int64) uint16 {
	if current <= 0 {
		return 0
	}
	if reference <= 0 {
		return MaxVolBps
	}
	diff := current - reference
	if diff < 0 {
		diff = -diff
	}
	// diff <= max price (1e13), so diff*BpsDenom fits in int64.
	bps := diff * BpsDenom / reference
	if bps > MaxVolBps {
		return MaxVolBps
	}
	return uint16(bps)
}

// SatAddU32 adds with saturation; used for advisory counters only.
func SatAddU32(a uint32, b uint32) uint32 {
	sum := a + b
	if sum < a {
		return math.MaxUint32
	}
	return sum
}

// Sqrt returns the integer square root of n (largest r with r*r <= n).
func Sqrt(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	x0 := n
	x1 := (x0 + 1) >> 1
	for x1 < x0 {
		x0 = x1
		x1 = (x1 + n/x1) >> 1
	}
	return x0
}

// Median returns the median of xs using an in-place insertion sort on a
// copy. For even lengths it averages the two central elements (truncating),
// matching the return-ring median convention. Panics on empty input.
func Median(xs []int32) int32 {
	buf := make([]int32, len(xs))
	copy(buf, xs)
	for i := 1; i < len(buf); i++ {
		key := buf[i]
		j := i
		for j > 0 && buf[j-1] > key {
			buf[j] = buf[j-1]
			j--
		}
		buf[j] = key
	}
	n := len(buf)
	if n%2 == 1 {
		return buf[n/2]
	}
	a := int64(buf[n/2-1])
	b := int64(buf[n/2])
	return int32((a + b) / 2)
}
