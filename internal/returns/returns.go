// Package returns maintains the deterministic per-sample return series the
// volatility estimators read. Samples come only from accepted oracle prices
// and are rate-limited by a minimum spacing, so an actor cannot inflate the
// sample count or manufacture variance by submitting prices faster than the
// market actually ticks.
package returns

import "stake-hedge-watcher/internal/fixedpoint"

// Capacity is the fixed ring size.
const Capacity = 32

// MaxReturnAbs clamps a single sample to ±25% (fp 1e6).
const MaxReturnAbs int32 = 250_000

// Sample is one recorded return.
type Sample struct {
	Index   uint8
	Return  int32
	NonZero uint16
}

// Series is a fixed-capacity circular buffer of fixed-point returns. The
// ring pre-fills with zeros; a zero entry means "not yet meaningfully
// populated" and the non-zero counter is maintained on slot transitions,
// never by rescanning.
type Series struct {
	ring      [Capacity]int32
	idx       uint8
	nonZero   uint16
	lastTick  int64
	lastPrice int64
	spacing   int64
}

// NewSeries builds a series with the given minimum inter-sample spacing in
// ticks. Spacing must be positive; the vault validates it.
func NewSeries(spacingTicks int64) *Series {
	return &Series{spacing: spacingTicks}
}

// SetSpacing reconfigures the spacing gate.
func (s *Series) SetSpacing(spacingTicks int64) {
	s.spacing = spacingTicks
}

// NonZero returns the count of populated (non-zero) samples.
func (s *Series) NonZero() uint16 {
	return s.nonZero
}

// Ring returns a copy of the raw ring for the estimators.
func (s *Series) Ring() []int32 {
	out := make([]int32, Capacity)
	copy(out[:], s.ring[:])
	return out
}

// Record feeds one accepted price into the series. Calls inside the spacing
// window are no-ops. The first-ever call stores the price as baseline and
// emits nothing. Otherwise the fixed-point return versus the baseline is
// clamped, written at the cursor, and the non-zero counter adjusted by the
// slot's zero/non-zero transition. Returns the emitted sample and whether
// one was produced.
func (s *Series) Record(tick int64, price int64) (Sample, bool) {
	if s.lastTick != 0 && tick-s.lastTick < s.spacing {
		return Sample{}, false
	}

	if s.lastPrice <= 0 {
		s.lastPrice = price
		s.lastTick = tick
		return Sample{}, false
	}

	diff := price - s.lastPrice
	// price <= oracle.MaxPrice (1e13), so diff*Scale fits in int64 only
	// via the 128-bit path.
	retFP, err := fixedpoint.MulDiv(diff, fixedpoint.Scale, s.lastPrice)
	if err != nil {
		// Ratio is bounded by the clamp anyway; saturate.
		if diff < 0 {
			retFP = int64(-MaxReturnAbs)
		} else {
			retFP = int64(MaxReturnAbs)
		}
	}
	if retFP > int64(MaxReturnAbs) {
		retFP = int64(MaxReturnAbs)
	} else if retFP < int64(-MaxReturnAbs) {
		retFP = int64(-MaxReturnAbs)
	}
	ret := int32(retFP)

	slot := int(s.idx) % Capacity
	prev := s.ring[slot]
	s.ring[slot] = ret
	s.idx++

	if prev == 0 && ret != 0 {
		s.nonZero++
	} else if prev != 0 && ret == 0 {
		s.nonZero--
	}

	s.lastTick = tick
	s.lastPrice = price

	return Sample{Index: uint8(slot), Return: ret, NonZero: s.nonZero}, true
}
