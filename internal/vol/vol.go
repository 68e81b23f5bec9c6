// Package vol converts the return series into a realized-volatility score in
// basis points, via one of three interchangeable estimators, and blends it
// with an externally fed implied-vol figure. The estimator mode is fixed at
// configuration time; exactly one is active.
package vol

import (
	"stake-hedge-watcher/internal/fixedpoint"
)

// Mode selects the realized-vol estimator.
type Mode uint8

const (
	// ModeStdev computes population standard deviation over the full ring.
	ModeStdev Mode = 0
	// ModeEWMA maintains an exponentially weighted running variance,
	// updated per recorded return; the ring is not rescanned.
	ModeEWMA Mode = 1
	// ModeMAD computes the median absolute deviation, scaled by the
	// normal-consistency constant, as a robust stdev proxy.
	ModeMAD Mode = 2
)

// Valid reports whether m names a known estimator.
func (m Mode) Valid() bool {
	return m == ModeStdev || m == ModeEWMA || m == ModeMAD
}

func (m Mode) String() string {
	switch m {
	case ModeStdev:
		return "stdev"
	case ModeEWMA:
		return "ewma"
	case ModeMAD:
		return "mad"
	}
	return "unknown"
}

// MaxVarFP2 clamps the running variance (squared fixed-point units).
const MaxVarFP2 uint64 = 10_000_000_000_000_000

// madConsistencyNum/Den express the 1.4826 normal-consistency factor as a
// fixed ratio.
const (
	madConsistencyNum = 14_826
	madConsistencyDen = 10_000
)

// State holds the volatility model for one position.
type State struct {
	Mode     Mode
	AlphaBps uint16

	ewmaVarFP2 uint64

	RealizedBps uint16
	ImpliedBps  uint16
	ScoreBps    uint16

	// LastScoreUsed is the score the hysteresis comparison last armed on.
	// Zero doubles as "never computed", which re-arms the first pass.
	LastScoreUsed uint16
}

// ObserveReturn feeds one recorded return into the running EWMA variance.
// Only meaningful in EWMA mode; other modes ignore it.
func (s *State) ObserveReturn(ret int32) {
	if s.Mode != ModeEWMA {
		return
	}
	r := int64(ret)
	if r < 0 {
		r = -r
	}
	r2 := uint64(r) * uint64(r) // |ret| <= 250,000, so r2 <= 6.25e10
	if r2 > MaxVarFP2 {
		r2 = MaxVarFP2
	}
	s.ewmaVarFP2 = ewmaVar(s.ewmaVarFP2, r2, s.AlphaBps)
}

// EWMAVar exposes the running variance for snapshots.
func (s *State) EWMAVar() uint64 {
	return s.ewmaVarFP2
}

// ResetEWMA clears the running variance (used when the model is
// reconfigured).
func (s *State) ResetEWMA() {
	s.ewmaVarFP2 = 0
}

// Realized computes the active estimator over the ring (or the running
// variance in EWMA mode), clamped to [0, 10,000] bps.
func (s *State) Realized(ring []int32) uint16 {
	switch s.Mode {
	case ModeEWMA:
		v := s.ewmaVarFP2
		if v > MaxVarFP2 {
			v = MaxVarFP2
		}
		return fpToBps(fixedpoint.Sqrt(v))
	case ModeMAD:
		return MADBps(ring)
	default:
		return StdevBps(ring)
	}
}

// StdevBps is the population standard deviation of the ring in bps.
func StdevBps(ring []int32) uint16 {
	n := int64(len(ring))
	if n == 0 {
		return 0
	}
	var sum int64
	for _, r := range ring {
		sum += int64(r)
	}
	mean := sum / n

	var varAcc uint64
	for _, r := range ring {
		dev := int64(r) - mean
		if dev < 0 {
			dev = -dev
		}
		varAcc += uint64(dev) * uint64(dev)
	}
	v := varAcc / uint64(n)
	if v > MaxVarFP2 {
		v = MaxVarFP2
	}
	return fpToBps(fixedpoint.Sqrt(v))
}

// MADBps is the median absolute deviation of the ring, scaled to
// approximate a standard deviation, in bps.
func MADBps(ring []int32) uint16 {
	if len(ring) == 0 {
		return 0
	}
	med := fixedpoint.Median(ring)

	devs := make([]int32, len(ring))
	for i, r := range ring {
		d := int64(r) - int64(med)
		if d < 0 {
			d = -d
		}
		devs[i] = int32(d)
	}
	mad := uint64(fixedpoint.Median(devs))
	scaled := mad * madConsistencyNum / madConsistencyDen
	return fpToBps(scaled)
}

// WeightedScore blends realized and implied vol. Weights are in bps and sum
// to 10,000 (validated at construction); the result is clamped to
// [0, 10,000].
func WeightedScore(realized, implied, wRealized, wImplied uint16) uint16 {
	sum := uint64(wRealized)*uint64(realized) + uint64(wImplied)*uint64(implied)
	score := sum / fixedpoint.BpsDenom
	if score > fixedpoint.MaxVolBps {
		return fixedpoint.MaxVolBps
	}
	return uint16(score)
}

// ewmaVar computes prev*(1-alpha) + x*alpha with bps alpha, truncating like
// the rest of the fixed-point pipeline. prev is bounded by MaxVarFP2, so the
// intermediate products need the 128-bit path.
func ewmaVar(prev, x uint64, alphaBps uint16) uint64 {
	a := uint64(alphaBps)
	oneMinus := uint64(fixedpoint.BpsDenom) - a

	left, err := fixedpoint.MulDivU(prev, oneMinus, fixedpoint.BpsDenom)
	if err != nil {
		left = MaxVarFP2
	}
	right, err := fixedpoint.MulDivU(x, a, fixedpoint.BpsDenom)
	if err != nil {
		right = MaxVarFP2
	}
	v := left + right
	if v > MaxVarFP2 {
		v = MaxVarFP2
	}
	return v
}

// fpToBps converts a fixed-point standard deviation to basis points.
func fpToBps(stdFP uint64) uint16 {
	bps := stdFP * fixedpoint.BpsDenom / fixedpoint.Scale
	if bps > fixedpoint.MaxVolBps {
		return fixedpoint.MaxVolBps
	}
	return uint16(bps)
}
