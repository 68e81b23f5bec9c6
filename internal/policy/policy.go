// Package policy maps the blended volatility score into the hedging policy:
// a drift band in basis points and a minimum hedge interval in ticks. The
// mapping is rate-limited three ways so the policy moves smoothly instead of
// jumping: a cooldown between updates, a hysteresis gate on the score, and a
// slew limiter on the outputs.
package policy

import (
	"errors"

	"stake-hedge-watcher/internal/fixedpoint"
	"stake-hedge-watcher/internal/vol"
)

// ErrCooldown reports an update attempted before the cooldown elapsed.
var ErrCooldown = errors.New("policy: update cooldown not met")

// Carry bias constants: when the expected carry is at least carryGateBps
// away from zero, band and interval are nudged by biasBps (relative, in
// bps of the target).
const (
	carryGateBps = 50
	biasBps      = 200 // 2%
)

// Config bounds the policy outputs and tunes the stability knobs.
type Config struct {
	MinBandBps  uint16
	MaxBandBps  uint16
	MinInterval int64 // ticks
	MaxInterval int64 // ticks

	CooldownTicks int64
	MaxSlewBps    uint16
	HysteresisBps uint16

	WeightRealizedBps uint16
	WeightImpliedBps  uint16

	MinSamples uint8
}

// Validate checks the construction invariants.
func (c Config) Validate() error {
	switch {
	case c.MinBandBps > c.MaxBandBps,
		c.MaxBandBps > fixedpoint.MaxVolBps,
		c.MinInterval < 0 || c.MinInterval > c.MaxInterval,
		c.CooldownTicks <= 0,
		c.MaxSlewBps == 0 || c.MaxSlewBps > fixedpoint.BpsDenom,
		c.HysteresisBps > fixedpoint.BpsDenom,
		c.WeightRealizedBps > fixedpoint.BpsDenom,
		c.WeightImpliedBps > fixedpoint.BpsDenom,
		uint32(c.WeightRealizedBps)+uint32(c.WeightImpliedBps) != fixedpoint.BpsDenom:
		return errors.New("policy: invalid config")
	}
	return nil
}

// Engine owns the slew-limited policy outputs for one position. Targets
// are derived fresh each pass: while the hysteresis gate holds, the target
// is the current output and nothing moves.
type Engine struct {
	cfg Config

	BandBps      uint16
	Interval     int64
	LastUpdateAt int64
}

// New builds an engine with outputs bootstrapped at the lower bounds, the
// way a freshly initialized position starts.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		BandBps:  cfg.MinBandBps,
		Interval: cfg.MinInterval,
	}, nil
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Outcome describes one policy update pass for observers.
type Outcome struct {
	Frozen          bool
	RealizedUpdated bool
	HysteresisPass  bool

	ScoreBps     uint16
	CarryBps     int32
	BandBias     int16
	IntervalBias int16

	TargetBandBps  uint16
	TargetInterval int64

	BandBps  uint16
	Interval int64
}

// Update runs one policy pass at the given tick. While the oracle is
// degraded the outputs freeze: nothing is recomputed and the outcome is
// marked frozen. Otherwise realized vol is refreshed when enough samples
// exist, and the blended score is taken through the hysteresis gate. A
// passing score is interpolated over the configured bounds, nudged by the
// carry bias, and the stored outputs move toward the result under the slew
// limit; a held score changes nothing.
func (e *Engine) Update(tick int64, vs *vol.State, ring []int32, nonZero uint16, carryBps int32, degraded bool) (Outcome, error) {
	if e.LastUpdateAt != 0 && tick-e.LastUpdateAt < e.cfg.CooldownTicks {
		return Outcome{}, ErrCooldown
	}
	e.LastUpdateAt = tick

	if degraded {
		return Outcome{
			Frozen:   true,
			BandBps:  e.BandBps,
			Interval: e.Interval,
			ScoreBps: vs.ScoreBps,
		}, nil
	}

	out := Outcome{CarryBps: carryBps}

	if nonZero >= uint16(e.cfg.MinSamples) {
		vs.RealizedBps = vs.Realized(ring)
		out.RealizedUpdated = true
	}

	score := vol.WeightedScore(vs.RealizedBps, vs.ImpliedBps, e.cfg.WeightRealizedBps, e.cfg.WeightImpliedBps)
	vs.ScoreBps = score
	out.ScoreBps = score

	last := vs.LastScoreUsed
	var delta uint16
	if score >= last {
		delta = score - last
	} else {
		delta = last - score
	}
	out.HysteresisPass = delta >= e.cfg.HysteresisBps || last == 0

	// A held score targets the current outputs, so the slew below is a
	// no-op and the pass moves nothing.
	targetBand := e.BandBps
	targetTicks := e.Interval
	if out.HysteresisPass {
		mappedBand := MapBps(score, e.cfg.MinBandBps, e.cfg.MaxBandBps)
		mappedTicks := MapTicks(score, e.cfg.MinInterval, e.cfg.MaxInterval)

		out.BandBias, out.IntervalBias = CarryBias(carryBps)
		targetBand = ApplyBiasBps(mappedBand, out.BandBias)
		targetTicks = ApplyBiasTicks(mappedTicks, out.IntervalBias)

		vs.LastScoreUsed = score
	}
	out.TargetBandBps = targetBand
	out.TargetInterval = targetTicks

	e.BandBps = SlewBps(e.BandBps, targetBand, e.cfg.MaxSlewBps)
	e.Interval = SlewTicks(e.Interval, targetTicks, e.cfg.MaxSlewBps)

	out.BandBps = e.BandBps
	out.Interval = e.Interval
	return out, nil
}

// Rebound re-derives the outputs after the bounds were reconfigured: the
// current score is remapped and the outputs move toward the new targets
// under the usual slew limit.
func (e *Engine) Rebound(cfg Config, score uint16) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	targetBand := MapBps(score, cfg.MinBandBps, cfg.MaxBandBps)
	targetTicks := MapTicks(score, cfg.MinInterval, cfg.MaxInterval)
	e.BandBps = SlewBps(e.BandBps, targetBand, cfg.MaxSlewBps)
	e.Interval = SlewTicks(e.Interval, targetTicks, cfg.MaxSlewBps)
	return nil
}

// MapBps linearly interpolates score over [min, max]: min + score*(max-min)/10,000.
func MapBps(score uint16, min, max uint16) uint16 {
	if min >= max {
		return min
	}
	span := uint32(max - min)
	add := uint32(score) * span / fixedpoint.BpsDenom
	return uint16(uint32(min) + add)
}

// MapTicks is MapBps over tick-valued bounds.
func MapTicks(score uint16, min, max int64) int64 {
	if min >= max {
		return min
	}
	span := max - min
	add := span * int64(score) / fixedpoint.BpsDenom
	return min + add
}

// CarryBias returns the relative band/interval adjustment for the expected
// carry: +2% when carry is comfortably positive, -2% when comfortably
// negative, else none.
func CarryBias(expectedCarryBps int32) (band, interval int16) {
	if expectedCarryBps >= carryGateBps {
		return biasBps, biasBps
	}
	if expectedCarryBps <= -carryGateBps {
		return -biasBps, -biasBps
	}
	return 0, 0
}

// ApplyBiasBps adjusts v by bias (bps of v), clamped to the uint16 range.
func ApplyBiasBps(v uint16, bias int16) uint16 {
	if bias == 0 {
		return v
	}
	adj := int64(v) * int64(bias) / fixedpoint.BpsDenom
	out := int64(v) + adj
	if out < 0 {
		return 0
	}
	if out > 0xFFFF {
		return 0xFFFF
	}
	return uint16(out)
}

// ApplyBiasTicks adjusts v by bias (bps of v), floored at zero.
func ApplyBiasTicks(v int64, bias int16) int64 {
	if bias == 0 {
		return v
	}
	adj := v * int64(bias) / fixedpoint.BpsDenom
	out := v + adj
	if out < 0 {
		return 0
	}
	return out
}

// SlewBps moves current toward target by at most current*maxSlew/10,000 per
// call, with a minimum step of one unit; a zero current jumps straight to
// the target (bootstrap).
func SlewBps(current, target uint16, maxSlewBps uint16) uint16 {
	if current == target {
		return current
	}
	if current == 0 {
		return target
	}
	maxDelta := uint32(current) * uint32(maxSlewBps) / fixedpoint.BpsDenom
	if maxDelta == 0 {
		maxDelta = 1
	}
	if target > current {
		delta := uint32(target - current)
		if delta <= maxDelta {
			return target
		}
		return current + uint16(maxDelta)
	}
	delta := uint32(current - target)
	if delta <= maxDelta {
		return target
	}
	return current - uint16(maxDelta)
}

// SlewTicks is SlewBps over tick-valued outputs.
func SlewTicks(current, target int64, maxSlewBps uint16) int64 {
	if current == target {
		return current
	}
	if current == 0 {
		return target
	}
	maxDelta := current * int64(maxSlewBps) / fixedpoint.BpsDenom
	if maxDelta == 0 {
		maxDelta = 1
	}
	if target > current {
		v := current + maxDelta
		if v > target {
			return target
		}
		return v
	}
	v := current - maxDelta
	if v < target {
		return target
	}
	return v
}
