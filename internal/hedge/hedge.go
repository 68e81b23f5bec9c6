// Package hedge sizes and tracks the short hedge that offsets the staked
// position. Sizing is delta-neutral against the staked value; execution is a
// two-phase request/confirm handshake so an off-chain keeper can fill the
// intent and report back, with stale requests expiring lazily.
package hedge

import (
	"errors"

	"stake-hedge-watcher/internal/fixedpoint"
)

var (
	// ErrNoOutstanding reports a confirm with no open request.
	ErrNoOutstanding = errors.New("hedge: no outstanding request")
	// ErrWrongRequestID reports a confirm carrying a stale or unknown id.
	ErrWrongRequestID = errors.New("hedge: request id mismatch")
	// ErrCapExceeded reports a fill past the absolute notional cap.
	ErrCapExceeded = errors.New("hedge: notional cap exceeded")
	// ErrLeverageExceeded reports a fill past the per-unit guardrail.
	ErrLeverageExceeded = errors.New("hedge: leverage guardrail exceeded")
)

// slippageAlphaBps tunes the running slippage average: 20% weight on the
// newest fill.
const slippageAlphaBps = 2_000

// Reason codes carried on intents so fills can be attributed to what
// triggered them.
const (
	ReasonInterval uint8 = 1
	ReasonDrift    uint8 = 2
	ReasonBoth     uint8 = 3
)

// Config bounds hedge sizing and the confirm handshake.
type Config struct {
	TargetDeltaBps      uint16 // share of staked value to offset
	BetaFP              int64  // hedge instrument beta, 1e6 scale
	MaxAbsNotional      int64  // hard cap on |hedge notional|
	MaxPerUnitFP        int64  // cap on |notional| per staked unit, 1e6 scale
	ConfirmTimeoutTicks int64
	ExtremeDriftBps     uint16 // drift that overrides a degraded freeze
}

// Validate checks the construction invariants.
func (c Config) Validate() error {
	switch {
	case c.TargetDeltaBps > fixedpoint.BpsDenom,
		c.BetaFP <= 0,
		c.MaxAbsNotional < 0,
		c.MaxPerUnitFP < 0,
		c.ConfirmTimeoutTicks <= 0:
		return errors.New("hedge: invalid config")
	}
	return nil
}

// Intent is one sizing decision handed to the keeper.
type Intent struct {
	RequestID      uint64
	Tick           int64
	Reason         uint8
	DriftBps       uint16
	PriceFP        int64
	TargetNotional int64
}

// Fill is the keeper's report of an executed intent.
type Fill struct {
	RequestID   uint64
	Notional    int64
	ExecPriceFP int64
	RefPriceFP  int64
}

// Book carries the live hedge state for one position.
type Book struct {
	Notional    int64 // signed; short hedges are negative
	AnchorEMA   int64 // EMA price anchored at the last request
	LastHedgeAt int64

	RequestID   uint64
	RequestTick int64
	Requested   int64 // target notional of the open request
	Outstanding bool

	LastFillAt     int64
	FillCount      uint32
	AvgSlippageBps uint16
	MissedConfirms uint32
}

// TargetNotional sizes the delta-neutral hedge: the negative of
// stakedValue * delta * beta, truncating at each fixed-point step. A flat
// position or an unusable price sizes to zero, never to a stale carry-over.
func TargetNotional(stakedUnits, priceFP int64, deltaBps uint16, betaFP int64) (int64, error) {
	if stakedUnits <= 0 || priceFP <= 0 {
		return 0, nil
	}
	value, err := fixedpoint.MulDiv(stakedUnits, priceFP, fixedpoint.Scale)
	if err != nil {
		return 0, err
	}
	exposure, err := fixedpoint.BpsOf(value, int64(deltaBps))
	if err != nil {
		return 0, err
	}
	notional, err := fixedpoint.MulDiv(exposure, betaFP, fixedpoint.Scale)
	if err != nil {
		return 0, err
	}
	return -notional, nil
}

// DriftBps measures how far price has moved from the anchor of the last
// hedge. No anchor yet reads as maximal drift so the first hedge always
// qualifies.
func (b *Book) DriftBps(priceFP int64) uint16 {
	if b.AnchorEMA <= 0 {
		return fixedpoint.MaxVolBps
	}
	return fixedpoint.RelDiffBps(priceFP, b.AnchorEMA)
}

// Reason classifies which triggers fired. Zero means neither.
func Reason(intervalDue, driftDue bool) uint8 {
	var r uint8
	if intervalDue {
		r |= ReasonInterval
	}
	if driftDue {
		r |= ReasonDrift
	}
	return r
}

// ExpireStale clears an open request strictly older than the confirm
// window and counts the miss. Returns true when a request was expired.
func (b *Book) ExpireStale(tick int64, timeoutTicks int64) bool {
	if !b.Outstanding || tick-b.RequestTick <= timeoutTicks {
		return false
	}
	b.Outstanding = false
	b.Requested = 0
	b.MissedConfirms = fixedpoint.SatAddU32(b.MissedConfirms, 1)
	return true
}

// Request opens an intent for the given target notional and advances the
// hedge anchor to the current EMA. Ids are monotonic; a fresh request
// supersedes any still-open one, whose confirm then fails the id check.
// (The interval gate upstream is what keeps requests from churning.)
func (b *Book) Request(tick int64, target int64, emaPriceFP, sizingPriceFP int64, reason uint8, driftBps uint16) Intent {
	b.LastHedgeAt = tick
	b.AnchorEMA = emaPriceFP

	b.RequestID++
	b.RequestTick = tick
	b.Requested = target
	b.Outstanding = true
	return Intent{
		RequestID:      b.RequestID,
		Tick:           tick,
		Reason:         reason,
		DriftBps:       driftBps,
		PriceFP:        sizingPriceFP,
		TargetNotional: target,
	}
}

// Confirm applies a keeper fill to the open request: the notional becomes
// the filled amount and the running slippage average absorbs the fill's
// deviation from the reference price.
func (b *Book) Confirm(tick int64, f Fill, cfg Config, stakedUnits int64) error {
	if !b.Outstanding {
		return ErrNoOutstanding
	}
	if f.RequestID != b.RequestID {
		return ErrWrongRequestID
	}
	if err := CheckCaps(f.Notional, stakedUnits, cfg); err != nil {
		return err
	}

	b.Notional = f.Notional
	b.LastFillAt = tick
	b.Outstanding = false
	b.Requested = 0
	b.FillCount = fixedpoint.SatAddU32(b.FillCount, 1)

	slip := fixedpoint.RelDiffBps(f.ExecPriceFP, f.RefPriceFP)
	prev := uint32(b.AvgSlippageBps)
	next := (prev*(fixedpoint.BpsDenom-slippageAlphaBps) + uint32(slip)*slippageAlphaBps) / fixedpoint.BpsDenom
	b.AvgSlippageBps = uint16(next)
	return nil
}

// CheckCaps rejects a notional past the absolute cap or the per-staked-unit
// leverage guardrail. With nothing staked the only admissible hedge is zero.
func CheckCaps(notional, stakedUnits int64, cfg Config) error {
	abs := fixedpoint.Abs(notional)
	if cfg.MaxAbsNotional > 0 && abs > cfg.MaxAbsNotional {
		return ErrCapExceeded
	}
	if stakedUnits <= 0 {
		if notional != 0 {
			return ErrLeverageExceeded
		}
		return nil
	}
	if cfg.MaxPerUnitFP > 0 {
		limit, err := fixedpoint.MulDiv(stakedUnits, cfg.MaxPerUnitFP, fixedpoint.Scale)
		if err != nil {
			return err
		}
		if abs > limit {
			return ErrLeverageExceeded
		}
	}
	return nil
}
