// Package vault is the aggregate for one managed leveraged-staking
// position: collateral and reserve balances, the oracle gate, the return
// ring and volatility model, the policy engine and the hedge book, plus the
// roles and guardrails around them. All mutating operations serialize on one
// mutex; every call is a bounded computation with no I/O, so callers can
// treat each operation as atomic.
package vault

import (
	"fmt"
	"sync"

	"stake-hedge-watcher/internal/fixedpoint"
	"stake-hedge-watcher/internal/hedge"
	"stake-hedge-watcher/internal/oracle"
	"stake-hedge-watcher/internal/policy"
	"stake-hedge-watcher/internal/returns"
	"stake-hedge-watcher/internal/vol"
)

// Vault owns the full state of one position. Construct with New; the zero
// value is not usable.
type Vault struct {
	mu sync.Mutex

	authority        string
	pendingAuthority string
	keeperAdmin      string

	params        Params
	configVersion uint32
	configHash    [32]byte

	epoch int64

	stakedUnits  uint64
	reserveUnits uint64
	accruedYield int64

	oracleState oracle.State
	series      *returns.Series
	volState    vol.State
	engine      *policy.Engine
	book        hedge.Book

	fundingBpsPerDay int32
	borrowBpsPerDay  int32
	stakingBpsPerDay int32

	paused            bool
	emergencyWithdraw bool

	keepers keeperSet
}

// New builds a vault owned by authority, who also starts as keeper admin.
func New(authority string, p Params) (*Vault, error) {
	if authority == "" {
		return nil, fmt.Errorf("%w: empty authority", ErrInvalidParams)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	eng, err := policy.New(p.Policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	v := &Vault{
		authority:     authority,
		keeperAdmin:   authority,
		params:        p,
		configVersion: 1,
		series:        returns.NewSeries(p.ReturnSpacingTicks),
		volState:      vol.State{Mode: p.VolMode, AlphaBps: p.EWMAAlphaBps},
		engine:        eng,
	}
	v.configHash = p.Hash(v.authority, v.keeperAdmin)
	return v, nil
}

func (v *Vault) requireNotPaused() error {
	if v.paused {
		return ErrPaused
	}
	return nil
}

// requireFeeder admits registered keepers, the keeper admin and the
// authority.
func (v *Vault) requireFeeder(caller string) error {
	if caller == v.authority || caller == v.keeperAdmin || v.keepers.contains(caller) {
		return nil
	}
	return ErrUnauthorized
}

func (v *Vault) requireAuthority(caller string) error {
	if caller != v.authority {
		return ErrUnauthorized
	}
	return nil
}

func (v *Vault) requireKeeperAdmin(caller string) error {
	if caller != v.keeperAdmin && caller != v.authority {
		return ErrUnauthorized
	}
	return nil
}

func (v *Vault) keeperGate(caller string) error {
	if err := v.requireFeeder(caller); err != nil {
		return err
	}
	return v.keepers.checkLimits(caller, v.params.KeeperBondRequired, v.params.MaxUpdatesPerEpoch)
}

func (v *Vault) bumpConfig() {
	if v.configVersion != 0xFFFFFFFF {
		v.configVersion++
	}
	v.configHash = v.params.Hash(v.authority, v.keeperAdmin)
}

// reserveRatioOK checks reserve >= staked*minReserveBps/10,000 for a
// prospective balance pair.
func (v *Vault) reserveRatioOK(staked, reserve uint64) error {
	req, err := fixedpoint.MulDivU(staked, uint64(v.params.MinReserveBps), fixedpoint.BpsDenom)
	if err != nil {
		return err
	}
	if reserve < req {
		return ErrReserveTooLow
	}
	return nil
}

// DepositStake credits staked collateral, bounded by the stake cap and the
// reserve ratio. Balances only move when every guardrail passes.
func (v *Vault) DepositStake(amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("%w: zero deposit", ErrInvalidParams)
	}
	next, err := fixedpoint.AddU(v.stakedUnits, amount)
	if err != nil {
		return err
	}
	if next > v.params.MaxStakedUnits {
		return ErrCapExceeded
	}
	if err := v.reserveRatioOK(next, v.reserveUnits); err != nil {
		return err
	}
	v.stakedUnits = next
	return nil
}

// DepositReserve credits the slashing buffer.
func (v *Vault) DepositReserve(amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("%w: zero deposit", ErrInvalidParams)
	}
	next, err := fixedpoint.AddU(v.reserveUnits, amount)
	if err != nil {
		return err
	}
	v.reserveUnits = next
	return nil
}

// SetImpliedVol records the keeper-fed implied volatility leg.
func (v *Vault) SetImpliedVol(caller string, bps uint16, tick int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if err := v.keeperGate(caller); err != nil {
		return err
	}
	if bps > fixedpoint.MaxVolBps {
		return ErrVolOutOfRange
	}
	v.volState.ImpliedBps = bps
	v.keepers.touch(caller, tick)
	return nil
}

// SetCarryInputs records the keeper-fed carry legs, in bps per day.
func (v *Vault) SetCarryInputs(caller string, funding, borrow, staking int32, tick int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if err := v.keeperGate(caller); err != nil {
		return err
	}
	v.fundingBpsPerDay = funding
	v.borrowBpsPerDay = borrow
	v.stakingBpsPerDay = staking
	v.keepers.touch(caller, tick)
	return nil
}

// AccrueYield credits simulated staking yield into the NAV.
func (v *Vault) AccrueYield(caller string, amount int64, tick int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if err := v.keeperGate(caller); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive accrual", ErrInvalidParams)
	}
	next, err := fixedpoint.Add(v.accruedYield, amount)
	if err != nil {
		return err
	}
	v.accruedYield = next
	v.keepers.touch(caller, tick)
	return nil
}

// expectedCarryBps is staking + funding - borrow, saturating.
func (v *Vault) expectedCarryBps() int32 {
	c := int64(v.stakingBpsPerDay) + int64(v.fundingBpsPerDay) - int64(v.borrowBpsPerDay)
	if c > 0x7FFFFFFF {
		return 0x7FFFFFFF
	}
	if c < -0x80000000 {
		return -0x80000000
	}
	return int32(c)
}

// ApplyQuote runs one oracle attempt through the gate and folds the result
// into position state: observation fields always update, the degraded latch
// follows acceptance, and accepted quotes feed the return ring. The result
// is returned for observers even when the quote was rejected.
func (v *Vault) ApplyQuote(caller string, primary, secondary *oracle.Quote, nowSec int64, tick int64) (oracle.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireNotPaused(); err != nil {
		return oracle.Result{}, err
	}
	if err := v.keeperGate(caller); err != nil {
		return oracle.Result{}, err
	}

	res := oracle.Select(primary, secondary, nowSec, v.oracleState.LastPrice, v.params.Oracle)
	v.oracleState.Apply(res)

	if res.Accepted {
		if sample, ok := v.series.Record(tick, res.Price); ok {
			v.volState.ObserveReturn(sample.Return)
		}
	}
	v.keepers.touch(caller, tick)
	return res, nil
}

// PolicyOutcome is one UpdatePolicy pass plus the valuation snapshot taken
// with it.
type PolicyOutcome struct {
	Epoch   int64
	Outcome policy.Outcome
	NavUSD  int64
}

// UpdatePolicy advances the epoch and runs the policy engine. The per-epoch
// keeper budgets reset here, making the policy cadence the rate-limit
// window.
func (v *Vault) UpdatePolicy(caller string, tick int64) (PolicyOutcome, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireNotPaused(); err != nil {
		return PolicyOutcome{}, err
	}
	if err := v.keeperGate(caller); err != nil {
		return PolicyOutcome{}, err
	}

	// Valuing a funded position needs a price, so the first policy pass
	// must come after the first accepted quote. Checked up front to keep
	// the pass all-or-nothing.
	nav, err := v.navUSD()
	if err != nil {
		return PolicyOutcome{}, err
	}

	out, err := v.engine.Update(tick, &v.volState, v.series.Ring(), v.series.NonZero(), v.expectedCarryBps(), v.oracleState.Degraded)
	if err != nil {
		return PolicyOutcome{}, err
	}

	v.epoch++
	v.keepers.resetEpoch()
	v.keepers.touch(caller, tick)
	return PolicyOutcome{Epoch: v.epoch, Outcome: out, NavUSD: nav}, nil
}

// RequestHedge evaluates the permissionless hedge trigger and, when both
// gates pass, opens an intent sized delta-neutral against the staked value.
// Stale outstanding requests expire here, before the gates, so a missed
// confirm can never wedge the pipeline.
func (v *Vault) RequestHedge(tick int64) (hedge.Intent, int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireNotPaused(); err != nil {
		return hedge.Intent{}, 0, err
	}

	ema := v.oracleState.EMAPrice
	if ema <= 0 {
		return hedge.Intent{}, 0, ErrOracleNotReady
	}

	// An expired confirm is a miss for every registered keeper: any of
	// them could have filled it.
	if v.book.ExpireStale(tick, v.params.Hedge.ConfirmTimeoutTicks) {
		v.keepers.recordMiss()
	}

	driftBps := v.book.DriftBps(ema)
	elapsed := tick - v.book.LastHedgeAt
	intervalOK := v.book.LastHedgeAt == 0 || elapsed >= v.engine.Interval
	driftOK := driftBps >= v.engine.BandBps

	if !intervalOK {
		return hedge.Intent{}, 0, ErrHedgeTooSoon
	}
	if v.oracleState.Degraded {
		if driftBps < v.params.Hedge.ExtremeDriftBps {
			return hedge.Intent{}, 0, ErrOracleDegraded
		}
	} else if !driftOK {
		return hedge.Intent{}, 0, ErrDriftNotMet
	}

	sizing := v.oracleState.SizingPrice()
	target, err := hedge.TargetNotional(int64(v.stakedUnits), sizing, v.params.Hedge.TargetDeltaBps, v.params.Hedge.BetaFP)
	if err != nil {
		return hedge.Intent{}, 0, err
	}
	gap, err := fixedpoint.Sub(target, v.book.Notional)
	if err != nil {
		return hedge.Intent{}, 0, err
	}

	reason := hedge.Reason(intervalOK, driftOK)
	intent := v.book.Request(tick, target, ema, sizing, reason, driftBps)
	return intent, gap, nil
}

// FillRecord is the outcome of one confirmed hedge fill.
type FillRecord struct {
	RequestID      uint64
	Notional       int64
	FillPriceFP    int64
	RefPriceFP     int64
	SlippageBps    uint16
	AvgSlippageBps uint16
	FillCount      uint32
}

// ConfirmHedge applies a keeper fill to the outstanding request, enforcing
// the notional cap and the leverage-per-unit guardrail before any state
// moves.
func (v *Vault) ConfirmHedge(caller string, tick int64, requestID uint64, newNotional, fillPriceFP int64) (FillRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireNotPaused(); err != nil {
		return FillRecord{}, err
	}
	if err := v.keeperGate(caller); err != nil {
		return FillRecord{}, err
	}
	if fillPriceFP <= 0 || fillPriceFP > oracle.MaxPrice {
		return FillRecord{}, fmt.Errorf("%w: fill price", ErrInvalidParams)
	}
	ref := v.oracleState.SizingPrice()
	if ref <= 0 {
		return FillRecord{}, ErrOracleNotReady
	}

	f := hedge.Fill{RequestID: requestID, Notional: newNotional, ExecPriceFP: fillPriceFP, RefPriceFP: ref}
	if err := v.book.Confirm(tick, f, v.params.Hedge, int64(v.stakedUnits)); err != nil {
		return FillRecord{}, err
	}

	v.keepers.touch(caller, tick)
	return FillRecord{
		RequestID:      requestID,
		Notional:       v.book.Notional,
		FillPriceFP:    fillPriceFP,
		RefPriceFP:     ref,
		SlippageBps:    fixedpoint.RelDiffBps(fillPriceFP, ref),
		AvgSlippageBps: v.book.AvgSlippageBps,
		FillCount:      v.book.FillCount,
	}, nil
}

// DepositKeeperBond credits the caller's posted bond.
func (v *Vault) DepositKeeperBond(caller string, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if err := v.requireFeeder(caller); err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("%w: zero bond", ErrInvalidParams)
	}
	return v.keepers.addBond(caller, amount)
}

// navUSD values the position: staked + reserve at the gated price, plus
// accrued yield. Unrealized hedge PnL is carried at zero in this model.
func (v *Vault) navUSD() (int64, error) {
	var total int64
	if v.stakedUnits > 0 || v.reserveUnits > 0 {
		p := v.oracleState.Price
		if p <= 0 {
			return 0, ErrOracleNotReady
		}
		st, err := fixedpoint.MulDiv(int64(v.stakedUnits), p, fixedpoint.Scale)
		if err != nil {
			return 0, err
		}
		rs, err := fixedpoint.MulDiv(int64(v.reserveUnits), p, fixedpoint.Scale)
		if err != nil {
			return 0, err
		}
		total, err = fixedpoint.Add(st, rs)
		if err != nil {
			return 0, err
		}
	}
	return fixedpoint.Add(total, v.accruedYield)
}
