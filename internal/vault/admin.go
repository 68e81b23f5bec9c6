package vault

import (
	"fmt"

	"stake-hedge-watcher/internal/fixedpoint"
	"stake-hedge-watcher/internal/hedge"
	"stake-hedge-watcher/internal/oracle"
	"stake-hedge-watcher/internal/returns"
	"stake-hedge-watcher/internal/vol"
)

// Role identifies a permission class for external queries.
type Role uint8

const (
	RoleAuthority Role = iota
	RoleKeeperAdmin
	RoleKeeper
)

// IsPermitted reports whether the caller holds the given role. The
// authority implicitly holds the keeper roles too, mirroring the gates on
// the mutating operations.
func (v *Vault) IsPermitted(caller string, role Role) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch role {
	case RoleAuthority:
		return caller == v.authority
	case RoleKeeperAdmin:
		return caller == v.keeperAdmin || caller == v.authority
	case RoleKeeper:
		return v.keepers.contains(caller) || caller == v.keeperAdmin || caller == v.authority
	default:
		return false
	}
}

// SetPaused toggles the global pause. Pausing blocks every state-changing
// operation except administration.
func (v *Vault) SetPaused(caller string, paused bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAuthority(caller); err != nil {
		return err
	}
	v.paused = paused
	v.bumpConfig()
	return nil
}

// SetEmergencyWithdraw toggles the emergency flag observed by external
// tooling.
func (v *Vault) SetEmergencyWithdraw(caller string, enabled bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAuthority(caller); err != nil {
		return err
	}
	v.emergencyWithdraw = enabled
	v.bumpConfig()
	return nil
}

// SetPendingAuthority starts the two-step authority transfer.
func (v *Vault) SetPendingAuthority(caller, pending string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAuthority(caller); err != nil {
		return err
	}
	if pending == "" {
		return fmt.Errorf("%w: empty pending authority", ErrInvalidParams)
	}
	v.pendingAuthority = pending
	v.bumpConfig()
	return nil
}

// AcceptAuthority completes the transfer: only the named pending authority
// may call it, and the keeper-admin role follows the new authority.
func (v *Vault) AcceptAuthority(caller string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pendingAuthority == "" {
		return fmt.Errorf("%w: no pending authority", ErrInvalidParams)
	}
	if caller != v.pendingAuthority {
		return ErrUnauthorized
	}
	v.authority = v.pendingAuthority
	v.pendingAuthority = ""
	v.keeperAdmin = v.authority
	v.bumpConfig()
	return nil
}

// SetKeeperAdmin delegates keeper management.
func (v *Vault) SetKeeperAdmin(caller, admin string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAuthority(caller); err != nil {
		return err
	}
	if admin == "" {
		return fmt.Errorf("%w: empty keeper admin", ErrInvalidParams)
	}
	v.keeperAdmin = admin
	v.bumpConfig()
	return nil
}

// AddKeeper registers a keeper. Idempotent for an already-registered id.
func (v *Vault) AddKeeper(caller, keeper string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireKeeperAdmin(caller); err != nil {
		return err
	}
	if keeper == "" {
		return fmt.Errorf("%w: empty keeper", ErrInvalidParams)
	}
	if err := v.keepers.add(keeper); err != nil {
		return fmt.Errorf("%w: keeper table full", ErrInvalidParams)
	}
	v.bumpConfig()
	return nil
}

// RemoveKeeper unregisters a keeper. Removing an unknown id is a no-op.
func (v *Vault) RemoveKeeper(caller, keeper string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireKeeperAdmin(caller); err != nil {
		return err
	}
	if keeper == "" {
		return fmt.Errorf("%w: empty keeper", ErrInvalidParams)
	}
	v.keepers.remove(keeper)
	v.bumpConfig()
	return nil
}

// SetPolicyBounds retunes the policy output ranges; the live outputs remap
// against the new bounds under the usual slew limit.
func (v *Vault) SetPolicyBounds(caller string, minBand, maxBand uint16, minInterval, maxInterval int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAuthority(caller); err != nil {
		return err
	}
	cfg := v.params.Policy
	cfg.MinBandBps = minBand
	cfg.MaxBandBps = maxBand
	cfg.MinInterval = minInterval
	cfg.MaxInterval = maxInterval
	if err := v.engine.Rebound(cfg, v.volState.ScoreBps); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	v.params.Policy = cfg
	v.bumpConfig()
	return nil
}

// SetPolicyStability retunes cooldown, slew, hysteresis and the extreme
// drift override.
func (v *Vault) SetPolicyStability(caller string, cooldownTicks int64, maxSlewBps, hysteresisBps, extremeDriftBps uint16) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAuthority(caller); err != nil {
		return err
	}
	cfg := v.params.Policy
	cfg.CooldownTicks = cooldownTicks
	cfg.MaxSlewBps = maxSlewBps
	cfg.HysteresisBps = hysteresisBps
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if extremeDriftBps > fixedpoint.BpsDenom {
		return fmt.Errorf("%w: extreme drift", ErrInvalidParams)
	}
	if err := v.engine.Rebound(cfg, v.volState.ScoreBps); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	v.params.Policy = cfg
	v.params.Hedge.ExtremeDriftBps = extremeDriftBps
	v.bumpConfig()
	return nil
}

// SetVolModel switches the realized-vol estimator and the sampling gates.
func (v *Vault) SetVolModel(caller string, mode vol.Mode, alphaBps uint16, minSamples uint8, spacingTicks int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAuthority(caller); err != nil {
		return err
	}
	if !mode.Valid() {
		return fmt.Errorf("%w: vol mode", ErrInvalidParams)
	}
	if mode == vol.ModeEWMA && (alphaBps == 0 || alphaBps > fixedpoint.BpsDenom) {
		return fmt.Errorf("%w: ewma alpha", ErrInvalidParams)
	}
	if minSamples == 0 || int(minSamples) > returns.Capacity {
		return fmt.Errorf("%w: min samples", ErrInvalidParams)
	}
	if spacingTicks <= 0 {
		return fmt.Errorf("%w: spacing", ErrInvalidParams)
	}
	// A mode switch invalidates the running variance; it refills from the
	// returns recorded after the switch.
	if mode != v.volState.Mode {
		v.volState.ResetEWMA()
	}
	v.volState.Mode = mode
	v.volState.AlphaBps = alphaBps
	v.params.VolMode = mode
	v.params.EWMAAlphaBps = alphaBps
	v.params.Policy.MinSamples = minSamples
	v.params.ReturnSpacingTicks = spacingTicks
	v.series.SetSpacing(spacingTicks)
	v.bumpConfig()
	return nil
}

// SetOracleGate retunes feed selection and the validation thresholds.
func (v *Vault) SetOracleGate(caller string, cfg oracle.GateConfig) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAuthority(caller); err != nil {
		return err
	}
	switch {
	case !cfg.Policy.Valid(),
		cfg.MaxAgeSec <= 0,
		cfg.MaxConfBps > fixedpoint.BpsDenom,
		cfg.MaxJumpBps > fixedpoint.BpsDenom:
		return fmt.Errorf("%w: oracle gate", ErrInvalidParams)
	}
	v.params.Oracle = cfg
	v.bumpConfig()
	return nil
}

// SetHedgeSizing retunes the delta target and instrument beta.
func (v *Vault) SetHedgeSizing(caller string, targetDeltaBps uint16, betaFP int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAuthority(caller); err != nil {
		return err
	}
	if targetDeltaBps > fixedpoint.BpsDenom || betaFP <= 0 {
		return fmt.Errorf("%w: hedge sizing", ErrInvalidParams)
	}
	v.params.Hedge.TargetDeltaBps = targetDeltaBps
	v.params.Hedge.BetaFP = betaFP
	v.bumpConfig()
	return nil
}

// SetRiskCaps retunes the exposure guardrails. Tightened caps must still
// admit the position as it stands, otherwise the change is rejected.
func (v *Vault) SetRiskCaps(caller string, maxStaked uint64, maxAbsNotional, maxPerUnitFP int64, minReserveBps uint16) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAuthority(caller); err != nil {
		return err
	}
	if maxStaked == 0 || maxAbsNotional <= 0 || maxPerUnitFP <= 0 || minReserveBps > fixedpoint.BpsDenom {
		return fmt.Errorf("%w: risk caps", ErrInvalidParams)
	}
	if v.stakedUnits > maxStaked {
		return ErrCapExceeded
	}
	trial := v.params.Hedge
	trial.MaxAbsNotional = maxAbsNotional
	trial.MaxPerUnitFP = maxPerUnitFP
	if err := hedge.CheckCaps(v.book.Notional, int64(v.stakedUnits), trial); err != nil {
		return err
	}
	minReserve := v.params.MinReserveBps
	v.params.MinReserveBps = minReserveBps
	if err := v.reserveRatioOK(v.stakedUnits, v.reserveUnits); err != nil {
		v.params.MinReserveBps = minReserve
		return err
	}
	v.params.MaxStakedUnits = maxStaked
	v.params.Hedge.MaxAbsNotional = maxAbsNotional
	v.params.Hedge.MaxPerUnitFP = maxPerUnitFP
	v.bumpConfig()
	return nil
}

// SetKeeperControls retunes the per-epoch budget and bond floor.
func (v *Vault) SetKeeperControls(caller string, maxUpdatesPerEpoch uint16, bondRequired uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAuthority(caller); err != nil {
		return err
	}
	if maxUpdatesPerEpoch == 0 {
		return fmt.Errorf("%w: updates per epoch", ErrInvalidParams)
	}
	v.params.MaxUpdatesPerEpoch = maxUpdatesPerEpoch
	v.params.KeeperBondRequired = bondRequired
	v.bumpConfig()
	return nil
}

// SetConfirmTimeout retunes the hedge confirm window.
func (v *Vault) SetConfirmTimeout(caller string, timeoutTicks int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireAuthority(caller); err != nil {
		return err
	}
	if timeoutTicks <= 0 {
		return fmt.Errorf("%w: confirm timeout", ErrInvalidParams)
	}
	v.params.Hedge.ConfirmTimeoutTicks = timeoutTicks
	v.bumpConfig()
	return nil
}
