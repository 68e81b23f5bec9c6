package vault

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"stake-hedge-watcher/internal/fixedpoint"
	"stake-hedge-watcher/internal/hedge"
	"stake-hedge-watcher/internal/oracle"
	"stake-hedge-watcher/internal/policy"
	"stake-hedge-watcher/internal/vol"
)

// Params is the full configuration of a managed position. Every field is
// folded into the config hash, so any admin change is externally auditable
// through the (version, hash) pair.
type Params struct {
	Policy policy.Config
	Oracle oracle.GateConfig
	Hedge  hedge.Config

	VolMode            vol.Mode
	EWMAAlphaBps       uint16
	ReturnSpacingTicks int64

	MaxStakedUnits uint64
	MinReserveBps  uint16

	MaxUpdatesPerEpoch uint16
	KeeperBondRequired uint64
}

// Validate checks every construction invariant; a violated one rejects the
// whole Params, never a partial apply.
func (p Params) Validate() error {
	if err := p.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if err := p.Hedge.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	switch {
	case !p.Oracle.Policy.Valid(),
		p.Oracle.MaxAgeSec <= 0,
		p.Oracle.MaxConfBps > fixedpoint.BpsDenom,
		p.Oracle.MaxJumpBps > fixedpoint.BpsDenom:
		return fmt.Errorf("%w: oracle gate", ErrInvalidParams)
	}
	if !p.VolMode.Valid() {
		return fmt.Errorf("%w: vol mode", ErrInvalidParams)
	}
	if p.VolMode == vol.ModeEWMA && (p.EWMAAlphaBps == 0 || p.EWMAAlphaBps > fixedpoint.BpsDenom) {
		return fmt.Errorf("%w: ewma alpha", ErrInvalidParams)
	}
	switch {
	case p.ReturnSpacingTicks <= 0,
		p.MaxStakedUnits == 0,
		p.MinReserveBps > fixedpoint.BpsDenom,
		p.MaxUpdatesPerEpoch == 0,
		p.Hedge.ExtremeDriftBps > fixedpoint.BpsDenom:
		return fmt.Errorf("%w: limits", ErrInvalidParams)
	}
	return nil
}

// hashDomain versions the hash layout itself: bump it if fields are added
// or reordered.
const hashDomain = "shw-config-v1"

// Hash digests the parameters plus the role assignments. Little-endian
// field order is fixed; equal configs always hash equal.
func (p Params) Hash(authority, keeperAdmin string) [32]byte {
	h := sha256.New()
	h.Write([]byte(hashDomain))
	h.Write([]byte(authority))
	h.Write([]byte{0})
	h.Write([]byte(keeperAdmin))
	h.Write([]byte{0})

	le := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		h.Write(b[:])
	}
	le(uint64(p.Policy.MinBandBps))
	le(uint64(p.Policy.MaxBandBps))
	le(uint64(p.Policy.MinInterval))
	le(uint64(p.Policy.MaxInterval))
	le(uint64(p.Policy.CooldownTicks))
	le(uint64(p.Policy.MaxSlewBps))
	le(uint64(p.Policy.HysteresisBps))
	le(uint64(p.Policy.WeightRealizedBps))
	le(uint64(p.Policy.WeightImpliedBps))
	le(uint64(p.Policy.MinSamples))

	le(uint64(p.Oracle.Policy))
	le(uint64(p.Oracle.MaxAgeSec))
	le(uint64(p.Oracle.MaxConfBps))
	le(uint64(p.Oracle.MaxJumpBps))

	le(uint64(p.Hedge.TargetDeltaBps))
	le(uint64(p.Hedge.BetaFP))
	le(uint64(p.Hedge.MaxAbsNotional))
	le(uint64(p.Hedge.MaxPerUnitFP))
	le(uint64(p.Hedge.ConfirmTimeoutTicks))
	le(uint64(p.Hedge.ExtremeDriftBps))

	le(uint64(p.VolMode))
	le(uint64(p.EWMAAlphaBps))
	le(uint64(p.ReturnSpacingTicks))

	le(p.MaxStakedUnits)
	le(uint64(p.MinReserveBps))
	le(uint64(p.MaxUpdatesPerEpoch))
	le(p.KeeperBondRequired)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
