package vault

import "stake-hedge-watcher/internal/vol"

// Snapshot is a consistent read view of the whole position, taken under the
// state lock. It feeds persistence, metrics and the CLI without exposing
// mutable internals.
type Snapshot struct {
	Authority        string
	PendingAuthority string
	KeeperAdmin      string
	ConfigVersion    uint32
	ConfigHash       [32]byte
	Epoch            int64

	StakedUnits  uint64
	ReserveUnits uint64
	AccruedYield int64

	OraclePriceFP   int64
	OracleEMAFP     int64
	OracleConfFP    int64
	OraclePublished int64
	OracleOK        bool
	OracleDegraded  bool

	RealizedVolBps uint16
	ImpliedVolBps  uint16
	VolScoreBps    uint16
	VolMode        vol.Mode
	EWMAVarFP2     uint64
	NonZeroSamples uint16

	BandBps       uint16
	HedgeInterval int64
	ExpectedCarry int32

	HedgeNotional  int64
	AnchorEMAFP    int64
	LastHedgeAt    int64
	RequestID      uint64
	Outstanding    bool
	FillCount      uint32
	AvgSlippageBps uint16
	MissedConfirms uint32

	Paused            bool
	EmergencyWithdraw bool

	Keepers []KeeperInfo
	Params  Params
}

// Snapshot captures the current state atomically.
func (v *Vault) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot{
		Authority:        v.authority,
		PendingAuthority: v.pendingAuthority,
		KeeperAdmin:      v.keeperAdmin,
		ConfigVersion:    v.configVersion,
		ConfigHash:       v.configHash,
		Epoch:            v.epoch,

		StakedUnits:  v.stakedUnits,
		ReserveUnits: v.reserveUnits,
		AccruedYield: v.accruedYield,

		OraclePriceFP:   v.oracleState.Price,
		OracleEMAFP:     v.oracleState.EMAPrice,
		OracleConfFP:    v.oracleState.Confidence,
		OraclePublished: v.oracleState.PublishTime,
		OracleOK:        v.oracleState.OK,
		OracleDegraded:  v.oracleState.Degraded,

		RealizedVolBps: v.volState.RealizedBps,
		ImpliedVolBps:  v.volState.ImpliedBps,
		VolScoreBps:    v.volState.ScoreBps,
		VolMode:        v.volState.Mode,
		EWMAVarFP2:     v.volState.EWMAVar(),
		NonZeroSamples: v.series.NonZero(),

		BandBps:       v.engine.BandBps,
		HedgeInterval: v.engine.Interval,
		ExpectedCarry: v.expectedCarryBps(),

		HedgeNotional:  v.book.Notional,
		AnchorEMAFP:    v.book.AnchorEMA,
		LastHedgeAt:    v.book.LastHedgeAt,
		RequestID:      v.book.RequestID,
		Outstanding:    v.book.Outstanding,
		FillCount:      v.book.FillCount,
		AvgSlippageBps: v.book.AvgSlippageBps,
		MissedConfirms: v.book.MissedConfirms,

		Paused:            v.paused,
		EmergencyWithdraw: v.emergencyWithdraw,

		Keepers: v.keepers.snapshot(),
		Params:  v.params,
	}
}

// LastOracleResultPrice reports the last observation's price fields without
// the full snapshot. Used on hot paths.
func (v *Vault) LastOracleResultPrice() (priceFP int64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.oracleState.Price, v.oracleState.OK
}
