package config

import (
	"testing"
	"time"
)

func baseConfig() Config {
	return Config{
		Scheduler: SchedulerConfig{Interval: time.Minute},
		Position:  PositionConfig{Authority: "auth", Keeper: "keeper"},
		Policy: PolicyConfig{
			MinBandBps:        100,
			MaxBandBps:        1000,
			MinInterval:       time.Minute,
			MaxInterval:       time.Hour,
			Cooldown:          5 * time.Minute,
			MaxSlewBps:        1000,
			HysteresisBps:     50,
			WeightRealizedBps: 6000,
			WeightImpliedBps:  4000,
		},
		Vol: VolConfig{
			Mode:          "stdev",
			EWMAAlphaBps:  2000,
			MinSamples:    4,
			ReturnSpacing: time.Minute,
		},
		Oracle: OracleConfig{
			FeedPolicy: "prefer_primary",
			MaxAge:     time.Minute,
			MaxConfBps: 100,
			MaxJumpBps: 2000,
		},
		Hedge: HedgeConfig{
			TargetDeltaBps:  5000,
			Beta:            1.0,
			ConfirmTimeout:  5 * time.Minute,
			ExtremeDriftBps: 1500,
		},
		Risk: RiskConfig{
			MaxStakedUnits:     1_000_000_000_000,
			MaxAbsNotionalUSD:  1_000_000,
			MaxPerUnitUSD:      2,
			MaxUpdatesPerEpoch: 100,
		},
		Feeds:  FeedsConfig{Pyth: PythConfig{PrimaryID: "abc"}},
		Export: ExportConfig{MaxDataPoints: 1000},
	}
}

func TestValidate(t *testing.T) {
	cfg := baseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := baseConfig()
	bad.Vol.Mode = "median"
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown vol mode accepted")
	}

	bad = baseConfig()
	bad.Feeds.Pyth.PrimaryID = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("missing primary feed id accepted")
	}

	bad = baseConfig()
	bad.Feeds.Chainlink.Enabled = true
	if err := bad.Validate(); err == nil {
		t.Fatal("chainlink enabled without rpc url accepted")
	}
}

func TestVaultParamsMapping(t *testing.T) {
	cfg := baseConfig()
	params, err := cfg.VaultParams()
	if err != nil {
		t.Fatalf("map params: %v", err)
	}

	if params.Policy.MinInterval != 60 {
		t.Fatalf("min interval = %d ticks, want 60", params.Policy.MinInterval)
	}
	if params.Policy.CooldownTicks != 300 {
		t.Fatalf("cooldown = %d ticks, want 300", params.Policy.CooldownTicks)
	}
	if params.Hedge.BetaFP != 1_000_000 {
		t.Fatalf("beta = %d, want 1000000", params.Hedge.BetaFP)
	}
	if params.Hedge.MaxAbsNotional != 1_000_000_000_000 {
		t.Fatalf("max notional = %d, want 1e12", params.Hedge.MaxAbsNotional)
	}
	if params.Oracle.MaxAgeSec != 60 {
		t.Fatalf("max age = %d, want 60", params.Oracle.MaxAgeSec)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := baseConfig()
	if got := cfg.ResolveMaxPoints(0); got != 1000 {
		t.Fatalf("default = %d, want 1000", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("override = %d, want 50", got)
	}
}
