package policy

import (
	"errors"
	"testing"

	"stake-hedge-watcher/internal/vol"
)

func testCfg() Config {
	return Config{
		MinBandBps:        100,
		MaxBandBps:        1_000,
		MinInterval:       60,
		MaxInterval:       3_600,
		CooldownTicks:     10,
		MaxSlewBps:        1_000,
		HysteresisBps:     50,
		WeightRealizedBps: 6_000,
		WeightImpliedBps:  4_000,
		MinSamples:        4,
	}
}

func TestConfigValidate(t *testing.T) {
	if err := testCfg().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := testCfg()
	bad.MinBandBps = 2_000 // above max
	if err := bad.Validate(); err == nil {
		t.Fatal("min > max accepted")
	}
	bad = testCfg()
	bad.WeightRealizedBps = 5_000 // weights no longer sum to 10,000
	if err := bad.Validate(); err == nil {
		t.Fatal("weights not summing to denom accepted")
	}
	bad = testCfg()
	bad.MaxSlewBps = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("zero slew accepted")
	}
}

func TestMapBps(t *testing.T) {
	cases := []struct {
		score, min, max, want uint16
	}{
		{0, 100, 1_000, 100},
		{10_000, 100, 1_000, 1_000},
		{5_000, 100, 1_000, 550},
		{2_500, 100, 1_000, 325},
		{5_000, 300, 300, 300},
	}
	for _, c := range cases {
		if got := MapBps(c.score, c.min, c.max); got != c.want {
			t.Errorf("MapBps(%d, %d, %d) = %d, want %d", c.score, c.min, c.max, got, c.want)
		}
	}
}

func TestMapTicks(t *testing.T) {
	if got := MapTicks(5_000, 60, 3_600); got != 1_830 {
		t.Fatalf("MapTicks midpoint = %d, want 1830", got)
	}
	if got := MapTicks(0, 60, 3_600); got != 60 {
		t.Fatalf("MapTicks floor = %d, want 60", got)
	}
}

func TestSlewBpsBound(t *testing.T) {
	// From 100 with a 10% slew the step is capped at 10: one pass toward
	// 550 lands on 110.
	if got := SlewBps(100, 550, 1_000); got != 110 {
		t.Fatalf("slew step = %d, want 110", got)
	}
	// Downward moves obey the same bound.
	if got := SlewBps(550, 100, 1_000); got != 495 {
		t.Fatalf("downward slew = %d, want 495", got)
	}
	// Within reach: land exactly on target.
	if got := SlewBps(100, 105, 1_000); got != 105 {
		t.Fatalf("in-reach slew = %d, want 105", got)
	}
	// Tiny current still moves by at least one.
	if got := SlewBps(5, 100, 1_000); got != 6 {
		t.Fatalf("minimum step = %d, want 6", got)
	}
	// Zero current jumps straight to target.
	if got := SlewBps(0, 550, 1_000); got != 550 {
		t.Fatalf("bootstrap jump = %d, want 550", got)
	}
}

func TestSlewTicks(t *testing.T) {
	if got := SlewTicks(60, 3_600, 1_000); got != 66 {
		t.Fatalf("slew = %d, want 66", got)
	}
	if got := SlewTicks(0, 1_830, 1_000); got != 1_830 {
		t.Fatalf("bootstrap jump = %d, want 1830", got)
	}
	if got := SlewTicks(3_600, 60, 1_000); got != 3_240 {
		t.Fatalf("downward slew = %d, want 3240", got)
	}
}

func TestCarryBias(t *testing.T) {
	cases := []struct {
		carry      int32
		band, intv int16
	}{
		{0, 0, 0},
		{49, 0, 0},
		{50, 200, 200},
		{120, 200, 200},
		{-49, 0, 0},
		{-50, -200, -200},
	}
	for _, c := range cases {
		b, i := CarryBias(c.carry)
		if b != c.band || i != c.intv {
			t.Errorf("CarryBias(%d) = (%d, %d), want (%d, %d)", c.carry, b, i, c.band, c.intv)
		}
	}
}

func TestApplyBias(t *testing.T) {
	if got := ApplyBiasBps(550, 200); got != 561 {
		t.Fatalf("+2%% of 550 = %d, want 561", got)
	}
	if got := ApplyBiasBps(550, -200); got != 539 {
		t.Fatalf("-2%% of 550 = %d, want 539", got)
	}
	if got := ApplyBiasTicks(1_830, 200); got != 1_866 {
		t.Fatalf("+2%% of 1830 ticks = %d, want 1866", got)
	}
}

func TestUpdateCooldown(t *testing.T) {
	e, err := New(testCfg())
	if err != nil {
		t.Fatal(err)
	}
	vs := &vol.State{Mode: vol.ModeStdev}
	if _, err := e.Update(100, vs, nil, 0, 0, false); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if _, err := e.Update(105, vs, nil, 0, 0, false); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected cooldown error, got %v", err)
	}
	if _, err := e.Update(110, vs, nil, 0, 0, false); err != nil {
		t.Fatalf("post-cooldown update: %v", err)
	}
}

func TestUpdateFrozenWhileDegraded(t *testing.T) {
	e, err := New(testCfg())
	if err != nil {
		t.Fatal(err)
	}
	vs := &vol.State{Mode: vol.ModeStdev, ImpliedBps: 8_000}
	band, intv := e.BandBps, e.Interval
	out, err := e.Update(100, vs, nil, 0, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Frozen {
		t.Fatal("degraded pass not marked frozen")
	}
	if e.BandBps != band || e.Interval != intv {
		t.Fatalf("outputs moved while frozen: band %d interval %d", e.BandBps, e.Interval)
	}
	if vs.LastScoreUsed != 0 {
		t.Fatal("score consumed while frozen")
	}
}

func TestUpdateFirstPassBypassesHysteresis(t *testing.T) {
	cfg := testCfg()
	cfg.HysteresisBps = 9_000 // would gate everything
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	// Score 5000 entirely from implied vol: realized weight contributes 0
	// samples, so only the implied leg is live.
	vs := &vol.State{Mode: vol.ModeStdev, ImpliedBps: 5_000}
	vs.RealizedBps = 5_000
	out, err := e.Update(100, vs, nil, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if !out.HysteresisPass {
		t.Fatal("first pass should bypass hysteresis")
	}
	if out.ScoreBps != 5_000 {
		t.Fatalf("score = %d, want 5000", out.ScoreBps)
	}
	if out.TargetBandBps != 550 {
		t.Fatalf("target band = %d, want 550", out.TargetBandBps)
	}
	// Current band is 100: the slew limit caps the first move at 110.
	if out.BandBps != 110 {
		t.Fatalf("band after slew = %d, want 110", out.BandBps)
	}
	if vs.LastScoreUsed != 5_000 {
		t.Fatalf("LastScoreUsed = %d, want 5000", vs.LastScoreUsed)
	}
}

func TestUpdateHysteresisHoldsOutputs(t *testing.T) {
	e, err := New(testCfg())
	if err != nil {
		t.Fatal(err)
	}
	vs := &vol.State{Mode: vol.ModeStdev, ImpliedBps: 5_000}
	vs.RealizedBps = 5_000
	first, err := e.Update(100, vs, nil, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if first.BandBps != 110 || first.Interval != 66 {
		t.Fatalf("first pass band %d interval %d, want 110/66", first.BandBps, first.Interval)
	}

	// An identical score fails the gate: the pass targets the current
	// outputs and nothing moves.
	out, err := e.Update(200, vs, nil, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.HysteresisPass {
		t.Fatal("unchanged score passed hysteresis")
	}
	if out.BandBps != 110 || out.Interval != 66 {
		t.Fatalf("outputs moved on a held score: band %d interval %d", out.BandBps, out.Interval)
	}
	if out.TargetBandBps != 110 || out.TargetInterval != 66 {
		t.Fatalf("held pass should target current outputs, got band %d interval %d", out.TargetBandBps, out.TargetInterval)
	}

	// A sub-threshold change (40 < 50 bps) holds too.
	vs.ImpliedBps = 5_040
	vs.RealizedBps = 5_040
	out, err = e.Update(300, vs, nil, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.HysteresisPass {
		t.Fatal("sub-threshold score change passed hysteresis")
	}
	if vs.LastScoreUsed != 5_000 {
		t.Fatalf("LastScoreUsed = %d, want unchanged 5000", vs.LastScoreUsed)
	}
	if out.BandBps != 110 || out.Interval != 66 {
		t.Fatalf("outputs moved on a held score: band %d interval %d", out.BandBps, out.Interval)
	}
}

func TestUpdateConvergesToTarget(t *testing.T) {
	cfg := testCfg()
	cfg.HysteresisBps = 0 // every pass re-targets
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	vs := &vol.State{Mode: vol.ModeStdev, ImpliedBps: 5_000}
	vs.RealizedBps = 5_000
	tick := int64(100)
	for i := 0; i < 40; i++ {
		if _, err := e.Update(tick, vs, nil, 0, 0, false); err != nil {
			t.Fatal(err)
		}
		tick += 10
	}
	if e.BandBps != 550 {
		t.Fatalf("band did not converge: %d, want 550", e.BandBps)
	}
	if e.Interval != 1_830 {
		t.Fatalf("interval did not converge: %d, want 1830", e.Interval)
	}
}

func TestUpdateRealizedRecompute(t *testing.T) {
	e, err := New(testCfg())
	if err != nil {
		t.Fatal(err)
	}
	ring := make([]int32, 32)
	for i := range ring {
		if i%2 == 0 {
			ring[i] = 10_000 // 1%
		} else {
			ring[i] = -10_000
		}
	}
	vs := &vol.State{Mode: vol.ModeStdev, ImpliedBps: 2_000}

	// Too few non-zero samples: realized stays untouched.
	out, err := e.Update(100, vs, ring, 2, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.RealizedUpdated || vs.RealizedBps != 0 {
		t.Fatal("realized recomputed below the sample floor")
	}

	out, err = e.Update(200, vs, ring, 32, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if !out.RealizedUpdated {
		t.Fatal("realized not recomputed with a full ring")
	}
	if vs.RealizedBps != 100 {
		t.Fatalf("realized = %d, want 100", vs.RealizedBps)
	}
	// 60% of 100 + 40% of 2000 = 860.
	if out.ScoreBps != 860 {
		t.Fatalf("score = %d, want 860", out.ScoreBps)
	}
}

func TestUpdateCarryBias(t *testing.T) {
	e, err := New(testCfg())
	if err != nil {
		t.Fatal(err)
	}
	vs := &vol.State{Mode: vol.ModeStdev, ImpliedBps: 5_000}
	vs.RealizedBps = 5_000
	out, err := e.Update(100, vs, nil, 0, 75, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.BandBias != 200 || out.IntervalBias != 200 {
		t.Fatalf("bias = (%d, %d), want (200, 200)", out.BandBias, out.IntervalBias)
	}
	// 550 biased up 2% -> 561; 1830 -> 1866.
	if out.TargetBandBps != 561 {
		t.Fatalf("biased target band = %d, want 561", out.TargetBandBps)
	}
	if out.TargetInterval != 1_866 {
		t.Fatalf("biased target interval = %d, want 1866", out.TargetInterval)
	}
}

func TestRebound(t *testing.T) {
	e, err := New(testCfg())
	if err != nil {
		t.Fatal(err)
	}
	e.BandBps = 550
	e.Interval = 1_830
	cfg := testCfg()
	cfg.MinBandBps = 200
	cfg.MaxBandBps = 2_000
	if err := e.Rebound(cfg, 5_000); err != nil {
		t.Fatal(err)
	}
	// New target is 1100; slew from 550 caps the move at 55.
	if e.BandBps != 605 {
		t.Fatalf("rebounded band = %d, want 605", e.BandBps)
	}
}
