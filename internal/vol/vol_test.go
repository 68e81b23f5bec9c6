package vol

import (
	"testing"

	"stake-hedge-watcher/internal/fixedpoint"
	"stake-hedge-watcher/internal/returns"
)

func TestStdevConstantRingIsZero(t *testing.T) {
	ring := make([]int32, returns.Capacity)
	for i := range ring {
		ring[i] = 10_000
	}
	if got := StdevBps(ring); got != 0 {
		t.Fatalf("constant ring stdev = %d", got)
	}
}

func TestStdevAlternating(t *testing.T) {
	// Alternating +-1% (10_000 fp): mean 0, deviation 10_000 fp
	// everywhere, so stdev = 10_000 fp = 100 bps.
	ring := make([]int32, returns.Capacity)
	for i := range ring {
		if i%2 == 0 {
			ring[i] = 10_000
		} else {
			ring[i] = -10_000
		}
	}
	if got := StdevBps(ring); got != 100 {
		t.Fatalf("stdev = %d bps, want 100", got)
	}
}

func TestStdevAtClampBoundary(t *testing.T) {
	// Alternating clamped samples: stdev = 250_000 fp = 25% = 2500 bps.
	ring := make([]int32, returns.Capacity)
	for i := range ring {
		if i%2 == 0 {
			ring[i] = returns.MaxReturnAbs
		} else {
			ring[i] = -returns.MaxReturnAbs
		}
	}
	if got := StdevBps(ring); got != 2_500 {
		t.Fatalf("stdev = %d, want 2500", got)
	}
	if got := StdevBps(ring); got > fixedpoint.MaxVolBps {
		t.Fatalf("stdev %d above clamp", got)
	}
}

func TestMADRobustToOutlier(t *testing.T) {
	ring := make([]int32, returns.Capacity)
	for i := range ring {
		if i%2 == 0 {
			ring[i] = 10_000
		} else {
			ring[i] = -10_000
		}
	}
	ring[0] = returns.MaxReturnAbs // one wild sample

	mad := MADBps(ring)
	stdev := StdevBps(ring)
	if mad >= stdev {
		t.Fatalf("MAD (%d) should shrug off the outlier vs stdev (%d)", mad, stdev)
	}
	// median 10_000? no: 15 of +10k, 16 of -10k, 1 outlier. Median of
	// sorted ring is -10_000..10_000 midpoint = 0; |dev| = 10_000 for all
	// regular samples, so MAD = 10_000*1.4826 fp = 148 bps.
	if mad != 148 {
		t.Fatalf("mad = %d bps, want 148", mad)
	}
}

func TestEWMAObserveAndRealized(t *testing.T) {
	st := State{Mode: ModeEWMA, AlphaBps: 2_000} // alpha 20%
	st.ObserveReturn(10_000)                     // var = 1e8 * 0.2 = 2e7
	if got := st.EWMAVar(); got != 20_000_000 {
		t.Fatalf("var = %d, want 20000000", got)
	}
	st.ObserveReturn(-10_000) // var = 2e7*0.8 + 1e8*0.2 = 3.6e7
	if got := st.EWMAVar(); got != 36_000_000 {
		t.Fatalf("var = %d, want 36000000", got)
	}
	// sqrt(3.6e7) = 6000 fp = 60 bps.
	if got := st.Realized(nil); got != 60 {
		t.Fatalf("realized = %d bps, want 60", got)
	}
}

func TestEWMAIgnoredInOtherModes(t *testing.T) {
	st := State{Mode: ModeStdev, AlphaBps: 2_000}
	st.ObserveReturn(10_000)
	if st.EWMAVar() != 0 {
		t.Fatal("stdev mode must not feed the EWMA variance")
	}
}

func TestWeightedScore(t *testing.T) {
	cases := []struct {
		realized, implied, wr, wi, want uint16
	}{
		{1_000, 3_000, 5_000, 5_000, 2_000},
		{1_000, 3_000, 10_000, 0, 1_000},
		{1_000, 3_000, 0, 10_000, 3_000},
		{10_000, 10_000, 5_000, 5_000, 10_000},
	}
	for _, c := range cases {
		if got := WeightedScore(c.realized, c.implied, c.wr, c.wi); got != c.want {
			t.Fatalf("WeightedScore(%d,%d,%d,%d) = %d, want %d",
				c.realized, c.implied, c.wr, c.wi, got, c.want)
		}
	}
}

func TestRealizedDispatch(t *testing.T) {
	ring := make([]int32, returns.Capacity)
	for i := range ring {
		if i%2 == 0 {
			ring[i] = 10_000
		} else {
			ring[i] = -10_000
		}
	}

	st := State{Mode: ModeStdev}
	if got := st.Realized(ring); got != 100 {
		t.Fatalf("stdev dispatch = %d", got)
	}
	st.Mode = ModeMAD
	if got := st.Realized(ring); got != 148 {
		t.Fatalf("mad dispatch = %d", got)
	}
}
