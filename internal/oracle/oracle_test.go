package oracle

import "testing"

var gateCfg = GateConfig{
	Policy:     PolicyPreferPrimary,
	MaxAgeSec:  60,
	MaxConfBps: 100,  // 1% of price
	MaxJumpBps: 2000, // 20%
}

func goodQuote(feed FeedID) Quote {
	return Quote{
		Feed:        feed,
		Price:       100_000_000, // 100.000000
		EMAPrice:    99_000_000,
		Confidence:  500_000, // 0.5
		PublishTime: 1_000,
	}
}

func TestValidateAccepts(t *testing.T) {
	res := Validate(goodQuote(FeedPrimary), 1_010, 0, gateCfg)
	if !res.Accepted || res.Reason != ReasonAccepted {
		t.Fatalf("expected accept, got %+v", res)
	}
	if res.Price != 100_000_000 || res.EMAPrice != 99_000_000 {
		t.Fatalf("result must carry quote fields: %+v", res)
	}
}

func TestValidateChainOrder(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Quote)
		now    int64
		last   int64
		want   Reason
	}{
		{"zero price", func(q *Quote) { q.Price = 0 }, 1_010, 0, ReasonOutOfRange},
		{"price above ceiling", func(q *Quote) { q.Price = MaxPrice + 1 }, 1_010, 0, ReasonOutOfRange},
		{"zero ema", func(q *Quote) { q.EMAPrice = 0 }, 1_010, 0, ReasonOutOfRange},
		{"no publish time", func(q *Quote) { q.PublishTime = 0 }, 1_010, 0, ReasonNoTimestamp},
		{"future publish time", func(q *Quote) { q.PublishTime = 2_000 }, 1_010, 0, ReasonFromFuture},
		{"stale", func(q *Quote) {}, 1_061, 0, ReasonStale},
		{"wide confidence", func(q *Quote) { q.Confidence = 2_000_000 }, 1_010, 0, ReasonConfidence},
		{"jump vs last", func(q *Quote) {}, 1_010, 50_000_000, ReasonJump},
		// Failing checks mask later ones: a stale quote with a wild
		// confidence still reports stale.
		{"stale masks confidence", func(q *Quote) { q.Confidence = 2_000_000 }, 1_061, 50_000_000, ReasonStale},
	}
	for _, c := range cases {
		q := goodQuote(FeedPrimary)
		c.mutate(&q)
		res := Validate(q, c.now, c.last, gateCfg)
		if res.Accepted {
			t.Fatalf("%s: expected rejection", c.name)
		}
		if res.Reason != c.want {
			t.Fatalf("%s: reason = %v, want %v", c.name, res.Reason, c.want)
		}
	}
}

func TestValidateJumpWithinBound(t *testing.T) {
	q := goodQuote(FeedPrimary)
	// 100 vs last 90: ~1111 bps, inside the 2000 bps bound.
	res := Validate(q, 1_010, 90_000_000, gateCfg)
	if !res.Accepted {
		t.Fatalf("expected accept, got reason %v", res.Reason)
	}
}

func TestSelectPreferPrimaryFallsBack(t *testing.T) {
	bad := goodQuote(FeedPrimary)
	bad.PublishTime = 0
	good := goodQuote(FeedSecondary)

	res := Select(&bad, &good, 1_010, 0, gateCfg)
	if !res.Accepted || res.Feed != FeedSecondary {
		t.Fatalf("expected secondary accept, got %+v", res)
	}
}

func TestSelectBothFailReportsPrimaryReason(t *testing.T) {
	badA := goodQuote(FeedPrimary)
	badA.PublishTime = 0
	badB := goodQuote(FeedSecondary)
	badB.Confidence = 50_000_000

	res := Select(&badA, &badB, 1_010, 0, gateCfg)
	if res.Accepted {
		t.Fatal("expected rejection")
	}
	if res.Reason != ReasonNoTimestamp {
		t.Fatalf("reason = %v, want primary's %v", res.Reason, ReasonNoTimestamp)
	}
	if res.Feed != FeedPrimary {
		t.Fatalf("feed = %v, want primary", res.Feed)
	}
}

func TestSelectUnavailableFeeds(t *testing.T) {
	res := Select(nil, nil, 1_010, 0, gateCfg)
	if res.Accepted || res.Reason != ReasonUnavailable {
		t.Fatalf("expected unavailable, got %+v", res)
	}

	cfg := gateCfg
	cfg.Policy = PolicySecondaryOnly
	res = Select(&Quote{}, nil, 1_010, 0, cfg)
	if res.Accepted || res.Reason != ReasonUnavailable || res.Feed != FeedSecondary {
		t.Fatalf("expected secondary unavailable, got %+v", res)
	}
}

func TestStateDegradedLatch(t *testing.T) {
	var st State

	st.Apply(Validate(goodQuote(FeedPrimary), 1_010, st.LastPrice, gateCfg))
	if st.Degraded || !st.OK || st.LastPrice != 100_000_000 {
		t.Fatalf("accepted apply: %+v", st)
	}

	stale := goodQuote(FeedPrimary)
	st.Apply(Validate(stale, 2_000, st.LastPrice, gateCfg))
	if !st.Degraded || st.OK {
		t.Fatalf("rejection must latch degraded: %+v", st)
	}
	if st.LastPrice != 100_000_000 {
		t.Fatal("rejection must not move the jump anchor")
	}

	fresh := goodQuote(FeedPrimary)
	fresh.PublishTime = 1_990
	st.Apply(Validate(fresh, 2_000, st.LastPrice, gateCfg))
	if st.Degraded {
		t.Fatal("one accepted quote must clear the latch")
	}
}

func TestSizingPriceFallsBackToEMA(t *testing.T) {
	st := State{Price: 100_000_000, EMAPrice: 99_000_000, OK: true}
	if got := st.SizingPrice(); got != 100_000_000 {
		t.Fatalf("got %d", got)
	}
	st.OK = false
	if got := st.SizingPrice(); got != 99_000_000 {
		t.Fatalf("got %d", got)
	}
}
