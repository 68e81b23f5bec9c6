// Package oracle validates raw price observations before anything downstream
// is allowed to see them. Validation is a pure function of the candidate
// quotes, the wall-clock, the last accepted price, and the gate config; the
// caller persists the outcome and drives the degraded latch from it.
package oracle

import (
	"fmt"

	"stake-hedge-watcher/internal/fixedpoint"
)

// MaxPrice is the hard price ceiling (10,000,000.000000 in fp units).
const MaxPrice int64 = 10_000_000_000_000

// FeedID identifies one of the two configured candidate feeds.
type FeedID uint8

const (
	// FeedPrimary is the preferred feed (e.g. SOL/USD).
	FeedPrimary FeedID = 1
	// FeedSecondary is the fallback feed (e.g. SOL/USDC).
	FeedSecondary FeedID = 2
)

// FeedPolicy selects which candidates the gate considers.
type FeedPolicy uint8

const (
	// PolicyPrimaryOnly always reads the primary feed.
	PolicyPrimaryOnly FeedPolicy = 1
	// PolicySecondaryOnly always reads the secondary feed.
	PolicySecondaryOnly FeedPolicy = 2
	// PolicyPreferPrimary tries the primary, falling back to the secondary.
	PolicyPreferPrimary FeedPolicy = 3
)

// Valid reports whether p names a known policy.
func (p FeedPolicy) Valid() bool {
	switch p {
	case PolicyPrimaryOnly, PolicySecondaryOnly, PolicyPreferPrimary:
		return true
	}
	return false
}

// Reason tags why a quote was rejected. Zero means accepted. The values are
// stable and ordered by the validation chain, so a reason deterministically
// identifies the first failing check.
type Reason uint8

const (
	ReasonAccepted    Reason = 0
	ReasonStale       Reason = 1
	ReasonConfidence  Reason = 2
	ReasonJump        Reason = 3
	ReasonOutOfRange  Reason = 10
	ReasonNoTimestamp Reason = 11
	ReasonFromFuture  Reason = 12
	ReasonUnavailable Reason = 13
)

func (r Reason) String() string {
	switch r {
	case ReasonAccepted:
		return "accepted"
	case ReasonStale:
		return "stale"
	case ReasonConfidence:
		return "confidence"
	case ReasonJump:
		return "jump"
	case ReasonOutOfRange:
		return "out_of_range"
	case ReasonNoTimestamp:
		return "no_timestamp"
	case ReasonFromFuture:
		return "from_future"
	case ReasonUnavailable:
		return "unavailable"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// Quote is one raw observation from a feed. Prices and confidence are
// fixed-point 1e6; PublishTime is unix seconds.
type Quote struct {
	Feed        FeedID
	Price       int64
	EMAPrice    int64
	Confidence  int64
	PublishTime int64
}

// GateConfig bounds what the gate will accept.
type GateConfig struct {
	Policy     FeedPolicy
	MaxAgeSec  int64
	MaxConfBps uint16
	MaxJumpBps uint16
}

// Result is the gate's verdict on an observation attempt.
type Result struct {
	Feed        FeedID
	Price       int64
	EMAPrice    int64
	Confidence  int64
	PublishTime int64
	Accepted    bool
	Reason      Reason
}

// Validate runs the fixed five-check chain against a single candidate,
// short-circuiting on the first failure. lastPrice is the last accepted
// spot price, or zero if none exists yet.
func Validate(q Quote, nowSec int64, lastPrice int64, cfg GateConfig) Result {
	res := Result{
		Feed:        q.Feed,
		Price:       q.Price,
		EMAPrice:    q.EMAPrice,
		Confidence:  q.Confidence,
		PublishTime: q.PublishTime,
	}

	if q.Price <= 0 || q.Price > MaxPrice || q.EMAPrice <= 0 || q.EMAPrice > MaxPrice {
		res.Price, res.EMAPrice, res.Confidence = 0, 0, 0
		res.Reason = ReasonOutOfRange
		return res
	}
	if q.PublishTime == 0 {
		res.Reason = ReasonNoTimestamp
		return res
	}
	if nowSec < q.PublishTime {
		res.Reason = ReasonFromFuture
		return res
	}
	if nowSec-q.PublishTime > cfg.MaxAgeSec {
		res.Reason = ReasonStale
		return res
	}
	// conf <= price * maxConfBps / 10,000; price <= MaxPrice so the
	// product fits in int64.
	maxConf := q.Price * int64(cfg.MaxConfBps) / fixedpoint.BpsDenom
	if q.Confidence > maxConf {
		res.Reason = ReasonConfidence
		return res
	}
	if lastPrice > 0 {
		if fixedpoint.RelDiffBps(q.Price, lastPrice) > cfg.MaxJumpBps {
			res.Reason = ReasonJump
			return res
		}
	}

	res.Accepted = true
	return res
}

// Select applies the feed policy over the candidates. A nil candidate means
// the feed could not be read at all. Under PolicyPreferPrimary a failed
// primary falls back to the secondary; if both fail, the primary's reason is
// reported when it produced one, otherwise the secondary's.
func Select(primary, secondary *Quote, nowSec int64, lastPrice int64, cfg GateConfig) Result {
	tryOne := func(q *Quote, id FeedID) Result {
		if q == nil {
			return Result{Feed: id, Reason: ReasonUnavailable}
		}
		return Validate(*q, nowSec, lastPrice, cfg)
	}

	switch cfg.Policy {
	case PolicyPrimaryOnly:
		return tryOne(primary, FeedPrimary)
	case PolicySecondaryOnly:
		return tryOne(secondary, FeedSecondary)
	default:
		first := tryOne(primary, FeedPrimary)
		if first.Accepted {
			return first
		}
		second := tryOne(secondary, FeedSecondary)
		if second.Accepted {
			return second
		}
		if first.Reason == ReasonAccepted {
			first.Reason = second.Reason
		}
		first.Accepted = false
		return first
	}
}

// State holds the persistent oracle fields for one position. Only the
// owning vault mutates it, and only through Apply.
type State struct {
	Price       int64
	EMAPrice    int64
	Confidence  int64
	PublishTime int64
	OK          bool

	// LastPrice/LastEMA track the last *accepted* observation and anchor
	// the jump check for the next attempt.
	LastPrice int64
	LastEMA   int64

	// Degraded is true iff the most recent attempt was rejected and no
	// later attempt has been accepted.
	Degraded bool
}

// Apply folds a gate result into the state: every attempt overwrites the
// observation fields; only accepted attempts advance the jump anchors and
// clear the degraded latch.
func (s *State) Apply(res Result) {
	s.Price = res.Price
	s.EMAPrice = res.EMAPrice
	s.Confidence = res.Confidence
	s.PublishTime = res.PublishTime
	s.OK = res.Accepted

	if res.Accepted {
		s.Degraded = false
		s.LastPrice = res.Price
		s.LastEMA = res.EMAPrice
	} else {
		s.Degraded = true
	}
}

// SizingPrice returns the price hedge sizing and slippage should reference:
// the spot price when the last attempt was accepted, otherwise the last
// known EMA.
func (s *State) SizingPrice() int64 {
	if s.OK && s.Price > 0 {
		return s.Price
	}
	return s.EMAPrice
}
