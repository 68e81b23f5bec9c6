package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PolicySnapshot represents a persisted per-tick view of the engine output.
type PolicySnapshot struct {
	Bucket          time.Time
	Epoch           uint32
	SpotPrice       decimal.Decimal
	EMAPrice        decimal.Decimal
	RealizedVolBps  int32
	ImpliedVolBps   int32
	ScoreBps        int32
	BandBps         int32
	HedgeIntervalS  int64
	ExpectedCarry   int32
	HedgeNotional   decimal.Decimal
	NavUSD          decimal.Decimal
	OracleAccepted  bool
	RejectReason    *int16
	DegradedLatched bool
	Status          string
	Error           *string
	CreatedAt       time.Time
}

// HedgeIntentRecord captures a rebalance request for auditing.
type HedgeIntentRecord struct {
	RequestID      int64
	Bucket         time.Time
	Reason         int16
	DriftBps       int32
	SizingPrice    decimal.Decimal
	TargetNotional decimal.Decimal
	GapNotional    decimal.Decimal
	CreatedAt      time.Time
}

// HedgeFillRecord captures a confirmed execution against an intent.
type HedgeFillRecord struct {
	RequestID   int64
	Bucket      time.Time
	Notional    decimal.Decimal
	FillPrice   decimal.Decimal
	RefPrice    decimal.Decimal
	SlippageBps int32
	AvgSlipBps  int32
	FillCount   int64
	CreatedAt   time.Time
}

// OracleRejection records a quote the acceptance gate turned away.
type OracleRejection struct {
	ID        int64
	Bucket    time.Time
	Reason    int16
	Price     decimal.Decimal
	ConfBps   int32
	AgeSec    int64
	CreatedAt time.Time
}
