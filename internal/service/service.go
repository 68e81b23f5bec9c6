package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stake-hedge-watcher/internal/alerting"
	"stake-hedge-watcher/internal/config"
	"stake-hedge-watcher/internal/feed"
	"stake-hedge-watcher/internal/fixedpoint"
	"stake-hedge-watcher/internal/hedge"
	"stake-hedge-watcher/internal/metrics"
	"stake-hedge-watcher/internal/oracle"
	"stake-hedge-watcher/internal/policy"
	"stake-hedge-watcher/internal/scheduler"
	"stake-hedge-watcher/internal/storage"
	"stake-hedge-watcher/internal/vault"
)

var dec1e6 = decimal.NewFromInt(1_000_000)

// Service orchestrates quote ingestion, the policy pass, hedge triggering,
// persistence, and alerting for one managed position.
type Service struct {
	scheduler  *scheduler.Scheduler
	primary    feed.QuoteFetcher
	secondary  feed.QuoteFetcher
	position   *vault.Vault
	snapStore  storage.SnapshotStore
	hedgeStore storage.HedgeStore
	rejStore   storage.RejectionStore
	notifier   alerting.Notifier
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	keeper      string
	channels    []string
	alertsOn    bool
	autoConfirm bool
	autoSlipBps uint16
	locker      storage.AdvisoryLocker
	lockKey     int64

	wasDegraded bool
}

// New constructs the watching service. secondary, stores, notifier, and
// metrics may be nil; the pipeline degrades to what is wired.
func New(cfg *config.Config, sched *scheduler.Scheduler, primary, secondary feed.QuoteFetcher, position *vault.Vault, store *storage.Store, notifier alerting.Notifier, mets *metrics.Metrics, logger zerolog.Logger) *Service {
	s := &Service{
		scheduler:   sched,
		primary:     primary,
		secondary:   secondary,
		position:    position,
		notifier:    notifier,
		metrics:     mets,
		logger:      logger.With().Str("component", "service").Logger(),
		keeper:      cfg.Position.Keeper,
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled,
		autoConfirm: cfg.Hedge.AutoConfirm,
		autoSlipBps: cfg.Hedge.SlippageBps,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
	}
	if store != nil {
		s.snapStore = store
		s.hedgeStore = store
		s.rejStore = store
		s.locker = store
	}
	return s
}

// Run begins the aligned tick loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的完整流水线。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if err := s.executeBucket(ctx, bucket); err != nil {
		if s.metrics != nil {
			s.metrics.TickErrors.Inc()
		}
		if s.snapStore != nil {
			if markErr := s.snapStore.MarkSnapshotErrored(ctx, bucket, err.Error()); markErr != nil {
				s.logger.Error().Err(markErr).Time("bucket", bucket).Msg("failed to mark snapshot errored")
			}
		}
		return err
	}
	return nil
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	tick := bucket.Unix()
	nowSec := time.Now().Unix()

	// Unfetchable feeds still go through the gate: the unavailable
	// rejection is what sets the degraded latch.
	primary, secondary := s.fetchQuotes(ctx, bucket)

	res, err := s.position.ApplyQuote(s.keeper, primary, secondary, nowSec, tick)
	if err != nil {
		return fmt.Errorf("apply quote: %w", err)
	}

	if res.Accepted {
		if s.metrics != nil {
			s.metrics.QuotesAccepted.Inc()
		}
	} else {
		s.recordRejection(ctx, bucket, nowSec, res)
	}

	outcome := s.runPolicy(tick, bucket)
	s.runHedge(ctx, tick, bucket)
	s.observeDegraded(ctx, bucket)

	snap := s.position.Snapshot()
	s.persistSnapshot(ctx, bucket, snap, res, outcome)
	s.publishMetrics(snap)

	s.logger.Info().Time("bucket", bucket).
		Bool("accepted", res.Accepted).
		Uint16("band_bps", snap.BandBps).
		Int64("hedge_interval", snap.HedgeInterval).
		Int64("hedge_notional", snap.HedgeNotional).
		Msg("tick processed")
	return nil
}

func (s *Service) fetchQuotes(ctx context.Context, bucket time.Time) (*oracle.Quote, *oracle.Quote) {
	var primary, secondary *oracle.Quote

	if s.primary != nil {
		q, err := s.primary.FetchQuote(ctx)
		if err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("primary quote fetch failed")
		} else {
			primary = &q
		}
	}
	if s.secondary != nil {
		q, err := s.secondary.FetchQuote(ctx)
		if err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("secondary quote fetch failed")
		} else {
			secondary = &q
		}
	}
	return primary, secondary
}

func (s *Service) runPolicy(tick int64, bucket time.Time) *vault.PolicyOutcome {
	out, err := s.position.UpdatePolicy(s.keeper, tick)
	if err != nil {
		switch {
		case errors.Is(err, vault.ErrOracleNotReady):
			s.logger.Debug().Time("bucket", bucket).Msg("policy pass skipped, no accepted price yet")
		case errors.Is(err, policy.ErrCooldown):
			s.logger.Debug().Time("bucket", bucket).Msg("policy pass in cooldown")
		default:
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("policy pass failed")
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.PolicyUpdates.Inc()
		if out.Outcome.Frozen {
			s.metrics.FrozenUpdates.Inc()
		}
		s.metrics.NavUSD.Set(fpToFloat(out.NavUSD))
	}
	return &out
}

func (s *Service) runHedge(ctx context.Context, tick int64, bucket time.Time) {
	intent, gap, err := s.position.RequestHedge(tick)
	if err != nil {
		switch {
		case errors.Is(err, vault.ErrHedgeTooSoon),
			errors.Is(err, vault.ErrDriftNotMet),
			errors.Is(err, vault.ErrOracleNotReady):
			s.logger.Debug().Time("bucket", bucket).Msg("hedge gates held")
		case errors.Is(err, vault.ErrOracleDegraded):
			s.logger.Warn().Time("bucket", bucket).Msg("hedge frozen while oracle degraded")
		default:
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("hedge request failed")
		}
		return
	}

	s.logger.Info().Time("bucket", bucket).
		Uint64("request_id", intent.RequestID).
		Uint16("drift_bps", intent.DriftBps).
		Int64("target_notional", intent.TargetNotional).
		Int64("gap_notional", gap).
		Msg("hedge intent opened")

	if s.metrics != nil {
		s.metrics.HedgeIntents.Inc()
	}

	if s.hedgeStore != nil {
		rec := storage.HedgeIntentRecord{
			RequestID:      int64(intent.RequestID),
			Bucket:         bucket,
			Reason:         int16(intent.Reason),
			DriftBps:       int32(intent.DriftBps),
			SizingPrice:    fpToDecimal(intent.PriceFP),
			TargetNotional: fpToDecimal(intent.TargetNotional),
			GapNotional:    fpToDecimal(gap),
		}
		if err := s.hedgeStore.UpsertHedgeIntent(ctx, rec); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to persist hedge intent")
		}
	}

	if s.alertsOn && s.notifier != nil {
		snap := s.position.Snapshot()
		note := alerting.Notification{
			Kind:           alerting.KindHedgeIntent,
			Bucket:         bucket,
			SpotPrice:      fpToDecimal(snap.OraclePriceFP),
			EMAPrice:       fpToDecimal(snap.OracleEMAFP),
			BandBps:        int32(snap.BandBps),
			DriftBps:       int32(intent.DriftBps),
			TargetNotional: fpToDecimal(intent.TargetNotional),
			Channels:       s.channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to dispatch hedge alert")
		}
	}

	if s.autoConfirm {
		s.confirmIntent(ctx, tick, bucket, intent)
	}
}

// confirmIntent simulates a keeper execution of the open intent, filling at
// the latest accepted oracle price shaded by the configured slippage. When no
// accepted print exists the sizing price seeds the fill instead.
func (s *Service) confirmIntent(ctx context.Context, tick int64, bucket time.Time, intent hedge.Intent) {
	base := intent.PriceFP
	if px, ok := s.position.LastOracleResultPrice(); ok {
		base = px
	}
	fillPrice := base + base*int64(s.autoSlipBps)/fixedpoint.BpsDenom

	rec, err := s.position.ConfirmHedge(s.keeper, tick, intent.RequestID, intent.TargetNotional, fillPrice)
	if err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Uint64("request_id", intent.RequestID).Msg("auto-confirm failed")
		return
	}

	if s.metrics != nil {
		s.metrics.HedgeFills.Inc()
	}

	s.logger.Info().Time("bucket", bucket).
		Uint64("request_id", rec.RequestID).
		Int64("notional", rec.Notional).
		Uint16("slippage_bps", rec.SlippageBps).
		Msg("hedge fill confirmed")

	if s.hedgeStore != nil {
		fill := storage.HedgeFillRecord{
			RequestID:   int64(rec.RequestID),
			Bucket:      bucket,
			Notional:    fpToDecimal(rec.Notional),
			FillPrice:   fpToDecimal(rec.FillPriceFP),
			RefPrice:    fpToDecimal(rec.RefPriceFP),
			SlippageBps: int32(rec.SlippageBps),
			AvgSlipBps:  int32(rec.AvgSlippageBps),
			FillCount:   int64(rec.FillCount),
		}
		if err := s.hedgeStore.InsertHedgeFill(ctx, fill); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to persist hedge fill")
		}
	}
}

func (s *Service) observeDegraded(ctx context.Context, bucket time.Time) {
	snap := s.position.Snapshot()
	if snap.OracleDegraded == s.wasDegraded {
		return
	}
	s.wasDegraded = snap.OracleDegraded

	kind := alerting.KindOracleRecovered
	reason := ""
	if snap.OracleDegraded {
		kind = alerting.KindOracleDegraded
		reason = "quote rejected by acceptance gate"
	}
	s.logger.Warn().Time("bucket", bucket).Bool("degraded", snap.OracleDegraded).Msg("oracle degraded latch changed")

	if s.alertsOn && s.notifier != nil {
		note := alerting.Notification{
			Kind:      kind,
			Bucket:    bucket,
			SpotPrice: fpToDecimal(snap.OraclePriceFP),
			EMAPrice:  fpToDecimal(snap.OracleEMAFP),
			Reason:    reason,
			Channels:  s.channels,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to dispatch degraded alert")
		}
	}
}

func (s *Service) recordRejection(ctx context.Context, bucket time.Time, nowSec int64, res oracle.Result) {
	if s.metrics != nil {
		s.metrics.OracleRejections.WithLabelValues(strconv.Itoa(int(res.Reason))).Inc()
	}
	if s.rejStore == nil {
		return
	}

	age := int64(0)
	if res.PublishTime > 0 && nowSec > res.PublishTime {
		age = nowSec - res.PublishTime
	}
	confBps := int32(0)
	if res.Price > 0 {
		confBps = int32(fixedpoint.RelDiffBps(res.Price+res.Confidence, res.Price))
	}

	rej := storage.OracleRejection{
		Bucket:  bucket,
		Reason:  int16(res.Reason),
		Price:   fpToDecimal(res.Price),
		ConfBps: confBps,
		AgeSec:  age,
	}
	if _, err := s.rejStore.InsertRejection(ctx, rej); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to persist oracle rejection")
	}
}

func (s *Service) persistSnapshot(ctx context.Context, bucket time.Time, snap vault.Snapshot, res oracle.Result, outcome *vault.PolicyOutcome) {
	if s.snapStore == nil {
		return
	}

	record := storage.PolicySnapshot{
		Bucket:          bucket,
		Epoch:           uint32(snap.Epoch),
		SpotPrice:       fpToDecimal(snap.OraclePriceFP),
		EMAPrice:        fpToDecimal(snap.OracleEMAFP),
		RealizedVolBps:  int32(snap.RealizedVolBps),
		ImpliedVolBps:   int32(snap.ImpliedVolBps),
		ScoreBps:        int32(snap.VolScoreBps),
		BandBps:         int32(snap.BandBps),
		HedgeIntervalS:  snap.HedgeInterval,
		ExpectedCarry:   snap.ExpectedCarry,
		HedgeNotional:   fpToDecimal(snap.HedgeNotional),
		OracleAccepted:  res.Accepted,
		DegradedLatched: snap.OracleDegraded,
		Status:          "complete",
		CreatedAt:       time.Now().UTC(),
	}
	if outcome != nil {
		record.NavUSD = fpToDecimal(outcome.NavUSD)
	}
	if !res.Accepted {
		reason := int16(res.Reason)
		record.RejectReason = &reason
	}

	if err := s.snapStore.UpsertSnapshot(ctx, record); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to upsert snapshot")
	}
}

func (s *Service) publishMetrics(snap vault.Snapshot) {
	if s.metrics == nil {
		return
	}
	s.metrics.ScoreBps.Set(float64(snap.VolScoreBps))
	s.metrics.RealizedVolBps.Set(float64(snap.RealizedVolBps))
	s.metrics.ImpliedVolBps.Set(float64(snap.ImpliedVolBps))
	s.metrics.BandBps.Set(float64(snap.BandBps))
	s.metrics.HedgeInterval.Set(float64(snap.HedgeInterval))
	s.metrics.HedgeNotional.Set(fpToFloat(snap.HedgeNotional))
	s.metrics.AvgSlippageBps.Set(float64(snap.AvgSlippageBps))
	s.metrics.MissedConfirms.Set(float64(snap.MissedConfirms))
	if snap.OracleDegraded {
		s.metrics.Degraded.Set(1)
	} else {
		s.metrics.Degraded.Set(0)
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func fpToDecimal(fp int64) decimal.Decimal {
	return decimal.NewFromInt(fp).Div(dec1e6)
}

func fpToFloat(fp int64) float64 {
	return float64(fp) / 1e6
}
