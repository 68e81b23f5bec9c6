package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the instrumented view of the policy pipeline.
type Metrics struct {
	registry *prometheus.Registry

	ScoreBps       prometheus.Gauge
	RealizedVolBps prometheus.Gauge
	ImpliedVolBps  prometheus.Gauge
	BandBps        prometheus.Gauge
	HedgeInterval  prometheus.Gauge
	HedgeNotional  prometheus.Gauge
	AvgSlippageBps prometheus.Gauge
	NavUSD         prometheus.Gauge
	Degraded       prometheus.Gauge

	MissedConfirms prometheus.Gauge

	OracleRejections *prometheus.CounterVec
	QuotesAccepted   prometheus.Counter
	PolicyUpdates    prometheus.Counter
	FrozenUpdates    prometheus.Counter
	HedgeIntents     prometheus.Counter
	HedgeFills       prometheus.Counter
	TickErrors       prometheus.Counter
}

// New builds a self-contained registry with all pipeline collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ScoreBps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hedgewatcher",
			Name:      "vol_score_bps",
			Help:      "Blended volatility score in basis points.",
		}),
		RealizedVolBps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hedgewatcher",
			Name:      "realized_vol_bps",
			Help:      "Realized volatility estimate in basis points.",
		}),
		ImpliedVolBps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hedgewatcher",
			Name:      "implied_vol_bps",
			Help:      "Keeper-posted implied volatility in basis points.",
		}),
		BandBps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hedgewatcher",
			Name:      "rebalance_band_bps",
			Help:      "Current rebalance band width in basis points.",
		}),
		HedgeInterval: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hedgewatcher",
			Name:      "hedge_interval_seconds",
			Help:      "Current minimum spacing between hedge adjustments.",
		}),
		HedgeNotional: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hedgewatcher",
			Name:      "hedge_notional_usd",
			Help:      "Signed hedge notional in USD.",
		}),
		AvgSlippageBps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hedgewatcher",
			Name:      "avg_slippage_bps",
			Help:      "Smoothed fill slippage in basis points.",
		}),
		NavUSD: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hedgewatcher",
			Name:      "nav_usd",
			Help:      "Position net asset value in USD.",
		}),
		Degraded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hedgewatcher",
			Name:      "oracle_degraded",
			Help:      "1 while the oracle degraded latch is set.",
		}),
		MissedConfirms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hedgewatcher",
			Name:      "missed_confirms",
			Help:      "Rebalance requests that expired unconfirmed.",
		}),
		OracleRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hedgewatcher",
			Name:      "oracle_rejections_total",
			Help:      "Quotes turned away by the acceptance gate.",
		}, []string{"reason"}),
		QuotesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hedgewatcher",
			Name:      "quotes_accepted_total",
			Help:      "Quotes passed by the acceptance gate.",
		}),
		PolicyUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hedgewatcher",
			Name:      "policy_updates_total",
			Help:      "Completed policy passes.",
		}),
		FrozenUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hedgewatcher",
			Name:      "policy_frozen_total",
			Help:      "Policy passes held frozen by the degraded latch.",
		}),
		HedgeIntents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hedgewatcher",
			Name:      "hedge_intents_total",
			Help:      "Rebalance requests issued.",
		}),
		HedgeFills: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hedgewatcher",
			Name:      "hedge_fills_total",
			Help:      "Rebalance requests confirmed.",
		}),
		TickErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hedgewatcher",
			Name:      "tick_errors_total",
			Help:      "Pipeline ticks that ended in an error.",
		}),
	}
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a metrics endpoint until the context is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
