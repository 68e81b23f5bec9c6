package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"stake-hedge-watcher/internal/storage"
)

// Export renders historical snapshots as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snaps, err := store.ListSnapshotsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snaps, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snaps)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snaps []storage.PolicySnapshot, max int) []storage.PolicySnapshot {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}

	result := make([]storage.PolicySnapshot, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snaps []storage.PolicySnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "spot_price", "ema_price", "realized_vol_bps", "implied_vol_bps", "score_bps", "band_bps", "hedge_interval_s", "hedge_notional", "nav_usd", "oracle_accepted", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snaps {
		errMsg := ""
		if snap.Error != nil {
			errMsg = *snap.Error
		}
		record := []string{
			snap.Bucket.Format(time.RFC3339),
			snap.SpotPrice.String(),
			snap.EMAPrice.String(),
			strconv.Itoa(int(snap.RealizedVolBps)),
			strconv.Itoa(int(snap.ImpliedVolBps)),
			strconv.Itoa(int(snap.ScoreBps)),
			strconv.Itoa(int(snap.BandBps)),
			strconv.FormatInt(snap.HedgeIntervalS, 10),
			snap.HedgeNotional.String(),
			snap.NavUSD.String(),
			strconv.FormatBool(snap.OracleAccepted),
			snap.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path string, snaps []storage.PolicySnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snaps))
	spot := make([]float64, len(snaps))
	score := make([]float64, len(snaps))
	band := make([]float64, len(snaps))

	for i, snap := range snaps {
		x[i] = snap.Bucket
		spot[i] = snap.SpotPrice.InexactFloat64()
		score[i] = float64(snap.ScoreBps)
		band[i] = float64(snap.BandBps)
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Basis points",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Spot",
				XValues: x,
				YValues: spot,
			},
			chart.TimeSeries{
				Name:    "Vol score (bps)",
				XValues: x,
				YValues: score,
				YAxis:   chart.YAxisSecondary,
			},
			chart.TimeSeries{
				Name:    "Band (bps)",
				XValues: x,
				YValues: band,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
