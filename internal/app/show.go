package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent policy snapshots.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	if closeStore != nil {
		defer closeStore()
	}

	snaps, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSpot\tEMA\tScore bps\tBand bps\tInterval s\tNotional\tAccepted\tStatus\tError")

	for _, snap := range snaps {
		errMsg := ""
		if snap.Error != nil {
			errMsg = sanitizeInline(*snap.Error)
		}
		accepted := "yes"
		if !snap.OracleAccepted {
			accepted = fmt.Sprintf("no(%d)", derefReason(snap.RejectReason))
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
			snap.Bucket.UTC().Format(time.RFC3339),
			snap.SpotPrice.StringFixed(4),
			snap.EMAPrice.StringFixed(4),
			snap.ScoreBps,
			snap.BandBps,
			snap.HedgeIntervalS,
			snap.HedgeNotional.StringFixed(2),
			accepted,
			snap.Status,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func derefReason(r *int16) int16 {
	if r == nil {
		return 0
	}
	return *r
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
