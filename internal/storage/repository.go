package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSnapshotSQL = `INSERT INTO policy_snapshots (
        bucket_ts,
        epoch,
        spot_price,
        ema_price,
        realized_vol_bps,
        implied_vol_bps,
        score_bps,
        band_bps,
        hedge_interval_s,
        expected_carry_bps,
        hedge_notional,
        nav_usd,
        oracle_accepted,
        reject_reason,
        degraded_latched,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        epoch              = EXCLUDED.epoch,
        spot_price         = EXCLUDED.spot_price,
        ema_price          = EXCLUDED.ema_price,
        realized_vol_bps   = EXCLUDED.realized_vol_bps,
        implied_vol_bps    = EXCLUDED.implied_vol_bps,
        score_bps          = EXCLUDED.score_bps,
        band_bps           = EXCLUDED.band_bps,
        hedge_interval_s   = EXCLUDED.hedge_interval_s,
        expected_carry_bps = EXCLUDED.expected_carry_bps,
        hedge_notional     = EXCLUDED.hedge_notional,
        nav_usd            = EXCLUDED.nav_usd,
        oracle_accepted    = EXCLUDED.oracle_accepted,
        reject_reason      = EXCLUDED.reject_reason,
        degraded_latched   = EXCLUDED.degraded_latched,
        status             = EXCLUDED.status,
        error              = EXCLUDED.error;`

	listSnapshotsBetweenSQL = `SELECT
        bucket_ts,
        epoch,
        spot_price,
        ema_price,
        realized_vol_bps,
        implied_vol_bps,
        score_bps,
        band_bps,
        hedge_interval_s,
        expected_carry_bps,
        hedge_notional,
        nav_usd,
        oracle_accepted,
        reject_reason,
        degraded_latched,
        status,
        error,
        created_at
    FROM policy_snapshots
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts;`

	listRecentSnapshotsSQL = `SELECT
        bucket_ts,
        epoch,
        spot_price,
        ema_price,
        realized_vol_bps,
        implied_vol_bps,
        score_bps,
        band_bps,
        hedge_interval_s,
        expected_carry_bps,
        hedge_notional,
        nav_usd,
        oracle_accepted,
        reject_reason,
        degraded_latched,
        status,
        error,
        created_at
    FROM policy_snapshots
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	markSnapshotErroredSQL = `INSERT INTO policy_snapshots (
        bucket_ts,
        spot_price,
        ema_price,
        status,
        error
    ) VALUES ($1, 0, 0, 'errored', $2)
    ON CONFLICT (bucket_ts) DO UPDATE
    SET status = 'errored',
        error = EXCLUDED.error;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM policy_snapshots;`

	upsertIntentSQL = `INSERT INTO hedge_intents (
        request_id,
        bucket_ts,
        reason,
        drift_bps,
        sizing_price,
        target_notional,
        gap_notional
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (request_id) DO UPDATE
    SET bucket_ts       = EXCLUDED.bucket_ts,
        reason          = EXCLUDED.reason,
        drift_bps       = EXCLUDED.drift_bps,
        sizing_price    = EXCLUDED.sizing_price,
        target_notional = EXCLUDED.target_notional,
        gap_notional    = EXCLUDED.gap_notional;`

	listRecentIntentsSQL = `SELECT
        request_id,
        bucket_ts,
        reason,
        drift_bps,
        sizing_price,
        target_notional,
        gap_notional,
        created_at
    FROM hedge_intents
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	insertFillSQL = `INSERT INTO hedge_fills (
        request_id,
        bucket_ts,
        notional,
        fill_price,
        ref_price,
        slippage_bps,
        avg_slippage_bps,
        fill_count
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (request_id) DO NOTHING;`

	listRecentFillsSQL = `SELECT
        request_id,
        bucket_ts,
        notional,
        fill_price,
        ref_price,
        slippage_bps,
        avg_slippage_bps,
        fill_count,
        created_at
    FROM hedge_fills
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	insertRejectionSQL = `INSERT INTO oracle_rejections (
        bucket_ts,
        reason,
        price,
        conf_bps,
        age_sec
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, bucket_ts, reason, price, conf_bps, age_sec, created_at;`

	listRecentRejectionsSQL = `SELECT
        id,
        bucket_ts,
        reason,
        price,
        conf_bps,
        age_sec,
        created_at
    FROM oracle_rejections
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteRejectionsBeforeSQL = `DELETE FROM oracle_rejections WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines operations for per-tick policy snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap PolicySnapshot) error
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]PolicySnapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]PolicySnapshot, error)
	MarkSnapshotErrored(ctx context.Context, bucket time.Time, errMsg string) error
	CountSnapshots(ctx context.Context) (int64, error)
}

// HedgeStore defines operations for intent and fill auditing.
type HedgeStore interface {
	UpsertHedgeIntent(ctx context.Context, intent HedgeIntentRecord) error
	ListRecentIntents(ctx context.Context, limit int) ([]HedgeIntentRecord, error)
	InsertHedgeFill(ctx context.Context, fill HedgeFillRecord) error
	ListRecentFills(ctx context.Context, limit int) ([]HedgeFillRecord, error)
}

// RejectionStore defines operations for oracle rejection auditing.
type RejectionStore interface {
	InsertRejection(ctx context.Context, rej OracleRejection) (OracleRejection, error)
	ListRecentRejections(ctx context.Context, limit int) ([]OracleRejection, error)
	DeleteRejectionsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to snapshots, hedge records, and rejections.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSnapshot persists or updates a policy snapshot.
func (s *Store) UpsertSnapshot(ctx context.Context, snap PolicySnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var reason interface{}
	if snap.RejectReason != nil {
		reason = *snap.RejectReason
	}

	var errMsg interface{}
	if snap.Error != nil {
		errMsg = *snap.Error
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snap.Bucket,
		snap.Epoch,
		snap.SpotPrice.String(),
		snap.EMAPrice.String(),
		snap.RealizedVolBps,
		snap.ImpliedVolBps,
		snap.ScoreBps,
		snap.BandBps,
		snap.HedgeIntervalS,
		snap.ExpectedCarry,
		snap.HedgeNotional.String(),
		snap.NavUSD.String(),
		snap.OracleAccepted,
		reason,
		snap.DegradedLatched,
		snap.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert policy snapshot: %w", execErr)
	}
	return nil
}

// ListSnapshotsBetween lists snapshots within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]PolicySnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]PolicySnapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// ListRecentSnapshots lists the most recent snapshots ordered by descending bucket.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]PolicySnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]PolicySnapshot, 0, limit)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// MarkSnapshotErrored records a failed bucket, inserting a placeholder row
// when the pipeline failed before the snapshot was written.
func (s *Store) MarkSnapshotErrored(ctx context.Context, bucket time.Time, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markSnapshotErroredSQL, bucket, errMsg); execErr != nil {
		return fmt.Errorf("mark snapshot errored: %w", execErr)
	}
	return nil
}

// CountSnapshots counts stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// UpsertHedgeIntent persists a rebalance request, superseding a prior row
// for the same request id.
func (s *Store) UpsertHedgeIntent(ctx context.Context, intent HedgeIntentRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertIntentSQL,
		intent.RequestID,
		intent.Bucket,
		intent.Reason,
		intent.DriftBps,
		intent.SizingPrice.String(),
		intent.TargetNotional.String(),
		intent.GapNotional.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert hedge intent: %w", execErr)
	}
	return nil
}

// ListRecentIntents lists the most recent hedge intents.
func (s *Store) ListRecentIntents(ctx context.Context, limit int) ([]HedgeIntentRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentIntentsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent intents: %w", queryErr)
	}
	defer rows.Close()

	intents := make([]HedgeIntentRecord, 0, limit)
	for rows.Next() {
		var rec HedgeIntentRecord
		var sizingStr, targetStr, gapStr string
		if err := rows.Scan(
			&rec.RequestID,
			&rec.Bucket,
			&rec.Reason,
			&rec.DriftBps,
			&sizingStr,
			&targetStr,
			&gapStr,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.SizingPrice, convErr = decimal.NewFromString(sizingStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse sizing price: %w", convErr)
		}
		rec.TargetNotional, convErr = decimal.NewFromString(targetStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse target notional: %w", convErr)
		}
		rec.GapNotional, convErr = decimal.NewFromString(gapStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse gap notional: %w", convErr)
		}

		intents = append(intents, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return intents, nil
}

// InsertHedgeFill persists a confirmed execution. Duplicate confirms for
// the same request id are ignored.
func (s *Store) InsertHedgeFill(ctx context.Context, fill HedgeFillRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertFillSQL,
		fill.RequestID,
		fill.Bucket,
		fill.Notional.String(),
		fill.FillPrice.String(),
		fill.RefPrice.String(),
		fill.SlippageBps,
		fill.AvgSlipBps,
		fill.FillCount,
	)
	if execErr != nil {
		return fmt.Errorf("insert hedge fill: %w", execErr)
	}
	return nil
}

// ListRecentFills lists the most recent hedge fills.
func (s *Store) ListRecentFills(ctx context.Context, limit int) ([]HedgeFillRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentFillsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent fills: %w", queryErr)
	}
	defer rows.Close()

	fills := make([]HedgeFillRecord, 0, limit)
	for rows.Next() {
		var rec HedgeFillRecord
		var notionalStr, fillStr, refStr string
		if err := rows.Scan(
			&rec.RequestID,
			&rec.Bucket,
			&notionalStr,
			&fillStr,
			&refStr,
			&rec.SlippageBps,
			&rec.AvgSlipBps,
			&rec.FillCount,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Notional, convErr = decimal.NewFromString(notionalStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse notional: %w", convErr)
		}
		rec.FillPrice, convErr = decimal.NewFromString(fillStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse fill price: %w", convErr)
		}
		rec.RefPrice, convErr = decimal.NewFromString(refStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse ref price: %w", convErr)
		}

		fills = append(fills, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return fills, nil
}

// InsertRejection persists an oracle gate rejection.
func (s *Store) InsertRejection(ctx context.Context, rej OracleRejection) (OracleRejection, error) {
	pool, err := s.getPool()
	if err != nil {
		return OracleRejection{}, err
	}

	row := pool.QueryRow(ctx, insertRejectionSQL,
		rej.Bucket,
		rej.Reason,
		rej.Price.String(),
		rej.ConfBps,
		rej.AgeSec,
	)

	var rec OracleRejection
	var priceStr string
	if scanErr := row.Scan(
		&rec.ID,
		&rec.Bucket,
		&rec.Reason,
		&priceStr,
		&rec.ConfBps,
		&rec.AgeSec,
		&rec.CreatedAt,
	); scanErr != nil {
		return OracleRejection{}, fmt.Errorf("insert rejection: %w", scanErr)
	}

	var convErr error
	rec.Price, convErr = decimal.NewFromString(priceStr)
	if convErr != nil {
		return OracleRejection{}, fmt.Errorf("parse rejection price: %w", convErr)
	}

	return rec, nil
}

// ListRecentRejections lists most recent oracle rejections.
func (s *Store) ListRecentRejections(ctx context.Context, limit int) ([]OracleRejection, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRejectionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent rejections: %w", queryErr)
	}
	defer rows.Close()

	rejections := make([]OracleRejection, 0, limit)
	for rows.Next() {
		var rec OracleRejection
		var priceStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.Bucket,
			&rec.Reason,
			&priceStr,
			&rec.ConfBps,
			&rec.AgeSec,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Price, convErr = decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse rejection price: %w", convErr)
		}

		rejections = append(rejections, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rejections, nil
}

// DeleteRejectionsBefore deletes historical rejections.
func (s *Store) DeleteRejectionsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteRejectionsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete rejections before: %w", execErr)
	}
	return nil
}

func scanSnapshot(rows pgx.Rows) (PolicySnapshot, error) {
	var (
		bucket      time.Time
		epoch       uint32
		spotStr     string
		emaStr      string
		realized    int32
		implied     int32
		score       int32
		band        int32
		interval    int64
		carry       int32
		notionalStr string
		navStr      string
		accepted    bool
		reason      sql.NullInt16
		degraded    bool
		status      string
		errMsg      sql.NullString
		createdAt   time.Time
	)

	if err := rows.Scan(
		&bucket,
		&epoch,
		&spotStr,
		&emaStr,
		&realized,
		&implied,
		&score,
		&band,
		&interval,
		&carry,
		&notionalStr,
		&navStr,
		&accepted,
		&reason,
		&degraded,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return PolicySnapshot{}, err
	}

	spot, err := decimal.NewFromString(spotStr)
	if err != nil {
		return PolicySnapshot{}, fmt.Errorf("parse spot price: %w", err)
	}
	ema, err := decimal.NewFromString(emaStr)
	if err != nil {
		return PolicySnapshot{}, fmt.Errorf("parse ema price: %w", err)
	}
	notional, err := decimal.NewFromString(notionalStr)
	if err != nil {
		return PolicySnapshot{}, fmt.Errorf("parse hedge notional: %w", err)
	}
	nav, err := decimal.NewFromString(navStr)
	if err != nil {
		return PolicySnapshot{}, fmt.Errorf("parse nav: %w", err)
	}

	snap := PolicySnapshot{
		Bucket:          bucket,
		Epoch:           epoch,
		SpotPrice:       spot,
		EMAPrice:        ema,
		RealizedVolBps:  realized,
		ImpliedVolBps:   implied,
		ScoreBps:        score,
		BandBps:         band,
		HedgeIntervalS:  interval,
		ExpectedCarry:   carry,
		HedgeNotional:   notional,
		NavUSD:          nav,
		OracleAccepted:  accepted,
		DegradedLatched: degraded,
		Status:          status,
		CreatedAt:       createdAt,
	}

	if reason.Valid {
		value := reason.Int16
		snap.RejectReason = &value
	}
	if errMsg.Valid {
		msg := errMsg.String
		snap.Error = &msg
	}

	return snap, nil
}
