package app

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"stake-hedge-watcher/internal/fixedpoint"
	"stake-hedge-watcher/internal/oracle"
	"stake-hedge-watcher/internal/service"
	"stake-hedge-watcher/internal/storage"
)

// Replay 用带种子的随机游走价格序列回放完整流水线，便于离线调参。
// 同样的种子和参数总是产生同样的策略轨迹。
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	interval := a.Config.Scheduler.Interval
	if interval <= 0 {
		return errors.New("scheduler interval 配置不合法")
	}
	if opts.Steps <= 0 {
		return errors.New("steps 必须为正数")
	}
	if opts.StartPrice <= 0 {
		return errors.New("start price 必须为正数")
	}
	stepBps := opts.StepBps
	if stepBps <= 0 {
		stepBps = 50
	}

	var store *storage.Store
	var closeStore func()
	var err error

	if opts.DryRun {
		a.Logger.Warn().Msg("回放 dry-run：不会写入数据库")
	} else {
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn 未配置，无法持久化回放结果")
		}
		if closeStore != nil {
			defer closeStore()
		}
	}

	position, err := a.newPosition()
	if err != nil {
		return err
	}

	walker := &walkingQuoteFetcher{
		priceFP: int64(opts.StartPrice * fixedpoint.Scale),
		stepBps: int64(stepBps),
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}

	svc := service.New(a.Config, nil, walker, nil, position, store, nil, nil, a.Logger)

	end := time.Now().UTC().Truncate(interval)
	start := end.Add(-time.Duration(opts.Steps) * interval)

	processed := 0
	failed := 0
	for bucket := start; bucket.Before(end); bucket = bucket.Add(interval) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		walker.advance()
		if err := svc.ProcessBucket(ctx, bucket); err != nil {
			failed++
			a.Logger.Error().Err(err).Time("bucket", bucket).Msg("回放失败")
			continue
		}
		processed++
	}

	snap := position.Snapshot()
	a.Logger.Info().
		Int("processed", processed).
		Int("failed", failed).
		Uint16("final_band_bps", snap.BandBps).
		Int64("final_interval", snap.HedgeInterval).
		Int64("final_notional", snap.HedgeNotional).
		Msg("回放完成")
	if failed > 0 {
		return errors.New("部分 bucket 回放失败，请检查日志")
	}
	return nil
}

// walkingQuoteFetcher 产生随机游走报价，时间戳始终为当前时间以通过新鲜度检查。
type walkingQuoteFetcher struct {
	priceFP int64
	stepBps int64
	rng     *rand.Rand
}

func (w *walkingQuoteFetcher) advance() {
	delta := w.rng.Int63n(2*w.stepBps+1) - w.stepBps
	w.priceFP += w.priceFP * delta / fixedpoint.BpsDenom
	if w.priceFP < 1 {
		w.priceFP = 1
	}
}

func (w *walkingQuoteFetcher) FetchQuote(ctx context.Context) (oracle.Quote, error) {
	return oracle.Quote{
		Feed:        oracle.FeedPrimary,
		Price:       w.priceFP,
		EMAPrice:    w.priceFP,
		Confidence:  0,
		PublishTime: time.Now().Unix(),
	}, nil
}
