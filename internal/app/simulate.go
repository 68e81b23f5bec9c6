package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stake-hedge-watcher/internal/feed"
	"stake-hedge-watcher/internal/fixedpoint"
	"stake-hedge-watcher/internal/oracle"
	"stake-hedge-watcher/internal/service"
)

// SimulateTick 用给定价格走一遍完整流水线，验证告警通道配置。
func (a *App) SimulateTick(ctx context.Context, price float64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	if price <= 0 {
		return fmt.Errorf("price 必须为正数: %f", price)
	}

	position, err := a.newPosition()
	if err != nil {
		return err
	}

	fp := int64(price * fixedpoint.Scale)
	fetcherStub := &staticQuoteFetcher{priceFP: fp}

	svc := service.New(a.Config, nil, fetcherStub, nil, position, nil, notifier, nil, a.Logger)

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	return svc.ProcessBucket(ctx, bucket)
}

type staticQuoteFetcher struct {
	priceFP int64
}

func (s *staticQuoteFetcher) FetchQuote(ctx context.Context) (oracle.Quote, error) {
	return oracle.Quote{
		Feed:        oracle.FeedPrimary,
		Price:       s.priceFP,
		EMAPrice:    s.priceFP,
		Confidence:  0,
		PublishTime: time.Now().Unix(),
	}, nil
}

var _ feed.QuoteFetcher = (*staticQuoteFetcher)(nil)
