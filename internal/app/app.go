package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stake-hedge-watcher/internal/alerting"
	"stake-hedge-watcher/internal/config"
	"stake-hedge-watcher/internal/feed"
	"stake-hedge-watcher/internal/metrics"
	"stake-hedge-watcher/internal/oracle"
	"stake-hedge-watcher/internal/scheduler"
	"stake-hedge-watcher/internal/service"
	"stake-hedge-watcher/internal/storage"
	"stake-hedge-watcher/internal/vault"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFeeds() (feed.QuoteFetcher, feed.QuoteFetcher) {
	primary := feed.NewPyth(feed.PythOptions{
		BaseURL:   a.Config.Feeds.Pyth.BaseURL,
		PriceID:   a.Config.Feeds.Pyth.PrimaryID,
		Feed:      oracle.FeedPrimary,
		Timeout:   a.Config.Feeds.Pyth.RequestTimeout,
		UserAgent: a.Config.Feeds.Pyth.UserAgent,
	}, a.Logger)

	var secondary feed.QuoteFetcher
	switch {
	case a.Config.Feeds.Chainlink.Enabled:
		secondary = feed.NewChainlink(feed.ChainlinkOptions{
			RPCURL:     a.Config.Feeds.Chainlink.RPCURL,
			Aggregator: a.Config.Feeds.Chainlink.Aggregator,
			Feed:       oracle.FeedSecondary,
			Timeout:    a.Config.Feeds.Chainlink.RequestTimeout,
		}, a.Logger)
	case a.Config.Feeds.Pyth.SecondaryID != "":
		secondary = feed.NewPyth(feed.PythOptions{
			BaseURL:   a.Config.Feeds.Pyth.BaseURL,
			PriceID:   a.Config.Feeds.Pyth.SecondaryID,
			Feed:      oracle.FeedSecondary,
			Timeout:   a.Config.Feeds.Pyth.RequestTimeout,
			UserAgent: a.Config.Feeds.Pyth.UserAgent,
		}, a.Logger)
	}

	return primary, secondary
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// newPosition builds the in-memory position from configuration: the
// authority installs the keeper and seeds the initial balances.
func (a *App) newPosition() (*vault.Vault, error) {
	params, err := a.Config.VaultParams()
	if err != nil {
		return nil, err
	}

	position, err := vault.New(a.Config.Position.Authority, params)
	if err != nil {
		return nil, err
	}
	if err := position.AddKeeper(a.Config.Position.Authority, a.Config.Position.Keeper); err != nil {
		return nil, fmt.Errorf("register keeper: %w", err)
	}
	if a.Config.Position.StakedUnits > 0 {
		if err := position.DepositStake(a.Config.Position.StakedUnits); err != nil {
			return nil, fmt.Errorf("seed staked units: %w", err)
		}
	}
	if a.Config.Position.ReserveUnits > 0 {
		if err := position.DepositReserve(a.Config.Position.ReserveUnits); err != nil {
			return nil, fmt.Errorf("seed reserve units: %w", err)
		}
	}
	return position, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running watching service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	position, err := a.newPosition()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	primary, secondary := a.newFeeds()
	notifier := a.newNotifier()

	var mets *metrics.Metrics
	if a.Config.Metrics.Enabled {
		mets = metrics.New()
		go func() {
			if err := mets.Serve(ctx, a.Config.Metrics.ListenAddr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	svc := service.New(a.Config, sched, primary, secondary, position, store, notifier, mets, a.Logger)

	a.Logger.Info().Msg("starting watching service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watching service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical snapshots.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ReplayOptions configure the deterministic replay job.
type ReplayOptions struct {
	Steps      int
	StartPrice float64
	StepBps    int
	Seed       int64
	DryRun     bool
}
