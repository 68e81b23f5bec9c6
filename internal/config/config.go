package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"stake-hedge-watcher/internal/fixedpoint"
	"stake-hedge-watcher/internal/hedge"
	"stake-hedge-watcher/internal/logging"
	"stake-hedge-watcher/internal/oracle"
	"stake-hedge-watcher/internal/policy"
	"stake-hedge-watcher/internal/vault"
	"stake-hedge-watcher/internal/vol"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Position  PositionConfig  `mapstructure:"position"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Vol       VolConfig       `mapstructure:"vol"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Hedge     HedgeConfig     `mapstructure:"hedge"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Feeds     FeedsConfig     `mapstructure:"feeds"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the tick cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// PositionConfig identifies the managed position and its actors.
type PositionConfig struct {
	Authority    string `mapstructure:"authority"`
	Keeper       string `mapstructure:"keeper"`
	StakedUnits  uint64 `mapstructure:"staked_units"`
	ReserveUnits uint64 `mapstructure:"reserve_units"`
}

// PolicyConfig tunes the band/interval mapping.
type PolicyConfig struct {
	MinBandBps        uint16        `mapstructure:"min_band_bps"`
	MaxBandBps        uint16        `mapstructure:"max_band_bps"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
	MaxInterval       time.Duration `mapstructure:"max_interval"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	MaxSlewBps        uint16        `mapstructure:"max_slew_bps"`
	HysteresisBps     uint16        `mapstructure:"hysteresis_bps"`
	WeightRealizedBps uint16        `mapstructure:"weight_realized_bps"`
	WeightImpliedBps  uint16        `mapstructure:"weight_implied_bps"`
}

// VolConfig selects the realized-vol estimator.
type VolConfig struct {
	Mode          string        `mapstructure:"mode"`
	EWMAAlphaBps  uint16        `mapstructure:"ewma_alpha_bps"`
	MinSamples    uint8         `mapstructure:"min_samples"`
	ReturnSpacing time.Duration `mapstructure:"return_spacing"`
}

// OracleConfig bounds quote acceptance.
type OracleConfig struct {
	FeedPolicy string        `mapstructure:"feed_policy"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	MaxConfBps uint16        `mapstructure:"max_conf_bps"`
	MaxJumpBps uint16        `mapstructure:"max_jump_bps"`
}

// HedgeConfig sizes and times the hedge.
type HedgeConfig struct {
	TargetDeltaBps  uint16        `mapstructure:"target_delta_bps"`
	Beta            float64       `mapstructure:"beta"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
	ExtremeDriftBps uint16        `mapstructure:"extreme_drift_bps"`
	AutoConfirm     bool          `mapstructure:"auto_confirm"`
	SlippageBps     uint16        `mapstructure:"auto_confirm_slippage_bps"`
}

// RiskConfig carries the hard guardrails.
type RiskConfig struct {
	MaxStakedUnits     uint64  `mapstructure:"max_staked_units"`
	MaxAbsNotionalUSD  float64 `mapstructure:"max_abs_notional_usd"`
	MaxPerUnitUSD      float64 `mapstructure:"max_per_unit_usd"`
	MinReserveBps      uint16  `mapstructure:"min_reserve_bps"`
	MaxUpdatesPerEpoch uint16  `mapstructure:"max_updates_per_epoch"`
	KeeperBondRequired uint64  `mapstructure:"keeper_bond_required"`
}

// FeedsConfig covers the price sources.
type FeedsConfig struct {
	Pyth      PythConfig      `mapstructure:"pyth"`
	Chainlink ChainlinkConfig `mapstructure:"chainlink"`
}

// PythConfig reads Hermes HTTP price endpoints.
type PythConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	PrimaryID      string        `mapstructure:"primary_id"`
	SecondaryID    string        `mapstructure:"secondary_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ChainlinkConfig reads an on-chain aggregator as the secondary feed.
type ChainlinkConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	RPCURL         string        `mapstructure:"rpc_url"`
	Aggregator     string        `mapstructure:"aggregator"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot target.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HEDGEWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "hedgewatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x68656467))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("position.authority", "authority")
	v.SetDefault("position.keeper", "keeper")

	v.SetDefault("policy.min_band_bps", 100)
	v.SetDefault("policy.max_band_bps", 1000)
	v.SetDefault("policy.min_interval", "1m")
	v.SetDefault("policy.max_interval", "1h")
	v.SetDefault("policy.cooldown", "5m")
	v.SetDefault("policy.max_slew_bps", 1000)
	v.SetDefault("policy.hysteresis_bps", 50)
	v.SetDefault("policy.weight_realized_bps", 6000)
	v.SetDefault("policy.weight_implied_bps", 4000)

	v.SetDefault("vol.mode", "stdev")
	v.SetDefault("vol.ewma_alpha_bps", 2000)
	v.SetDefault("vol.min_samples", 4)
	v.SetDefault("vol.return_spacing", "1m")

	v.SetDefault("oracle.feed_policy", "prefer_primary")
	v.SetDefault("oracle.max_age", "60s")
	v.SetDefault("oracle.max_conf_bps", 100)
	v.SetDefault("oracle.max_jump_bps", 2000)

	v.SetDefault("hedge.target_delta_bps", 5000)
	v.SetDefault("hedge.beta", 1.0)
	v.SetDefault("hedge.confirm_timeout", "5m")
	v.SetDefault("hedge.extreme_drift_bps", 1500)
	v.SetDefault("hedge.auto_confirm", false)
	v.SetDefault("hedge.auto_confirm_slippage_bps", 10)

	v.SetDefault("risk.max_staked_units", uint64(1_000_000_000_000))
	v.SetDefault("risk.max_abs_notional_usd", 1_000_000.0)
	v.SetDefault("risk.max_per_unit_usd", 2.0)
	v.SetDefault("risk.min_reserve_bps", 0)
	v.SetDefault("risk.max_updates_per_epoch", 1000)
	v.SetDefault("risk.keeper_bond_required", uint64(0))

	v.SetDefault("feeds.pyth.base_url", "https://hermes.pyth.network")
	v.SetDefault("feeds.pyth.request_timeout", "10s")
	v.SetDefault("feeds.pyth.user_agent", "hedgewatcher/1.0")
	v.SetDefault("feeds.chainlink.enabled", false)
	v.SetDefault("feeds.chainlink.request_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9105")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
// Position-level invariants are enforced again by vault.Params.Validate.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Position.Authority == "" {
		return fmt.Errorf("position.authority is required")
	}
	if c.Position.Keeper == "" {
		return fmt.Errorf("position.keeper is required")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Hedge.Beta <= 0 {
		return fmt.Errorf("hedge.beta must be greater than zero")
	}
	if _, err := c.volMode(); err != nil {
		return err
	}
	if _, err := c.feedPolicy(); err != nil {
		return err
	}
	if c.Feeds.Pyth.PrimaryID == "" {
		return fmt.Errorf("feeds.pyth.primary_id is required")
	}
	if c.Feeds.Chainlink.Enabled {
		if c.Feeds.Chainlink.RPCURL == "" {
			return fmt.Errorf("feeds.chainlink.rpc_url is required when enabled")
		}
		if c.Feeds.Chainlink.Aggregator == "" {
			return fmt.Errorf("feeds.chainlink.aggregator is required when enabled")
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

func (c *Config) volMode() (vol.Mode, error) {
	switch strings.ToLower(c.Vol.Mode) {
	case "stdev":
		return vol.ModeStdev, nil
	case "ewma":
		return vol.ModeEWMA, nil
	case "mad":
		return vol.ModeMAD, nil
	}
	return 0, fmt.Errorf("vol.mode must be stdev, ewma or mad")
}

func (c *Config) feedPolicy() (oracle.FeedPolicy, error) {
	switch strings.ToLower(c.Oracle.FeedPolicy) {
	case "primary_only":
		return oracle.PolicyPrimaryOnly, nil
	case "secondary_only":
		return oracle.PolicySecondaryOnly, nil
	case "prefer_primary":
		return oracle.PolicyPreferPrimary, nil
	}
	return 0, fmt.Errorf("oracle.feed_policy must be primary_only, secondary_only or prefer_primary")
}

// VaultParams maps runtime configuration onto the position parameters.
// Durations become ticks at one tick per second.
func (c *Config) VaultParams() (vault.Params, error) {
	mode, err := c.volMode()
	if err != nil {
		return vault.Params{}, err
	}
	feedPolicy, err := c.feedPolicy()
	if err != nil {
		return vault.Params{}, err
	}
	p := vault.Params{
		Policy: policy.Config{
			MinBandBps:        c.Policy.MinBandBps,
			MaxBandBps:        c.Policy.MaxBandBps,
			MinInterval:       int64(c.Policy.MinInterval / time.Second),
			MaxInterval:       int64(c.Policy.MaxInterval / time.Second),
			CooldownTicks:     int64(c.Policy.Cooldown / time.Second),
			MaxSlewBps:        c.Policy.MaxSlewBps,
			HysteresisBps:     c.Policy.HysteresisBps,
			WeightRealizedBps: c.Policy.WeightRealizedBps,
			WeightImpliedBps:  c.Policy.WeightImpliedBps,
			MinSamples:        c.Vol.MinSamples,
		},
		Oracle: oracle.GateConfig{
			Policy:     feedPolicy,
			MaxAgeSec:  int64(c.Oracle.MaxAge / time.Second),
			MaxConfBps: c.Oracle.MaxConfBps,
			MaxJumpBps: c.Oracle.MaxJumpBps,
		},
		Hedge: hedge.Config{
			TargetDeltaBps:      c.Hedge.TargetDeltaBps,
			BetaFP:              int64(c.Hedge.Beta * fixedpoint.Scale),
			MaxAbsNotional:      int64(c.Risk.MaxAbsNotionalUSD * fixedpoint.Scale),
			MaxPerUnitFP:        int64(c.Risk.MaxPerUnitUSD * fixedpoint.Scale),
			ConfirmTimeoutTicks: int64(c.Hedge.ConfirmTimeout / time.Second),
			ExtremeDriftBps:     c.Hedge.ExtremeDriftBps,
		},
		VolMode:            mode,
		EWMAAlphaBps:       c.Vol.EWMAAlphaBps,
		ReturnSpacingTicks: int64(c.Vol.ReturnSpacing / time.Second),
		MaxStakedUnits:     c.Risk.MaxStakedUnits,
		MinReserveBps:      c.Risk.MinReserveBps,
		MaxUpdatesPerEpoch: c.Risk.MaxUpdatesPerEpoch,
		KeeperBondRequired: c.Risk.KeeperBondRequired,
	}
	if err := p.Validate(); err != nil {
		return vault.Params{}, err
	}
	return p, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	return resolvePositive(override, c.Export.MaxDataPoints)
}

func resolvePositive(override, def int) int {
	if override > 0 {
		return override
	}
	return def
}
