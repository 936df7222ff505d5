// Package config defines all configuration for the trading control plane.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// secrets overridable via environment variables (REDIS_URL, POLYGON_API_KEY,
// TRADIER_SANDBOX_TOKEN, TRADIER_SANDBOX_ACCOUNT, ACCOUNT_EQUITY, OMS_AUDIT_*,
// STREAM_AUDIT_*).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Paper    bool           `mapstructure:"paper"`
	Fabric   FabricConfig   `mapstructure:"fabric"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Features FeaturesConfig `mapstructure:"features"`
	Gates    GateConfig     `mapstructure:"gates"`
	Risk     RiskConfig     `mapstructure:"risk"`
	OMS      OMSConfig      `mapstructure:"oms"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Learner  LearnerConfig  `mapstructure:"learner"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	API      APIConfig      `mapstructure:"api"`
}

// FabricConfig selects and bounds the stream fabric. An empty RedisURL keeps
// the pipeline on the in-memory bus.
type FabricConfig struct {
	RedisURL         string   `mapstructure:"redis_url"`
	MaxLen           int      `mapstructure:"max_len"`
	BlockMS          int      `mapstructure:"block_ms"`
	AuditPath        string   `mapstructure:"audit_path"`
	AuditStreams     []string `mapstructure:"audit_streams"`
	AuditRotateBytes int64    `mapstructure:"audit_rotate_bytes"`
}

// IngestConfig controls the market-data edge. Without a Polygon API key the
// service publishes a synthetic feed so the rest of the pipeline can run.
type IngestConfig struct {
	PolygonAPIKey    string   `mapstructure:"polygon_api_key"`
	Stocks           []string `mapstructure:"stocks"`
	Indices          []string `mapstructure:"indices"`
	HeartbeatSecs    int      `mapstructure:"heartbeat_secs"`
	EnableStocksWS   bool     `mapstructure:"enable_stocks_ws"`
	EnableIndicesWS  bool     `mapstructure:"enable_indices_ws"`
	EnableOptionsWS  bool     `mapstructure:"enable_options_ws"`
	OptionRotateSecs int      `mapstructure:"option_rotate_secs"`
	MaxContracts     int      `mapstructure:"max_contracts"`
	StrikesAroundATM int      `mapstructure:"strikes_around_atm"`
	DeltaMin         float64  `mapstructure:"delta_min"`
	DeltaMax         float64  `mapstructure:"delta_max"`
	DTEMin           int      `mapstructure:"dte_min"`
	DTEMax           int      `mapstructure:"dte_max"`
	SnapshotPath     string   `mapstructure:"snapshot_path"`
	SnapshotRotateMB int      `mapstructure:"snapshot_rotate_mb"`
}

// FeaturesConfig tunes the rolling indicator engine.
//
//   - BandsSigmas: VWAP band multiples to emit (keyed "1", "2", ... downstream).
//   - BandStdevWindowSecs: window for the band deviation stdev.
//   - SlopeLookback: trailing VWAP points for the least-squares slope.
//   - ATRMinLookback / ATRFastSecs: Wilder period and fast-EMA alpha seconds.
//   - ADXTFMinutes: directional index timeframe (3 → adx_3m).
//   - TermDays: IV term buckets; SkewDelta: target delta for the 25Δ skew.
//   - NBBOStaleMS / NBBOMaxSpreadPct: liquidity gate raw limits (pct is in
//     percent; the gate divides by 100).
//   - SpreadStressZ: z-score above which the spread state is "stressed".
//   - ESLeadConfirmSecs: how long an ES agreement flag stays fresh.
type FeaturesConfig struct {
	BandsSigmas         []int   `mapstructure:"bands_sigmas"`
	BandStdevWindowSecs int     `mapstructure:"band_stdev_window_secs"`
	SlopeLookback       int     `mapstructure:"slope_lookback"`
	ATRMinLookback      int     `mapstructure:"atr_min_lookback"`
	ATRFastSecs         int     `mapstructure:"atr_fast_secs"`
	ADXTFMinutes        int     `mapstructure:"adx_tf_minutes"`
	TermDays            []int   `mapstructure:"term_days"`
	SkewDelta           float64 `mapstructure:"skew_delta"`
	NBBOStaleMS         float64 `mapstructure:"nbbo_stale_ms"`
	NBBOMaxSpreadPct    float64 `mapstructure:"nbbo_max_spread_pct"`
	SpreadStressZ       float64 `mapstructure:"spread_stress_z"`
	ESLeadConfirmSecs   int     `mapstructure:"es_lead_confirm_secs"`
}

// GateConfig holds the static signal admission thresholds. The learner may
// override PotThreshold and ADXThreshold per adjustment packet.
type GateConfig struct {
	NBBOAgeMSMax   float64 `mapstructure:"nbbo_age_ms_max"`
	SpreadPctMax   float64 `mapstructure:"spread_pct_max"`
	TrendThreshold float64 `mapstructure:"trend_threshold"`
	ADXThreshold   float64 `mapstructure:"adx_threshold"`
	PotThreshold   float64 `mapstructure:"pot_threshold"`
}

// DefensiveConfig raises the defensive-mode flag when execution quality
// degrades beyond these z-scores.
type DefensiveConfig struct {
	SlippageZ float64 `mapstructure:"slippage_z"`
	SpreadZ   float64 `mapstructure:"spread_z"`
}

// RiskConfig sets the admission limits for new entries.
//
//   - DailyLossCap: cumulative PnL floor (negative); at or below it, no entries.
//   - PerTradeMaxRiskPct: per-trade risk budget as a fraction of equity.
//   - MaxConcurrentPositions: open position cap.
//   - NoTradeFirstSeconds: entry blackout after session start.
//   - EconHaltMinutesPrePost: blackout around scheduled economic events.
//   - ForceFlatBeforeCloseSecs: entry blackout approaching the close.
type RiskConfig struct {
	DailyLossCap             float64         `mapstructure:"daily_loss_cap"`
	PerTradeMaxRiskPct       float64         `mapstructure:"per_trade_max_risk_pct"`
	MaxConcurrentPositions   int             `mapstructure:"max_concurrent_positions"`
	NoTradeFirstSeconds      int             `mapstructure:"no_trade_first_seconds"`
	EconHaltMinutesPrePost   int             `mapstructure:"econ_halt_minutes_pre_post"`
	ForceFlatBeforeCloseSecs int             `mapstructure:"force_flat_before_close_secs"`
	Defensive                DefensiveConfig `mapstructure:"defensive_mode"`
	AccountEquity            float64         `mapstructure:"account_equity"`
	CalendarPath             string          `mapstructure:"calendar_path"`
}

// OMSConfig controls order routing and the status lifecycle.
type OMSConfig struct {
	Paper                   bool    `mapstructure:"paper"`
	OrderType               string  `mapstructure:"order_type"`
	UseOTOCO                bool    `mapstructure:"use_otoco"`
	DefaultLimitOffsetTicks float64 `mapstructure:"default_limit_offset_ticks"`
	ModifyStopOnUnderlying  bool    `mapstructure:"modify_stop_on_underlying"`
	TrailRatio              float64 `mapstructure:"trail_ratio"`
	PollIntervalSecs        float64 `mapstructure:"poll_interval_secs"`
	StatusTimeoutSecs       float64 `mapstructure:"status_timeout_secs"`
	AuditPath               string  `mapstructure:"audit_path"`
	AuditRotateMB           int     `mapstructure:"audit_rotate_mb"`
}

// BrokerConfig holds the live broker HTTP adapter settings. Token and
// AccountID come from TRADIER_SANDBOX_TOKEN / TRADIER_SANDBOX_ACCOUNT.
type BrokerConfig struct {
	BaseURL            string  `mapstructure:"base_url"`
	Token              string  `mapstructure:"token"`
	AccountID          string  `mapstructure:"account_id"`
	RequestTimeoutSecs float64 `mapstructure:"request_timeout_secs"`
	MaxRetries         int     `mapstructure:"max_retries"`
	RetryBackoffSecs   float64 `mapstructure:"retry_backoff_secs"`
	RateLimitPerSec    float64 `mapstructure:"rate_limit_per_sec"`
}

// LearnerConfig controls the adaptive layer.
type LearnerConfig struct {
	CalibrationPath    string  `mapstructure:"calibration_path"`
	ChangepointWindow  int     `mapstructure:"changepoint_window"`
	ChangepointZ       float64 `mapstructure:"changepoint_threshold"`
	RewardFilled       float64 `mapstructure:"reward_filled"`
	RewardCancelled    float64 `mapstructure:"reward_cancelled"`
	BaseRiskMultiplier float64 `mapstructure:"base_risk_multiplier"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig controls the ops HTTP server (snapshot, SSE tail, metrics).
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paper", true)

	v.SetDefault("fabric.max_len", 1000)
	v.SetDefault("fabric.block_ms", 1000)
	v.SetDefault("fabric.audit_rotate_bytes", 536870912)

	v.SetDefault("ingest.stocks", []string{"SPY", "QQQ"})
	v.SetDefault("ingest.indices", []string{})
	v.SetDefault("ingest.heartbeat_secs", 5)
	v.SetDefault("ingest.enable_stocks_ws", true)
	v.SetDefault("ingest.enable_indices_ws", false)
	v.SetDefault("ingest.enable_options_ws", false)
	v.SetDefault("ingest.option_rotate_secs", 300)
	v.SetDefault("ingest.max_contracts", 200)
	v.SetDefault("ingest.strikes_around_atm", 8)
	v.SetDefault("ingest.delta_min", 0.2)
	v.SetDefault("ingest.delta_max", 0.6)
	v.SetDefault("ingest.dte_min", 0)
	v.SetDefault("ingest.dte_max", 3)
	v.SetDefault("ingest.snapshot_rotate_mb", 256)

	v.SetDefault("features.bands_sigmas", []int{1, 2})
	v.SetDefault("features.band_stdev_window_secs", 300)
	v.SetDefault("features.slope_lookback", 30)
	v.SetDefault("features.atr_min_lookback", 14)
	v.SetDefault("features.atr_fast_secs", 5)
	v.SetDefault("features.adx_tf_minutes", 3)
	v.SetDefault("features.term_days", []int{9, 30, 60})
	v.SetDefault("features.skew_delta", 0.25)
	v.SetDefault("features.nbbo_stale_ms", 800)
	v.SetDefault("features.nbbo_max_spread_pct", 1.0)
	v.SetDefault("features.spread_stress_z", 2.0)
	v.SetDefault("features.es_lead_confirm_secs", 5)

	v.SetDefault("gates.nbbo_age_ms_max", 800)
	v.SetDefault("gates.spread_pct_max", 0.01)
	v.SetDefault("gates.trend_threshold", -0.2)
	v.SetDefault("gates.adx_threshold", 20)
	v.SetDefault("gates.pot_threshold", 0.55)

	v.SetDefault("risk.daily_loss_cap", -500.0)
	v.SetDefault("risk.per_trade_max_risk_pct", 0.007)
	v.SetDefault("risk.max_concurrent_positions", 2)
	v.SetDefault("risk.no_trade_first_seconds", 90)
	v.SetDefault("risk.econ_halt_minutes_pre_post", 3)
	v.SetDefault("risk.force_flat_before_close_secs", 180)
	v.SetDefault("risk.defensive_mode.slippage_z", 2.0)
	v.SetDefault("risk.defensive_mode.spread_z", 2.0)
	v.SetDefault("risk.account_equity", 25000.0)

	v.SetDefault("oms.paper", true)
	v.SetDefault("oms.order_type", "marketable_limit")
	v.SetDefault("oms.use_otoco", true)
	v.SetDefault("oms.default_limit_offset_ticks", 0.05)
	v.SetDefault("oms.modify_stop_on_underlying", true)
	v.SetDefault("oms.trail_ratio", 0.6)
	v.SetDefault("oms.poll_interval_secs", 1.0)
	v.SetDefault("oms.status_timeout_secs", 30.0)
	v.SetDefault("oms.audit_rotate_mb", 64)

	v.SetDefault("broker.base_url", "https://sandbox.tradier.com/v1")
	v.SetDefault("broker.request_timeout_secs", 5.0)
	v.SetDefault("broker.max_retries", 3)
	v.SetDefault("broker.retry_backoff_secs", 0.5)
	v.SetDefault("broker.rate_limit_per_sec", 2.0)

	v.SetDefault("learner.calibration_path", "backtests/calibration.json")
	v.SetDefault("learner.changepoint_window", 120)
	v.SetDefault("learner.changepoint_threshold", 5.0)
	v.SetDefault("learner.reward_filled", 0.1)
	v.SetDefault("learner.reward_cancelled", -0.05)
	v.SetDefault("learner.base_risk_multiplier", 1.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8089)
}

// Load reads config from a YAML file with env var overrides. An empty path
// yields the defaults (paper trading, in-memory fabric).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GAMMABOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides wires the well-known environment variables over whatever
// the file set. These names predate the prefixed scheme and are kept for
// deploy compatibility.
func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Fabric.RedisURL = url
	}
	if key := os.Getenv("POLYGON_API_KEY"); key != "" {
		cfg.Ingest.PolygonAPIKey = key
	}
	if token := os.Getenv("TRADIER_SANDBOX_TOKEN"); token != "" {
		cfg.Broker.Token = token
	}
	if account := os.Getenv("TRADIER_SANDBOX_ACCOUNT"); account != "" {
		cfg.Broker.AccountID = account
	}
	if equity := os.Getenv("ACCOUNT_EQUITY"); equity != "" {
		if val, err := strconv.ParseFloat(equity, 64); err == nil && val > 0 {
			cfg.Risk.AccountEquity = val
		}
	}
	if path := os.Getenv("OMS_AUDIT_PATH"); path != "" {
		cfg.OMS.AuditPath = path
	}
	if mb := os.Getenv("OMS_AUDIT_ROTATE_MB"); mb != "" {
		if val, err := strconv.Atoi(mb); err == nil && val > 0 {
			cfg.OMS.AuditRotateMB = val
		}
	}
	if path := os.Getenv("STREAM_AUDIT_PATH"); path != "" {
		cfg.Fabric.AuditPath = path
	}
	if streams := os.Getenv("STREAM_AUDIT_STREAMS"); streams != "" {
		parts := strings.Split(streams, ",")
		cfg.Fabric.AuditStreams = cfg.Fabric.AuditStreams[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Fabric.AuditStreams = append(cfg.Fabric.AuditStreams, p)
			}
		}
	}
	if bytes := os.Getenv("STREAM_AUDIT_ROTATE_BYTES"); bytes != "" {
		if val, err := strconv.ParseInt(bytes, 10, 64); err == nil && val > 0 {
			cfg.Fabric.AuditRotateBytes = val
		}
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if !c.Paper {
		if c.Broker.Token == "" {
			return fmt.Errorf("broker.token is required for live trading (set TRADIER_SANDBOX_TOKEN)")
		}
		if c.Broker.AccountID == "" {
			return fmt.Errorf("broker.account_id is required for live trading (set TRADIER_SANDBOX_ACCOUNT)")
		}
	}
	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if c.Risk.AccountEquity <= 0 {
		return fmt.Errorf("risk.account_equity must be > 0")
	}
	if c.Risk.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("risk.max_concurrent_positions must be > 0")
	}
	if c.Risk.PerTradeMaxRiskPct <= 0 || c.Risk.PerTradeMaxRiskPct >= 1 {
		return fmt.Errorf("risk.per_trade_max_risk_pct must be in (0, 1)")
	}
	if c.Gates.PotThreshold <= 0 || c.Gates.PotThreshold > 1 {
		return fmt.Errorf("gates.pot_threshold must be in (0, 1]")
	}
	if c.Fabric.MaxLen <= 0 {
		return fmt.Errorf("fabric.max_len must be > 0")
	}
	if c.Ingest.MaxContracts <= 0 {
		return fmt.Errorf("ingest.max_contracts must be > 0")
	}
	if c.OMS.PollIntervalSecs <= 0 {
		return fmt.Errorf("oms.poll_interval_secs must be > 0")
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be a valid TCP port")
	}
	return nil
}
