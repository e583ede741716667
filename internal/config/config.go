// Package config loads the core's configuration: secrets from the
// environment, numeric trading/execution/exit parameters from a YAML file.
// Following the teacher's internal/config/config.go, defaults are applied in
// Load and the venue secrets are read with plain os.Getenv calls.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// VenueConfig is the per-venue secret/connection block (spec section 6).
type VenueConfig struct {
	Name           string `yaml:"name"`
	RESTBaseURL    string `yaml:"rest_base_url"`
	WSURL          string `yaml:"ws_url"`
	APIKey         string `yaml:"-"` // from env, never from the YAML file
	APISecret      string `yaml:"-"`
	AccountIndex   *int   `yaml:"account_index"` // nil: unset; 0 is a valid distinct account
	RateLimitClass string `yaml:"rate_limit_class"`
	PoolSize       int    `yaml:"pool_size"`
}

// TradingConfig is the trading/opportunity parameter block.
type TradingConfig struct {
	DesiredNotionalUSD            decimal.Decimal `yaml:"desired_notional_usd"`
	MaxOpenTrades                 int             `yaml:"max_open_trades"`
	LeverageMultiplier            decimal.Decimal `yaml:"leverage_multiplier"`
	MinAPYThreshold                decimal.Decimal `yaml:"min_apy_threshold"`
	MinEVUsd                      decimal.Decimal `yaml:"min_ev_usd"`
	MaxBreakevenHours              decimal.Decimal `yaml:"max_breakeven_hours"`
	MaxSpreadPct                   decimal.Decimal `yaml:"max_spread_pct"`
	HedgeDepthPreflightMultiplier decimal.Decimal `yaml:"hedge_depth_preflight_multiplier"`
	MinHoldSeconds                int             `yaml:"min_hold_seconds"`
	MaxHoldHours                   decimal.Decimal `yaml:"max_hold_hours"`
	MinNotional                    decimal.Decimal `yaml:"min_notional"`
	MaxNotionalPerTrade            decimal.Decimal `yaml:"max_notional_per_trade"`
	ScoreLambda                    decimal.Decimal `yaml:"score_lambda"`
	CooldownBaseSeconds            int             `yaml:"cooldown_base_seconds"`
	CooldownMaxFailures            int             `yaml:"cooldown_max_failures"`
}

// ExecutionConfig is the hedged-open/close execution parameter block.
type ExecutionConfig struct {
	MakerOffsetTicks              int             `yaml:"maker_offset_ticks"`
	MakerTimeoutSeconds           int             `yaml:"maker_timeout_seconds"`
	MakerMaxRetries               int             `yaml:"maker_max_retries"`
	MakerMaxAggressiveness        decimal.Decimal `yaml:"maker_max_aggressiveness"`
	Leg1EscalateToTakerEnabled    bool            `yaml:"leg1_escalate_to_taker_enabled"`
	Leg1EscalateToTakerSlippage   decimal.Decimal `yaml:"leg1_escalate_to_taker_slippage"`
	HedgeIOCMaxAttempts           int             `yaml:"hedge_ioc_max_attempts"`
	HedgeIOCSlippageStep          decimal.Decimal `yaml:"hedge_ioc_slippage_step"`
	HedgeIOCMaxSlippage           decimal.Decimal `yaml:"hedge_ioc_max_slippage"`
	ParallelExecutionTimeout      time.Duration   `yaml:"parallel_execution_timeout"`
	RollbackMaxSlippage           decimal.Decimal `yaml:"rollback_max_slippage"`
	CloseMaxSlippage              decimal.Decimal `yaml:"close_max_slippage"`
	StepTolerance                 decimal.Decimal `yaml:"step_tolerance"`
}

// ExitsConfig is the position-manager exit-rule parameter block.
type ExitsConfig struct {
	EarlyTPUsd                 decimal.Decimal `yaml:"early_tp_usd"`
	EarlyTPMinAge              time.Duration   `yaml:"early_tp_min_age"`
	EarlyEdgeMinAge            time.Duration   `yaml:"early_edge_min_age"`
	MinProfitExitUsd           decimal.Decimal `yaml:"min_profit_exit_usd"`
	ExitCostMultiple           decimal.Decimal `yaml:"exit_cost_multiple"`
	YieldCostHoursCap          decimal.Decimal `yaml:"yield_cost_hours_cap"`
	BasisMin                   decimal.Decimal `yaml:"basis_min"`
	VelocityWindowHours        int             `yaml:"velocity_window_h"`
	VelocityThresholdHourly    decimal.Decimal `yaml:"velocity_threshold_hourly"`
	ATRMultiplier              decimal.Decimal `yaml:"atr_multiplier"`
	ATRMinActivationUsd        decimal.Decimal `yaml:"atr_min_activation_usd"`
	ZExitThreshold             decimal.Decimal `yaml:"z_exit_threshold"`
	FundingFlipHoursThreshold  decimal.Decimal `yaml:"funding_flip_hours_threshold"`
	LiqBufferPct               decimal.Decimal `yaml:"liq_buffer_pct"`
	CatastrophicAPYFloor       decimal.Decimal `yaml:"catastrophic_apy_floor"`
	DeltaBoundPct              decimal.Decimal `yaml:"delta_bound_pct"`
	DeltaViolationTicks        int             `yaml:"delta_violation_ticks"`
}

// SafetyConfig is the supervisor's kill-switch parameter block.
type SafetyConfig struct {
	MaxConsecutiveFailures     int             `yaml:"max_consecutive_failures"`
	MaxDrawdownPct             decimal.Decimal `yaml:"max_drawdown_pct"`
	BrokenHedgeCooldownSeconds int             `yaml:"broken_hedge_cooldown_seconds"`
	// AutoImportGhosts controls whether the reconciler adopts an
	// exchange-side position with no matching trade row into the store
	// (spec section 4.H). Defaults to false: an unexplained position is
	// surfaced as an alert, not silently taken under management.
	AutoImportGhosts bool `yaml:"auto_import_ghosts"`
}

// Config is the fully resolved configuration the supervisor is built from.
type Config struct {
	LiveTrading               bool   `yaml:"live_trading"`
	FundingRateIntervalHours  int    `yaml:"funding_rate_interval_hours"`
	DatabasePath              string `yaml:"database_path"`

	MakerVenue VenueConfig `yaml:"maker_venue"`
	HedgeVenue VenueConfig `yaml:"hedge_venue"`

	Trading   TradingConfig   `yaml:"trading"`
	Execution ExecutionConfig `yaml:"execution"`
	Exits     ExitsConfig     `yaml:"exits"`
	Safety    SafetyConfig    `yaml:"safety"`
}

// Load reads .env (if present, via godotenv — teacher precedent), then the
// YAML file at path, then overlays venue secrets from the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.MakerVenue.APIKey = os.Getenv("MAKER_VENUE_API_KEY")
	cfg.MakerVenue.APISecret = os.Getenv("MAKER_VENUE_API_SECRET")
	cfg.HedgeVenue.APIKey = os.Getenv("HEDGE_VENUE_API_KEY")
	cfg.HedgeVenue.APISecret = os.Getenv("HEDGE_VENUE_API_SECRET")

	return cfg, nil
}

// Default returns the teacher-style baked-in defaults, overridden by
// whatever the YAML file and environment supply.
func Default() *Config {
	return &Config{
		FundingRateIntervalHours: 1,
		DatabasePath:             "data/fundingarb.db",
		Trading: TradingConfig{
			DesiredNotionalUSD:            decimal.NewFromInt(350),
			MaxOpenTrades:                 5,
			LeverageMultiplier:            decimal.NewFromInt(1),
			MinAPYThreshold:               decimal.NewFromFloat(0.10),
			MinEVUsd:                      decimal.NewFromFloat(1.0),
			MaxBreakevenHours:             decimal.NewFromInt(48),
			MaxSpreadPct:                  decimal.NewFromFloat(0.002),
			HedgeDepthPreflightMultiplier: decimal.NewFromFloat(2.0),
			MinHoldSeconds:                48 * 3600,
			MaxHoldHours:                  decimal.NewFromInt(24 * 14),
			MinNotional:                   decimal.NewFromInt(50),
			MaxNotionalPerTrade:           decimal.NewFromInt(5000),
			ScoreLambda:                   decimal.NewFromFloat(1.0),
			CooldownBaseSeconds:           60,
			CooldownMaxFailures:           3,
		},
		Execution: ExecutionConfig{
			MakerOffsetTicks:            1,
			MakerTimeoutSeconds:         5,
			MakerMaxRetries:             3,
			MakerMaxAggressiveness:      decimal.NewFromFloat(0.002),
			Leg1EscalateToTakerEnabled:  true,
			Leg1EscalateToTakerSlippage: decimal.NewFromFloat(0.002),
			HedgeIOCMaxAttempts:         4,
			HedgeIOCSlippageStep:        decimal.NewFromFloat(0.0005),
			HedgeIOCMaxSlippage:         decimal.NewFromFloat(0.003),
			ParallelExecutionTimeout:    60 * time.Second,
			RollbackMaxSlippage:         decimal.NewFromFloat(0.005),
			CloseMaxSlippage:            decimal.NewFromFloat(0.005),
			StepTolerance:               decimal.NewFromFloat(0.00000001),
		},
		Exits: ExitsConfig{
			EarlyTPUsd:                decimal.NewFromInt(20),
			EarlyTPMinAge:             6 * time.Hour,
			EarlyEdgeMinAge:           6 * time.Hour,
			MinProfitExitUsd:          decimal.NewFromInt(10),
			ExitCostMultiple:          decimal.NewFromFloat(1.5),
			YieldCostHoursCap:         decimal.NewFromInt(72),
			BasisMin:                  decimal.NewFromFloat(0.0005),
			VelocityWindowHours:       24,
			VelocityThresholdHourly:   decimal.NewFromFloat(-0.00002),
			ATRMultiplier:             decimal.NewFromFloat(2.0),
			ATRMinActivationUsd:       decimal.NewFromInt(15),
			ZExitThreshold:            decimal.NewFromFloat(-2.0),
			FundingFlipHoursThreshold: decimal.NewFromInt(6),
			LiqBufferPct:              decimal.NewFromFloat(0.15),
			CatastrophicAPYFloor:      decimal.NewFromFloat(-2.0),
			DeltaBoundPct:             decimal.NewFromFloat(0.03),
			DeltaViolationTicks:       3,
		},
		Safety: SafetyConfig{
			MaxConsecutiveFailures:     5,
			MaxDrawdownPct:             decimal.NewFromFloat(0.20),
			BrokenHedgeCooldownSeconds: 900,
			AutoImportGhosts:           false,
		},
	}
}

// Validate enforces the blast-radius guards spec section 3/8 require. It is
// called before the supervisor starts in live mode (S4: funding_rate_interval_hours
// != 1 must fail fast, before any network call).
func (c *Config) Validate() error {
	if c.LiveTrading && c.FundingRateIntervalHours != 1 {
		return fmt.Errorf("funding_rate_interval_hours must equal 1 in live mode, got %d", c.FundingRateIntervalHours)
	}
	if c.MakerVenue.Name == "" || c.HedgeVenue.Name == "" {
		return fmt.Errorf("both maker_venue and hedge_venue must be named")
	}
	if c.LiveTrading {
		if c.MakerVenue.APIKey == "" || c.HedgeVenue.APIKey == "" {
			return fmt.Errorf("live_trading requires both venues' API keys to be set")
		}
		if c.MakerVenue.RESTBaseURL == "" || c.HedgeVenue.RESTBaseURL == "" {
			return fmt.Errorf("live_trading requires both venues' rest_base_url to be set")
		}
	}
	return nil
}
