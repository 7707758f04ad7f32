package models

import "github.com/shopspring/decimal"

// Config is the full runtime configuration, decoded from a JSON file.
// All percentage fields are fractions of one (0.03 means 3%). Secrets
// (exchange keys, Telegram token, indicator API key) come from the
// environment, never from this file.
type Config struct {
	Symbols            []string        `json:"symbols"`
	QuoteCurrency      string          `json:"quote_currency"`
	Testnet            bool            `json:"testnet"`
	TickIntervalSec    int             `json:"tick_interval_sec"`
	MetricsIntervalSec int             `json:"metrics_interval_sec"`
	DBPath             string          `json:"db_path"`
	JournalPath        string          `json:"journal_path"`
	UsePriceStream     bool            `json:"use_price_stream"`
	PaperBalance       decimal.Decimal `json:"paper_balance"`
	TakerFeeRate       decimal.Decimal `json:"taker_fee_rate"`

	Strategy  StrategyConfig  `json:"strategy"`
	Capital   CapitalConfig   `json:"capital"`
	Entry     EntryConfig     `json:"entry"`
	Risk      RiskConfig      `json:"risk"`
	Indicator IndicatorConfig `json:"indicator"`
	Log       LogConfig       `json:"log"`
}

// StrategyConfig holds the per-cycle trading percentages.
type StrategyConfig struct {
	GridPercent         decimal.Decimal `json:"grid_percent"`          // DCA drop between buys
	HighVolGridPercent  decimal.Decimal `json:"high_vol_grid_percent"` // used when atr/price > 0.02
	ProfitTargetPercent decimal.Decimal `json:"profit_target_percent"`
	TrailingStopPercent decimal.Decimal `json:"trailing_stop_percent"`
	PartialSellPercent  decimal.Decimal `json:"partial_sell_percent"`
	MaxBuys             int             `json:"max_buys"`
}

// CapitalConfig bounds position sizing against the account balance.
type CapitalConfig struct {
	EntryPercent       decimal.Decimal `json:"entry_percent"`
	MaxExposurePercent decimal.Decimal `json:"max_exposure_percent"`
}

// EntryConfig holds the entry-gate thresholds.
type EntryConfig struct {
	RSIOversold    decimal.Decimal `json:"rsi_oversold"`
	VolumeLookback int             `json:"volume_lookback"` // candles in the volume SMA
}

// RiskConfig holds the pause-detector thresholds.
type RiskConfig struct {
	MaxDrawdownPercent     decimal.Decimal `json:"max_drawdown_percent"`
	CrashDropPercent       decimal.Decimal `json:"crash_drop_percent"`
	CrashWindowMinutes     int             `json:"crash_window_minutes"`
	CrashRecoveryRSI       decimal.Decimal `json:"crash_recovery_rsi"`
	LateralCycleCount      int             `json:"lateral_cycle_count"`
	LateralProfitThreshold decimal.Decimal `json:"lateral_profit_threshold"`
	LateralPauseHours      int             `json:"lateral_pause_hours"`
}

// IndicatorConfig selects and tunes the indicator source.
type IndicatorConfig struct {
	Source            string `json:"source"` // "local" or "api"
	APIBaseURL        string `json:"api_base_url"`
	CacheTTLSec       int    `json:"cache_ttl_sec"`
	RateLimitPer15Sec int    `json:"rate_limit_per_15_sec"`
	RateLimitBufferMs int    `json:"rate_limit_buffer_ms"`
	TimeoutSec        int    `json:"timeout_sec"`
}

// LogConfig controls zap output and rotation.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // log file path
	MaxSize    int    `json:"max_size"`    // MB per file
	MaxBackups int    `json:"max_backups"` // rotated files kept
	MaxAge     int    `json:"max_age"`     // days kept
	Compress   bool   `json:"compress"`
}
