package config

import (
	"encoding/json"
	"fmt"
	"os"

	"binance-dca-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Load reads the JSON config at path, fills defaults and validates.
func Load(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := &models.Config{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.TickIntervalSec <= 0 {
		cfg.TickIntervalSec = 60
	}
	if cfg.MetricsIntervalSec <= 0 {
		cfg.MetricsIntervalSec = 300
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/bot.db"
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = "data/journal"
	}
	if cfg.PaperBalance.IsZero() {
		cfg.PaperBalance = decimal.NewFromInt(1000)
	}
	if cfg.TakerFeeRate.IsZero() {
		cfg.TakerFeeRate = decimal.NewFromFloat(0.001)
	}

	s := &cfg.Strategy
	if s.GridPercent.IsZero() {
		s.GridPercent = decimal.NewFromFloat(0.03)
	}
	if s.HighVolGridPercent.IsZero() {
		s.HighVolGridPercent = decimal.NewFromFloat(0.05)
	}
	if s.ProfitTargetPercent.IsZero() {
		s.ProfitTargetPercent = decimal.NewFromFloat(0.03)
	}
	if s.TrailingStopPercent.IsZero() {
		s.TrailingStopPercent = decimal.NewFromFloat(0.015)
	}
	if s.PartialSellPercent.IsZero() {
		s.PartialSellPercent = decimal.NewFromFloat(0.5)
	}
	if s.MaxBuys <= 0 {
		s.MaxBuys = 5
	}

	c := &cfg.Capital
	if c.EntryPercent.IsZero() {
		c.EntryPercent = decimal.NewFromFloat(0.10)
	}
	if c.MaxExposurePercent.IsZero() {
		c.MaxExposurePercent = decimal.NewFromFloat(0.50)
	}

	e := &cfg.Entry
	if e.RSIOversold.IsZero() {
		e.RSIOversold = decimal.NewFromInt(35)
	}
	if e.VolumeLookback <= 0 {
		e.VolumeLookback = 20
	}

	r := &cfg.Risk
	if r.MaxDrawdownPercent.IsZero() {
		r.MaxDrawdownPercent = decimal.NewFromFloat(0.15)
	}
	if r.CrashDropPercent.IsZero() {
		r.CrashDropPercent = decimal.NewFromFloat(0.08)
	}
	if r.CrashWindowMinutes <= 0 {
		r.CrashWindowMinutes = 60
	}
	if r.CrashRecoveryRSI.IsZero() {
		r.CrashRecoveryRSI = decimal.NewFromInt(40)
	}
	if r.LateralCycleCount <= 0 {
		r.LateralCycleCount = 3
	}
	if r.LateralProfitThreshold.IsZero() {
		r.LateralProfitThreshold = decimal.NewFromFloat(0.005)
	}
	if r.LateralPauseHours <= 0 {
		r.LateralPauseHours = 12
	}

	i := &cfg.Indicator
	if i.Source == "" {
		i.Source = "local"
	}
	if i.APIBaseURL == "" {
		i.APIBaseURL = "https://api.taapi.io"
	}
	if i.CacheTTLSec <= 0 {
		i.CacheTTLSec = 300
	}
	if i.RateLimitPer15Sec <= 0 {
		i.RateLimitPer15Sec = 5
	}
	if i.RateLimitBufferMs <= 0 {
		i.RateLimitBufferMs = 500
	}
	if i.TimeoutSec <= 0 {
		i.TimeoutSec = 15
	}

	l := &cfg.Log
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Output == "" {
		l.Output = "console"
	}
	if l.File == "" {
		l.File = "logs/bot.log"
	}
	if l.MaxSize <= 0 {
		l.MaxSize = 50
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 5
	}
	if l.MaxAge <= 0 {
		l.MaxAge = 28
	}
}

// Validate rejects configurations that cannot run safely.
func Validate(cfg *models.Config) error {
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("config: symbols must not be empty")
	}
	one := decimal.NewFromInt(1)
	fractions := map[string]decimal.Decimal{
		"strategy.grid_percent":           cfg.Strategy.GridPercent,
		"strategy.high_vol_grid_percent":  cfg.Strategy.HighVolGridPercent,
		"strategy.profit_target_percent":  cfg.Strategy.ProfitTargetPercent,
		"strategy.trailing_stop_percent":  cfg.Strategy.TrailingStopPercent,
		"strategy.partial_sell_percent":   cfg.Strategy.PartialSellPercent,
		"capital.entry_percent":           cfg.Capital.EntryPercent,
		"capital.max_exposure_percent":    cfg.Capital.MaxExposurePercent,
		"risk.max_drawdown_percent":       cfg.Risk.MaxDrawdownPercent,
		"risk.crash_drop_percent":         cfg.Risk.CrashDropPercent,
		"risk.lateral_profit_threshold":   cfg.Risk.LateralProfitThreshold,
	}
	for name, v := range fractions {
		if v.LessThanOrEqual(decimal.Zero) || v.GreaterThanOrEqual(one) {
			return fmt.Errorf("config: %s must be in (0, 1), got %s", name, v)
		}
	}
	if cfg.Capital.EntryPercent.GreaterThan(cfg.Capital.MaxExposurePercent) {
		return fmt.Errorf("config: capital.entry_percent exceeds capital.max_exposure_percent")
	}
	switch cfg.Indicator.Source {
	case "local", "api":
	default:
		return fmt.Errorf("config: indicator.source must be \"local\" or \"api\", got %q", cfg.Indicator.Source)
	}
	switch cfg.Log.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("config: log.output must be console, file or both, got %q", cfg.Log.Output)
	}
	return nil
}
