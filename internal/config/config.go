package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance    BinanceConfig    `yaml:"binance"`
	Trading    TradingConfig    `yaml:"trading"`
	Indicators IndicatorConfig  `yaml:"indicators"`
	Fusion     FusionConfig     `yaml:"fusion"`
	Risk       RiskConfig       `yaml:"risk"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Simulation SimulationConfig `yaml:"simulation"`
	Advisor    AdvisorConfig    `yaml:"advisor"`
	Storage    StorageConfig    `yaml:"storage"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит настройки торговли
type TradingConfig struct {
	Symbols         []string          `yaml:"symbols"`
	Timeframes      []TimeframeConfig `yaml:"timeframes"`
	IntervalSeconds int               `yaml:"interval_seconds"`
}

// TimeframeConfig настройки одного таймфрейма
type TimeframeConfig struct {
	Interval   string `yaml:"interval"`
	MinCandles int    `yaml:"min_candles"`
	Filter     bool   `yaml:"filter"`
}

// IndicatorConfig настройки технических индикаторов
type IndicatorConfig struct {
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	MACDFast      int     `yaml:"macd_fast"`
	MACDSlow      int     `yaml:"macd_slow"`
	MACDSignal    int     `yaml:"macd_signal"`
	BBPeriod      int     `yaml:"bb_period"`
	BBStdDev      float64 `yaml:"bb_std_dev"`
	ATRPeriod     int     `yaml:"atr_period"`
	EMAPeriods    []int   `yaml:"ema_periods"`
	MinCandles    int     `yaml:"min_candles"`
}

// FusionConfig настройки слияния сигналов
type FusionConfig struct {
	MinFilterConfidence float64 `yaml:"min_filter_confidence"`
	ConfidenceDelta     float64 `yaml:"confidence_delta"`
	LLMWeight           float64 `yaml:"llm_weight"`
}

// RiskConfig профиль риска
type RiskConfig struct {
	RiskPerTrade     float64 `yaml:"risk_per_trade"`
	MaxOpenPositions int     `yaml:"max_open_positions"`
	MinRiskReward    float64 `yaml:"min_risk_reward"`
	StopType         string  `yaml:"stop_type"`
	ATRMultiplier    float64 `yaml:"atr_multiplier"`
	StopPercent      float64 `yaml:"stop_percent"`
}

// BreakerConfig пороги автоматического выключателя
type BreakerConfig struct {
	MaxDailyDrawdown     float64 `yaml:"max_daily_drawdown"`
	MaxTotalDrawdown     float64 `yaml:"max_total_drawdown"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	RollingLossThreshold float64 `yaml:"rolling_loss_threshold"`
	RollingWindowMinutes int     `yaml:"rolling_window_minutes"`
	CooldownMinutes      int     `yaml:"cooldown_minutes"`
}

// SimulationConfig параметры симуляции
type SimulationConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
	Slippage       float64 `yaml:"slippage"`
	Commission     float64 `yaml:"commission"`
	MinCandles     int     `yaml:"min_candles"`
	PeriodsPerYear float64 `yaml:"periods_per_year"`
}

// AdvisorConfig настройки внешнего советника
type AdvisorConfig struct {
	Enabled        bool `yaml:"enabled"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
	MaxRetries     int  `yaml:"max_retries"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// Известные интервалы свечей и их длительности
var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// IntervalDuration возвращает длительность интервала свечи
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervalDurations[interval]
	if !ok {
		return 0, fmt.Errorf("неизвестный интервал: %q", interval)
	}
	return d, nil
}

// Load загружает конфигурацию из файла и проверяет ее
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("недопустимая конфигурация: %w", err)
	}

	return &config, nil
}

// applyDefaults заполняет незаданные поля значениями по умолчанию
func (c *Config) applyDefaults() {
	if c.Indicators.RSIPeriod == 0 {
		c.Indicators.RSIPeriod = 14
	}
	if c.Indicators.RSIOverbought == 0 {
		c.Indicators.RSIOverbought = 70
	}
	if c.Indicators.RSIOversold == 0 {
		c.Indicators.RSIOversold = 30
	}
	if c.Indicators.MACDFast == 0 {
		c.Indicators.MACDFast = 12
	}
	if c.Indicators.MACDSlow == 0 {
		c.Indicators.MACDSlow = 26
	}
	if c.Indicators.MACDSignal == 0 {
		c.Indicators.MACDSignal = 9
	}
	if c.Indicators.BBPeriod == 0 {
		c.Indicators.BBPeriod = 20
	}
	if c.Indicators.BBStdDev == 0 {
		c.Indicators.BBStdDev = 2.0
	}
	if c.Indicators.ATRPeriod == 0 {
		c.Indicators.ATRPeriod = 14
	}
	if len(c.Indicators.EMAPeriods) == 0 {
		c.Indicators.EMAPeriods = []int{9, 21, 50, 200}
	}
	if c.Indicators.MinCandles == 0 {
		c.Indicators.MinCandles = 50
	}
	if c.Fusion.MinFilterConfidence == 0 {
		c.Fusion.MinFilterConfidence = 0.5
	}
	if c.Fusion.ConfidenceDelta == 0 {
		c.Fusion.ConfidenceDelta = 0.15
	}
	if c.Fusion.LLMWeight == 0 {
		c.Fusion.LLMWeight = 0.3
	}
	if c.Risk.RiskPerTrade == 0 {
		c.Risk.RiskPerTrade = 0.01
	}
	if c.Risk.MaxOpenPositions == 0 {
		c.Risk.MaxOpenPositions = 3
	}
	if c.Risk.MinRiskReward == 0 {
		c.Risk.MinRiskReward = 1.5
	}
	if c.Risk.StopType == "" {
		c.Risk.StopType = "atr"
	}
	if c.Risk.ATRMultiplier == 0 {
		c.Risk.ATRMultiplier = 2.0
	}
	if c.Risk.StopPercent == 0 {
		c.Risk.StopPercent = 0.02
	}
	if c.Breaker.MaxDailyDrawdown == 0 {
		c.Breaker.MaxDailyDrawdown = 0.05
	}
	if c.Breaker.MaxTotalDrawdown == 0 {
		c.Breaker.MaxTotalDrawdown = 0.15
	}
	if c.Breaker.MaxConsecutiveLosses == 0 {
		c.Breaker.MaxConsecutiveLosses = 5
	}
	if c.Breaker.RollingLossThreshold == 0 {
		c.Breaker.RollingLossThreshold = 0.07
	}
	if c.Breaker.RollingWindowMinutes == 0 {
		c.Breaker.RollingWindowMinutes = 240
	}
	if c.Breaker.CooldownMinutes == 0 {
		c.Breaker.CooldownMinutes = 60
	}
	if c.Simulation.InitialBalance == 0 {
		c.Simulation.InitialBalance = 10000
	}
	if c.Simulation.MinCandles == 0 {
		c.Simulation.MinCandles = 50
	}
	if c.Simulation.PeriodsPerYear == 0 {
		c.Simulation.PeriodsPerYear = 365
	}
	if c.Advisor.TimeoutSeconds == 0 {
		c.Advisor.TimeoutSeconds = 10
	}
	if c.Advisor.MaxRetries == 0 {
		c.Advisor.MaxRetries = 3
	}
	if c.Trading.IntervalSeconds == 0 {
		c.Trading.IntervalSeconds = 60
	}
}

// Validate проверяет статическую конфигурацию до запуска анализа
func (c *Config) Validate() error {
	if c.Indicators.RSIPeriod <= 0 || c.Indicators.BBPeriod <= 0 || c.Indicators.ATRPeriod <= 0 {
		return fmt.Errorf("периоды индикаторов должны быть положительными")
	}
	if c.Indicators.MACDFast <= 0 || c.Indicators.MACDSlow <= 0 || c.Indicators.MACDSignal <= 0 {
		return fmt.Errorf("периоды MACD должны быть положительными")
	}
	if c.Indicators.MACDFast >= c.Indicators.MACDSlow {
		return fmt.Errorf("быстрый период MACD (%d) должен быть меньше медленного (%d)",
			c.Indicators.MACDFast, c.Indicators.MACDSlow)
	}
	for _, p := range c.Indicators.EMAPeriods {
		if p <= 0 {
			return fmt.Errorf("период EMA должен быть положительным: %d", p)
		}
	}

	filterCount := 0
	for _, tf := range c.Trading.Timeframes {
		if _, err := IntervalDuration(tf.Interval); err != nil {
			return err
		}
		if tf.Filter {
			filterCount++
		}
	}
	if filterCount > 1 {
		return fmt.Errorf("фильтрующий таймфрейм объявлен более одного раза")
	}

	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 1 {
		return fmt.Errorf("risk_per_trade должен быть в диапазоне (0, 1]")
	}
	if c.Risk.StopType != "atr" && c.Risk.StopType != "percent" {
		return fmt.Errorf("неизвестный тип стопа: %q", c.Risk.StopType)
	}

	return nil
}
