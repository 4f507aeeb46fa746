package models

import (
	"time"
)

// Trend направление тренда
type Trend string

const (
	TrendBullish Trend = "BULLISH"
	TrendBearish Trend = "BEARISH"
	TrendNeutral Trend = "NEUTRAL"
)

// Strength сила сигнала индикатора
type Strength string

const (
	StrengthStrong   Strength = "STRONG"
	StrengthModerate Strength = "MODERATE"
	StrengthWeak     Strength = "WEAK"
	StrengthNone     Strength = "NONE"
)

// Weight возвращает вес силы сигнала для агрегации
func (s Strength) Weight() float64 {
	switch s {
	case StrengthStrong:
		return 3
	case StrengthModerate:
		return 2
	case StrengthWeak:
		return 1
	default:
		return 0
	}
}

// SignalType тип торгового сигнала
type SignalType string

const (
	SignalLong       SignalType = "LONG"
	SignalShort      SignalType = "SHORT"
	SignalCloseLong  SignalType = "CLOSE_LONG"
	SignalCloseShort SignalType = "CLOSE_SHORT"
	SignalNoAction   SignalType = "NO_ACTION"
)

// IsEntry сообщает, открывает ли сигнал позицию
func (t SignalType) IsEntry() bool {
	return t == SignalLong || t == SignalShort
}

// SignalSource источник торгового сигнала
type SignalSource string

const (
	SourceTechnical SignalSource = "TECHNICAL"
	SourceHybrid    SignalSource = "HYBRID"
)

// PositionSide сторона позиции
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// ExitReason причина закрытия позиции в симуляции
type ExitReason string

const (
	ExitStopLoss    ExitReason = "STOP_LOSS"
	ExitTakeProfit  ExitReason = "TAKE_PROFIT"
	ExitSignal      ExitReason = "SIGNAL"
	ExitLiquidation ExitReason = "LIQUIDATION"
	ExitEnd         ExitReason = "END"
)

// Candle представляет свечу
type Candle struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// IndicatorValue значение индикатора: скаляр или набор компонентов.
// Закрытый интерфейс, чтобы потребители разбирали варианты явно.
type IndicatorValue interface {
	isIndicatorValue()
}

// ScalarValue скалярное значение индикатора (RSI, OBV, ATR)
type ScalarValue struct {
	Value float64 `json:"value"`
}

func (ScalarValue) isIndicatorValue() {}

// ComponentsValue многокомпонентное значение индикатора (MACD, Bollinger, EMA)
type ComponentsValue struct {
	Components map[string]float64 `json:"components"`
}

func (ComponentsValue) isIndicatorValue() {}

// IndicatorVerdict вердикт одного индикатора
type IndicatorVerdict struct {
	Name     string         `json:"name"`
	Value    IndicatorValue `json:"value"`
	Signal   Trend          `json:"signal"`
	Strength Strength       `json:"strength"`
}

// AnalysisResult результат технического анализа одной серии свечей
type AnalysisResult struct {
	Symbol     string                      `json:"symbol"`
	Timestamp  time.Time                   `json:"timestamp"`
	Indicators map[string]IndicatorVerdict `json:"indicators"`
	Trend      Trend                       `json:"trend"`
	Strength   Strength                    `json:"strength"`
	Confidence float64                     `json:"confidence"`
}

// MultiTimeframeResult результат анализа по нескольким таймфреймам
type MultiTimeframeResult struct {
	ByTimeframe      map[string]*AnalysisResult `json:"by_timeframe"`
	FilterTrend      Trend                      `json:"filter_trend"`
	FilterConfidence float64                    `json:"filter_confidence"`
	Aligned          bool                       `json:"aligned"`
}

// TradingSignal торговый сигнал. Цели (Entry/Stop/TakeProfit) заполняются
// только для сигналов входа.
type TradingSignal struct {
	Symbol     string          `json:"symbol"`
	Type       SignalType      `json:"type"`
	Confidence float64         `json:"confidence"`
	EntryPrice float64         `json:"entry_price"`
	StopLoss   float64         `json:"stop_loss"`
	TakeProfit float64         `json:"take_profit"`
	Source     SignalSource    `json:"source"`
	Rationale  string          `json:"rationale"`
	Analysis   *AnalysisResult `json:"analysis,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Position открытая позиция (только симуляция).
// На символ допускается не более одной открытой позиции.
type Position struct {
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	Quantity   float64      `json:"quantity"`
	EntryPrice float64      `json:"entry_price"`
	EntryTime  time.Time    `json:"entry_time"`
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
	MarkPrice  float64      `json:"mark_price"`
}

// UnrealizedPnL нереализованная прибыль по текущей отметке
func (p *Position) UnrealizedPnL() float64 {
	if p.Side == SideLong {
		return (p.MarkPrice - p.EntryPrice) * p.Quantity
	}
	return (p.EntryPrice - p.MarkPrice) * p.Quantity
}

// Trade закрытая сделка, неизменяема после закрытия
type Trade struct {
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	Quantity   float64      `json:"quantity"`
	EntryPrice float64      `json:"entry_price"`
	EntryTime  time.Time    `json:"entry_time"`
	ExitPrice  float64      `json:"exit_price"`
	ExitTime   time.Time    `json:"exit_time"`
	PnL        float64      `json:"pnl"`
	PnLPct     float64      `json:"pnl_pct"`
	ExitReason ExitReason   `json:"exit_reason"`
}

// EquityPoint точка кривой капитала
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// SimulationReport итоговый отчет симуляции
type SimulationReport struct {
	InitialBalance      float64       `json:"initial_balance"`
	FinalBalance        float64       `json:"final_balance"`
	TotalReturn         float64       `json:"total_return"`
	TotalTrades         int           `json:"total_trades"`
	WinningTrades       int           `json:"winning_trades"`
	LosingTrades        int           `json:"losing_trades"`
	WinRate             float64       `json:"win_rate"`
	AvgWin              float64       `json:"avg_win"`
	AvgLoss             float64       `json:"avg_loss"`
	Expectancy          float64       `json:"expectancy"`
	ProfitFactor        float64       `json:"profit_factor"`
	MaxDrawdown         float64       `json:"max_drawdown"`
	MaxDrawdownDuration int           `json:"max_drawdown_duration"`
	SharpeRatio         float64       `json:"sharpe_ratio"`
	Trades              []Trade       `json:"trades"`
	EquityCurve         []EquityPoint `json:"equity_curve"`
}
