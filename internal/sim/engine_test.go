package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bfts/internal/analysis/fusion"
	"github.com/skalibog/bfts/internal/analysis/technical"
	"github.com/skalibog/bfts/internal/config"
	"github.com/skalibog/bfts/internal/risk"
	"github.com/skalibog/bfts/pkg/models"
)

var simBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testSimConfig() config.SimulationConfig {
	return config.SimulationConfig{
		InitialBalance: 10000,
		Slippage:       0.0005,
		Commission:     0.001,
		MinCandles:     50,
		PeriodsPerYear: 8760,
	}
}

// newTestEngine собирает полный стек симулятора с мягкими порогами
// выключателя, чтобы прогоны не прерывались
func newTestEngine() *Engine {
	return newTestEngineRisk(0.01)
}

func newTestEngineRisk(riskPerTrade float64) *Engine {
	indicatorCfg := config.IndicatorConfig{
		RSIPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,
		MACDFast:      12,
		MACDSlow:      26,
		MACDSignal:    9,
		BBPeriod:      20,
		BBStdDev:      2.0,
		ATRPeriod:     14,
		EMAPeriods:    []int{9, 21, 50},
		MinCandles:    50,
	}
	riskCfg := config.RiskConfig{
		RiskPerTrade:     riskPerTrade,
		MaxOpenPositions: 3,
		MinRiskReward:    1.5,
		StopType:         "percent",
		StopPercent:      0.02,
	}
	breakerCfg := config.BreakerConfig{
		MaxDailyDrawdown:     0.99,
		MaxTotalDrawdown:     0.99,
		MaxConsecutiveLosses: 1000,
		RollingLossThreshold: 0.99,
		RollingWindowMinutes: 60,
		CooldownMinutes:      60,
	}
	fusionCfg := config.FusionConfig{
		MinFilterConfidence: 0.5,
		ConfidenceDelta:     0.15,
		LLMWeight:           0.3,
	}

	cfg := testSimConfig()
	tech := technical.NewAnalyzer(indicatorCfg)
	gen := fusion.NewGenerator(fusionCfg, riskCfg, config.AdvisorConfig{}, nil, nil)
	breaker := risk.NewCircuitBreaker(breakerCfg, cfg.InitialBalance, simBase)
	gate := risk.NewGate(riskCfg, breaker)
	return NewEngine(cfg, tech, gen, gate, breaker)
}

func simCandles(n int, closeAt func(i int) float64) []*models.Candle {
	candles := make([]*models.Candle, n)
	for i := 0; i < n; i++ {
		c := closeAt(i)
		candles[i] = &models.Candle{
			Symbol:   "BTCUSDT",
			Interval: "1h",
			OpenTime: simBase.Add(time.Duration(i) * time.Hour),
			Open:     c,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   1000,
		}
	}
	return candles
}

func TestCheckTriggersStopBeforeTakeProfitLong(t *testing.T) {
	pos := &models.Position{Side: models.SideLong, StopLoss: 95, TakeProfit: 110}
	// Бар пробивает оба уровня — побеждает стоп
	candle := &models.Candle{High: 111, Low: 94, Close: 100}

	reason, price, triggered := checkTriggers(pos, candle)
	require.True(t, triggered)
	assert.Equal(t, models.ExitStopLoss, reason)
	assert.Equal(t, 95.0, price)
}

func TestCheckTriggersStopBeforeTakeProfitShort(t *testing.T) {
	pos := &models.Position{Side: models.SideShort, StopLoss: 105, TakeProfit: 90}
	candle := &models.Candle{High: 106, Low: 89, Close: 100}

	reason, price, triggered := checkTriggers(pos, candle)
	require.True(t, triggered)
	assert.Equal(t, models.ExitStopLoss, reason)
	assert.Equal(t, 105.0, price)
}

func TestCheckTriggersTakeProfit(t *testing.T) {
	pos := &models.Position{Side: models.SideLong, StopLoss: 95, TakeProfit: 110}
	candle := &models.Candle{High: 111, Low: 99, Close: 110}

	reason, price, triggered := checkTriggers(pos, candle)
	require.True(t, triggered)
	assert.Equal(t, models.ExitTakeProfit, reason)
	assert.Equal(t, 110.0, price)
}

func TestCheckTriggersNoTrigger(t *testing.T) {
	pos := &models.Position{Side: models.SideLong, StopLoss: 95, TakeProfit: 110}
	candle := &models.Candle{High: 105, Low: 98, Close: 100}

	_, _, triggered := checkTriggers(pos, candle)
	assert.False(t, triggered)
}

func TestClosePositionMath(t *testing.T) {
	e := newTestEngine()
	e.cash = 10000
	e.positions = map[string]*models.Position{
		"BTCUSDT": {
			Symbol:     "BTCUSDT",
			Side:       models.SideLong,
			Quantity:   1,
			EntryPrice: 100,
			EntryTime:  simBase,
			MarkPrice:  110,
		},
	}

	e.closePosition("BTCUSDT", 110, simBase.Add(time.Hour), models.ExitTakeProfit)

	require.Len(t, e.trades, 1)
	trade := e.trades[0]
	// Прибыль 10 минус комиссия выхода 110*1*0.001
	assert.InDelta(t, 9.89, trade.PnL, 1e-9)
	assert.InDelta(t, 0.0989, trade.PnLPct, 1e-9)
	assert.Equal(t, models.ExitTakeProfit, trade.ExitReason)
	assert.InDelta(t, 10009.89, e.cash, 1e-9)
	assert.Empty(t, e.positions)
}

func TestClosePositionShortMath(t *testing.T) {
	e := newTestEngine()
	e.cash = 10000
	e.positions = map[string]*models.Position{
		"ETHUSDT": {
			Symbol:     "ETHUSDT",
			Side:       models.SideShort,
			Quantity:   2,
			EntryPrice: 100,
			EntryTime:  simBase,
			MarkPrice:  90,
		},
	}

	e.closePosition("ETHUSDT", 90, simBase.Add(time.Hour), models.ExitSignal)

	require.Len(t, e.trades, 1)
	// (100-90)*2 - 90*2*0.001
	assert.InDelta(t, 19.82, e.trades[0].PnL, 1e-9)
}

func TestLiquidateAllClosesEverything(t *testing.T) {
	e := newTestEngine()
	e.cash = 100
	e.positions = map[string]*models.Position{
		"BTCUSDT": {Symbol: "BTCUSDT", Side: models.SideLong, Quantity: 1, EntryPrice: 100, MarkPrice: 40},
		"ETHUSDT": {Symbol: "ETHUSDT", Side: models.SideLong, Quantity: 1, EntryPrice: 50, MarkPrice: 20},
	}

	e.liquidateAll(simBase)

	assert.Empty(t, e.positions)
	require.Len(t, e.trades, 2)
	for _, trade := range e.trades {
		assert.Equal(t, models.ExitLiquidation, trade.ExitReason)
	}
	// Сортированный обход: BTCUSDT закрывается первым
	assert.Equal(t, "BTCUSDT", e.trades[0].Symbol)
	assert.Equal(t, "ETHUSDT", e.trades[1].Symbol)
}

func TestTotalEquity(t *testing.T) {
	e := newTestEngine()
	e.cash = 5000
	e.positions = map[string]*models.Position{
		"BTCUSDT": {Side: models.SideLong, Quantity: 2, EntryPrice: 100, MarkPrice: 110},
		"ETHUSDT": {Side: models.SideShort, Quantity: 1, EntryPrice: 50, MarkPrice: 55},
	}

	// 5000 + 20 - 5
	assert.InDelta(t, 5015, e.totalEquity(), 1e-9)
}

func TestTotalEquityOrderIndependent(t *testing.T) {
	e := newTestEngine()
	e.cash = 0
	// Катастрофическое сокращение: порядок сложения float64 меняет сумму,
	// поэтому обход позиций обязан быть отсортированным
	e.positions = map[string]*models.Position{
		"AAAUSDT": {Side: models.SideLong, Quantity: 1, EntryPrice: 0, MarkPrice: 1e16},
		"BBBUSDT": {Side: models.SideLong, Quantity: 1, EntryPrice: 0, MarkPrice: 1},
		"CCCUSDT": {Side: models.SideShort, Quantity: 1, EntryPrice: 0, MarkPrice: 1e16},
	}

	first := e.totalEquity()
	for i := 0; i < 10000; i++ {
		assert.Equal(t, first, e.totalEquity())
	}
}

func TestRunClosesPositionAtEnd(t *testing.T) {
	e := newTestEngine()
	// Ровная восходящая серия: вход открывается на первом анализируемом
	// баре, а серия заканчивается до касания стопа или тейка
	candles := simCandles(55, func(i int) float64 { return 100 + float64(i)*0.5 })

	report, err := e.Run(context.Background(), map[string][]*models.Candle{"BTCUSDT": candles})
	require.NoError(t, err)

	require.Equal(t, 1, report.TotalTrades)
	trade := report.Trades[0]
	assert.Equal(t, models.ExitEnd, trade.ExitReason)
	// Закрытие по последней известной отметке
	assert.InDelta(t, 127, trade.ExitPrice, 1e-9)
	assert.True(t, trade.ExitTime.Equal(simBase.Add(54*time.Hour)))
	assert.Empty(t, e.positions)
}

func TestRunLiquidatesOnEquityCollapse(t *testing.T) {
	// Полный риск на сделку: срабатывание стопа съедает весь капитал
	e := newTestEngineRisk(1.0)

	// Оба символа входят в лонг на баре 49; затем первый рушится сквозь
	// стоп и обнуляет наличные, а вторая позиция ликвидируется
	crash := simCandles(51, func(i int) float64 {
		if i < 50 {
			return 100 + float64(i)*0.5
		}
		return 60
	})
	drift := make([]*models.Candle, 51)
	for i := 0; i < 51; i++ {
		c := 50 + float64(i)*0.001
		drift[i] = &models.Candle{
			Symbol:   "BBBUSDT",
			Interval: "1h",
			OpenTime: simBase.Add(time.Duration(i) * time.Hour),
			Open:     c,
			High:     c + 0.01,
			Low:      c - 0.01,
			Close:    c,
			Volume:   1000,
		}
	}

	report, err := e.Run(context.Background(), map[string][]*models.Candle{
		"AAAUSDT": crash,
		"BBBUSDT": drift,
	})
	require.NoError(t, err)

	reasons := make(map[models.ExitReason]int)
	for _, trade := range report.Trades {
		reasons[trade.ExitReason]++
	}
	assert.Equal(t, 1, reasons[models.ExitStopLoss])
	assert.Equal(t, 1, reasons[models.ExitLiquidation])

	// Точка капитала перезаписана состоянием после ликвидации
	last := report.EquityCurve[len(report.EquityCurve)-1]
	assert.LessOrEqual(t, last.Equity, report.InitialBalance*0.01)
	assert.InDelta(t, report.FinalBalance, last.Equity, 1e-9)
}

func TestOpposes(t *testing.T) {
	assert.True(t, opposes(models.SideLong, models.SignalShort))
	assert.True(t, opposes(models.SideLong, models.SignalCloseLong))
	assert.False(t, opposes(models.SideLong, models.SignalLong))
	assert.False(t, opposes(models.SideLong, models.SignalNoAction))

	assert.True(t, opposes(models.SideShort, models.SignalLong))
	assert.True(t, opposes(models.SideShort, models.SignalCloseShort))
	assert.False(t, opposes(models.SideShort, models.SignalShort))
}

func TestTimestampUnionSortedDeduplicated(t *testing.T) {
	t0 := simBase
	t1 := simBase.Add(time.Hour)
	t2 := simBase.Add(2 * time.Hour)

	union := timestampUnion(map[string][]*models.Candle{
		"BTCUSDT": {{OpenTime: t1}, {OpenTime: t2}},
		"ETHUSDT": {{OpenTime: t0}, {OpenTime: t1}},
	})

	require.Len(t, union, 3)
	assert.True(t, union[0].Equal(t0))
	assert.True(t, union[1].Equal(t1))
	assert.True(t, union[2].Equal(t2))
}

func TestRunEmptyInput(t *testing.T) {
	e := newTestEngine()
	_, err := e.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestRunProducesEquityCurve(t *testing.T) {
	e := newTestEngine()
	candles := simCandles(120, func(i int) float64 { return 100 + float64(i)*0.5 })

	report, err := e.Run(context.Background(), map[string][]*models.Candle{"BTCUSDT": candles})
	require.NoError(t, err)

	assert.Len(t, report.EquityCurve, 120)
	assert.Equal(t, 10000.0, report.InitialBalance)
	assert.InDelta(t, (report.FinalBalance-10000)/10000, report.TotalReturn, 1e-9)
	// Открытых позиций после прогона не остается
	assert.Empty(t, e.positions)
}

func TestRunNoLookAheadBeforeMinCandles(t *testing.T) {
	e := newTestEngine()
	candles := simCandles(30, func(i int) float64 { return 100 + float64(i) })

	report, err := e.Run(context.Background(), map[string][]*models.Candle{"BTCUSDT": candles})
	require.NoError(t, err)

	// Истории меньше минимума — ни одной сделки
	assert.Zero(t, report.TotalTrades)
	assert.Equal(t, 10000.0, report.FinalBalance)
}

func TestRunDeterministic(t *testing.T) {
	closeAt := func(i int) float64 {
		if i < 80 {
			return 100 + float64(i)
		}
		return 180 - 2*float64(i-80)
	}
	data := func() map[string][]*models.Candle {
		return map[string][]*models.Candle{
			"BTCUSDT": simCandles(150, closeAt),
			"ETHUSDT": simCandles(150, func(i int) float64 { return 50 + float64(i)*0.25 }),
		}
	}

	first, err := newTestEngine().Run(context.Background(), data())
	require.NoError(t, err)
	second, err := newTestEngine().Run(context.Background(), data())
	require.NoError(t, err)

	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.EquityCurve, second.EquityCurve)
	assert.Equal(t, first.FinalBalance, second.FinalBalance)
}
