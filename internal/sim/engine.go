// Package sim содержит побарный симулятор торговли. Симулятор
// однопоточен и полностью детерминирован: одинаковые свечи и
// конфигурация всегда дают побайтно одинаковые сделки и кривую капитала,
// поэтому живой контур и бэктест разделяют один и тот же код генерации
// сигналов и контроля риска.
package sim

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/bfts/internal/analysis/fusion"
	"github.com/skalibog/bfts/internal/analysis/technical"
	"github.com/skalibog/bfts/internal/config"
	"github.com/skalibog/bfts/internal/risk"
	"github.com/skalibog/bfts/pkg/logger"
	"github.com/skalibog/bfts/pkg/models"
)

// Engine прогоняет исторические свечи через генератор сигналов и шлюз
// риска, ведет позиции и кривую капитала
type Engine struct {
	cfg       config.SimulationConfig
	technical *technical.Analyzer
	generator *fusion.Generator
	gate      *risk.Gate
	breaker   *risk.CircuitBreaker

	cash      float64
	positions map[string]*models.Position
	trades    []models.Trade
	equity    []models.EquityPoint
}

// NewEngine создает симулятор
func NewEngine(cfg config.SimulationConfig, tech *technical.Analyzer, gen *fusion.Generator, gate *risk.Gate, breaker *risk.CircuitBreaker) *Engine {
	return &Engine{
		cfg:       cfg,
		technical: tech,
		generator: gen,
		gate:      gate,
		breaker:   breaker,
	}
}

// Run выполняет симуляцию по историческим свечам всех символов
func (e *Engine) Run(ctx context.Context, candlesBySymbol map[string][]*models.Candle) (*models.SimulationReport, error) {
	if len(candlesBySymbol) == 0 {
		return nil, fmt.Errorf("нет свечей для симуляции")
	}

	e.cash = e.cfg.InitialBalance
	e.positions = make(map[string]*models.Position)
	e.trades = nil
	e.equity = nil

	// Символы в отсортированном порядке для детерминизма
	symbols := make([]string, 0, len(candlesBySymbol))
	for s := range candlesBySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	timestamps := timestampUnion(candlesBySymbol)
	cursors := make(map[string]int, len(symbols))

	logger.Info("Старт симуляции",
		zap.Int("symbols", len(symbols)),
		zap.Int("bars", len(timestamps)),
		zap.Float64("initial_balance", e.cfg.InitialBalance))

	var lastTS time.Time
	for _, ts := range timestamps {
		lastTS = ts
		for _, symbol := range symbols {
			candles := candlesBySymbol[symbol]
			i := cursors[symbol]
			if i >= len(candles) || !candles[i].OpenTime.Equal(ts) {
				continue
			}
			cursors[symbol] = i + 1

			// История строго до текущего бара включительно — без
			// заглядывания вперед
			e.processBar(ctx, symbol, candles[:i+1])
		}

		equityNow := e.totalEquity()
		e.equity = append(e.equity, models.EquityPoint{Time: ts, Equity: equityNow})

		if equityNow <= e.cfg.InitialBalance*0.01 {
			e.liquidateAll(ts)
			equityNow = e.totalEquity()
			e.equity[len(e.equity)-1] = models.EquityPoint{Time: ts, Equity: equityNow}
		}

		e.breaker.UpdateBalance(equityNow, ts)
	}

	// Закрываем оставшиеся позиции по последней известной цене
	for _, symbol := range symbols {
		if pos, ok := e.positions[symbol]; ok {
			e.closePosition(symbol, pos.MarkPrice, lastTS, models.ExitEnd)
		}
	}

	report := buildReport(e.cfg, e.cash, e.trades, e.equity)
	logger.Info("Симуляция завершена",
		zap.Int("trades", report.TotalTrades),
		zap.Float64("final_balance", report.FinalBalance),
		zap.Float64("total_return", report.TotalReturn))
	return report, nil
}

// processBar обрабатывает один бар одного символа. Ошибки анализа
// логируются и не прерывают прогон.
func (e *Engine) processBar(ctx context.Context, symbol string, history []*models.Candle) {
	candle := history[len(history)-1]
	pos := e.positions[symbol]

	if pos != nil {
		pos.MarkPrice = candle.Close
		if reason, price, triggered := checkTriggers(pos, candle); triggered {
			e.closePosition(symbol, price, candle.OpenTime, reason)
			// Сработавший стоп завершает обработку символа на этом баре
			return
		}
	}

	if len(history) < e.cfg.MinCandles {
		return
	}

	analysis, err := e.technical.Analyze(history, symbol)
	if err != nil {
		logger.Debug("Анализ бара пропущен", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	signal, err := e.generator.Generate(ctx, symbol, history, analysis, nil)
	if err != nil {
		logger.Warn("Ошибка генерации сигнала", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	if pos != nil {
		if opposes(pos.Side, signal.Type) {
			e.closePosition(symbol, candle.Close, candle.OpenTime, models.ExitSignal)
		}
		return
	}

	if !signal.Type.IsEntry() || signal.StopLoss == 0 {
		return
	}
	e.tryOpen(symbol, signal, candle)
}

// tryOpen дозирует и согласует вход, открывает позицию с учетом
// проскальзывания и комиссии
func (e *Engine) tryOpen(symbol string, signal *models.TradingSignal, candle *models.Candle) {
	side := models.SideLong
	if signal.Type == models.SignalShort {
		side = models.SideShort
	}

	qty, err := e.gate.SizeFor(symbol, signal.EntryPrice, signal.StopLoss, e.cash, len(e.positions))
	if err != nil || qty <= 0 {
		return
	}

	approval := e.gate.Approve(risk.Order{
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Entry:      signal.EntryPrice,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
	}, e.cash, len(e.positions))
	if !approval.Approved {
		logger.Debug("Вход отклонен",
			zap.String("symbol", symbol),
			zap.String("reason", string(approval.Reason)))
		return
	}

	// Лонг заполняется дороже, шорт дешевле
	fill := signal.EntryPrice * (1 + e.cfg.Slippage)
	if side == models.SideShort {
		fill = signal.EntryPrice * (1 - e.cfg.Slippage)
	}

	e.cash -= fill * qty * e.cfg.Commission

	e.positions[symbol] = &models.Position{
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: fill,
		EntryTime:  candle.OpenTime,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
		MarkPrice:  candle.Close,
	}
}

// closePosition закрывает позицию и записывает сделку
func (e *Engine) closePosition(symbol string, price float64, ts time.Time, reason models.ExitReason) {
	pos := e.positions[symbol]
	if pos == nil {
		return
	}
	delete(e.positions, symbol)

	var pnl float64
	if pos.Side == models.SideLong {
		pnl = (price - pos.EntryPrice) * pos.Quantity
	} else {
		pnl = (pos.EntryPrice - price) * pos.Quantity
	}
	pnl -= price * pos.Quantity * e.cfg.Commission
	e.cash += pnl

	pnlPct := 0.0
	if pos.EntryPrice > 0 {
		pnlPct = pnl / (pos.EntryPrice * pos.Quantity)
	}

	e.trades = append(e.trades, models.Trade{
		Symbol:     symbol,
		Side:       pos.Side,
		Quantity:   pos.Quantity,
		EntryPrice: pos.EntryPrice,
		EntryTime:  pos.EntryTime,
		ExitPrice:  price,
		ExitTime:   ts,
		PnL:        pnl,
		PnLPct:     pnlPct,
		ExitReason: reason,
	})
}

// liquidateAll принудительно закрывает все позиции по текущей отметке
func (e *Engine) liquidateAll(ts time.Time) {
	symbols := make([]string, 0, len(e.positions))
	for s := range e.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	logger.Warn("Принудительная ликвидация всех позиций", zap.Time("time", ts))
	for _, s := range symbols {
		e.closePosition(s, e.positions[s].MarkPrice, ts, models.ExitLiquidation)
	}
}

// totalEquity наличные плюс нереализованная прибыль открытых позиций.
// Позиции суммируются в отсортированном порядке символов: порядок
// сложения float64 меняет результат, а кривая капитала обязана быть
// воспроизводимой между прогонами
func (e *Engine) totalEquity() float64 {
	symbols := make([]string, 0, len(e.positions))
	for s := range e.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	equity := e.cash
	for _, s := range symbols {
		equity += e.positions[s].UnrealizedPnL()
	}
	return equity
}

// checkTriggers проверяет стоп-лосс и тейк-профит по high/low бара, а не
// по close. Стоп-лосс проверяется первым: если оба срабатывают на одном
// баре, позиция закрывается по стопу.
func checkTriggers(pos *models.Position, candle *models.Candle) (models.ExitReason, float64, bool) {
	if pos.Side == models.SideLong {
		if pos.StopLoss > 0 && candle.Low <= pos.StopLoss {
			return models.ExitStopLoss, pos.StopLoss, true
		}
		if pos.TakeProfit > 0 && candle.High >= pos.TakeProfit {
			return models.ExitTakeProfit, pos.TakeProfit, true
		}
	} else {
		if pos.StopLoss > 0 && candle.High >= pos.StopLoss {
			return models.ExitStopLoss, pos.StopLoss, true
		}
		if pos.TakeProfit > 0 && candle.Low <= pos.TakeProfit {
			return models.ExitTakeProfit, pos.TakeProfit, true
		}
	}
	return "", 0, false
}

// opposes сообщает, закрывает ли сигнал позицию данной стороны
func opposes(side models.PositionSide, signalType models.SignalType) bool {
	if side == models.SideLong {
		return signalType == models.SignalShort || signalType == models.SignalCloseLong
	}
	return signalType == models.SignalLong || signalType == models.SignalCloseShort
}

// timestampUnion сортированное объединение времен всех свечей
func timestampUnion(candlesBySymbol map[string][]*models.Candle) []time.Time {
	seen := make(map[int64]time.Time)
	for _, candles := range candlesBySymbol {
		for _, c := range candles {
			seen[c.OpenTime.UnixNano()] = c.OpenTime
		}
	}

	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
