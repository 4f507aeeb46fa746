package fusion

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/bfts/internal/advisor"
	"github.com/skalibog/bfts/internal/analysis/timeframe"
	"github.com/skalibog/bfts/internal/config"
	"github.com/skalibog/bfts/pkg/logger"
	"github.com/skalibog/bfts/pkg/models"
	"github.com/skalibog/bfts/pkg/quant"
)

// Generator объединяет технический анализ, мультитаймфреймовый фильтр и
// необязательное смещение внешнего советника в один торговый сигнал.
// Советник и источник сентимента внедряются при построении; nil означает
// чисто технический режим.
type Generator struct {
	fusionCfg  config.FusionConfig
	riskCfg    config.RiskConfig
	advisorCfg config.AdvisorConfig
	adv        advisor.Advisor
	sentiment  advisor.SentimentSource

	mu          sync.Mutex
	lastSignals map[string]*models.TradingSignal
}

// NewGenerator создает генератор сигналов. Включенный в конфигурации
// советник оборачивается повторами с экспоненциальной задержкой.
func NewGenerator(fusionCfg config.FusionConfig, riskCfg config.RiskConfig, advisorCfg config.AdvisorConfig, adv advisor.Advisor, sentiment advisor.SentimentSource) *Generator {
	if adv != nil && advisorCfg.Enabled {
		adv = advisor.NewRetryingAdvisor(adv, advisorCfg.MaxRetries)
	}
	return &Generator{
		fusionCfg:   fusionCfg,
		riskCfg:     riskCfg,
		advisorCfg:  advisorCfg,
		adv:         adv,
		sentiment:   sentiment,
		lastSignals: make(map[string]*models.TradingSignal),
	}
}

// Generate формирует торговый сигнал из результата анализа.
// mtf может быть nil (односерийный режим, например в симуляции).
func (g *Generator) Generate(ctx context.Context, symbol string, candles []*models.Candle, analysis *models.AnalysisResult, mtf *models.MultiTimeframeResult) (*models.TradingSignal, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("нет свечей для генерации сигнала: %s", symbol)
	}

	signal := &models.TradingSignal{
		Symbol:     symbol,
		Type:       baseType(analysis.Trend),
		Confidence: analysis.Confidence,
		Source:     models.SourceTechnical,
		Rationale:  "технический анализ",
		Analysis:   analysis,
		CreatedAt:  candles[len(candles)-1].OpenTime,
	}

	if g.adv != nil {
		g.applyBias(ctx, signal, analysis)
	}

	if mtf != nil {
		// Согласованность таймфреймов усиливает уверенность, расхождение
		// ослабляет
		if mtf.Aligned {
			signal.Confidence = math.Min(signal.Confidence*1.2, 1.0)
		} else {
			signal.Confidence *= 0.8
		}
	}

	if signal.Type.IsEntry() {
		if err := g.fillTargets(signal, candles); err != nil {
			return nil, fmt.Errorf("ошибка расчета целей: %w", err)
		}
	}

	if mtf != nil {
		signal = timeframe.ApplyTrendFilter(signal, mtf.FilterTrend, mtf.FilterConfidence, g.fusionCfg.MinFilterConfidence)
	}

	return signal, nil
}

// applyBias запрашивает советника и смешивает его смещение с техническим
// сигналом. Недоступность советника — штатный режим: сигнал деградирует
// до чисто технического со сниженной уверенностью.
func (g *Generator) applyBias(ctx context.Context, signal *models.TradingSignal, analysis *models.AnalysisResult) {
	timeout := time.Duration(g.advisorCfg.TimeoutSeconds) * time.Second
	advCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var sent *advisor.Sentiment
	if g.sentiment != nil {
		digest, err := g.sentiment.FetchSentiment(advCtx, []string{signal.Symbol})
		if err != nil {
			logger.Warn("Сентимент недоступен", zap.String("symbol", signal.Symbol), zap.Error(err))
		} else {
			sent = digest[signal.Symbol]
		}
	}

	bias, err := g.adv.Advise(advCtx, signal.Symbol, analysis, sent)
	if err != nil {
		signal.Confidence *= 0.9
		signal.Rationale = "советник недоступен, только технический анализ"
		logger.Warn("Советник недоступен, деградация до технического режима",
			zap.String("symbol", signal.Symbol), zap.Error(err))
		return
	}

	signal.Source = models.SourceHybrid
	w := g.fusionCfg.LLMWeight
	technical := signal.Confidence
	biasDir := bias.Direction
	if biasDir == "" {
		biasDir = bias.Recommendation.Direction()
	}

	switch {
	case signal.Type == models.SignalNoAction && bias.Recommendation.Strong():
		// Сильная рекомендация поднимает бездействие до входа
		if biasDir == models.TrendBullish {
			signal.Type = models.SignalLong
		} else {
			signal.Type = models.SignalShort
		}
		signal.Confidence = bias.Confidence * 0.8
		signal.Rationale = fmt.Sprintf("вход по сильной рекомендации советника: %s", bias.Rationale)

	case signal.Type == models.SignalLong && biasDir == models.TrendBearish,
		signal.Type == models.SignalShort && biasDir == models.TrendBullish:
		// Несогласие советника отменяет вход
		signal.Type = models.SignalNoAction
		signal.Confidence = technical * (1 - w)
		signal.Rationale = fmt.Sprintf("вход отменен советником: %s", bias.Rationale)

	case signal.Type == models.SignalLong && biasDir == models.TrendBullish,
		signal.Type == models.SignalShort && biasDir == models.TrendBearish:
		// Согласие усиливает уверенность: взвешенное смешение с бустом
		blended := technical*(1-w) + bias.Confidence*w
		signal.Confidence = math.Min(blended*1.1, 1.0)
		signal.Rationale = fmt.Sprintf("советник подтверждает направление: %s", bias.Rationale)
	}
}

// fillTargets заполняет цену входа, стоп-лосс и тейк-профит сигнала входа
func (g *Generator) fillTargets(signal *models.TradingSignal, candles []*models.Candle) error {
	entry := candles[len(candles)-1].Close
	side := models.SideLong
	if signal.Type == models.SignalShort {
		side = models.SideShort
	}

	var stop float64
	if g.riskCfg.StopType == "atr" {
		period := 14 // Стандартный период для ATR
		highs := make([]float64, len(candles))
		lows := make([]float64, len(candles))
		closes := make([]float64, len(candles))
		for i, c := range candles {
			highs[i] = c.High
			lows[i] = c.Low
			closes[i] = c.Close
		}

		s, err := quant.ATRStop(highs, lows, closes, entry, side, g.riskCfg.ATRMultiplier, period)
		if err != nil {
			// Недостаточно истории для ATR — откатываемся к процентному стопу
			s = percentStop(entry, side, g.riskCfg.StopPercent)
		}
		stop = s
	} else {
		stop = percentStop(entry, side, g.riskCfg.StopPercent)
	}

	distance := math.Abs(entry - stop)
	if side == models.SideLong {
		signal.TakeProfit = entry + distance*g.riskCfg.MinRiskReward
	} else {
		signal.TakeProfit = entry - distance*g.riskCfg.MinRiskReward
	}

	signal.EntryPrice = entry
	signal.StopLoss = stop
	return nil
}

// percentStop процентный стоп по сторону, противоположную входу
func percentStop(entry float64, side models.PositionSide, pct float64) float64 {
	if side == models.SideLong {
		return entry * (1 - pct)
	}
	return entry * (1 + pct)
}

// IsSignificantChange сравнивает сигнал с последним выданным по символу.
// Значимым считается смена типа или изменение уверенности больше
// настроенного порога; значимый сигнал запоминается как последний.
func (g *Generator) IsSignificantChange(symbol string, signal *models.TradingSignal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	last := g.lastSignals[symbol]
	if last == nil {
		g.lastSignals[symbol] = signal
		return true
	}

	if last.Type != signal.Type || math.Abs(last.Confidence-signal.Confidence) > g.fusionCfg.ConfidenceDelta {
		g.lastSignals[symbol] = signal
		return true
	}

	return false
}

// baseType выводит тип сигнала из общего тренда
func baseType(trend models.Trend) models.SignalType {
	switch trend {
	case models.TrendBullish:
		return models.SignalLong
	case models.TrendBearish:
		return models.SignalShort
	default:
		return models.SignalNoAction
	}
}
