package timeframe

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/bfts/internal/analysis/technical"
	"github.com/skalibog/bfts/internal/config"
	"github.com/skalibog/bfts/pkg/logger"
	"github.com/skalibog/bfts/pkg/models"
)

// ErrNoTimeframes ни один таймфрейм не прошел порог минимального числа свечей
var ErrNoTimeframes = errors.New("нет таймфреймов с достаточным числом свечей")

// Analyzer выполняет технический анализ по нескольким таймфреймам,
// выбирает фильтрующий тренд и проверяет согласованность направлений
type Analyzer struct {
	technical  *technical.Analyzer
	timeframes []config.TimeframeConfig
}

// NewAnalyzer создает мультитаймфреймовый анализатор.
// Конфигурация проверяется при построении: неизвестные интервалы и
// повторное объявление фильтрующего таймфрейма отклоняются сразу.
func NewAnalyzer(indicatorCfg config.IndicatorConfig, timeframes []config.TimeframeConfig) (*Analyzer, error) {
	if len(timeframes) == 0 {
		return nil, fmt.Errorf("не задано ни одного таймфрейма")
	}

	filterCount := 0
	for _, tf := range timeframes {
		if _, err := config.IntervalDuration(tf.Interval); err != nil {
			return nil, err
		}
		if tf.MinCandles <= 0 {
			return nil, fmt.Errorf("min_candles должен быть положительным для %s", tf.Interval)
		}
		if tf.Filter {
			filterCount++
		}
	}
	if filterCount > 1 {
		return nil, fmt.Errorf("фильтрующий таймфрейм объявлен более одного раза")
	}

	return &Analyzer{
		technical:  technical.NewAnalyzer(indicatorCfg),
		timeframes: timeframes,
	}, nil
}

// Analyze запускает технический анализ для каждого таймфрейма.
// Таймфреймы с недостаточной историей молча исключаются из результата.
func (a *Analyzer) Analyze(candlesByTF map[string][]*models.Candle, symbol string) (*models.MultiTimeframeResult, error) {
	results := make(map[string]*models.AnalysisResult)

	for _, tf := range a.timeframes {
		candles := candlesByTF[tf.Interval]
		if len(candles) < tf.MinCandles {
			logger.Debug("Таймфрейм исключен: недостаточно свечей",
				zap.String("symbol", symbol),
				zap.String("interval", tf.Interval),
				zap.Int("candles", len(candles)),
				zap.Int("required", tf.MinCandles))
			continue
		}

		result, err := a.technical.Analyze(candles, symbol)
		if err != nil {
			logger.Warn("Ошибка анализа таймфрейма",
				zap.String("symbol", symbol),
				zap.String("interval", tf.Interval),
				zap.Error(err))
			continue
		}
		results[tf.Interval] = result
	}

	if len(results) == 0 {
		return nil, ErrNoTimeframes
	}

	filterTrend, filterConfidence := a.electFilter(results)

	return &models.MultiTimeframeResult{
		ByTimeframe:      results,
		FilterTrend:      filterTrend,
		FilterConfidence: filterConfidence,
		Aligned:          aligned(results),
	}, nil
}

// electFilter выбирает фильтрующий тренд: назначенный таймфрейм, а при
// его отсутствии в результатах — самый длинный из доступных
func (a *Analyzer) electFilter(results map[string]*models.AnalysisResult) (models.Trend, float64) {
	for _, tf := range a.timeframes {
		if !tf.Filter {
			continue
		}
		if r, ok := results[tf.Interval]; ok {
			return r.Trend, r.Confidence
		}
	}

	var longest time.Duration
	var elected *models.AnalysisResult
	for interval, r := range results {
		d, err := config.IntervalDuration(interval)
		if err != nil {
			continue
		}
		if d > longest {
			longest = d
			elected = r
		}
	}
	if elected == nil {
		return models.TrendNeutral, 0
	}
	return elected.Trend, elected.Confidence
}

// aligned проверяет согласованность: набор ненейтральных трендов пуст
// или состоит из одного направления
func aligned(results map[string]*models.AnalysisResult) bool {
	var seen models.Trend
	for _, r := range results {
		if r.Trend == models.TrendNeutral {
			continue
		}
		if seen == "" {
			seen = r.Trend
			continue
		}
		if r.Trend != seen {
			return false
		}
	}
	return true
}

// ApplyTrendFilter применяет трендовый фильтр к сигналу. Чистая функция:
// при уверенности фильтра ниже порога сигнал возвращается без изменений;
// бычий фильтр ветирует шорт, медвежий — лонг. Сигналы закрытия и
// бездействия проходят всегда.
func ApplyTrendFilter(signal *models.TradingSignal, filterTrend models.Trend, filterConfidence, minConfidence float64) *models.TradingSignal {
	if filterConfidence < minConfidence {
		return signal
	}
	if !signal.Type.IsEntry() {
		return signal
	}

	vetoed := *signal
	switch {
	case filterTrend == models.TrendBullish && signal.Type == models.SignalShort:
		vetoed.Type = models.SignalNoAction
		vetoed.EntryPrice = 0
		vetoed.StopLoss = 0
		vetoed.TakeProfit = 0
		vetoed.Rationale = "шорт заблокирован бычьим трендом старшего таймфрейма"
		return &vetoed
	case filterTrend == models.TrendBearish && signal.Type == models.SignalLong:
		vetoed.Type = models.SignalNoAction
		vetoed.EntryPrice = 0
		vetoed.StopLoss = 0
		vetoed.TakeProfit = 0
		vetoed.Rationale = "лонг заблокирован медвежьим трендом старшего таймфрейма"
		return &vetoed
	}
	return signal
}
