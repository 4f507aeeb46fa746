package technical

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/skalibog/bfts/internal/config"
	"github.com/skalibog/bfts/pkg/models"
)

// ErrInsufficientData недостаточно свечей для анализа
var ErrInsufficientData = errors.New("недостаточно свечей для анализа")

// Analyzer рассчитывает набор технических индикаторов по одной серии
// свечей и агрегирует их в общий вердикт тренд/сила/уверенность
type Analyzer struct {
	config config.IndicatorConfig
}

// NewAnalyzer создает новый анализатор технических индикаторов
func NewAnalyzer(cfg config.IndicatorConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Analyze выполняет технический анализ серии свечей
func (a *Analyzer) Analyze(candles []*models.Candle, symbol string) (*models.AnalysisResult, error) {
	if len(candles) < a.config.MinCandles {
		return nil, fmt.Errorf("%w: %d свечей, требуется %d", ErrInsufficientData, len(candles), a.config.MinCandles)
	}

	// Подготавливаем данные для анализа
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))

	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	indicators := map[string]models.IndicatorVerdict{
		"RSI":       a.calculateRSI(closes),
		"MACD":      a.calculateMACD(closes),
		"Bollinger": a.calculateBollingerBands(closes),
		"OBV":       a.calculateOBV(closes, volumes),
		"ATR":       a.calculateATR(highs, lows, closes),
		"EMA":       a.calculateEMAStack(closes),
	}

	trend, strength, confidence := aggregate(indicators)

	return &models.AnalysisResult{
		Symbol:     symbol,
		Timestamp:  candles[len(candles)-1].OpenTime,
		Indicators: indicators,
		Trend:      trend,
		Strength:   strength,
		Confidence: confidence,
	}, nil
}

// calculateRSI рассчитывает RSI и классифицирует зоны перекупленности
func (a *Analyzer) calculateRSI(closes []float64) models.IndicatorVerdict {
	rsi := talib.Rsi(closes, a.config.RSIPeriod)
	lastRSI := rsi[len(rsi)-1]

	verdict := models.IndicatorVerdict{
		Name:     "RSI",
		Value:    models.ScalarValue{Value: lastRSI},
		Signal:   models.TrendNeutral,
		Strength: models.StrengthWeak,
	}

	overbought := a.config.RSIOverbought
	oversold := a.config.RSIOversold

	switch {
	case lastRSI > overbought+10:
		// Экстремальная перекупленность
		verdict.Signal = models.TrendBearish
		verdict.Strength = models.StrengthStrong
	case lastRSI > overbought:
		verdict.Signal = models.TrendBearish
		verdict.Strength = models.StrengthModerate
	case lastRSI < oversold-10:
		// Экстремальная перепроданность
		verdict.Signal = models.TrendBullish
		verdict.Strength = models.StrengthStrong
	case lastRSI < oversold:
		verdict.Signal = models.TrendBullish
		verdict.Strength = models.StrengthModerate
	}

	return verdict
}

// calculateMACD рассчитывает MACD и определяет пересечения сигнальной линии
func (a *Analyzer) calculateMACD(closes []float64) models.IndicatorVerdict {
	macd, signal, hist := talib.Macd(
		closes,
		a.config.MACDFast,
		a.config.MACDSlow,
		a.config.MACDSignal,
	)

	lastMACD := macd[len(macd)-1]
	lastSignal := signal[len(signal)-1]
	lastHist := hist[len(hist)-1]
	prevHist := hist[len(hist)-2]

	verdict := models.IndicatorVerdict{
		Name: "MACD",
		Value: models.ComponentsValue{Components: map[string]float64{
			"macd":      lastMACD,
			"signal":    lastSignal,
			"histogram": lastHist,
		}},
		Signal:   models.TrendNeutral,
		Strength: models.StrengthNone,
	}

	// Свежее пересечение: знак разницы macd-signal сменился на последних
	// двух барах
	crossedUp := prevHist <= 0 && lastHist > 0
	crossedDown := prevHist >= 0 && lastHist < 0

	switch {
	case crossedUp:
		verdict.Signal = models.TrendBullish
		verdict.Strength = models.StrengthStrong
	case crossedDown:
		verdict.Signal = models.TrendBearish
		verdict.Strength = models.StrengthStrong
	case lastHist > 0:
		verdict.Signal = models.TrendBullish
		verdict.Strength = histStrength(lastHist, lastMACD)
	case lastHist < 0:
		verdict.Signal = models.TrendBearish
		verdict.Strength = histStrength(lastHist, lastMACD)
	}

	return verdict
}

// histStrength оценивает силу устойчивой гистограммы относительно линии MACD
func histStrength(hist, macd float64) models.Strength {
	if macd == 0 {
		return models.StrengthWeak
	}
	if math.Abs(hist/macd) > 0.1 {
		return models.StrengthModerate
	}
	return models.StrengthWeak
}

// calculateBollingerBands рассчитывает полосы Боллинджера и позицию цены
// в них
func (a *Analyzer) calculateBollingerBands(closes []float64) models.IndicatorVerdict {
	upper, middle, lower := talib.BBands(
		closes,
		a.config.BBPeriod,
		a.config.BBStdDev,
		a.config.BBStdDev,
		0,
	)

	lastUpper := upper[len(upper)-1]
	lastMiddle := middle[len(middle)-1]
	lastLower := lower[len(lower)-1]
	lastClose := closes[len(closes)-1]

	// Позиция цены в полосе (0 = нижняя граница, 1 = верхняя граница)
	percentB := 0.5
	if lastUpper != lastLower {
		percentB = (lastClose - lastLower) / (lastUpper - lastLower)
	}

	verdict := models.IndicatorVerdict{
		Name: "Bollinger",
		Value: models.ComponentsValue{Components: map[string]float64{
			"upper":     lastUpper,
			"middle":    lastMiddle,
			"lower":     lastLower,
			"percent_b": percentB,
		}},
		Signal:   models.TrendNeutral,
		Strength: models.StrengthWeak,
	}

	switch {
	case percentB < 0.05:
		// Цена у нижней границы: сильный сигнал на покупку
		verdict.Signal = models.TrendBullish
		verdict.Strength = models.StrengthStrong
	case percentB < 0.30:
		verdict.Signal = models.TrendBullish
		verdict.Strength = models.StrengthModerate
	case percentB > 0.95:
		// Цена у верхней границы: сильный сигнал на продажу
		verdict.Signal = models.TrendBearish
		verdict.Strength = models.StrengthStrong
	case percentB > 0.70:
		verdict.Signal = models.TrendBearish
		verdict.Strength = models.StrengthModerate
	}

	return verdict
}

// calculateOBV анализирует балансовый объем относительно его EMA и
// скорости изменения
func (a *Analyzer) calculateOBV(closes, volumes []float64) models.IndicatorVerdict {
	obv := talib.Obv(closes, volumes)
	obvEMA := talib.Ema(obv, 20)

	lastOBV := obv[len(obv)-1]
	lastEMA := obvEMA[len(obvEMA)-1]

	// Скорость изменения OBV за 5 периодов
	var roc float64
	prev := obv[len(obv)-6]
	if prev != 0 {
		roc = (lastOBV - prev) / math.Abs(prev)
	}

	verdict := models.IndicatorVerdict{
		Name:     "OBV",
		Value:    models.ScalarValue{Value: lastOBV},
		Signal:   models.TrendNeutral,
		Strength: models.StrengthWeak,
	}

	switch {
	case lastOBV > lastEMA && roc > 0.05:
		verdict.Signal = models.TrendBullish
		verdict.Strength = models.StrengthStrong
	case lastOBV > lastEMA && roc > 0.01:
		verdict.Signal = models.TrendBullish
		verdict.Strength = models.StrengthModerate
	case lastOBV < lastEMA && roc < -0.05:
		verdict.Signal = models.TrendBearish
		verdict.Strength = models.StrengthStrong
	case lastOBV < lastEMA && roc < -0.01:
		verdict.Signal = models.TrendBearish
		verdict.Strength = models.StrengthModerate
	}

	return verdict
}

// calculateATR рассчитывает ATR и классифицирует режим волатильности.
// Направления ATR не дает — вердикт всегда нейтральный, сила кодирует
// режим относительно исторического среднего.
func (a *Analyzer) calculateATR(highs, lows, closes []float64) models.IndicatorVerdict {
	atr := talib.Atr(highs, lows, closes, a.config.ATRPeriod)
	lastATR := atr[len(atr)-1]

	// Среднее по истории ATR, нули прогрева пропускаем
	var sum float64
	var count int
	for _, v := range atr {
		if v > 0 {
			sum += v
			count++
		}
	}
	meanATR := 0.0
	if count > 0 {
		meanATR = sum / float64(count)
	}

	strength := models.StrengthNone
	if meanATR > 0 {
		ratio := lastATR / meanATR
		switch {
		case ratio > 1.5:
			strength = models.StrengthStrong
		case ratio > 1.2:
			strength = models.StrengthModerate
		case ratio < 0.8:
			strength = models.StrengthWeak
		}
	}

	return models.IndicatorVerdict{
		Name:     "ATR",
		Value:    models.ScalarValue{Value: lastATR},
		Signal:   models.TrendNeutral,
		Strength: strength,
	}
}

// calculateEMAStack анализирует выстроенность набора EMA.
// Периоды, превышающие доступную историю, пропускаются.
func (a *Analyzer) calculateEMAStack(closes []float64) models.IndicatorVerdict {
	lastClose := closes[len(closes)-1]

	components := make(map[string]float64)
	var lastValues []float64
	var periods []int
	for _, period := range a.config.EMAPeriods {
		if period > len(closes) {
			continue
		}
		ema := talib.Ema(closes, period)
		v := ema[len(ema)-1]
		components[fmt.Sprintf("ema_%d", period)] = v
		lastValues = append(lastValues, v)
		periods = append(periods, period)
	}

	verdict := models.IndicatorVerdict{
		Name:     "EMA",
		Value:    models.ComponentsValue{Components: components},
		Signal:   models.TrendNeutral,
		Strength: models.StrengthNone,
	}

	if len(lastValues) < 2 {
		return verdict
	}

	// Доля последовательных пар EMA в бычьем порядке (короткая выше длинной)
	bullPairs := 0
	for i := 0; i < len(lastValues)-1; i++ {
		if lastValues[i] > lastValues[i+1] {
			bullPairs++
		}
	}
	score := float64(bullPairs) / float64(len(lastValues)-1)

	aboveAll := true
	belowAll := true
	for _, v := range lastValues {
		if lastClose <= v {
			aboveAll = false
		}
		if lastClose >= v {
			belowAll = false
		}
	}

	switch {
	case score == 1 && aboveAll:
		// Полная бычья выстроенность, цена выше всех EMA
		verdict.Signal = models.TrendBullish
		verdict.Strength = models.StrengthStrong
	case score == 0 && belowAll:
		verdict.Signal = models.TrendBearish
		verdict.Strength = models.StrengthStrong
	case score > 0.5:
		verdict.Signal = models.TrendBullish
		verdict.Strength = models.StrengthModerate
	case score < 0.5:
		verdict.Signal = models.TrendBearish
		verdict.Strength = models.StrengthModerate
	default:
		verdict.Signal = models.TrendNeutral
		verdict.Strength = models.StrengthWeak
	}

	return verdict
}

// aggregate сводит вердикты индикаторов в общий тренд, силу и уверенность.
// Вес силы: Strong 3, Moderate 2, Weak 1, None 0. Тренд выбирается по
// строго наибольшему весу, при равенстве — нейтральный.
func aggregate(indicators map[string]models.IndicatorVerdict) (models.Trend, models.Strength, float64) {
	weights := map[models.Trend]float64{}
	var total float64

	for _, v := range indicators {
		w := v.Strength.Weight()
		weights[v.Signal] += w
		total += w
	}

	trend := models.TrendNeutral
	dominant := weights[models.TrendNeutral]
	if weights[models.TrendBullish] > dominant && weights[models.TrendBullish] > weights[models.TrendBearish] {
		trend = models.TrendBullish
		dominant = weights[models.TrendBullish]
	} else if weights[models.TrendBearish] > dominant && weights[models.TrendBearish] > weights[models.TrendBullish] {
		trend = models.TrendBearish
		dominant = weights[models.TrendBearish]
	}

	confidence := 0.0
	if total > 0 {
		confidence = dominant / total
	}

	var strength models.Strength
	switch {
	case confidence >= 0.7:
		strength = models.StrengthStrong
	case confidence >= 0.4:
		strength = models.StrengthModerate
	case confidence >= 0.2:
		strength = models.StrengthWeak
	default:
		strength = models.StrengthNone
	}

	return trend, strength, confidence
}
