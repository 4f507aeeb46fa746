// Package quant содержит чистые количественные функции: расчет размера
// позиции, критерий Келли, стопы, метрики доходности. Без состояния и
// побочных эффектов — одни и те же входы всегда дают одинаковый результат.
package quant

import (
	"errors"
	"math"

	"github.com/skalibog/bfts/pkg/models"
)

var (
	// ErrInvalidStop стоп совпадает с ценой входа
	ErrInvalidStop = errors.New("стоп-лосс совпадает с ценой входа")
	// ErrInvalidInput входные параметры вне допустимого диапазона
	ErrInvalidInput = errors.New("недопустимые входные параметры")
	// ErrInsufficientData недостаточно данных для расчета
	ErrInsufficientData = errors.New("недостаточно данных для расчета")
	// ErrZeroRisk нулевая дистанция риска
	ErrZeroRisk = errors.New("нулевая дистанция риска")
)

// PositionSize рассчитывает размер позиции исходя из риска на сделку:
// (balance * riskPct) / |entry - stop|
func PositionSize(balance, entry, stop, riskPct float64) (float64, error) {
	distance := math.Abs(entry - stop)
	if distance == 0 {
		return 0, ErrInvalidStop
	}
	return (balance * riskPct) / distance, nil
}

// Kelly рассчитывает долю капитала по критерию Келли с дробным
// коэффициентом. Результат ограничен диапазоном [0, 0.25].
func Kelly(winRate, avgWin, avgLoss, fraction float64) (float64, error) {
	if winRate <= 0 || winRate >= 1 || avgLoss <= 0 {
		return 0, ErrInvalidInput
	}
	r := avgWin / avgLoss
	kelly := ((winRate*r - (1 - winRate)) / r) * fraction
	if kelly < 0 {
		kelly = 0
	}
	if kelly > 0.25 {
		kelly = 0.25
	}
	return kelly, nil
}

// ATRStop рассчитывает стоп-лосс на основе ATR.
// Истинный диапазон: max(high-low, |high-prevClose|, |low-prevClose|).
// Требуется period+1 свечей, чтобы был предыдущий close для первого бара.
func ATRStop(highs, lows, closes []float64, entry float64, side models.PositionSide, multiplier float64, period int) (float64, error) {
	if len(highs) < period+1 || len(lows) < period+1 || len(closes) < period+1 {
		return 0, ErrInsufficientData
	}

	var sum float64
	n := len(closes)
	for i := n - period; i < n; i++ {
		tr := math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		sum += tr
	}
	atr := sum / float64(period)

	if side == models.SideLong {
		return entry - atr*multiplier, nil
	}
	return entry + atr*multiplier, nil
}

// RiskReward параметры соотношения риск/прибыль планируемой сделки
type RiskReward struct {
	PotentialLoss    float64
	PotentialProfit  float64
	Ratio            float64
	BreakevenWinRate float64
}

// RiskRewardRatio рассчитывает соотношение риск/прибыль
func RiskRewardRatio(entry, stop, target, qty float64) (RiskReward, error) {
	loss := math.Abs(entry-stop) * qty
	profit := math.Abs(target-entry) * qty
	if loss == 0 {
		return RiskReward{}, ErrZeroRisk
	}
	ratio := profit / loss
	return RiskReward{
		PotentialLoss:    loss,
		PotentialProfit:  profit,
		Ratio:            ratio,
		BreakevenWinRate: 1 / (1 + ratio),
	}, nil
}

// DrawdownStats статистика просадки кривой капитала
type DrawdownStats struct {
	Current     float64
	Max         float64
	MaxDuration int
}

// Drawdown рассчитывает текущую и максимальную просадку, а также
// максимальную длительность просадки в барах. Пик считается префиксным
// максимумом кривой.
func Drawdown(equity []float64) DrawdownStats {
	var stats DrawdownStats
	if len(equity) == 0 {
		return stats
	}

	peak := equity[0]
	duration := 0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		var dd float64
		if peak > 0 {
			dd = (peak - e) / peak
		}
		if dd > 0 {
			duration++
			if duration > stats.MaxDuration {
				stats.MaxDuration = duration
			}
		} else {
			duration = 0
		}
		if dd > stats.Max {
			stats.Max = dd
		}
		stats.Current = dd
	}
	return stats
}

// Sharpe рассчитывает годовой коэффициент Шарпа по ряду доходностей.
// Возвращает 0, если наблюдений меньше двух или дисперсия нулевая.
func Sharpe(returns []float64, riskFreeRate, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}

	excess := mean - riskFreeRate/periodsPerYear
	return excess / math.Sqrt(variance) * math.Sqrt(periodsPerYear)
}

// Expectancy рассчитывает математическое ожидание сделки
func Expectancy(winRate, avgWin, avgLoss float64) float64 {
	return winRate*avgWin - (1-winRate)*avgLoss
}
