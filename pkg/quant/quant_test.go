package quant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bfts/pkg/models"
)

func TestPositionSize(t *testing.T) {
	// Сценарий из профиля риска: 1% от 10000 при дистанции стопа 1000
	qty, err := PositionSize(10000, 50000, 49000, 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, qty, 1e-9)
	assert.InDelta(t, 100, qty*1000, 1e-9)
}

func TestPositionSizeRiskInvariant(t *testing.T) {
	// qty * |entry-stop| == balance * risk для любых допустимых входов
	cases := []struct {
		balance, entry, stop, risk float64
	}{
		{10000, 50000, 49000, 0.01},
		{5000, 100, 95, 0.02},
		{250000, 1.25, 1.35, 0.005},
		{777, 42, 40.5, 1.0},
	}
	for _, c := range cases {
		qty, err := PositionSize(c.balance, c.entry, c.stop, c.risk)
		require.NoError(t, err)
		dist := c.entry - c.stop
		if dist < 0 {
			dist = -dist
		}
		assert.InDelta(t, c.balance*c.risk, qty*dist, 1e-6)
	}
}

func TestPositionSizeInvalidStop(t *testing.T) {
	_, err := PositionSize(10000, 50000, 50000, 0.01)
	assert.ErrorIs(t, err, ErrInvalidStop)
}

func TestKellyClamped(t *testing.T) {
	// Сырое значение 0.4 ограничивается до 0.25
	k, err := Kelly(0.6, 200, 100, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, k, 1e-9)
}

func TestKellyFraction(t *testing.T) {
	// R=1.5: ((0.55*1.5 - 0.45) / 1.5) * 0.5 = 0.125
	k, err := Kelly(0.55, 150, 100, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.125, k, 1e-9)
}

func TestKellyNeverNegative(t *testing.T) {
	k, err := Kelly(0.2, 100, 100, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, k)
}

func TestKellyRange(t *testing.T) {
	for _, wr := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		for _, r := range []float64{0.5, 1, 2, 5} {
			k, err := Kelly(wr, 100*r, 100, 1.0)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, k, 0.0)
			assert.LessOrEqual(t, k, 0.25)
		}
	}
}

func TestKellyInvalidInput(t *testing.T) {
	_, err := Kelly(0, 200, 100, 1.0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = Kelly(1, 200, 100, 1.0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = Kelly(0.5, 200, 0, 1.0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestATRStop(t *testing.T) {
	highs := []float64{110, 110, 110, 110}
	lows := []float64{100, 100, 100, 100}
	closes := []float64{105, 105, 105, 105}

	// TR каждого бара 10, ATR 10, стоп лонга = 105 - 10*2
	stop, err := ATRStop(highs, lows, closes, 105, models.SideLong, 2, 3)
	require.NoError(t, err)
	assert.InDelta(t, 85, stop, 1e-9)

	stop, err = ATRStop(highs, lows, closes, 105, models.SideShort, 2, 3)
	require.NoError(t, err)
	assert.InDelta(t, 125, stop, 1e-9)
}

func TestATRStopInsufficientData(t *testing.T) {
	highs := []float64{110, 110, 110}
	lows := []float64{100, 100, 100}
	closes := []float64{105, 105, 105}
	_, err := ATRStop(highs, lows, closes, 105, models.SideLong, 2, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRiskRewardRatio(t *testing.T) {
	rr, err := RiskRewardRatio(100, 95, 110, 2)
	require.NoError(t, err)
	assert.InDelta(t, 10, rr.PotentialLoss, 1e-9)
	assert.InDelta(t, 20, rr.PotentialProfit, 1e-9)
	assert.InDelta(t, 2, rr.Ratio, 1e-9)
	assert.InDelta(t, 1.0/3.0, rr.BreakevenWinRate, 1e-9)
}

func TestRiskRewardZeroRisk(t *testing.T) {
	_, err := RiskRewardRatio(100, 100, 110, 2)
	assert.ErrorIs(t, err, ErrZeroRisk)
}

func TestDrawdownMonotonic(t *testing.T) {
	stats := Drawdown([]float64{100, 100, 110, 120, 120, 150})
	assert.Equal(t, 0.0, stats.Current)
	assert.Equal(t, 0.0, stats.Max)
	assert.Equal(t, 0, stats.MaxDuration)
}

func TestDrawdownScenario(t *testing.T) {
	stats := Drawdown([]float64{100, 110, 105, 115, 100})
	assert.InDelta(t, 0.1304, stats.Max, 1e-4)
	assert.InDelta(t, 0.1304, stats.Current, 1e-4)
	assert.Equal(t, 1, stats.MaxDuration)
}

func TestDrawdownDuration(t *testing.T) {
	stats := Drawdown([]float64{100, 90, 95, 99, 100, 98})
	assert.Equal(t, 3, stats.MaxDuration)
	assert.InDelta(t, 0.10, stats.Max, 1e-9)
	assert.InDelta(t, 0.02, stats.Current, 1e-9)
}

func TestDrawdownEmpty(t *testing.T) {
	stats := Drawdown(nil)
	assert.Equal(t, DrawdownStats{}, stats)
}

func TestSharpeDegenerate(t *testing.T) {
	assert.Equal(t, 0.0, Sharpe([]float64{0.01}, 0, 365))
	assert.Equal(t, 0.0, Sharpe([]float64{0.01, 0.01, 0.01}, 0, 365))
}

func TestSharpePositive(t *testing.T) {
	s := Sharpe([]float64{0.01, 0.02, 0.015, 0.005, 0.012}, 0, 365)
	assert.Greater(t, s, 0.0)
}

func TestExpectancy(t *testing.T) {
	assert.InDelta(t, 80, Expectancy(0.6, 200, 100), 1e-9)
	assert.InDelta(t, -40, Expectancy(0.2, 100, 75), 1e-9)
	assert.InDelta(t, 0, Expectancy(0.5, 100, 100), 1e-9)
}
