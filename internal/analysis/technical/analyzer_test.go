package technical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bfts/internal/config"
	"github.com/skalibog/bfts/pkg/models"
)

func testIndicatorConfig() config.IndicatorConfig {
	return config.IndicatorConfig{
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
}

func makeCandles(n int, closeAt func(i int) float64) []*models.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]*models.Candle, n)
	for i := 0; i < n; i++ {
		c := closeAt(i)
		candles[i] = &models.Candle{
			Symbol:   "BTCUSDT",
			Interval: "1h",
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     c,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   1000,
		}
	}
	return candles
}

func TestAnalyzeInsufficientData(t *testing.T) {
	a := NewAnalyzer(testIndicatorConfig())
	_, err := a.Analyze(makeCandles(10, func(i int) float64 { return 100 }), "BTCUSDT")
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAnalyzeProducesAllIndicators(t *testing.T) {
	a := NewAnalyzer(testIndicatorConfig())
	result, err := a.Analyze(makeCandles(100, func(i int) float64 { return 100 + float64(i) }), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", result.Symbol)
	assert.Len(t, result.Indicators, 6)
	for _, name := range []string{"RSI", "MACD", "Bollinger", "OBV", "ATR", "EMA"} {
		assert.Contains(t, result.Indicators, name)
	}
	assert.GreaterOrEqual(t, result.Confidence, 0.0)
	assert.LessOrEqual(t, result.Confidence, 1.0)
}

func TestRSIOverboughtIsBearish(t *testing.T) {
	a := NewAnalyzer(testIndicatorConfig())
	// Непрерывный рост загоняет RSI в экстремальную перекупленность
	result, err := a.Analyze(makeCandles(100, func(i int) float64 { return 100 + float64(i) }), "BTCUSDT")
	require.NoError(t, err)

	rsi := result.Indicators["RSI"]
	assert.Equal(t, models.TrendBearish, rsi.Signal)
	assert.Equal(t, models.StrengthStrong, rsi.Strength)

	scalar, ok := rsi.Value.(models.ScalarValue)
	require.True(t, ok)
	assert.Greater(t, scalar.Value, 80.0)
}

func TestRSIOversoldIsBullish(t *testing.T) {
	a := NewAnalyzer(testIndicatorConfig())
	result, err := a.Analyze(makeCandles(100, func(i int) float64 { return 500 - float64(i)*3 }), "BTCUSDT")
	require.NoError(t, err)

	rsi := result.Indicators["RSI"]
	assert.Equal(t, models.TrendBullish, rsi.Signal)
	assert.Equal(t, models.StrengthStrong, rsi.Strength)
}

func TestATRAlwaysNeutral(t *testing.T) {
	a := NewAnalyzer(testIndicatorConfig())

	for _, closeAt := range []func(int) float64{
		func(i int) float64 { return 100 + float64(i) },
		func(i int) float64 { return 500 - float64(i)*3 },
		func(i int) float64 { return 100 + float64(i%7) },
	} {
		result, err := a.Analyze(makeCandles(100, closeAt), "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, models.TrendNeutral, result.Indicators["ATR"].Signal)
	}
}

func TestEMAStackStrongBullishInUptrend(t *testing.T) {
	a := NewAnalyzer(testIndicatorConfig())
	result, err := a.Analyze(makeCandles(100, func(i int) float64 { return 100 + float64(i) }), "BTCUSDT")
	require.NoError(t, err)

	ema := result.Indicators["EMA"]
	assert.Equal(t, models.TrendBullish, ema.Signal)
	assert.Equal(t, models.StrengthStrong, ema.Strength)

	comps, ok := ema.Value.(models.ComponentsValue)
	require.True(t, ok)
	assert.Len(t, comps.Components, 3)
}

func TestEMAStackStrongBearishInDowntrend(t *testing.T) {
	a := NewAnalyzer(testIndicatorConfig())
	result, err := a.Analyze(makeCandles(100, func(i int) float64 { return 500 - float64(i)*3 }), "BTCUSDT")
	require.NoError(t, err)

	ema := result.Indicators["EMA"]
	assert.Equal(t, models.TrendBearish, ema.Signal)
	assert.Equal(t, models.StrengthStrong, ema.Strength)
}

func TestEMAStackSkipsLongPeriods(t *testing.T) {
	cfg := testIndicatorConfig()
	cfg.EMAPeriods = []int{9, 21, 200} // 200 превышает доступную историю
	a := NewAnalyzer(cfg)

	result, err := a.Analyze(makeCandles(100, func(i int) float64 { return 100 + float64(i) }), "BTCUSDT")
	require.NoError(t, err)

	comps, ok := result.Indicators["EMA"].Value.(models.ComponentsValue)
	require.True(t, ok)
	assert.Len(t, comps.Components, 2)
	assert.NotContains(t, comps.Components, "ema_200")
}

func TestMACDComponents(t *testing.T) {
	a := NewAnalyzer(testIndicatorConfig())
	result, err := a.Analyze(makeCandles(100, func(i int) float64 { return 100 + float64(i) }), "BTCUSDT")
	require.NoError(t, err)

	macd := result.Indicators["MACD"]
	comps, ok := macd.Value.(models.ComponentsValue)
	require.True(t, ok)
	assert.Contains(t, comps.Components, "macd")
	assert.Contains(t, comps.Components, "signal")
	assert.Contains(t, comps.Components, "histogram")

	// В устойчивом росте линия MACD выше нуля
	assert.Greater(t, comps.Components["macd"], 0.0)
}

func TestOBVBullishInUptrend(t *testing.T) {
	a := NewAnalyzer(testIndicatorConfig())
	result, err := a.Analyze(makeCandles(100, func(i int) float64 { return 100 + float64(i) }), "BTCUSDT")
	require.NoError(t, err)

	obv := result.Indicators["OBV"]
	assert.Equal(t, models.TrendBullish, obv.Signal)
}

func TestAggregationDeterministic(t *testing.T) {
	a := NewAnalyzer(testIndicatorConfig())
	candles := makeCandles(100, func(i int) float64 { return 100 + float64(i%13) })

	first, err := a.Analyze(candles, "BTCUSDT")
	require.NoError(t, err)
	second, err := a.Analyze(candles, "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, first.Trend, second.Trend)
	assert.Equal(t, first.Strength, second.Strength)
	assert.Equal(t, first.Confidence, second.Confidence)
}
