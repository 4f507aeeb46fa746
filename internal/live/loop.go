// Package live содержит живой контур оценки: периодический опрос рынка,
// мультитаймфреймовый анализ и публикация значимых сигналов. Данные по
// символам запрашиваются конкурентно с ограниченным фан-аутом.
package live

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/skalibog/bfts/internal/analysis/fusion"
	"github.com/skalibog/bfts/internal/analysis/timeframe"
	"github.com/skalibog/bfts/internal/config"
	"github.com/skalibog/bfts/pkg/logger"
	"github.com/skalibog/bfts/pkg/models"
)

// CandleSource источник свечей (биржевой клиент)
type CandleSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
}

// Recorder приемник сигналов для долговременного хранения
type Recorder interface {
	SaveSignal(ctx context.Context, signal *models.TradingSignal) error
}

// Publisher канал публикации наблюдаемых событий
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// фан-аут по символам ограничен небольшим числом одновременных запросов
const maxConcurrentSymbols = 4

// Loop периодически оценивает все символы и публикует значимые сигналы
type Loop struct {
	cfg       config.TradingConfig
	source    CandleSource
	analyzer  *timeframe.Analyzer
	generator *fusion.Generator
	recorder  Recorder
	publisher Publisher
	sem       *semaphore.Weighted
}

// NewLoop создает живой контур оценки. recorder и publisher могут быть nil.
func NewLoop(cfg config.TradingConfig, source CandleSource, analyzer *timeframe.Analyzer, generator *fusion.Generator, recorder Recorder, publisher Publisher) *Loop {
	return &Loop{
		cfg:       cfg,
		source:    source,
		analyzer:  analyzer,
		generator: generator,
		recorder:  recorder,
		publisher: publisher,
		sem:       semaphore.NewWeighted(maxConcurrentSymbols),
	}
}

// Run запускает цикл оценки до отмены контекста
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(l.cfg.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evaluateAll(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// evaluateAll оценивает все символы с ограниченным фан-аутом
func (l *Loop) evaluateAll(ctx context.Context) {
	for _, symbol := range l.cfg.Symbols {
		// Кооперативная отмена проверяется на границе оценки символа
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return
		}

		go func(sym string) {
			defer l.sem.Release(1)
			if err := l.evaluateSymbol(ctx, sym); err != nil {
				// Ошибка одного символа не прерывает цикл по остальным
				logger.Warn("Ошибка оценки символа", zap.String("symbol", sym), zap.Error(err))
			}
		}(symbol)
	}
}

// evaluateSymbol получает свечи всех таймфреймов, анализирует их и
// публикует сигнал, если он значимо изменился
func (l *Loop) evaluateSymbol(ctx context.Context, symbol string) error {
	candlesByTF := make(map[string][]*models.Candle, len(l.cfg.Timeframes))
	var primary []*models.Candle

	for _, tf := range l.cfg.Timeframes {
		limit := tf.MinCandles * 2
		candles, err := l.source.GetKlines(ctx, symbol, tf.Interval, limit)
		if err != nil {
			logger.Warn("Ошибка получения свечей",
				zap.String("symbol", symbol),
				zap.String("interval", tf.Interval),
				zap.Error(err))
			continue
		}
		candlesByTF[tf.Interval] = candles
		if primary == nil {
			primary = candles
		}
	}

	mtf, err := l.analyzer.Analyze(candlesByTF, symbol)
	if err != nil {
		return err
	}

	// Анализ первичного таймфрейма уже рассчитан мультитаймфреймовым
	// анализатором — берем его из результата
	var analysis *models.AnalysisResult
	for _, tf := range l.cfg.Timeframes {
		if r, ok := mtf.ByTimeframe[tf.Interval]; ok {
			analysis = r
			primary = candlesByTF[tf.Interval]
			break
		}
	}
	if analysis == nil {
		return timeframe.ErrNoTimeframes
	}

	signal, err := l.generator.Generate(ctx, symbol, primary, analysis, mtf)
	if err != nil {
		return err
	}

	if !l.generator.IsSignificantChange(symbol, signal) {
		return nil
	}

	logger.Info("Значимый сигнал",
		zap.String("symbol", symbol),
		zap.String("type", string(signal.Type)),
		zap.Float64("confidence", signal.Confidence))

	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, models.NewEvent(models.EventSignalEmitted, symbol, signal)); err != nil {
			logger.Warn("Ошибка публикации события", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	if l.recorder != nil {
		if err := l.recorder.SaveSignal(ctx, signal); err != nil {
			logger.Warn("Ошибка сохранения сигнала", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	return nil
}
