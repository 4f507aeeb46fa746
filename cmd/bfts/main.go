package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/bfts/internal/analysis/fusion"
	"github.com/skalibog/bfts/internal/analysis/technical"
	"github.com/skalibog/bfts/internal/analysis/timeframe"
	"github.com/skalibog/bfts/internal/config"
	"github.com/skalibog/bfts/internal/exchange"
	"github.com/skalibog/bfts/internal/live"
	"github.com/skalibog/bfts/internal/risk"
	"github.com/skalibog/bfts/internal/sim"
	"github.com/skalibog/bfts/internal/storage"
	"github.com/skalibog/bfts/pkg/logger"
	"github.com/skalibog/bfts/pkg/models"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	mode := flag.String("mode", "backtest", "режим работы: backtest или live")
	dataDir := flag.String("data", "data", "каталог с CSV-файлами свечей (режим backtest)")
	flag.Parse()

	// Проверяем наличие файла конфигурации
	logger.Info("Проверка наличия файла конфигурации", zap.String("path", *configPath))
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	// Создаем контекст с возможностью отмены через горутину
	ctx, cancel := context.WithCancel(context.Background())

	// Настраиваем обработку сигналов завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nЗавершение работы...")
		cancel()
	}()

	switch *mode {
	case "backtest":
		if err := runBacktest(ctx, cfg, *dataDir); err != nil {
			logger.Fatal("Ошибка симуляции", zap.Error(err))
		}
	case "live":
		if err := runLive(ctx, cfg); err != nil && err != context.Canceled {
			logger.Fatal("Ошибка живого контура", zap.Error(err))
		}
	default:
		logger.Fatal("Неизвестный режим", zap.String("mode", *mode))
	}
}

// runBacktest прогоняет симуляцию по CSV-свечам и печатает отчет в stdout
func runBacktest(ctx context.Context, cfg *config.Config, dataDir string) error {
	candlesBySymbol, err := loadCandleDir(dataDir, cfg.Trading.Symbols)
	if err != nil {
		return err
	}

	// Часы выключателя начинаются с первого бара, а не с текущего
	// времени — ради воспроизводимости прогона
	start := time.Now().UTC()
	for _, candles := range candlesBySymbol {
		if len(candles) > 0 && candles[0].OpenTime.Before(start) {
			start = candles[0].OpenTime
		}
	}

	tech := technical.NewAnalyzer(cfg.Indicators)
	gen := fusion.NewGenerator(cfg.Fusion, cfg.Risk, cfg.Advisor, nil, nil)
	breaker := risk.NewCircuitBreaker(cfg.Breaker, cfg.Simulation.InitialBalance, start)

	publisher := &logPublisher{}
	breaker.OnTrip = func(event risk.TripEvent) {
		publisher.Publish(ctx, models.NewEvent(models.EventBreakerTrip, "", event))
	}
	breaker.OnReset = func() {
		publisher.Publish(ctx, models.NewEvent(models.EventBreakerReset, "", nil))
	}

	gate := risk.NewGate(cfg.Risk, breaker)
	engine := sim.NewEngine(cfg.Simulation, tech, gen, gate, breaker)

	report, err := engine.Run(ctx, candlesBySymbol)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации отчета: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// runLive запускает живой контур оценки сигналов
func runLive(ctx context.Context, cfg *config.Config) error {
	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		return fmt.Errorf("ошибка инициализации клиента биржи: %w", err)
	}

	var recorder live.Recorder
	if cfg.Storage.URL != "" {
		store, err := storage.NewInfluxDBStorage(cfg.Storage)
		if err != nil {
			return fmt.Errorf("ошибка инициализации хранилища: %w", err)
		}
		defer store.Close()
		recorder = store
	}

	tfAnalyzer, err := timeframe.NewAnalyzer(cfg.Indicators, cfg.Trading.Timeframes)
	if err != nil {
		return err
	}

	gen := fusion.NewGenerator(cfg.Fusion, cfg.Risk, cfg.Advisor, nil, nil)
	publisher := &logPublisher{}

	loop := live.NewLoop(cfg.Trading, client, tfAnalyzer, gen, recorder, publisher)
	logger.Info("Живой контур запущен", zap.Strings("symbols", cfg.Trading.Symbols))
	return loop.Run(ctx)
}

// logPublisher публикует события в лог; внешние потребители подключают
// сюда свой канал уведомлений
type logPublisher struct{}

func (p *logPublisher) Publish(_ context.Context, event models.Event) error {
	logger.Info("Событие",
		zap.String("id", event.ID.String()),
		zap.String("type", string(event.Type)),
		zap.String("symbol", event.Symbol))
	return nil
}
