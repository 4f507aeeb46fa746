package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/skalibog/bfts/internal/config"
	"github.com/skalibog/bfts/pkg/models"
)

// InfluxDBStorage хранит свечи, сигналы, сделки и кривую капитала в InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	queryAPI := client.QueryAPI(cfg.Organization)
	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)

	return &InfluxDBStorage{
		client:   client,
		queryAPI: queryAPI,
		writeAPI: writeAPI,
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.client.Close()
}

// SaveCandles сохраняет множество свечей
func (s *InfluxDBStorage) SaveCandles(ctx context.Context, candles []*models.Candle) error {
	for _, candle := range candles {
		point := influxdb2.NewPoint(
			"candles",
			map[string]string{
				"symbol":   candle.Symbol,
				"interval": candle.Interval,
			},
			map[string]interface{}{
				"open":   candle.Open,
				"high":   candle.High,
				"low":    candle.Low,
				"close":  candle.Close,
				"volume": candle.Volume,
			},
			candle.OpenTime,
		)
		s.writeAPI.WritePoint(point)
	}

	s.writeAPI.Flush()
	return nil
}

// GetCandles получает исторические свечи
func (s *InfluxDBStorage) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	// Формируем Flux-запрос
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "candles")
			|> filter(fn: (r) => r.symbol == "%s")
			|> filter(fn: (r) => r.interval == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, symbol, interval, limit)

	// Выполняем запрос
	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса свечей: %w", err)
	}

	// Обрабатываем результаты
	var candles []*models.Candle
	for result.Next() {
		record := result.Record()

		timestamp := record.Time()
		open, _ := record.ValueByKey("open").(float64)
		high, _ := record.ValueByKey("high").(float64)
		low, _ := record.ValueByKey("low").(float64)
		closePrice, _ := record.ValueByKey("close").(float64)
		volume, _ := record.ValueByKey("volume").(float64)

		candle := &models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  timestamp,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: timestamp.Add(intervalDuration(interval)),
		}

		candles = append(candles, candle)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	// Запрос вернул свечи от новых к старым — разворачиваем в хронологию
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}

	return candles, nil
}

// SaveSignal сохраняет торговый сигнал
func (s *InfluxDBStorage) SaveSignal(ctx context.Context, signal *models.TradingSignal) error {
	point := influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol": signal.Symbol,
			"type":   string(signal.Type),
			"source": string(signal.Source),
		},
		map[string]interface{}{
			"confidence":  signal.Confidence,
			"entry":       signal.EntryPrice,
			"stop_loss":   signal.StopLoss,
			"take_profit": signal.TakeProfit,
			"rationale":   signal.Rationale,
		},
		signal.CreatedAt,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()

	return nil
}

// SaveTrade сохраняет закрытую сделку
func (s *InfluxDBStorage) SaveTrade(ctx context.Context, trade *models.Trade) error {
	point := influxdb2.NewPoint(
		"trades",
		map[string]string{
			"symbol":      trade.Symbol,
			"side":        string(trade.Side),
			"exit_reason": string(trade.ExitReason),
		},
		map[string]interface{}{
			"quantity":    trade.Quantity,
			"entry_price": trade.EntryPrice,
			"exit_price":  trade.ExitPrice,
			"pnl":         trade.PnL,
			"pnl_pct":     trade.PnLPct,
		},
		trade.ExitTime,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()

	return nil
}

// SaveEquityPoint сохраняет точку кривой капитала
func (s *InfluxDBStorage) SaveEquityPoint(ctx context.Context, point models.EquityPoint) error {
	p := influxdb2.NewPoint(
		"equity",
		map[string]string{},
		map[string]interface{}{
			"equity": point.Equity,
		},
		point.Time,
	)

	s.writeAPI.WritePoint(p)
	s.writeAPI.Flush()

	return nil
}

// intervalDuration длительность интервала свечи, неизвестные интервалы
// считаются минутными
func intervalDuration(interval string) time.Duration {
	if d, err := config.IntervalDuration(interval); err == nil {
		return d
	}
	return time.Minute
}
