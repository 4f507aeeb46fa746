package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/skalibog/bfts/pkg/models"
)

// loadCandleDir загружает CSV-свечи для каждого символа из каталога.
// Ожидается файл <SYMBOL>.csv со строками:
// timestamp,open,high,low,close,volume (timestamp — unix-секунды)
func loadCandleDir(dir string, symbols []string) (map[string][]*models.Candle, error) {
	out := make(map[string][]*models.Candle, len(symbols))
	for _, symbol := range symbols {
		path := filepath.Join(dir, symbol+".csv")
		candles, err := loadCandleCSV(path, symbol)
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки %s: %w", path, err)
		}
		out[symbol] = candles
	}
	return out, nil
}

func loadCandleCSV(path, symbol string) ([]*models.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 6

	var candles []*models.Candle
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		// Первая строка может быть заголовком
		if line == 1 {
			if _, err := strconv.ParseInt(record[0], 10, 64); err != nil {
				continue
			}
		}

		ts, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("строка %d: неверная метка времени %q", line, record[0])
		}

		values := make([]float64, 5)
		for i := 1; i < 6; i++ {
			v, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				return nil, fmt.Errorf("строка %d: неверное значение %q", line, record[i])
			}
			values[i-1] = v
		}

		candles = append(candles, &models.Candle{
			Symbol:   symbol,
			OpenTime: time.Unix(ts, 0).UTC(),
			Open:     values[0],
			High:     values[1],
			Low:      values[2],
			Close:    values[3],
			Volume:   values[4],
		})
	}

	return candles, nil
}
