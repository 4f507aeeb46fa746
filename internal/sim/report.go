package sim

import (
	"github.com/skalibog/bfts/internal/config"
	"github.com/skalibog/bfts/pkg/models"
	"github.com/skalibog/bfts/pkg/quant"
)

// buildReport сводит итог симуляции, все агрегатные метрики считает quant
func buildReport(cfg config.SimulationConfig, finalBalance float64, trades []models.Trade, equity []models.EquityPoint) *models.SimulationReport {
	report := &models.SimulationReport{
		InitialBalance: cfg.InitialBalance,
		FinalBalance:   finalBalance,
		TotalTrades:    len(trades),
		Trades:         trades,
		EquityCurve:    equity,
	}
	if cfg.InitialBalance > 0 {
		report.TotalReturn = (finalBalance - cfg.InitialBalance) / cfg.InitialBalance
	}

	var grossProfit, grossLoss float64
	for _, t := range trades {
		if t.PnL > 0 {
			report.WinningTrades++
			grossProfit += t.PnL
		} else if t.PnL < 0 {
			report.LosingTrades++
			grossLoss += -t.PnL
		}
	}

	if len(trades) > 0 {
		report.WinRate = float64(report.WinningTrades) / float64(len(trades))
	}
	if report.WinningTrades > 0 {
		report.AvgWin = grossProfit / float64(report.WinningTrades)
	}
	if report.LosingTrades > 0 {
		report.AvgLoss = grossLoss / float64(report.LosingTrades)
	}
	if grossLoss > 0 {
		report.ProfitFactor = grossProfit / grossLoss
	}
	report.Expectancy = quant.Expectancy(report.WinRate, report.AvgWin, report.AvgLoss)

	values := make([]float64, len(equity))
	for i, p := range equity {
		values[i] = p.Equity
	}
	dd := quant.Drawdown(values)
	report.MaxDrawdown = dd.Max
	report.MaxDrawdownDuration = dd.MaxDuration

	if len(values) > 1 {
		returns := make([]float64, 0, len(values)-1)
		for i := 1; i < len(values); i++ {
			if values[i-1] != 0 {
				returns = append(returns, values[i]/values[i-1]-1)
			}
		}
		report.SharpeRatio = quant.Sharpe(returns, 0, cfg.PeriodsPerYear)
	}

	return report
}
