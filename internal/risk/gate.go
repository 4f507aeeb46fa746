package risk

import (
	"go.uber.org/zap"

	"github.com/skalibog/bfts/internal/config"
	"github.com/skalibog/bfts/pkg/logger"
	"github.com/skalibog/bfts/pkg/models"
	"github.com/skalibog/bfts/pkg/quant"
)

// RejectReason причина отклонения приказа
type RejectReason string

const (
	RejectCircuitBreaker RejectReason = "CIRCUIT_BREAKER_ACTIVE"
	RejectBelowMinRR     RejectReason = "BELOW_MIN_RISK_REWARD"
	RejectMaxPositions   RejectReason = "MAX_POSITIONS_REACHED"
	RejectMissingStop    RejectReason = "MISSING_STOP_LOSS"
)

// Approval результат проверки приказа. Отказ — не ошибка, а значение,
// по которому ветвится вызывающий код.
type Approval struct {
	Approved bool
	Reason   RejectReason
}

// Order предлагаемый приказ
type Order struct {
	Symbol     string
	Side       models.PositionSide
	Quantity   float64
	Entry      float64
	StopLoss   float64
	TakeProfit float64
}

// Gate проверяет и дозирует приказы по настроенному профилю риска.
// Размер позиции считает quant, блокировку торговли решает выключатель.
type Gate struct {
	cfg     config.RiskConfig
	breaker *CircuitBreaker
}

// NewGate создает шлюз риска
func NewGate(cfg config.RiskConfig, breaker *CircuitBreaker) *Gate {
	return &Gate{
		cfg:     cfg,
		breaker: breaker,
	}
}

// SizeFor рассчитывает размер позиции под риск на сделку.
// Возвращает 0, если выключатель открыт или достигнут лимит открытых
// позиций.
func (g *Gate) SizeFor(symbol string, entry, stop, balance float64, openPositions int) (float64, error) {
	if !g.breaker.CanTrade() {
		return 0, nil
	}
	if openPositions >= g.cfg.MaxOpenPositions {
		return 0, nil
	}

	qty, err := quant.PositionSize(balance, entry, stop, g.cfg.RiskPerTrade)
	if err != nil {
		return 0, err
	}
	return qty, nil
}

// Approve проверяет приказ против профиля риска
func (g *Gate) Approve(order Order, balance float64, openPositions int) Approval {
	if !g.breaker.CanTrade() {
		return Approval{Approved: false, Reason: RejectCircuitBreaker}
	}
	if openPositions >= g.cfg.MaxOpenPositions {
		return Approval{Approved: false, Reason: RejectMaxPositions}
	}
	if order.StopLoss == 0 {
		return Approval{Approved: false, Reason: RejectMissingStop}
	}

	if order.TakeProfit != 0 {
		rr, err := quant.RiskRewardRatio(order.Entry, order.StopLoss, order.TakeProfit, order.Quantity)
		if err != nil || rr.Ratio < g.cfg.MinRiskReward {
			logger.Debug("Приказ отклонен по соотношению риск/прибыль",
				zap.String("symbol", order.Symbol),
				zap.Float64("ratio", rr.Ratio),
				zap.Float64("min", g.cfg.MinRiskReward))
			return Approval{Approved: false, Reason: RejectBelowMinRR}
		}
	}

	return Approval{Approved: true}
}
