package risk

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/bfts/internal/config"
	"github.com/skalibog/bfts/pkg/logger"
)

// BreakerState состояние автоматического выключателя
type BreakerState int

const (
	StateClosed   BreakerState = 0 // Торговля разрешена
	StateOpen     BreakerState = 1 // Торговля заблокирована
	StateHalfOpen BreakerState = 2 // Зарезервировано, переход пока не используется
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// TripReason причина срабатывания выключателя.
// Дневная просадка и просадка от пика — две разные причины.
type TripReason string

const (
	TripDailyDrawdown     TripReason = "DAILY_DRAWDOWN"
	TripTotalDrawdown     TripReason = "TOTAL_DRAWDOWN"
	TripConsecutiveLosses TripReason = "CONSECUTIVE_LOSSES"
	TripRollingLoss       TripReason = "ROLLING_LOSS"
	TripManual            TripReason = "MANUAL"
	TripExternal          TripReason = "EXTERNAL_ERROR"
)

// ErrCooldownActive период охлаждения после срабатывания еще не истек
var ErrCooldownActive = errors.New("период охлаждения не истек")

// TripEvent запись о срабатывании выключателя
type TripEvent struct {
	Reason  TripReason
	Time    time.Time
	Balance float64
}

// lossEntry убыток в скользящем окне
type lossEntry struct {
	time   time.Time
	amount float64
}

// CircuitBreaker независимый автомат, блокирующий торговлю по паттернам
// убытков. Все мутации проходят через методы под мьютексом: на один
// торговый контекст допускается не более одного обновления в полете,
// поскольку решения о срабатывании зависят от строгого порядка переходов.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg config.BreakerConfig

	state      BreakerState
	tripReason TripReason
	tripTime   time.Time
	trips      []TripEvent

	consecutiveLosses int
	rollingLosses     []lossEntry

	peakBalance    float64
	currentBalance float64
	dailyStart     float64
	lastResetDay   time.Time

	// OnTrip необязательный обработчик срабатывания (публикация события)
	OnTrip func(TripEvent)
	// OnReset необязательный обработчик успешного сброса
	OnReset func()
}

// NewCircuitBreaker создает выключатель в закрытом состоянии
func NewCircuitBreaker(cfg config.BreakerConfig, initialBalance float64, now time.Time) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:            cfg,
		state:          StateClosed,
		peakBalance:    initialBalance,
		currentBalance: initialBalance,
		dailyStart:     initialBalance,
		lastResetDay:   utcDay(now),
	}
}

// CanTrade сообщает, разрешена ли торговля
func (cb *CircuitBreaker) CanTrade() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == StateClosed
}

// State возвращает текущее состояние
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// TripInfo возвращает причину и время последнего срабатывания
func (cb *CircuitBreaker) TripInfo() (TripReason, time.Time, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return "", time.Time{}, false
	}
	return cb.tripReason, cb.tripTime, true
}

// TripEvents возвращает копию журнала срабатываний
func (cb *CircuitBreaker) TripEvents() []TripEvent {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make([]TripEvent, len(cb.trips))
	copy(out, cb.trips)
	return out
}

// Trip вручную или по внешней ошибке переводит выключатель в открытое
// состояние. Повторное срабатывание в открытом состоянии — no-op.
func (cb *CircuitBreaker) Trip(reason TripReason, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip(reason, now)
}

// Reset сбрасывает выключатель. Без force сброс возможен только после
// истечения периода охлаждения; неудачный сброс не меняет состояние.
// При успехе метаданные срабатывания и счетчики убытков очищаются,
// баланс и пик сохраняются.
func (cb *CircuitBreaker) Reset(force bool, now time.Time) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}

	cooldown := time.Duration(cb.cfg.CooldownMinutes) * time.Minute
	if !force && now.Sub(cb.tripTime) < cooldown {
		return ErrCooldownActive
	}

	cb.state = StateClosed
	cb.tripReason = ""
	cb.tripTime = time.Time{}
	cb.consecutiveLosses = 0
	cb.rollingLosses = nil

	logger.Info("Выключатель сброшен", zap.Bool("force", force))
	if cb.OnReset != nil {
		cb.OnReset()
	}
	return nil
}

// UpdateBalance обновляет баланс и проверяет условия срабатывания в
// фиксированном порядке: дневная просадка, просадка от пика, серия
// убытков, убыток в скользящем окне.
func (cb *CircuitBreaker) UpdateBalance(newBalance float64, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeRollDay(now)

	prev := cb.currentBalance
	if newBalance < prev {
		cb.consecutiveLosses++
		cb.rollingLosses = append(cb.rollingLosses, lossEntry{time: now, amount: prev - newBalance})
	} else if newBalance > prev {
		cb.consecutiveLosses = 0
	}

	cb.currentBalance = newBalance
	if newBalance > cb.peakBalance {
		cb.peakBalance = newBalance
	}

	// Отсекаем убытки старше скользящего окна
	window := time.Duration(cb.cfg.RollingWindowMinutes) * time.Minute
	cutoff := now.Add(-window)
	pruned := cb.rollingLosses[:0]
	for _, l := range cb.rollingLosses {
		if l.time.After(cutoff) {
			pruned = append(pruned, l)
		}
	}
	cb.rollingLosses = pruned

	if cb.state == StateOpen {
		return
	}

	if cb.dailyStart > 0 {
		dailyDD := (cb.dailyStart - newBalance) / cb.dailyStart
		if dailyDD >= cb.cfg.MaxDailyDrawdown {
			cb.trip(TripDailyDrawdown, now)
			return
		}
	}

	if cb.peakBalance > 0 {
		totalDD := (cb.peakBalance - newBalance) / cb.peakBalance
		if totalDD >= cb.cfg.MaxTotalDrawdown {
			cb.trip(TripTotalDrawdown, now)
			return
		}
	}

	if cb.consecutiveLosses >= cb.cfg.MaxConsecutiveLosses {
		cb.trip(TripConsecutiveLosses, now)
		return
	}

	var rollingSum float64
	for _, l := range cb.rollingLosses {
		rollingSum += l.amount
	}
	if cb.peakBalance > 0 && rollingSum/cb.peakBalance >= cb.cfg.RollingLossThreshold {
		cb.trip(TripRollingLoss, now)
	}
}

// trip переводит выключатель в открытое состояние; вызывается под мьютексом
func (cb *CircuitBreaker) trip(reason TripReason, now time.Time) {
	if cb.state == StateOpen {
		// Повторное срабатывание не записывается
		return
	}

	cb.state = StateOpen
	cb.tripReason = reason
	cb.tripTime = now
	event := TripEvent{Reason: reason, Time: now, Balance: cb.currentBalance}
	cb.trips = append(cb.trips, event)

	logger.Warn("Выключатель сработал",
		zap.String("reason", string(reason)),
		zap.Float64("balance", cb.currentBalance))
	if cb.OnTrip != nil {
		cb.OnTrip(event)
	}
}

// maybeRollDay сбрасывает дневные счетчики при пересечении границы
// календарного дня UTC, независимо от состояния выключателя
func (cb *CircuitBreaker) maybeRollDay(now time.Time) {
	day := utcDay(now)
	if day.Equal(cb.lastResetDay) {
		return
	}
	cb.lastResetDay = day
	cb.dailyStart = cb.currentBalance
	cb.consecutiveLosses = 0
	cb.rollingLosses = nil
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
