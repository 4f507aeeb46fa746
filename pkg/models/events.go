package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType тип публикуемого события
type EventType string

const (
	EventSignalEmitted EventType = "SIGNAL_EMITTED"
	EventBreakerTrip   EventType = "BREAKER_TRIP"
	EventBreakerReset  EventType = "BREAKER_RESET"
)

// Event наблюдаемое изменение состояния, публикуемое наружу
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Type      EventType   `json:"type"`
	Symbol    string      `json:"symbol,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewEvent создает событие с новым идентификатором
func NewEvent(eventType EventType, symbol string, payload interface{}) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
