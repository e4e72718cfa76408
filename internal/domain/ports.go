package domain

import (
	"encoding/json"
	"time"
)

// OutboxPublisher отправляет событие из outbox во внешний брокер.
// Повторная отправка того же события допустима: потребители дедуплицируют по ID.
type OutboxPublisher interface {
	Publish(event OutboxMessage) error
}

// OutboxRepository используется воркером публикации.
type OutboxRepository interface {
	// PullPending возвращает до limit неотправленных событий в порядке постановки.
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит ответы на запросы с Idempotency-Key.
type IdempotencyRepository interface {
	// CreateProcessing занимает ключ. ErrIdempotencyKeyAlreadyExists, если ключ жив.
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage — событие об изменении клиента, товара или заказа.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats — размер backlog и возраст самого старого неотправленного события.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// DeadLetter — запись в DLQ о событии, которое не удалось опубликовать.
// Содержит исходное событие целиком, чтобы его можно было переотправить.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"dlq_published_at"`
}

// NewDeadLetter описывает событие msg, публикация которого завершилась ошибкой cause.
func NewDeadLetter(msg OutboxMessage, cause error, failedAt time.Time) DeadLetter {
	dl := DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		FailedAt:      failedAt.UTC(),
	}
	if len(dl.Payload) == 0 {
		dl.Payload = json.RawMessage("null")
	}
	if cause != nil {
		dl.PublishError = cause.Error()
	}
	return dl
}

// Message восстанавливает исходное событие.
func (d DeadLetter) Message() OutboxMessage {
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}
