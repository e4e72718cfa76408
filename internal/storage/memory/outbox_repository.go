package memory

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// EnqueueOutbox сохраняет событие со статусом `pending` в рамках транзакции.
func (tx *memTx) EnqueueOutbox(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if !tx.writable {
		return domain.OutboxMessage{}, domain.ErrReadOnlyTx
	}
	s := tx.store

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	prevSeq := s.seq.outbox
	s.seq.outbox++
	s.outbox[msg.ID] = &outboxRecord{
		msg:       msg,
		seq:       s.seq.outbox,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}

	id := msg.ID
	tx.onRollback(func() {
		delete(s.outbox, id)
		s.seq.outbox = prevSeq
	})
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке постановки.
func (s *Store) PullPending(limit int) ([]domain.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	pending := s.pendingRecordsLocked()
	if len(pending) > limit {
		pending = pending[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (s *Store) Stats() (domain.OutboxStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := s.pendingRecordsLocked()
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].createdAt
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (s *Store) MarkSent(id string) error {
	return s.markOutbox(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (s *Store) MarkFailed(id string) error {
	return s.markOutbox(id, outboxStatusFailed)
}

func (s *Store) markOutbox(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	return nil
}

func (s *Store) pendingRecordsLocked() []*outboxRecord {
	pending := make([]*outboxRecord, 0)
	for _, rec := range s.outbox {
		if rec.status == outboxStatusPending {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	return pending
}

var _ domain.OutboxRepository = (*Store)(nil)
