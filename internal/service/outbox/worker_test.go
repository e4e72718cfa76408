package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
	"github.com/vladislavdragonenkov/ordering/internal/metrics"
)

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{
		pending: []domain.OutboxMessage{
			{
				ID:            "msg-1",
				AggregateType: domain.AggregateClient,
				AggregateID:   "1",
				EventType:     domain.EventClientCreated,
				Payload:       []byte(`{"id":1,"nome":"João"}`),
			},
		},
	}
	publisher := &stubPublisher{}

	worker := NewWorker(
		repo,
		publisher,
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)

	worker.ProcessOnce(context.Background())

	if got := len(repo.sentIDs); got != 1 {
		t.Fatalf("expected 1 sent mark, got %d", got)
	}
	if repo.sentIDs[0] != "msg-1" {
		t.Fatalf("expected sent id msg-1, got %s", repo.sentIDs[0])
	}
	if got := len(repo.failedIDs); got != 0 {
		t.Fatalf("expected 0 failed marks, got %d", got)
	}
	if got := publisher.calls(); got != 1 {
		t.Fatalf("expected 1 publish call, got %d", got)
	}
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{
		pending: []domain.OutboxMessage{
			{
				ID:            "msg-2",
				AggregateType: domain.AggregateOrder,
				AggregateID:   "2",
				EventType:     domain.EventOrderDeleted,
				Payload:       []byte(`{"id":2}`),
			},
		},
	}
	publisher := &stubPublisher{err: errors.New("publish failed")}
	dlqPublisher := &stubPublisher{}
	reg := prometheus.NewRegistry()

	worker := NewWorker(
		repo,
		publisher,
		WithDLQPublisher(dlqPublisher),
		WithMetrics(metrics.NewOutboxMetrics(reg)),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)

	worker.ProcessOnce(context.Background())

	if got := counterValue(t, reg, "ordering_outbox_publish_attempts_total", "failed"); got != 1 {
		t.Fatalf("expected 1 failed attempt metric, got %v", got)
	}
	if got := counterValue(t, reg, "ordering_outbox_publish_attempts_total", "retry_error"); got != 3 {
		t.Fatalf("expected 3 retry_error metrics, got %v", got)
	}

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := len(repo.sentIDs); got != 0 {
		t.Fatalf("expected 0 sent marks, got %d", got)
	}
	if got := len(repo.failedIDs); got != 1 {
		t.Fatalf("expected 1 failed mark, got %d", got)
	}
	if repo.failedIDs[0] != "msg-2" {
		t.Fatalf("expected failed id msg-2, got %s", repo.failedIDs[0])
	}
	if got := dlqPublisher.calls(); got != 1 {
		t.Fatalf("expected 1 DLQ publish, got %d", got)
	}

	var dead domain.DeadLetter
	if err := json.Unmarshal(dlqPublisher.last.Payload, &dead); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if dead.OutboxID != "msg-2" || dead.EventType != domain.EventOrderDeleted {
		t.Fatalf("unexpected dead letter: %+v", dead)
	}
	if string(dead.Payload) != `{"id":2}` {
		t.Fatalf("dead letter must carry the original payload, got %s", dead.Payload)
	}
	if dead.PublishError == "" {
		t.Fatal("dead letter must carry the publish error")
	}
	if got := dead.Message(); got.ID != "msg-2" || got.AggregateID != "2" {
		t.Fatalf("unexpected restored message: %+v", got)
	}
}

func TestWorker_Drain_ProcessesAllBatches(t *testing.T) {
	t.Parallel()

	repo := &drainingRepo{}
	for i := range 5 {
		repo.pending = append(repo.pending, domain.OutboxMessage{ID: string(rune('a' + i)), EventType: domain.EventClientCreated})
	}
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithBatchSize(2), WithRetryBaseDelay(0))
	worker.Drain(context.Background())

	if got := publisher.calls(); got != 5 {
		t.Fatalf("expected 5 publish calls, got %d", got)
	}
	if len(repo.pending) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(repo.pending))
	}
}

func TestWorker_ProcessOnce_CanceledContextKeepsPending(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{{ID: "msg-4"}}}
	worker := NewWorker(repo, &stubPublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := worker.ProcessOnce(ctx); got != 0 {
		t.Fatalf("expected no processed events, got %d", got)
	}
	if len(repo.sentIDs)+len(repo.failedIDs) != 0 {
		t.Fatal("canceled pass must not mark events")
	}
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{
		pending: []domain.OutboxMessage{
			{
				ID:            "msg-3",
				AggregateType: domain.AggregateProduct,
				AggregateID:   "3",
				EventType:     domain.EventProductUpdated,
				Payload:       []byte(`{"id":3,"preco":"9.90"}`),
			},
		},
	}
	publisher := &stubPublisher{
		sequenceErrors: []error{
			errors.New("attempt 1"),
			errors.New("attempt 2"),
			nil,
		},
	}

	worker := NewWorker(
		repo,
		publisher,
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)

	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := len(repo.sentIDs); got != 1 {
		t.Fatalf("expected 1 sent mark, got %d", got)
	}
	if got := len(repo.failedIDs); got != 0 {
		t.Fatalf("expected 0 failed marks, got %d", got)
	}
}

type stubOutboxRepo struct {
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

func (s *stubOutboxRepo) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats() (domain.OutboxStats, error) {
	stats := domain.OutboxStats{
		PendingCount: len(s.pending),
	}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (s *stubOutboxRepo) MarkSent(id string) error {
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(id string) error {
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	callCount      int
	last           domain.OutboxMessage
}

func (s *stubPublisher) Publish(event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.last = event
	if len(s.sequenceErrors) > 0 {
		err := s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
		return err
	}

	return s.err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

// drainingRepo убирает событие из backlog при пометке, как настоящее хранилище.
type drainingRepo struct {
	stubOutboxRepo
}

func (d *drainingRepo) MarkSent(id string) error {
	for i, msg := range d.pending {
		if msg.ID == id {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			break
		}
	}
	return d.stubOutboxRepo.MarkSent(id)
}

var _ domain.OutboxRepository = (*stubOutboxRepo)(nil)
var _ domain.OutboxPublisher = (*stubPublisher)(nil)

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{}
	publisher := &stubPublisher{}

	worker := NewWorker(
		repo,
		publisher,
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_RetryBackoff(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(10*time.Millisecond))
	if got := worker.retryBackoff(1); got != 10*time.Millisecond {
		t.Fatalf("expected 10ms, got %s", got)
	}
	if got := worker.retryBackoff(3); got != 40*time.Millisecond {
		t.Fatalf("expected 40ms, got %s", got)
	}

	worker = NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(0))
	if got := worker.retryBackoff(5); got != 0 {
		t.Fatalf("expected zero backoff, got %s", got)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, result string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
