// Package ordering содержит доменные сервисы: реестр клиентов, каталог товаров,
// журнал заказов и историю заказов клиента. Каждая операция выполняется в одной
// транзакции domain.Store, поэтому проверки ссылок и записи атомарны
// относительно конкурентных удалений.
package ordering

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
	"github.com/vladislavdragonenkov/ordering/internal/metrics"
)

// Options задаёт зависимости сервисов.
type Options struct {
	Logger  *log.Entry
	Metrics *metrics.OrderingMetrics
	Clock   func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger для всех компонентов.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает запись метрик операций.
func WithMetrics(m *metrics.OrderingMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithClock подменяет источник времени (используется в тестах).
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Service объединяет компоненты, работающие поверх одного хранилища.
type Service struct {
	Clients  *ClientRegistry
	Products *ProductCatalog
	Orders   *OrderLedger
	History  *HistoryIndex
}

// New собирает компоненты и связывает реестры с журналом заказов для проверки ссылок при удалении.
func New(store domain.Store, options ...Option) *Service {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "ordering")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	base := core{
		store:   store,
		logger:  logger,
		metrics: opts.Metrics,
		now: func() time.Time {
			// timestamptz в PostgreSQL хранит микросекунды.
			return clock().UTC().Truncate(time.Microsecond)
		},
	}

	orders := &OrderLedger{core: base.named("order-ledger")}
	return &Service{
		Clients:  &ClientRegistry{core: base.named("client-registry"), refs: orders},
		Products: &ProductCatalog{core: base.named("product-catalog"), refs: orders},
		Orders:   orders,
		History:  &HistoryIndex{core: base.named("history-index")},
	}
}

// core: общие зависимости компонентов.
type core struct {
	store   domain.Store
	logger  *log.Entry
	metrics *metrics.OrderingMetrics
	now     func() time.Time
}

func (c core) named(component string) core {
	c.logger = c.logger.WithField("component", component)
	return c
}

// observe фиксирует длительность и исход операции.
// Внутренние ошибки логируются здесь, ошибки клиента остаются на уровне Debug.
// Вызывается через defer с указателем на именованный результат.
func (c core) observe(operation string, started time.Time, errp *error) {
	c.metrics.RecordDuration(operation, time.Since(started))
	err := *errp
	if err == nil {
		return
	}

	code := domain.ErrorCode(err)
	c.metrics.RecordError(operation, code)

	entry := c.logger.WithError(err).WithField("operation", operation)
	if code == domain.CodeInternal {
		entry.Error("operation failed")
		return
	}
	entry.Debug("operation rejected")
}

func (c core) update(ctx context.Context, fn func(tx domain.Tx) error) error {
	return c.store.Update(ctx, fn)
}

func (c core) view(ctx context.Context, fn func(tx domain.Tx) error) error {
	return c.store.View(ctx, fn)
}

// firstError возвращает первое нарушение инвариантов.
func firstError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}
