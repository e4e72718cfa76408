package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

// sequences хранит последние выданные идентификаторы по типам сущностей.
type sequences struct {
	client  int64
	product int64
	order   int64
	outbox  int64
}

// Store — in-memory реализация domain.Store для локальной разработки и тестов.
// Один RWMutex покрывает все сущности, поэтому проверка ссылок и вставка
// выполняются атомарно относительно удалений.
type Store struct {
	mu       sync.RWMutex
	clients  map[int64]domain.Client
	products map[int64]domain.Product
	orders   map[int64]domain.Order
	outbox   map[string]*outboxRecord
	seq      sequences
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		clients:  make(map[int64]domain.Client),
		products: make(map[int64]domain.Product),
		orders:   make(map[int64]domain.Order),
		outbox:   make(map[string]*outboxRecord),
	}
}

// Update выполняет fn под эксклюзивной блокировкой; при ошибке изменения откатываются.
func (s *Store) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, writable: true}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// View выполняет fn под разделяемой блокировкой.
func (s *Store) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&memTx{store: s})
}

// Ping всегда успешен; нужен для health-проверки наравне с внешними драйверами.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close ничего не освобождает.
func (s *Store) Close() error {
	return nil
}

var _ domain.Store = (*Store)(nil)
