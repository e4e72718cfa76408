package memory

import (
	"sort"
	"time"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

// OutboxEntry сериализует запись outbox.
type OutboxEntry struct {
	Message   domain.OutboxMessage `json:"message"`
	Seq       int64                `json:"seq"`
	Status    string               `json:"status"`
	Attempts  int                  `json:"attempts"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Sequences хранит последние выданные идентификаторы.
type Sequences struct {
	Client  int64 `json:"client"`
	Product int64 `json:"product"`
	Order   int64 `json:"order"`
	Outbox  int64 `json:"outbox"`
}

// Snapshot — полная копия состояния хранилища для внешних драйверов персистентности.
type Snapshot struct {
	Clients   []domain.Client  `json:"clients"`
	Products  []domain.Product `json:"products"`
	Orders    []domain.Order   `json:"orders"`
	Outbox    []OutboxEntry    `json:"outbox"`
	Sequences Sequences        `json:"sequences"`
}

// ExportState возвращает согласованную копию всего состояния.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Clients:  make([]domain.Client, 0, len(s.clients)),
		Products: make([]domain.Product, 0, len(s.products)),
		Orders:   make([]domain.Order, 0, len(s.orders)),
		Outbox:   make([]OutboxEntry, 0, len(s.outbox)),
		Sequences: Sequences{
			Client:  s.seq.client,
			Product: s.seq.product,
			Order:   s.seq.order,
			Outbox:  s.seq.outbox,
		},
	}
	for _, c := range s.clients {
		snap.Clients = append(snap.Clients, c)
	}
	for _, p := range s.products {
		snap.Products = append(snap.Products, p)
	}
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, cloneOrder(o))
	}
	for _, rec := range s.outbox {
		snap.Outbox = append(snap.Outbox, OutboxEntry{
			Message:   rec.msg,
			Seq:       rec.seq,
			Status:    rec.status,
			Attempts:  rec.attemptCnt,
			CreatedAt: rec.createdAt,
			UpdatedAt: rec.updatedAt,
		})
	}

	sort.Slice(snap.Clients, func(i, j int) bool { return snap.Clients[i].ID < snap.Clients[j].ID })
	sort.Slice(snap.Products, func(i, j int) bool { return snap.Products[i].ID < snap.Products[j].ID })
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].ID < snap.Orders[j].ID })
	sort.Slice(snap.Outbox, func(i, j int) bool { return snap.Outbox[i].Seq < snap.Outbox[j].Seq })

	return snap
}

// ImportState заменяет текущее состояние содержимым снимка.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients = make(map[int64]domain.Client, len(snap.Clients))
	s.products = make(map[int64]domain.Product, len(snap.Products))
	s.orders = make(map[int64]domain.Order, len(snap.Orders))
	s.outbox = make(map[string]*outboxRecord, len(snap.Outbox))

	for _, c := range snap.Clients {
		s.clients[c.ID] = c
	}
	for _, p := range snap.Products {
		s.products[p.ID] = p
	}
	for _, o := range snap.Orders {
		s.orders[o.ID] = cloneOrder(o)
	}
	for _, e := range snap.Outbox {
		s.outbox[e.Message.ID] = &outboxRecord{
			msg:        e.Message,
			seq:        e.Seq,
			status:     e.Status,
			attemptCnt: e.Attempts,
			createdAt:  e.CreatedAt,
			updatedAt:  e.UpdatedAt,
		}
	}

	s.seq = sequences{
		client:  snap.Sequences.Client,
		product: snap.Sequences.Product,
		order:   snap.Sequences.Order,
		outbox:  snap.Sequences.Outbox,
	}
}
