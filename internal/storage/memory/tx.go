package memory

import (
	"sort"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

// memTx работает напрямую с картами Store и ведёт журнал отмены для отката.
// Вызывающий держит блокировку Store на всё время жизни транзакции.
type memTx struct {
	store    *Store
	writable bool
	undo     []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) onRollback(fn func()) {
	tx.undo = append(tx.undo, fn)
}

func (tx *memTx) InsertClient(client domain.Client) (domain.Client, error) {
	if !tx.writable {
		return domain.Client{}, domain.ErrReadOnlyTx
	}
	s := tx.store
	if tx.cpfTaken(client.CPF, 0) {
		return domain.Client{}, domain.ErrCPFTaken
	}

	prevSeq := s.seq.client
	s.seq.client++
	client.ID = s.seq.client
	s.clients[client.ID] = client

	id := client.ID
	tx.onRollback(func() {
		delete(s.clients, id)
		s.seq.client = prevSeq
	})
	return client, nil
}

func (tx *memTx) UpdateClient(client domain.Client) (domain.Client, error) {
	if !tx.writable {
		return domain.Client{}, domain.ErrReadOnlyTx
	}
	s := tx.store
	prev, ok := s.clients[client.ID]
	if !ok {
		return domain.Client{}, domain.ErrClientNotFound
	}
	if tx.cpfTaken(client.CPF, client.ID) {
		return domain.Client{}, domain.ErrCPFTaken
	}

	client.CreatedAt = prev.CreatedAt
	s.clients[client.ID] = client
	tx.onRollback(func() { s.clients[prev.ID] = prev })
	return client, nil
}

func (tx *memTx) GetClient(id int64) (domain.Client, error) {
	client, ok := tx.store.clients[id]
	if !ok {
		return domain.Client{}, domain.ErrClientNotFound
	}
	return client, nil
}

func (tx *memTx) ListClients() ([]domain.Client, error) {
	result := make([]domain.Client, 0, len(tx.store.clients))
	for _, client := range tx.store.clients {
		result = append(result, client)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (tx *memTx) DeleteClient(id int64) error {
	if !tx.writable {
		return domain.ErrReadOnlyTx
	}
	s := tx.store
	prev, ok := s.clients[id]
	if !ok {
		return domain.ErrClientNotFound
	}
	if has, _ := tx.ClientHasOrders(id); has {
		return domain.ErrClientHasOrders
	}

	delete(s.clients, id)
	tx.onRollback(func() { s.clients[id] = prev })
	return nil
}

func (tx *memTx) cpfTaken(cpf string, exceptID int64) bool {
	for id, existing := range tx.store.clients {
		if id != exceptID && existing.CPF == cpf {
			return true
		}
	}
	return false
}

func (tx *memTx) InsertProduct(product domain.Product) (domain.Product, error) {
	if !tx.writable {
		return domain.Product{}, domain.ErrReadOnlyTx
	}
	s := tx.store

	prevSeq := s.seq.product
	s.seq.product++
	product.ID = s.seq.product
	s.products[product.ID] = product

	id := product.ID
	tx.onRollback(func() {
		delete(s.products, id)
		s.seq.product = prevSeq
	})
	return product, nil
}

func (tx *memTx) UpdateProduct(product domain.Product) (domain.Product, error) {
	if !tx.writable {
		return domain.Product{}, domain.ErrReadOnlyTx
	}
	s := tx.store
	prev, ok := s.products[product.ID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}

	product.CreatedAt = prev.CreatedAt
	s.products[product.ID] = product
	tx.onRollback(func() { s.products[prev.ID] = prev })
	return product, nil
}

func (tx *memTx) GetProduct(id int64) (domain.Product, error) {
	product, ok := tx.store.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (tx *memTx) ListProducts() ([]domain.Product, error) {
	result := make([]domain.Product, 0, len(tx.store.products))
	for _, product := range tx.store.products {
		result = append(result, product)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (tx *memTx) DeleteProduct(id int64) error {
	if !tx.writable {
		return domain.ErrReadOnlyTx
	}
	s := tx.store
	prev, ok := s.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	if has, _ := tx.ProductHasOrders(id); has {
		return domain.ErrProductHasOrders
	}

	delete(s.products, id)
	tx.onRollback(func() { s.products[id] = prev })
	return nil
}

func (tx *memTx) InsertOrder(order domain.Order) (domain.Order, error) {
	if !tx.writable {
		return domain.Order{}, domain.ErrReadOnlyTx
	}
	s := tx.store
	if _, ok := s.clients[order.ClientID]; !ok {
		return domain.Order{}, domain.ErrClientNotFound
	}
	for _, item := range order.Items {
		if _, ok := s.products[item.ProductID]; !ok {
			return domain.Order{}, domain.ErrProductNotFound
		}
	}

	prevSeq := s.seq.order
	s.seq.order++
	order.ID = s.seq.order
	order.Items = cloneItems(order.Items)
	s.orders[order.ID] = order

	id := order.ID
	tx.onRollback(func() {
		delete(s.orders, id)
		s.seq.order = prevSeq
	})
	return cloneOrder(order), nil
}

func (tx *memTx) GetOrder(id int64) (domain.Order, error) {
	order, ok := tx.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (tx *memTx) ListOrders() ([]domain.Order, error) {
	result := make([]domain.Order, 0, len(tx.store.orders))
	for _, order := range tx.store.orders {
		result = append(result, cloneOrder(order))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (tx *memTx) ListOrdersByClient(clientID int64) ([]domain.Order, error) {
	result := make([]domain.Order, 0)
	for _, order := range tx.store.orders {
		if order.ClientID != clientID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (tx *memTx) DeleteOrder(id int64) error {
	if !tx.writable {
		return domain.ErrReadOnlyTx
	}
	s := tx.store
	prev, ok := s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}

	delete(s.orders, id)
	tx.onRollback(func() { s.orders[id] = prev })
	return nil
}

func (tx *memTx) ClientHasOrders(clientID int64) (bool, error) {
	for _, order := range tx.store.orders {
		if order.ClientID == clientID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) ProductHasOrders(productID int64) (bool, error) {
	for _, order := range tx.store.orders {
		if order.References(productID) {
			return true, nil
		}
	}
	return false, nil
}

func cloneItems(items []domain.OrderItem) []domain.OrderItem {
	return append([]domain.OrderItem(nil), items...)
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = cloneItems(order.Items)
	return order
}

var _ domain.Tx = (*memTx)(nil)
