package ordering

import (
	"context"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

// HistoryIndex показывает журнал заказов в разрезе клиента. Своего состояния не хранит.
type HistoryIndex struct {
	core
}

// HistoryFor возвращает заказы клиента по возрастанию created_at, при равенстве по id.
// Для существующего клиента без заказов возвращается пустой срез, для отсутствующего ErrClientNotFound.
func (h *HistoryIndex) HistoryFor(ctx context.Context, clientID int64) (orders []domain.Order, err error) {
	err = h.view(ctx, func(tx domain.Tx) error {
		if _, err := tx.GetClient(clientID); err != nil {
			return err
		}
		orders, err = tx.ListOrdersByClient(clientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}
