package ordering

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

// OrderInput описывает новый заказ.
// ProductIDs может содержать повторы: каждый повтор добавляет ещё одну единицу товара.
type OrderInput struct {
	ClientID     int64
	ProductIDs   []int64
	DeliveryType string
}

// OrderLedger владеет заказами: проверяет ссылки на клиента и товары,
// фиксирует итог в момент создания и отвечает на вопросы о ссылках при удалении.
type OrderLedger struct {
	core
}

// Create проверяет ввод и ссылки, считает итог по текущим ценам и сохраняет заказ.
//
// Порядок проверок: пустой список товаров и способ доставки (ErrValidation),
// затем клиент, затем товары по порядку (ErrNotFound по первому отсутствующему).
// Каждый товар читается один раз, повторы используют ту же цену.
func (l *OrderLedger) Create(ctx context.Context, in OrderInput) (order domain.Order, err error) {
	defer l.observe("order.create", time.Now(), &err)

	if len(in.ProductIDs) == 0 {
		return domain.Order{}, domain.ErrOrderProductsRequired
	}
	delivery, err := domain.ParseDeliveryType(in.DeliveryType)
	if err != nil {
		return domain.Order{}, err
	}
	switch {
	case in.ClientID == 0:
		return domain.Order{}, domain.ErrOrderClientRequired
	case in.ClientID < 0:
		return domain.Order{}, domain.ErrClientNotFound
	}

	err = l.update(ctx, func(tx domain.Tx) error {
		if _, err := tx.GetClient(in.ClientID); err != nil {
			return err
		}

		prices := make(map[int64]domain.Product, len(in.ProductIDs))
		items := make([]domain.OrderItem, 0, len(in.ProductIDs))
		for _, productID := range in.ProductIDs {
			product, ok := prices[productID]
			if !ok {
				var err error
				product, err = tx.GetProduct(productID)
				if err != nil {
					return err
				}
				prices[productID] = product
			}
			items = append(items, domain.OrderItem{ProductID: productID, UnitPrice: product.Price})
		}

		candidate := domain.Order{
			ClientID:     in.ClientID,
			Items:        items,
			DeliveryType: delivery,
			Total:        domain.SumItems(items),
			CreatedAt:    l.now(),
		}
		if err := firstError(candidate.ValidateInvariants()); err != nil {
			return err
		}

		var err error
		order, err = tx.InsertOrder(candidate)
		if err != nil {
			return err
		}
		return enqueue(tx, domain.AggregateOrder, order.ID, domain.EventOrderCreated, newOrderEvent(order))
	})
	if err != nil {
		return domain.Order{}, err
	}

	total, _ := order.Total.Float64()
	l.metrics.RecordCreated(domain.AggregateOrder)
	l.metrics.RecordOrder(total, len(order.Items))
	l.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"client_id": order.ClientID,
		"total":     order.Total.StringFixed(domain.PriceScale),
	}).Info("order created")
	return order, nil
}

// Get возвращает заказ с зафиксированным итогом или ErrOrderNotFound.
func (l *OrderLedger) Get(ctx context.Context, id int64) (order domain.Order, err error) {
	err = l.view(ctx, func(tx domain.Tx) error {
		order, err = tx.GetOrder(id)
		return err
	})
	return order, err
}

// List возвращает все заказы по возрастанию id.
func (l *OrderLedger) List(ctx context.Context) (orders []domain.Order, err error) {
	err = l.view(ctx, func(tx domain.Tx) error {
		orders, err = tx.ListOrders()
		return err
	})
	return orders, err
}

// Delete удаляет заказ; у заказов нет зависимых сущностей.
func (l *OrderLedger) Delete(ctx context.Context, id int64) (err error) {
	defer l.observe("order.delete", time.Now(), &err)

	err = l.update(ctx, func(tx domain.Tx) error {
		order, err := tx.GetOrder(id)
		if err != nil {
			return err
		}
		if err := tx.DeleteOrder(id); err != nil {
			return err
		}
		return enqueue(tx, domain.AggregateOrder, id, domain.EventOrderDeleted, newOrderEvent(order))
	})
	if err != nil {
		return err
	}

	l.metrics.RecordDeleted(domain.AggregateOrder)
	l.logger.WithField("order_id", id).Info("order deleted")
	return nil
}

// HasOrdersFor сообщает, есть ли заказы клиента clientID.
func (l *OrderLedger) HasOrdersFor(ctx context.Context, clientID int64) (has bool, err error) {
	err = l.view(ctx, func(tx domain.Tx) error {
		has, err = l.hasOrdersFor(tx, clientID)
		return err
	})
	return has, err
}

// HasOrdersReferencing сообщает, входит ли товар productID хотя бы в один заказ.
func (l *OrderLedger) HasOrdersReferencing(ctx context.Context, productID int64) (has bool, err error) {
	err = l.view(ctx, func(tx domain.Tx) error {
		has, err = l.hasOrdersReferencing(tx, productID)
		return err
	})
	return has, err
}

func (l *OrderLedger) hasOrdersFor(tx domain.Tx, clientID int64) (bool, error) {
	return tx.ClientHasOrders(clientID)
}

func (l *OrderLedger) hasOrdersReferencing(tx domain.Tx, productID int64) (bool, error) {
	return tx.ProductHasOrders(productID)
}

var _ referenceIndex = (*OrderLedger)(nil)
