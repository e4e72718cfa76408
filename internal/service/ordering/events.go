package ordering

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

type clientEvent struct {
	ID      int64  `json:"id"`
	Name    string `json:"nome,omitempty"`
	CPF     string `json:"cpf,omitempty"`
	Address string `json:"endereco,omitempty"`
}

type productEvent struct {
	ID    int64            `json:"id"`
	Name  string           `json:"nome,omitempty"`
	Price *decimal.Decimal `json:"preco,omitempty"`
}

type orderEvent struct {
	ID           int64           `json:"id"`
	ClientID     int64           `json:"cliente_id"`
	ProductIDs   []int64         `json:"produtos,omitempty"`
	DeliveryType string          `json:"tipo_entrega,omitempty"`
	Total        decimal.Decimal `json:"total"`
	CreatedAt    time.Time       `json:"criado_em"`
}

// enqueue сериализует payload и кладёт событие в outbox текущей транзакции.
func enqueue(tx domain.Tx, aggregate string, id int64, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	if _, err := tx.EnqueueOutbox(domain.OutboxMessage{
		AggregateType: aggregate,
		AggregateID:   strconv.FormatInt(id, 10),
		EventType:     eventType,
		Payload:       data,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

func newClientEvent(c domain.Client) clientEvent {
	return clientEvent{ID: c.ID, Name: c.Name, CPF: c.CPF, Address: c.Address}
}

func newProductEvent(p domain.Product) productEvent {
	price := p.Price
	return productEvent{ID: p.ID, Name: p.Name, Price: &price}
}

func newOrderEvent(o domain.Order) orderEvent {
	return orderEvent{
		ID:           o.ID,
		ClientID:     o.ClientID,
		ProductIDs:   o.ProductIDs(),
		DeliveryType: string(o.DeliveryType),
		Total:        o.Total,
		CreatedAt:    o.CreatedAt,
	}
}
