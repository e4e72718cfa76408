// Package contract описывает внешнее представление клиентов, товаров и заказов.
// Одни и те же структуры сериализуются HTTP API и gRPC (через google.protobuf.Struct),
// поэтому имена полей совпадают на обоих транспортах.
package contract

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
	"github.com/vladislavdragonenkov/ordering/internal/service/ordering"
)

// Money — денежная сумма. В JSON пишется числом с двумя знаками после запятой,
// читается как из числа, так и из строки.
type Money struct {
	decimal.Decimal
}

// NewMoney оборачивает decimal.
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d}
}

// MarshalJSON пишет сумму числом с PriceScale знаками после запятой.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.StringFixed(domain.PriceScale)), nil
}

// UnmarshalJSON принимает число или строку; null оставляет значение нулевым.
func (m *Money) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	return m.Decimal.UnmarshalJSON(data)
}

// ClientRequest — тело POST и PUT /clientes/.
type ClientRequest struct {
	Name    string `json:"nome"`
	CPF     string `json:"cpf"`
	Address string `json:"endereco"`
}

// Input переводит запрос в вход реестра клиентов.
func (r ClientRequest) Input() ordering.ClientInput {
	return ordering.ClientInput{Name: r.Name, CPF: r.CPF, Address: r.Address}
}

// Client отдаётся в ответах /clientes/.
type Client struct {
	ID        int64     `json:"id"`
	Name      string    `json:"nome"`
	CPF       string    `json:"cpf"`
	Address   string    `json:"endereco"`
	CreatedAt time.Time `json:"criado_em"`
	UpdatedAt time.Time `json:"atualizado_em"`
}

// FromClient переводит клиента домена в представление API.
func FromClient(c domain.Client) Client {
	return Client{
		ID:        c.ID,
		Name:      c.Name,
		CPF:       c.CPF,
		Address:   c.Address,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// FromClients переводит список клиентов, сохраняя порядок.
func FromClients(clients []domain.Client) []Client {
	out := make([]Client, 0, len(clients))
	for _, c := range clients {
		out = append(out, FromClient(c))
	}
	return out
}

// ProductRequest — тело POST и PUT /produtos/. Отсутствие preco отличается от нуля.
type ProductRequest struct {
	Name  string `json:"nome"`
	Price *Money `json:"preco"`
}

// Input переводит запрос в вход каталога. Отсутствующая цена остаётся nil.
func (r ProductRequest) Input() ordering.ProductInput {
	in := ordering.ProductInput{Name: r.Name}
	if r.Price != nil {
		price := r.Price.Decimal
		in.Price = &price
	}
	return in
}

// Product отдаётся в ответах /produtos/.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"nome"`
	Price     Money     `json:"preco"`
	CreatedAt time.Time `json:"criado_em"`
	UpdatedAt time.Time `json:"atualizado_em"`
}

// FromProduct переводит товар домена в представление API.
func FromProduct(p domain.Product) Product {
	return Product{
		ID:        p.ID,
		Name:      p.Name,
		Price:     NewMoney(p.Price),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// FromProducts переводит список товаров, сохраняя порядок.
func FromProducts(products []domain.Product) []Product {
	out := make([]Product, 0, len(products))
	for _, p := range products {
		out = append(out, FromProduct(p))
	}
	return out
}

// OrderRequest — тело POST /pedidos/.
type OrderRequest struct {
	ClientID     int64   `json:"cliente_id"`
	ProductIDs   []int64 `json:"produtos"`
	DeliveryType string  `json:"tipo_entrega"`
}

// Input переводит запрос в вход журнала заказов.
func (r OrderRequest) Input() ordering.OrderInput {
	return ordering.OrderInput{
		ClientID:     r.ClientID,
		ProductIDs:   r.ProductIDs,
		DeliveryType: r.DeliveryType,
	}
}

// OrderItem — строка заказа с ценой на момент создания.
type OrderItem struct {
	ProductID int64 `json:"produto_id"`
	UnitPrice Money `json:"preco_unitario"`
}

// Order — представление заказа; total зафиксирован при создании.
type Order struct {
	ID           int64       `json:"id"`
	ClientID     int64       `json:"cliente_id"`
	ProductIDs   []int64     `json:"produtos"`
	Items        []OrderItem `json:"itens"`
	DeliveryType string      `json:"tipo_entrega"`
	Total        Money       `json:"total"`
	CreatedAt    time.Time   `json:"criado_em"`
}

// FromOrder переводит заказ домена в представление API вместе с позициями.
func FromOrder(o domain.Order) Order {
	items := make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItem{ProductID: item.ProductID, UnitPrice: NewMoney(item.UnitPrice)})
	}
	return Order{
		ID:           o.ID,
		ClientID:     o.ClientID,
		ProductIDs:   o.ProductIDs(),
		Items:        items,
		DeliveryType: string(o.DeliveryType),
		Total:        NewMoney(o.Total),
		CreatedAt:    o.CreatedAt,
	}
}

// FromOrders переводит список заказов, сохраняя порядок.
func FromOrders(orders []domain.Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, FromOrder(o))
	}
	return out
}

// Error пишется в тело любого ответа с ошибкой.
type Error struct {
	Message string `json:"error"`
	Code    string `json:"code"`
}

// FromError строит тело ошибки. Текст внутренних ошибок наружу не отдаётся.
func FromError(err error) Error {
	code := domain.ErrorCode(err)
	if code == domain.CodeInternal {
		return Error{Message: "internal error", Code: code}
	}
	return Error{Message: err.Error(), Code: code}
}

// Decode читает JSON-тело. Неизвестные поля игнорируются,
// синтаксические ошибки и лишние данные после объекта дают domain.ErrMalformedRequest.
func Decode(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(dst); err != nil {
		return domain.ErrMalformedRequest
	}
	if dec.More() {
		return domain.ErrMalformedRequest
	}
	return nil
}
