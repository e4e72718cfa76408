package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryType — способ получения заказа.
type DeliveryType string

const (
	// DeliveryTypeDelivery — доставка по адресу клиента.
	DeliveryTypeDelivery DeliveryType = "entrega"
	// DeliveryTypePickup — самовывоз.
	DeliveryTypePickup DeliveryType = "retirada"
)

// deliveryAliases сопоставляет принятые на входе синонимы каноническим значениям.
var deliveryAliases = map[string]DeliveryType{
	"entrega":  DeliveryTypeDelivery,
	"delivery": DeliveryTypeDelivery,
	"retirada": DeliveryTypePickup,
	"pickup":   DeliveryTypePickup,
}

// ParseDeliveryType возвращает канонический способ доставки или ErrDeliveryTypeInvalid.
func ParseDeliveryType(raw string) (DeliveryType, error) {
	dt, ok := deliveryAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", ErrDeliveryTypeInvalid
	}
	return dt, nil
}

// Valid проверяет, что способ доставки относится к поддерживаемым значениям.
func (d DeliveryType) Valid() bool {
	switch d {
	case DeliveryTypeDelivery, DeliveryTypePickup:
		return true
	default:
		return false
	}
}

// OrderItem — одна позиция заказа с ценой, зафиксированной в момент создания.
type OrderItem struct {
	ProductID int64
	UnitPrice decimal.Decimal
}

// Order — заказ клиента. Total вычисляется один раз при создании и далее не пересчитывается.
type Order struct {
	ID           int64
	ClientID     int64
	Items        []OrderItem
	DeliveryType DeliveryType
	Total        decimal.Decimal
	CreatedAt    time.Time
}

// ProductIDs возвращает идентификаторы товаров в порядке позиций, включая повторы.
func (o *Order) ProductIDs() []int64 {
	ids := make([]int64, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// References сообщает, ссылается ли заказ на товар productID.
func (o *Order) References(productID int64) bool {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// SumItems складывает цены позиций; повторяющийся товар учитывается каждый раз.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice)
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ClientID <= 0 {
		errs = append(errs, ErrOrderClientRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrOrderProductsRequired)
	}
	if !o.DeliveryType.Valid() {
		errs = append(errs, ErrDeliveryTypeInvalid)
	}
	for _, item := range o.Items {
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrProductPriceNegative)
			break
		}
	}
	if !SumItems(o.Items).Equal(o.Total) {
		errs = append(errs, ErrOrderTotalMismatch)
	}
	if o.Total.GreaterThan(MaxAmount) {
		errs = append(errs, ErrOrderTotalTooLarge)
	}

	return errs
}
