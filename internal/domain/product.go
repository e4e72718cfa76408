package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale — число знаков после запятой, с которым хранятся цены и суммы.
const PriceScale = 2

// MaxAmount — наибольшая цена или сумма заказа, которая помещается в NUMERIC(14,2).
var MaxAmount = decimal.New(1, 12).Sub(decimal.New(1, -PriceScale))

// Product — позиция каталога с текущей ценой.
type Product struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Normalize приводит имя и цену к каноническому виду.
// Отрицательная цена не округляется: -0.004 не должна превратиться в 0.
func (p *Product) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	if !p.Price.IsNegative() {
		p.Price = p.Price.Round(PriceScale)
	}
}

// ValidateInvariants проверяет инварианты товара.
func (p *Product) ValidateInvariants() []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrProductPriceNegative)
	}
	if p.Price.GreaterThan(MaxAmount) {
		errs = append(errs, ErrProductPriceTooLarge)
	}

	return errs
}
