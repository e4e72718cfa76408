package domain

import "errors"

// Базовые виды ошибок. Конкретные ошибки ниже оборачивают один из них,
// поэтому транспортный слой сопоставляет коды ответа через errors.Is.
var (
	// ErrValidation — некорректный, пустой или вне диапазона ввод.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound — сущность с указанным идентификатором отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrConflict — нарушение уникальности или удаление сущности, на которую ссылаются заказы.
	ErrConflict = errors.New("conflict")
)

// kindError несёт человекочитаемое сообщение и вид ошибки для errors.Is.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// NewError создаёт ошибку с сообщением msg, относящуюся к виду kind.
func NewError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	// Ошибка пустого имени клиента.
	ErrClientNameRequired = NewError(ErrValidation, "nome is required")
	// Ошибка пустого CPF клиента.
	ErrClientCPFRequired = NewError(ErrValidation, "cpf is required")
	// Ошибка пустого наименования товара.
	ErrProductNameRequired = NewError(ErrValidation, "nome is required")
	// Ошибка отсутствующей цены товара.
	ErrProductPriceRequired = NewError(ErrValidation, "preco is required")
	// Ошибка отрицательной цены товара.
	ErrProductPriceNegative = NewError(ErrValidation, "preco must be non-negative")
	// Ошибка цены товара, не помещающейся в хранимую точность.
	ErrProductPriceTooLarge = NewError(ErrValidation, "preco must not exceed 999999999999.99")
	// Ошибка отсутствующего клиента в заказе.
	ErrOrderClientRequired = NewError(ErrValidation, "cliente_id is required")
	// Ошибка заказа без товаров.
	ErrOrderProductsRequired = NewError(ErrValidation, "order must contain at least one product")
	// Ошибка неизвестного способа доставки.
	ErrDeliveryTypeInvalid = NewError(ErrValidation, "tipo_entrega must be one of: entrega, retirada")
	// Ошибка итоговой суммы заказа, не помещающейся в хранимую точность.
	ErrOrderTotalTooLarge = NewError(ErrValidation, "order total must not exceed 999999999999.99")
	// Ошибка несоответствия итоговой суммы заказа сумме позиций.
	ErrOrderTotalMismatch = NewError(ErrValidation, "order total does not match items sum")
	// Ошибка числа вне диапазона столбца хранилища.
	ErrValueOutOfRange = NewError(ErrValidation, "numeric value out of range")
	// Ошибка некорректного тела запроса.
	ErrMalformedRequest = NewError(ErrValidation, "malformed request body")

	// ErrClientNotFound возвращается, если клиент не найден.
	ErrClientNotFound = NewError(ErrNotFound, "client not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = NewError(ErrNotFound, "product not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = NewError(ErrNotFound, "order not found")

	// ErrCPFTaken — клиент с таким CPF уже зарегистрирован.
	ErrCPFTaken = NewError(ErrConflict, "client with this cpf already exists")
	// ErrClientHasOrders — клиента нельзя удалить, пока на него ссылаются заказы.
	ErrClientHasOrders = NewError(ErrConflict, "client is referenced by existing orders")
	// ErrProductHasOrders — товар нельзя удалить, пока на него ссылаются заказы.
	ErrProductHasOrders = NewError(ErrConflict, "product is referenced by existing orders")

	// ErrReadOnlyTx — попытка записи внутри транзакции только для чтения.
	ErrReadOnlyTx = errors.New("write attempted in read-only transaction")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsValidation проверяет, относится ли ошибка к ошибкам валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound проверяет, относится ли ошибка к отсутствующей сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict проверяет, является ли ошибка конфликтом уникальности или ссылок.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Коды видов ошибок для ответов API и меток метрик.
const (
	CodeValidation = "validation"
	CodeNotFound   = "not_found"
	CodeConflict   = "conflict"
	CodeInternal   = "internal"
)

// ErrorCode возвращает код вида ошибки; неизвестные ошибки считаются внутренними.
func ErrorCode(err error) string {
	switch {
	case IsValidation(err):
		return CodeValidation
	case IsNotFound(err):
		return CodeNotFound
	case IsConflict(err):
		return CodeConflict
	default:
		return CodeInternal
	}
}
