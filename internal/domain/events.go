package domain

// Типы агрегатов в outbox-сообщениях.
const (
	AggregateClient  = "client"
	AggregateProduct = "product"
	AggregateOrder   = "order"
)

// Типы доменных событий, публикуемых через outbox.
const (
	EventClientCreated  = "client.created"
	EventClientUpdated  = "client.updated"
	EventClientDeleted  = "client.deleted"
	EventProductCreated = "product.created"
	EventProductUpdated = "product.updated"
	EventProductDeleted = "product.deleted"
	EventOrderCreated   = "order.created"
	EventOrderDeleted   = "order.deleted"
)
