package domain

import "context"

// Store — единица работы над всеми сущностями сервиса.
// Все операции внутри одного вызова fn видят согласованное состояние и применяются атомарно.
type Store interface {
	// Update выполняет fn в пишущей транзакции. Ошибка fn откатывает все изменения.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View выполняет fn в транзакции только для чтения.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx — операции хранилища, доступные внутри транзакции.
type Tx interface {
	ClientTx
	ProductTx
	OrderTx
	// EnqueueOutbox сохраняет событие для последующей публикации в той же транзакции.
	EnqueueOutbox(msg OutboxMessage) (OutboxMessage, error)
}

// ClientTx описывает хранение клиентов.
type ClientTx interface {
	// InsertClient назначает идентификатор и сохраняет клиента. ErrCPFTaken при повторе CPF.
	InsertClient(client Client) (Client, error)
	// UpdateClient перезаписывает имя, CPF, адрес и UpdatedAt клиента и возвращает
	// сохранённую запись с исходным CreatedAt. ErrClientNotFound или ErrCPFTaken.
	UpdateClient(client Client) (Client, error)
	// GetClient возвращает клиента или ErrClientNotFound.
	// В пишущей транзакции запись защищена от удаления до её завершения.
	GetClient(id int64) (Client, error)
	// ListClients возвращает всех клиентов в порядке идентификаторов.
	ListClients() ([]Client, error)
	// DeleteClient удаляет клиента. ErrClientNotFound или ErrClientHasOrders.
	DeleteClient(id int64) error
}

// ProductTx описывает хранение товаров.
type ProductTx interface {
	InsertProduct(product Product) (Product, error)
	// UpdateProduct перезаписывает имя, цену и UpdatedAt товара и возвращает
	// сохранённую запись с исходным CreatedAt или ErrProductNotFound.
	UpdateProduct(product Product) (Product, error)
	// GetProduct возвращает товар или ErrProductNotFound.
	// В пишущей транзакции запись защищена от изменения и удаления до её завершения.
	GetProduct(id int64) (Product, error)
	ListProducts() ([]Product, error)
	// DeleteProduct удаляет товар. ErrProductNotFound или ErrProductHasOrders.
	DeleteProduct(id int64) error
}

// OrderTx описывает хранение заказов и обратные ссылки на клиентов и товары.
type OrderTx interface {
	InsertOrder(order Order) (Order, error)
	GetOrder(id int64) (Order, error)
	ListOrders() ([]Order, error)
	// ListOrdersByClient возвращает заказы клиента по возрастанию CreatedAt, затем ID.
	ListOrdersByClient(clientID int64) ([]Order, error)
	DeleteOrder(id int64) error
	ClientHasOrders(clientID int64) (bool, error)
	ProductHasOrders(productID int64) (bool, error)
}
