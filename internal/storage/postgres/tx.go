package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

// pgTx реализует domain.Tx поверх одной SQL-транзакции.
type pgTx struct {
	ctx      context.Context
	tx       *sql.Tx
	writable bool
}

// lockClause блокирует прочитанные строки от удаления до конца пишущей транзакции.
func (t *pgTx) lockClause() string {
	if t.writable {
		return " FOR SHARE"
	}
	return ""
}

func (t *pgTx) InsertClient(client domain.Client) (domain.Client, error) {
	if !t.writable {
		return domain.Client{}, domain.ErrReadOnlyTx
	}

	err := t.tx.QueryRowContext(t.ctx, `
		INSERT INTO clients (name, cpf, address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, client.Name, client.CPF, client.Address, client.CreatedAt, client.UpdatedAt).Scan(&client.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Client{}, domain.ErrCPFTaken
		}
		return domain.Client{}, fmt.Errorf("insert client: %w", err)
	}
	return client, nil
}

func (t *pgTx) UpdateClient(client domain.Client) (domain.Client, error) {
	if !t.writable {
		return domain.Client{}, domain.ErrReadOnlyTx
	}

	// Строку блокирует сам UPDATE; читать её FOR SHARE до изменения нельзя.
	err := t.tx.QueryRowContext(t.ctx, `
		UPDATE clients
		SET name = $2, cpf = $3, address = $4, updated_at = $5
		WHERE id = $1
		RETURNING created_at
	`, client.ID, client.Name, client.CPF, client.Address, client.UpdatedAt).Scan(&client.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Client{}, domain.ErrClientNotFound
		}
		if isUniqueViolation(err) {
			return domain.Client{}, domain.ErrCPFTaken
		}
		return domain.Client{}, fmt.Errorf("update client: %w", err)
	}
	return normalizeClientTimes(client), nil
}

func (t *pgTx) GetClient(id int64) (domain.Client, error) {
	var c domain.Client
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, name, cpf, address, created_at, updated_at
		FROM clients
		WHERE id = $1`+t.lockClause(), id).
		Scan(&c.ID, &c.Name, &c.CPF, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Client{}, domain.ErrClientNotFound
		}
		return domain.Client{}, fmt.Errorf("get client: %w", err)
	}
	return normalizeClientTimes(c), nil
}

func (t *pgTx) ListClients() ([]domain.Client, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, name, cpf, address, created_at, updated_at
		FROM clients
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Client, 0)
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.CPF, &c.Address, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		result = append(result, normalizeClientTimes(c))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return result, nil
}

func (t *pgTx) DeleteClient(id int64) error {
	if !t.writable {
		return domain.ErrReadOnlyTx
	}

	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrClientHasOrders
		}
		return fmt.Errorf("delete client: %w", err)
	}
	return expectAffected(res, domain.ErrClientNotFound)
}

func (t *pgTx) InsertProduct(product domain.Product) (domain.Product, error) {
	if !t.writable {
		return domain.Product{}, domain.ErrReadOnlyTx
	}

	err := t.tx.QueryRowContext(t.ctx, `
		INSERT INTO products (name, price, created_at, updated_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, product.Name, product.Price, product.CreatedAt, product.UpdatedAt).Scan(&product.ID)
	if err != nil {
		if isOutOfRange(err) {
			return domain.Product{}, domain.ErrValueOutOfRange
		}
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

func (t *pgTx) UpdateProduct(product domain.Product) (domain.Product, error) {
	if !t.writable {
		return domain.Product{}, domain.ErrReadOnlyTx
	}

	err := t.tx.QueryRowContext(t.ctx, `
		UPDATE products
		SET name = $2, price = $3, updated_at = $4
		WHERE id = $1
		RETURNING created_at
	`, product.ID, product.Name, product.Price, product.UpdatedAt).Scan(&product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		if isOutOfRange(err) {
			return domain.Product{}, domain.ErrValueOutOfRange
		}
		return domain.Product{}, fmt.Errorf("update product: %w", err)
	}
	return normalizeProductTimes(product), nil
}

func (t *pgTx) GetProduct(id int64) (domain.Product, error) {
	var p domain.Product
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, name, price, created_at, updated_at
		FROM products
		WHERE id = $1`+t.lockClause(), id).
		Scan(&p.ID, &p.Name, &p.Price, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	return normalizeProductTimes(p), nil
}

func (t *pgTx) ListProducts() ([]domain.Product, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, name, price, created_at, updated_at
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result = append(result, normalizeProductTimes(p))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

func (t *pgTx) DeleteProduct(id int64) error {
	if !t.writable {
		return domain.ErrReadOnlyTx
	}

	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrProductHasOrders
		}
		return fmt.Errorf("delete product: %w", err)
	}
	return expectAffected(res, domain.ErrProductNotFound)
}

func (t *pgTx) InsertOrder(order domain.Order) (domain.Order, error) {
	if !t.writable {
		return domain.Order{}, domain.ErrReadOnlyTx
	}

	err := t.tx.QueryRowContext(t.ctx, `
		INSERT INTO orders (client_id, delivery_type, total, created_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, order.ClientID, string(order.DeliveryType), order.Total, order.CreatedAt).Scan(&order.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Order{}, domain.ErrClientNotFound
		}
		if isOutOfRange(err) {
			return domain.Order{}, domain.ErrValueOutOfRange
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for pos, item := range order.Items {
		if _, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO order_items (order_id, position, product_id, unit_price)
			VALUES ($1,$2,$3,$4)
		`, order.ID, pos, item.ProductID, item.UnitPrice); err != nil {
			if isForeignKeyViolation(err) {
				return domain.Order{}, domain.ErrProductNotFound
			}
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}

	return order, nil
}

func (t *pgTx) GetOrder(id int64) (domain.Order, error) {
	orders, err := t.queryOrders(`WHERE o.id = $1 ORDER BY i.position`, id)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return orders[0], nil
}

func (t *pgTx) ListOrders() ([]domain.Order, error) {
	return t.queryOrders(`ORDER BY o.id, i.position`)
}

func (t *pgTx) ListOrdersByClient(clientID int64) ([]domain.Order, error) {
	return t.queryOrders(`WHERE o.client_id = $1 ORDER BY o.created_at, o.id, i.position`, clientID)
}

// queryOrders читает заказы вместе с позициями одним запросом.
// Строки одного заказа идут подряд, поэтому группировка не требует карты.
func (t *pgTx) queryOrders(tail string, args ...any) ([]domain.Order, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT o.id, o.client_id, o.delivery_type, o.total, o.created_at, i.product_id, i.unit_price
		FROM orders o
		JOIN order_items i ON i.order_id = o.id
		`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Order, 0)
	for rows.Next() {
		var (
			o        domain.Order
			delivery string
			item     domain.OrderItem
		)
		if err := rows.Scan(&o.ID, &o.ClientID, &delivery, &o.Total, &o.CreatedAt, &item.ProductID, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		last := len(result) - 1
		if last >= 0 && result[last].ID == o.ID {
			result[last].Items = append(result[last].Items, item)
			continue
		}

		o.DeliveryType = domain.DeliveryType(delivery)
		o.CreatedAt = o.CreatedAt.UTC()
		o.Items = []domain.OrderItem{item}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return result, nil
}

func (t *pgTx) DeleteOrder(id int64) error {
	if !t.writable {
		return domain.ErrReadOnlyTx
	}

	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return expectAffected(res, domain.ErrOrderNotFound)
}

func (t *pgTx) ClientHasOrders(clientID int64) (bool, error) {
	return t.exists(`SELECT EXISTS (SELECT 1 FROM orders WHERE client_id = $1)`, clientID)
}

func (t *pgTx) ProductHasOrders(productID int64) (bool, error) {
	return t.exists(`SELECT EXISTS (SELECT 1 FROM order_items WHERE product_id = $1)`, productID)
}

func (t *pgTx) exists(query string, arg int64) (bool, error) {
	var found bool
	if err := t.tx.QueryRowContext(t.ctx, query, arg).Scan(&found); err != nil {
		return false, fmt.Errorf("check references: %w", err)
	}
	return found, nil
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func normalizeClientTimes(c domain.Client) domain.Client {
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c
}

func normalizeProductTimes(p domain.Product) domain.Product {
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p
}

var _ domain.Tx = (*pgTx)(nil)
