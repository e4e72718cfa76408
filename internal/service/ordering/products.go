package ordering

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

// ProductInput — данные для создания или изменения товара.
// Price обязателен; nil означает, что цена не передана.
type ProductInput struct {
	Name  string
	Price *decimal.Decimal
}

func (in ProductInput) product(id int64) (domain.Product, error) {
	p := domain.Product{ID: id, Name: in.Name}
	if in.Price != nil {
		p.Price = *in.Price
	}
	p.Normalize()
	if err := firstError(p.ValidateInvariants()); err != nil {
		return domain.Product{}, err
	}
	if in.Price == nil {
		return domain.Product{}, domain.ErrProductPriceRequired
	}
	return p, nil
}

// ProductCatalog владеет товарами и служит источником актуальных цен.
type ProductCatalog struct {
	core
	refs referenceIndex
}

// Create добавляет товар в каталог. Цена округляется до копеек.
func (c *ProductCatalog) Create(ctx context.Context, in ProductInput) (product domain.Product, err error) {
	defer c.observe("product.create", time.Now(), &err)

	product, err = in.product(0)
	if err != nil {
		return domain.Product{}, err
	}

	now := c.now()
	product.CreatedAt, product.UpdatedAt = now, now

	err = c.update(ctx, func(tx domain.Tx) error {
		var err error
		product, err = tx.InsertProduct(product)
		if err != nil {
			return err
		}
		return enqueue(tx, domain.AggregateProduct, product.ID, domain.EventProductCreated, newProductEvent(product))
	})
	if err != nil {
		return domain.Product{}, err
	}

	c.metrics.RecordCreated(domain.AggregateProduct)
	c.logger.WithField("product_id", product.ID).Info("product created")
	return product, nil
}

// Get возвращает товар или ErrProductNotFound.
func (c *ProductCatalog) Get(ctx context.Context, id int64) (product domain.Product, err error) {
	err = c.view(ctx, func(tx domain.Tx) error {
		product, err = tx.GetProduct(id)
		return err
	})
	return product, err
}

// List возвращает все товары по возрастанию id.
func (c *ProductCatalog) List(ctx context.Context) (products []domain.Product, err error) {
	err = c.view(ctx, func(tx domain.Tx) error {
		products, err = tx.ListProducts()
		return err
	})
	return products, err
}

// Update меняет имя и цену. Итоги уже созданных заказов не пересчитываются.
func (c *ProductCatalog) Update(ctx context.Context, id int64, in ProductInput) (product domain.Product, err error) {
	defer c.observe("product.update", time.Now(), &err)

	changes, err := in.product(id)
	if err != nil {
		return domain.Product{}, err
	}

	err = c.update(ctx, func(tx domain.Tx) error {
		changes.UpdatedAt = c.now()
		updated, err := tx.UpdateProduct(changes)
		if err != nil {
			return err
		}
		product = updated
		return enqueue(tx, domain.AggregateProduct, id, domain.EventProductUpdated, newProductEvent(product))
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// Delete удаляет товар. ErrProductHasOrders, пока товар входит хотя бы в один заказ.
func (c *ProductCatalog) Delete(ctx context.Context, id int64) (err error) {
	defer c.observe("product.delete", time.Now(), &err)

	err = c.update(ctx, func(tx domain.Tx) error {
		has, err := c.refs.hasOrdersReferencing(tx, id)
		if err != nil {
			return err
		}
		if has {
			return domain.ErrProductHasOrders
		}
		if err := tx.DeleteProduct(id); err != nil {
			return err
		}
		return enqueue(tx, domain.AggregateProduct, id, domain.EventProductDeleted, productEvent{ID: id})
	})
	if err != nil {
		if domain.IsConflict(err) {
			c.metrics.RecordDeletionBlocked(domain.AggregateProduct)
		}
		return err
	}

	c.metrics.RecordDeleted(domain.AggregateProduct)
	c.logger.WithField("product_id", id).Info("product deleted")
	return nil
}
