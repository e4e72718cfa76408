package ordering

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

// ClientInput — данные для создания или изменения клиента.
type ClientInput struct {
	Name    string
	CPF     string
	Address string
}

// referenceIndex отвечает, ссылаются ли заказы на клиента или товар.
// Реализуется OrderLedger; вызывается внутри транзакции удаления.
type referenceIndex interface {
	hasOrdersFor(tx domain.Tx, clientID int64) (bool, error)
	hasOrdersReferencing(tx domain.Tx, productID int64) (bool, error)
}

// ClientRegistry владеет клиентами и следит за уникальностью CPF.
type ClientRegistry struct {
	core
	refs referenceIndex
}

// Create регистрирует клиента. ErrCPFTaken, если CPF уже занят.
func (r *ClientRegistry) Create(ctx context.Context, in ClientInput) (client domain.Client, err error) {
	defer r.observe("client.create", time.Now(), &err)

	client = domain.Client{Name: in.Name, CPF: in.CPF, Address: in.Address}
	client.Normalize()
	if err := firstError(client.ValidateInvariants()); err != nil {
		return domain.Client{}, err
	}

	now := r.now()
	client.CreatedAt, client.UpdatedAt = now, now

	err = r.update(ctx, func(tx domain.Tx) error {
		var err error
		client, err = tx.InsertClient(client)
		if err != nil {
			return err
		}
		return enqueue(tx, domain.AggregateClient, client.ID, domain.EventClientCreated, newClientEvent(client))
	})
	if err != nil {
		return domain.Client{}, err
	}

	r.metrics.RecordCreated(domain.AggregateClient)
	r.logger.WithField("client_id", client.ID).Info("client created")
	return client, nil
}

// Get возвращает клиента или ErrClientNotFound.
func (r *ClientRegistry) Get(ctx context.Context, id int64) (client domain.Client, err error) {
	err = r.view(ctx, func(tx domain.Tx) error {
		client, err = tx.GetClient(id)
		return err
	})
	return client, err
}

// List возвращает всех клиентов по возрастанию id.
func (r *ClientRegistry) List(ctx context.Context) (clients []domain.Client, err error) {
	err = r.view(ctx, func(tx domain.Tx) error {
		clients, err = tx.ListClients()
		return err
	})
	return clients, err
}

// Update перезаписывает имя, CPF и адрес клиента.
func (r *ClientRegistry) Update(ctx context.Context, id int64, in ClientInput) (client domain.Client, err error) {
	defer r.observe("client.update", time.Now(), &err)

	changes := domain.Client{ID: id, Name: in.Name, CPF: in.CPF, Address: in.Address}
	changes.Normalize()
	if err := firstError(changes.ValidateInvariants()); err != nil {
		return domain.Client{}, err
	}

	err = r.update(ctx, func(tx domain.Tx) error {
		changes.UpdatedAt = r.now()
		updated, err := tx.UpdateClient(changes)
		if err != nil {
			return err
		}
		client = updated
		return enqueue(tx, domain.AggregateClient, id, domain.EventClientUpdated, newClientEvent(client))
	})
	if err != nil {
		return domain.Client{}, err
	}
	return client, nil
}

// Delete удаляет клиента. ErrClientHasOrders, пока на него ссылается хотя бы один заказ.
func (r *ClientRegistry) Delete(ctx context.Context, id int64) (err error) {
	defer r.observe("client.delete", time.Now(), &err)

	err = r.update(ctx, func(tx domain.Tx) error {
		has, err := r.refs.hasOrdersFor(tx, id)
		if err != nil {
			return err
		}
		if has {
			return domain.ErrClientHasOrders
		}
		if err := tx.DeleteClient(id); err != nil {
			return err
		}
		return enqueue(tx, domain.AggregateClient, id, domain.EventClientDeleted, clientEvent{ID: id})
	})
	if err != nil {
		if domain.IsConflict(err) {
			r.metrics.RecordDeletionBlocked(domain.AggregateClient)
		}
		return err
	}

	r.metrics.RecordDeleted(domain.AggregateClient)
	r.logger.WithField("client_id", id).Info("client deleted")
	return nil
}
