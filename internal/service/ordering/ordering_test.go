package ordering_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
	"github.com/vladislavdragonenkov/ordering/internal/metrics"
	"github.com/vladislavdragonenkov/ordering/internal/service/ordering"
	"github.com/vladislavdragonenkov/ordering/internal/storage/memory"
)

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// fakeClock выдаёт монотонно растущее время с шагом в секунду.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// Freeze возвращает источник времени, который всегда отдаёт один и тот же момент.
func (c *fakeClock) Freeze() func() time.Time {
	at := c.Now()
	return func() time.Time { return at }
}

type OrderingSuite struct {
	suite.Suite
	ctx   context.Context
	store *memory.Store
	clock *fakeClock
	svc   *ordering.Service
}

func (s *OrderingSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)

	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.clock = &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	s.svc = ordering.New(s.store,
		ordering.WithLogger(baseLogger.WithField("component", "ordering-test")),
		ordering.WithMetrics(metrics.NewOrderingMetricsWithRegisterer(prometheus.NewRegistry())),
		ordering.WithClock(s.clock.Now),
	)
}

func TestOrderingSuite(t *testing.T) {
	suite.Run(t, new(OrderingSuite))
}

func (s *OrderingSuite) createClient(cpf string) domain.Client {
	client, err := s.svc.Clients.Create(s.ctx, ordering.ClientInput{Name: "Cliente " + cpf, CPF: cpf, Address: "Rua A, 123"})
	s.Require().NoError(err)
	return client
}

func (s *OrderingSuite) createProduct(name, amount string) domain.Product {
	product, err := s.svc.Products.Create(s.ctx, ordering.ProductInput{Name: name, Price: price(amount)})
	s.Require().NoError(err)
	return product
}

func (s *OrderingSuite) TestEndToEndScenario() {
	client, err := s.svc.Clients.Create(s.ctx, ordering.ClientInput{Name: "João", CPF: "12345678900", Address: "Rua A, 123"})
	s.Require().NoError(err)
	s.Equal(int64(1), client.ID)

	product, err := s.svc.Products.Create(s.ctx, ordering.ProductInput{Name: "Hamburguer", Price: price("15.50")})
	s.Require().NoError(err)
	s.Equal(int64(1), product.ID)

	order, err := s.svc.Orders.Create(s.ctx, ordering.OrderInput{ClientID: 1, ProductIDs: []int64{1}, DeliveryType: "delivery"})
	s.Require().NoError(err)
	s.Equal(int64(1), order.ID)
	s.Equal("15.50", order.Total.StringFixed(2))
	s.Equal(domain.DeliveryTypeDelivery, order.DeliveryType)

	err = s.svc.Products.Delete(s.ctx, 1)
	s.ErrorIs(err, domain.ErrProductHasOrders)
	s.True(domain.IsConflict(err))

	s.Require().NoError(s.svc.Orders.Delete(s.ctx, 1))
	s.Require().NoError(s.svc.Products.Delete(s.ctx, 1))
	s.Require().NoError(s.svc.Clients.Delete(s.ctx, 1))

	_, err = s.svc.Clients.Get(s.ctx, 1)
	s.ErrorIs(err, domain.ErrClientNotFound)
}

func (s *OrderingSuite) TestClientValidation() {
	_, err := s.svc.Clients.Create(s.ctx, ordering.ClientInput{Name: "  ", CPF: "1"})
	s.ErrorIs(err, domain.ErrClientNameRequired)

	_, err = s.svc.Clients.Create(s.ctx, ordering.ClientInput{Name: "Ana", CPF: ""})
	s.ErrorIs(err, domain.ErrClientCPFRequired)
	s.True(domain.IsValidation(err))

	clients, err := s.svc.Clients.List(s.ctx)
	s.Require().NoError(err)
	s.Empty(clients)
}

func (s *OrderingSuite) TestDuplicateCPFAddsExactlyOne() {
	s.createClient("111")

	_, err := s.svc.Clients.Create(s.ctx, ordering.ClientInput{Name: "Outro", CPF: " 111 "})
	s.ErrorIs(err, domain.ErrCPFTaken)

	clients, err := s.svc.Clients.List(s.ctx)
	s.Require().NoError(err)
	s.Len(clients, 1)
}

func (s *OrderingSuite) TestClientUpdate() {
	first := s.createClient("111")
	s.createClient("222")

	updated, err := s.svc.Clients.Update(s.ctx, first.ID, ordering.ClientInput{Name: "Novo Nome", CPF: "111", Address: "Rua B"})
	s.Require().NoError(err)
	s.Equal("Novo Nome", updated.Name)
	s.Equal(first.CreatedAt, updated.CreatedAt)
	s.True(updated.UpdatedAt.After(first.UpdatedAt))

	_, err = s.svc.Clients.Update(s.ctx, first.ID, ordering.ClientInput{Name: "X", CPF: "222"})
	s.ErrorIs(err, domain.ErrCPFTaken)

	_, err = s.svc.Clients.Update(s.ctx, 99, ordering.ClientInput{Name: "X", CPF: "333"})
	s.ErrorIs(err, domain.ErrClientNotFound)
}

func (s *OrderingSuite) TestProductValidationAndRounding() {
	_, err := s.svc.Products.Create(s.ctx, ordering.ProductInput{Name: "", Price: price("1")})
	s.ErrorIs(err, domain.ErrProductNameRequired)

	_, err = s.svc.Products.Create(s.ctx, ordering.ProductInput{Name: "Suco", Price: price("-0.01")})
	s.ErrorIs(err, domain.ErrProductPriceNegative)

	_, err = s.svc.Products.Create(s.ctx, ordering.ProductInput{Name: "Suco"})
	s.ErrorIs(err, domain.ErrProductPriceRequired)

	product, err := s.svc.Products.Create(s.ctx, ordering.ProductInput{Name: "Suco", Price: price("7.999")})
	s.Require().NoError(err)
	s.Equal("8.00", product.Price.StringFixed(2))

	free := s.createProduct("Água", "0")
	s.True(free.Price.IsZero())

	_, err = s.svc.Products.Create(s.ctx, ordering.ProductInput{Name: "Bala", Price: price("-0.004")})
	s.ErrorIs(err, domain.ErrProductPriceNegative, "sub-cent negative price is not rounded to zero")

	_, err = s.svc.Products.Create(s.ctx, ordering.ProductInput{Name: "Iate", Price: price("1000000000000")})
	s.ErrorIs(err, domain.ErrProductPriceTooLarge)
	s.True(domain.IsValidation(err))

	_, err = s.svc.Products.Update(s.ctx, free.ID, ordering.ProductInput{Name: "Água", Price: price("-0.001")})
	s.ErrorIs(err, domain.ErrProductPriceNegative)

	products, err := s.svc.Products.List(s.ctx)
	s.Require().NoError(err)
	s.Len(products, 2, "rejected prices persist nothing")
}

func (s *OrderingSuite) TestOrderTotalAboveStoragePrecision() {
	client := s.createClient("111")
	yacht := s.createProduct("Iate", "999999999999.99")

	_, err := s.svc.Orders.Create(s.ctx, ordering.OrderInput{ClientID: client.ID, ProductIDs: []int64{yacht.ID, yacht.ID}, DeliveryType: "retirada"})
	s.ErrorIs(err, domain.ErrOrderTotalTooLarge)

	order, err := s.svc.Orders.Create(s.ctx, ordering.OrderInput{ClientID: client.ID, ProductIDs: []int64{yacht.ID}, DeliveryType: "retirada"})
	s.Require().NoError(err)
	s.Equal("999999999999.99", order.Total.StringFixed(2))
}

func (s *OrderingSuite) TestOrderClientIDAbsentOrNegative() {
	product := s.createProduct("Batata", "9.90")

	_, err := s.svc.Orders.Create(s.ctx, ordering.OrderInput{ProductIDs: []int64{product.ID}, DeliveryType: "entrega"})
	s.ErrorIs(err, domain.ErrOrderClientRequired)

	_, err = s.svc.Orders.Create(s.ctx, ordering.OrderInput{ClientID: -5, ProductIDs: []int64{product.ID}, DeliveryType: "entrega"})
	s.ErrorIs(err, domain.ErrClientNotFound)
	s.True(domain.IsNotFound(err))
}

func (s *OrderingSuite) TestOrderValidationOrder() {
	client := s.createClient("111")
	product := s.createProduct("Batata", "9.90")

	_, err := s.svc.Orders.Create(s.ctx, ordering.OrderInput{ClientID: 999, ProductIDs: nil, DeliveryType: "entrega"})
	s.ErrorIs(err, domain.ErrOrderProductsRequired)

	_, err = s.svc.Orders.Create(s.ctx, ordering.OrderInput{ClientID: 999, ProductIDs: []int64{product.ID}, DeliveryType: "drone"})
	s.ErrorIs(err, domain.ErrDeliveryTypeInvalid)

	_, err = s.svc.Orders.Create(s.ctx, ordering.OrderInput{ClientID: 999, ProductIDs: []int64{404}, DeliveryType: "entrega"})
	s.ErrorIs(err, domain.ErrClientNotFound, "client is checked before products")

	_, err = s.svc.Orders.Create(s.ctx, ordering.OrderInput{ClientID: client.ID, ProductIDs: []int64{product.ID, 404}, DeliveryType: "pickup"})
	s.ErrorIs(err, domain.ErrProductNotFound)

	orders, err := s.svc.Orders.List(s.ctx)
	s.Require().NoError(err)
	s.Empty(orders, "failed creates persist nothing")

	pending, err := s.store.PullPending(100)
	s.Require().NoError(err)
	s.Len(pending, 2, "only client and product events are queued")
}

func (s *OrderingSuite) TestOrderTotalCountsDuplicatesAndIsFrozen() {
	client := s.createClient("111")
	burger := s.createProduct("Hamburguer", "15.50")
	fries := s.createProduct("Batata", "7.25")

	order, err := s.svc.Orders.Create(s.ctx, ordering.OrderInput{
		ClientID:     client.ID,
		ProductIDs:   []int64{burger.ID, fries.ID, burger.ID},
		DeliveryType: "retirada",
	})
	s.Require().NoError(err)
	s.Equal("38.25", order.Total.StringFixed(2))
	s.Equal([]int64{burger.ID, fries.ID, burger.ID}, order.ProductIDs())

	_, err = s.svc.Products.Update(s.ctx, burger.ID, ordering.ProductInput{Name: "Hamburguer", Price: price("99")})
	s.Require().NoError(err)

	reloaded, err := s.svc.Orders.Get(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal("38.25", reloaded.Total.StringFixed(2))
	s.Equal("15.50", reloaded.Items[0].UnitPrice.StringFixed(2))
}

func (s *OrderingSuite) TestDeleteBlockedUntilReferencesRemoved() {
	client := s.createClient("111")
	product := s.createProduct("Pizza", "40")
	order, err := s.svc.Orders.Create(s.ctx, ordering.OrderInput{ClientID: client.ID, ProductIDs: []int64{product.ID}, DeliveryType: "entrega"})
	s.Require().NoError(err)

	has, err := s.svc.Orders.HasOrdersFor(s.ctx, client.ID)
	s.Require().NoError(err)
	s.True(has)
	has, err = s.svc.Orders.HasOrdersReferencing(s.ctx, product.ID)
	s.Require().NoError(err)
	s.True(has)

	s.ErrorIs(s.svc.Clients.Delete(s.ctx, client.ID), domain.ErrClientHasOrders)
	s.ErrorIs(s.svc.Products.Delete(s.ctx, product.ID), domain.ErrProductHasOrders)

	s.Require().NoError(s.svc.Orders.Delete(s.ctx, order.ID))
	s.ErrorIs(s.svc.Orders.Delete(s.ctx, order.ID), domain.ErrOrderNotFound)

	has, err = s.svc.Orders.HasOrdersFor(s.ctx, client.ID)
	s.Require().NoError(err)
	s.False(has)

	s.NoError(s.svc.Clients.Delete(s.ctx, client.ID))
	s.NoError(s.svc.Products.Delete(s.ctx, product.ID))
	s.ErrorIs(s.svc.Clients.Delete(s.ctx, client.ID), domain.ErrClientNotFound)
	s.ErrorIs(s.svc.Products.Delete(s.ctx, product.ID), domain.ErrProductNotFound)
}

func (s *OrderingSuite) TestHistoryFor() {
	client := s.createClient("111")
	other := s.createClient("222")
	product := s.createProduct("Pizza", "40")

	_, err := s.svc.History.HistoryFor(s.ctx, 404)
	s.ErrorIs(err, domain.ErrClientNotFound)

	history, err := s.svc.History.HistoryFor(s.ctx, client.ID)
	s.Require().NoError(err)
	s.NotNil(history)
	s.Empty(history)

	var created []int64
	for i := 0; i < 3; i++ {
		order, err := s.svc.Orders.Create(s.ctx, ordering.OrderInput{ClientID: client.ID, ProductIDs: []int64{product.ID}, DeliveryType: "entrega"})
		s.Require().NoError(err)
		created = append(created, order.ID)
	}
	_, err = s.svc.Orders.Create(s.ctx, ordering.OrderInput{ClientID: other.ID, ProductIDs: []int64{product.ID}, DeliveryType: "entrega"})
	s.Require().NoError(err)

	history, err = s.svc.History.HistoryFor(s.ctx, client.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	for i, order := range history {
		s.Equal(created[i], order.ID)
		s.Equal(client.ID, order.ClientID)
		if i > 0 {
			s.False(order.CreatedAt.Before(history[i-1].CreatedAt))
		}
	}
}

func (s *OrderingSuite) TestHistoryTieBreaksByID() {
	frozen := ordering.New(s.store, ordering.WithClock(s.clock.Freeze()))
	client := s.createClient("111")
	product := s.createProduct("Pizza", "40")

	for i := 0; i < 3; i++ {
		_, err := frozen.Orders.Create(s.ctx, ordering.OrderInput{ClientID: client.ID, ProductIDs: []int64{product.ID}, DeliveryType: "entrega"})
		s.Require().NoError(err)
	}

	history, err := frozen.History.HistoryFor(s.ctx, client.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	s.Equal([]int64{1, 2, 3}, []int64{history[0].ID, history[1].ID, history[2].ID})
}

func (s *OrderingSuite) TestOutboxEvents() {
	client := s.createClient("111")
	product := s.createProduct("Pizza", "40")
	order, err := s.svc.Orders.Create(s.ctx, ordering.OrderInput{ClientID: client.ID, ProductIDs: []int64{product.ID}, DeliveryType: "entrega"})
	s.Require().NoError(err)
	s.Require().NoError(s.svc.Orders.Delete(s.ctx, order.ID))

	pending, err := s.store.PullPending(100)
	s.Require().NoError(err)

	types := make([]string, 0, len(pending))
	for _, msg := range pending {
		types = append(types, msg.EventType)
	}
	s.Equal([]string{
		domain.EventClientCreated,
		domain.EventProductCreated,
		domain.EventOrderCreated,
		domain.EventOrderDeleted,
	}, types)

	var payload map[string]any
	s.Require().NoError(json.Unmarshal(pending[2].Payload, &payload))
	total, ok := payload["total"].(string)
	s.Require().True(ok)
	s.True(decimal.RequireFromString(total).Equal(decimal.NewFromInt(40)))
	s.Equal(fmt.Sprint(order.ID), pending[2].AggregateID)
}

func TestConcurrentCreatesWithSameCPF(t *testing.T) {
	svc := ordering.New(memory.NewStore())
	ctx := context.Background()

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Clients.Create(ctx, ordering.ClientInput{Name: fmt.Sprintf("c%d", i), CPF: "same"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case domain.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, workers-1, conflicts)
}

func TestConcurrentDeleteAndOrderCreateKeepIntegrity(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		store := memory.NewStore()
		svc := ordering.New(store)

		client, err := svc.Clients.Create(ctx, ordering.ClientInput{Name: "c", CPF: "1"})
		require.NoError(t, err)
		product, err := svc.Products.Create(ctx, ordering.ProductInput{Name: "p", Price: price("1")})
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			orderErr error
			delErr   error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, orderErr = svc.Orders.Create(ctx, ordering.OrderInput{ClientID: client.ID, ProductIDs: []int64{product.ID}, DeliveryType: "entrega"})
		}()
		go func() {
			defer wg.Done()
			delErr = svc.Products.Delete(ctx, product.ID)
		}()
		wg.Wait()

		// Ровно один из конкурентов выигрывает.
		if orderErr == nil {
			require.ErrorIs(t, delErr, domain.ErrProductHasOrders)
			_, err := svc.Products.Get(ctx, product.ID)
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, orderErr, domain.ErrProductNotFound)
			require.NoError(t, delErr)
		}

		orders, err := svc.Orders.List(ctx)
		require.NoError(t, err)
		for _, order := range orders {
			for _, id := range order.ProductIDs() {
				_, err := svc.Products.Get(ctx, id)
				require.NoError(t, err, "order references a deleted product")
			}
		}
	}
}

func TestConcurrentPriceUpdateNeverMixesPrices(t *testing.T) {
	ctx := context.Background()
	svc := ordering.New(memory.NewStore())

	client, err := svc.Clients.Create(ctx, ordering.ClientInput{Name: "c", CPF: "1"})
	require.NoError(t, err)
	product, err := svc.Products.Create(ctx, ordering.ProductInput{Name: "p", Price: price("10")})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		updateErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50 && updateErr == nil; i++ {
			amount := "10"
			if i%2 == 0 {
				amount = "20"
			}
			_, updateErr = svc.Products.Update(ctx, product.ID, ordering.ProductInput{Name: "p", Price: price(amount)})
		}
	}()

	for i := 0; i < 50; i++ {
		order, err := svc.Orders.Create(ctx, ordering.OrderInput{
			ClientID:     client.ID,
			ProductIDs:   []int64{product.ID, product.ID},
			DeliveryType: "entrega",
		})
		require.NoError(t, err)
		require.True(t, order.Items[0].UnitPrice.Equal(order.Items[1].UnitPrice))
		require.True(t, order.Total.Equal(order.Items[0].UnitPrice.Mul(decimal.NewFromInt(2))))
	}
	wg.Wait()
	require.NoError(t, updateErr)
}
