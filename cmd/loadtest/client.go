package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordering/internal/service/contract"
	httpsvc "github.com/vladislavdragonenkov/ordering/internal/service/http"
)

const transportErrorCode = "transport_error"

// statusError возвращается на ответ API с кодом >= 400.
type statusError struct {
	method string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.method, e.status, e.body)
}

// scenarioCode выдаёт метку кода для итоговой статистики сценария.
func scenarioCode(err error) string {
	if err == nil {
		return strconv.Itoa(http.StatusOK)
	}
	var se *statusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.status)
	}
	return transportErrorCode
}

// apiClient вызывает HTTP API сервиса и пишет каждый вызов в collector.
type apiClient struct {
	baseURL string
	http    *http.Client
	col     *collector
}

func newAPIClient(baseURL string, httpClient *http.Client, col *collector) *apiClient {
	return &apiClient{baseURL: baseURL, http: httpClient, col: col}
}

// call выполняет запрос; out == nil означает, что тело ответа не нужно.
func (c *apiClient) call(ctx context.Context, name, method, path string, body any, idemKey string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", name, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set(httpsvc.IdempotencyKeyHeader, idemKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(name, time.Since(start), transportErrorCode, false)
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()
	payload, readErr := io.ReadAll(resp.Body)
	c.col.record(name, time.Since(start), strconv.Itoa(resp.StatusCode), resp.StatusCode < http.StatusBadRequest && readErr == nil)

	if readErr != nil {
		return fmt.Errorf("%s: read response: %w", name, readErr)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &statusError{method: name, status: resp.StatusCode, body: string(payload)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", name, err)
	}
	return nil
}

func (c *apiClient) createProduct(ctx context.Context, name string, price decimal.Decimal, timeout time.Duration) (int64, error) {
	money := contract.NewMoney(price)
	var product contract.Product
	err := c.call(ctx, "CreateProduct", http.MethodPost, "/produtos/",
		contract.ProductRequest{Name: name, Price: &money}, "", timeout, &product)
	if err != nil {
		return 0, err
	}
	if product.ID <= 0 {
		return 0, errors.New("create product returned empty id")
	}
	return product.ID, nil
}

func (c *apiClient) createClient(ctx context.Context, cpf, idemKey string, timeout time.Duration) (int64, error) {
	var client contract.Client
	err := c.call(ctx, "CreateClient", http.MethodPost, "/clientes/",
		contract.ClientRequest{Name: "Load " + cpf, CPF: cpf, Address: "Rua Teste, 1"}, idemKey, timeout, &client)
	if err != nil {
		return 0, err
	}
	if client.ID <= 0 {
		return 0, errors.New("create client returned empty id")
	}
	return client.ID, nil
}

func (c *apiClient) createOrder(ctx context.Context, clientID int64, productIDs []int64, deliveryType, idemKey string, timeout time.Duration) (int64, error) {
	var order contract.Order
	err := c.call(ctx, "CreateOrder", http.MethodPost, "/pedidos/",
		contract.OrderRequest{ClientID: clientID, ProductIDs: productIDs, DeliveryType: deliveryType}, idemKey, timeout, &order)
	if err != nil {
		return 0, err
	}
	if order.ID <= 0 {
		return 0, errors.New("create order returned empty order id")
	}
	return order.ID, nil
}

func (c *apiClient) clientHistory(ctx context.Context, clientID int64, timeout time.Duration) error {
	var orders []contract.Order
	if err := c.call(ctx, "ClientHistory", http.MethodGet, fmt.Sprintf("/clientes/%d/historico/", clientID), nil, "", timeout, &orders); err != nil {
		return err
	}
	if len(orders) == 0 {
		return errors.New("client history is empty after order creation")
	}
	return nil
}

func (c *apiClient) listProducts(ctx context.Context, timeout time.Duration) error {
	var products []contract.Product
	return c.call(ctx, "ListProducts", http.MethodGet, "/produtos/", nil, "", timeout, &products)
}

func (c *apiClient) getProduct(ctx context.Context, id int64, timeout time.Duration) error {
	var product contract.Product
	return c.call(ctx, "GetProduct", http.MethodGet, fmt.Sprintf("/produtos/%d/", id), nil, "", timeout, &product)
}

func (c *apiClient) deleteOrder(ctx context.Context, id int64, timeout time.Duration) error {
	return c.call(ctx, "DeleteOrder", http.MethodDelete, fmt.Sprintf("/pedidos/%d/", id), nil, "", timeout, nil)
}

func (c *apiClient) deleteClient(ctx context.Context, id int64, timeout time.Duration) error {
	return c.call(ctx, "DeleteClient", http.MethodDelete, fmt.Sprintf("/clientes/%d/", id), nil, "", timeout, nil)
}
