// Package httpsvc реализует HTTP API сервиса заказов поверх пакета ordering.
package httpsvc

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
	"github.com/vladislavdragonenkov/ordering/internal/metrics"
	"github.com/vladislavdragonenkov/ordering/internal/service/contract"
	"github.com/vladislavdragonenkov/ordering/internal/service/ordering"
)

const (
	// DefaultMaxBodyBytes ограничивает размер тела запроса.
	DefaultMaxBodyBytes = 1 << 20

	// IdempotencyKeyHeader — необязательный заголовок для POST-запросов.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader выставляется, когда ответ взят из кэша идемпотентности.
	IdempotentReplayHeader = "Idempotent-Replayed"
)

// Handler обслуживает ресурсы /clientes/, /produtos/ и /pedidos/.
type Handler struct {
	svc          *ordering.Service
	idem         domain.IdempotencyRepository
	logger       *log.Entry
	metrics      *metrics.HTTPMetrics
	idemMetrics  *metrics.IdempotencyMetrics
	idemTTL      time.Duration
	maxBodyBytes int64
	now          func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithMetrics включает метрики запросов.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithIdempotency включает кэширование ответов POST по заголовку Idempotency-Key.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration, m *metrics.IdempotencyMetrics) Option {
	return func(h *Handler) {
		h.idem = repo
		h.idemMetrics = m
		if ttl > 0 {
			h.idemTTL = ttl
		}
	}
}

// WithMaxBodyBytes меняет лимит тела запроса.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandler конструирует HTTP-слой.
func NewHandler(svc *ordering.Service, logger *log.Entry, opts ...Option) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	h := &Handler{
		svc:          svc,
		logger:       logger,
		idemTTL:      24 * time.Hour,
		maxBodyBytes: DefaultMaxBodyBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes возвращает корневой http.Handler со всеми маршрутами и middleware.
// Каждый путь обслуживается и с завершающим слэшем, и без него.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	h.handle(mux, "GET", "/clientes", h.listClients)
	h.handle(mux, "POST", "/clientes", h.idempotent(h.createClient))
	h.handle(mux, "GET", "/clientes/{id}", h.getClient)
	h.handle(mux, "PUT", "/clientes/{id}", h.updateClient)
	h.handle(mux, "DELETE", "/clientes/{id}", h.deleteClient)
	h.handle(mux, "GET", "/clientes/{id}/historico", h.clientHistory)

	h.handle(mux, "GET", "/produtos", h.listProducts)
	h.handle(mux, "POST", "/produtos", h.idempotent(h.createProduct))
	h.handle(mux, "GET", "/produtos/{id}", h.getProduct)
	h.handle(mux, "PUT", "/produtos/{id}", h.updateProduct)
	h.handle(mux, "DELETE", "/produtos/{id}", h.deleteProduct)

	h.handle(mux, "GET", "/pedidos", h.listOrders)
	h.handle(mux, "POST", "/pedidos", h.idempotent(h.createOrder))
	h.handle(mux, "GET", "/pedidos/{id}", h.getOrder)
	h.handle(mux, "DELETE", "/pedidos/{id}", h.deleteOrder)

	return h.instrument(mux)
}

func (h *Handler) handle(mux *http.ServeMux, method, path string, fn http.HandlerFunc) {
	mux.HandleFunc(method+" "+path, fn)
	mux.HandleFunc(method+" "+path+"/{$}", fn)
}

func (h *Handler) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.svc.Clients.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contract.FromClients(clients))
}

func (h *Handler) createClient(w http.ResponseWriter, r *http.Request) {
	var req contract.ClientRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	client, err := h.svc.Clients.Create(r.Context(), req.Input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, contract.FromClient(client))
}

func (h *Handler) getClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, r, domain.ErrClientNotFound)
		return
	}
	client, err := h.svc.Clients.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contract.FromClient(client))
}

func (h *Handler) updateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, r, domain.ErrClientNotFound)
		return
	}
	var req contract.ClientRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	client, err := h.svc.Clients.Update(r.Context(), id, req.Input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contract.FromClient(client))
}

func (h *Handler) deleteClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, r, domain.ErrClientNotFound)
		return
	}
	if err := h.svc.Clients.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clientHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, r, domain.ErrClientNotFound)
		return
	}
	orders, err := h.svc.History.HistoryFor(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contract.FromOrders(orders))
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Products.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contract.FromProducts(products))
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req contract.ProductRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	product, err := h.svc.Products.Create(r.Context(), req.Input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, contract.FromProduct(product))
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, r, domain.ErrProductNotFound)
		return
	}
	product, err := h.svc.Products.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contract.FromProduct(product))
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, r, domain.ErrProductNotFound)
		return
	}
	var req contract.ProductRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	product, err := h.svc.Products.Update(r.Context(), id, req.Input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contract.FromProduct(product))
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, r, domain.ErrProductNotFound)
		return
	}
	if err := h.svc.Products.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Orders.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contract.FromOrders(orders))
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req contract.OrderRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.svc.Orders.Create(r.Context(), req.Input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, contract.FromOrder(order))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, r, domain.ErrOrderNotFound)
		return
	}
	order, err := h.svc.Orders.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contract.FromOrder(order))
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, r, domain.ErrOrderNotFound)
		return
	}
	if err := h.svc.Orders.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathID разбирает {id}. Нечисловой или неположительный id означает отсутствующий ресурс.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(r *http.Request, dst any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ErrMalformedRequest
		}
		return err
	}
	return contract.Decode(data, dst)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Warn("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	h.writeJSON(w, status, contract.FromError(err))
}

// statusFor сопоставляет вид доменной ошибки с HTTP-статусом.
func statusFor(err error) int {
	switch domain.ErrorCode(err) {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
