package httpsvc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
	"github.com/vladislavdragonenkov/ordering/internal/service/contract"
)

// responseRecorder запоминает статус и, при необходимости, тело ответа.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	capture bool
	body    bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	if r.capture {
		r.body.Write(p)
	}
	return r.ResponseWriter.Write(p)
}

func (r *responseRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// instrument ограничивает тело запроса, пишет метрики и отладочный лог.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		h.metrics.Started()

		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(started)
		h.metrics.Finished(route, r.Method, rec.statusCode(), duration)

		h.logger.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.statusCode(),
			"duration": duration,
		}).Debug("http request")
	})
}

// idempotent кэширует ответ POST-запроса по заголовку Idempotency-Key.
// Повтор с тем же ключом и телом возвращает сохранённый ответ, с другим телом или
// во время обработки первого запроса отвечает 409. Без заголовка запрос проходит как есть.
func (h *Handler) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if h.idem == nil || key == "" {
			next(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				err = domain.ErrMalformedRequest
			}
			h.writeError(w, r, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		record, err := h.idem.CreateProcessing(key, requestHash(r, body), h.now().UTC().Add(h.idemTTL))
		if err != nil {
			h.replay(w, r, err, record)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, capture: true}
		next(rec, r)
		h.idemMetrics.RecordRequest("processed")

		status := rec.statusCode()
		mark := h.idem.MarkDone
		if status >= http.StatusBadRequest {
			mark = h.idem.MarkFailed
		}
		if err := mark(key, rec.body.Bytes(), status); err != nil {
			h.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
		}
	}
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		h.idemMetrics.RecordRequest("conflict")
		h.writeJSON(w, http.StatusConflict, contract.Error{
			Message: "idempotency key is already used with different request payload",
			Code:    domain.CodeConflict,
		})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Completed() {
			h.idemMetrics.RecordRequest("in_flight")
			h.writeJSON(w, http.StatusConflict, contract.Error{
				Message: "request with the same idempotency key is already processing",
				Code:    domain.CodeConflict,
			})
			return
		}
		h.idemMetrics.RecordRequest("replayed")
		status := record.HTTPStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(IdempotentReplayHeader, "true")
		w.WriteHeader(status)
		_, _ = w.Write(record.ResponseBody)
	default:
		h.writeError(w, r, createErr)
	}
}

// requestHash связывает ключ с методом, ресурсом и телом запроса.
func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{':'})
	h.Write([]byte(strings.TrimSuffix(r.URL.Path, "/")))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
