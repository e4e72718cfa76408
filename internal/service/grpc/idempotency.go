package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour

	msgPreviousFailed = "previous request with the same idempotency key failed"
)

// cachedFailure сохраняется вместо тела ответа, если create завершился ошибкой.
type cachedFailure struct {
	Code    codes.Code `json:"code"`
	Message string     `json:"message"`
}

// idempotent выполняет create не более одного раза на ключ из metadata.
// Без ключа или без репозитория handler вызывается напрямую.
func (s *OrderingService) idempotent(
	ctx context.Context,
	method string,
	req *structpb.Struct,
	handler func(context.Context) (*structpb.Struct, error),
) (proto.Message, error) {
	key := incomingIdempotencyKey(ctx)
	if s.idemRepo == nil || key == "" {
		return handler(ctx)
	}
	entry := s.logger.WithFields(log.Fields{"method": method, "idempotency_key": key})

	hash, err := requestHash(method, req)
	if err != nil {
		entry.WithError(err).Warn("failed to hash idempotent request")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(key, hash, s.now().UTC().Add(idempotencyTTL))
	if err != nil {
		return s.replay(err, record)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		s.rememberFailure(key, runErr)
		return nil, runErr
	}

	body, err := protojson.Marshal(resp)
	if err == nil {
		err = s.idemRepo.MarkDone(key, body, int(codes.OK))
	}
	if err != nil {
		entry.WithError(err).Warn("failed to store idempotent response")
	}
	return resp, nil
}

// replay отвечает на повтор по уже занятому ключу.
func (s *OrderingService) replay(createErr error, record domain.IdempotencyRecord) (proto.Message, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case !errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	case !record.Completed():
		return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	case record.Status == domain.IdempotencyStatusFailed:
		return nil, cachedStatus(record)
	}

	if len(record.ResponseBody) == 0 {
		return nil, status.Error(codes.Internal, "idempotency cache is empty")
	}
	resp := &structpb.Struct{}
	if err := protojson.Unmarshal(record.ResponseBody, resp); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
		return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
	}
	return resp, nil
}

func (s *OrderingService) rememberFailure(key string, runErr error) {
	st := status.Convert(runErr)
	failure := cachedFailure{Code: st.Code(), Message: st.Message()}
	if failure.Code == codes.OK {
		failure.Code = codes.Internal
	}

	body, err := json.Marshal(failure)
	if err != nil {
		body = nil
	}
	if err := s.idemRepo.MarkFailed(key, body, int(failure.Code)); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent failure")
	}
}

// cachedStatus восстанавливает статус из тела записи, при его отсутствии из HTTPStatus.
func cachedStatus(record domain.IdempotencyRecord) error {
	var failure cachedFailure
	if len(record.ResponseBody) > 0 && json.Unmarshal(record.ResponseBody, &failure) == nil && failure.Code != codes.OK {
		if failure.Message == "" {
			failure.Message = msgPreviousFailed
		}
		return status.Error(failure.Code, failure.Message)
	}

	if code, ok := errorCode(record.HTTPStatus); ok {
		return status.Error(code, msgPreviousFailed)
	}
	return status.Error(codes.Internal, msgPreviousFailed)
}

// errorCode принимает только ненулевые коды из диапазона grpc/codes.
func errorCode(value int) (codes.Code, bool) {
	if value <= int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func incomingIdempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(idempotencyKeyHeader) {
		if key := strings.TrimSpace(value); key != "" {
			return key
		}
	}
	return ""
}

// requestHash: sha256 от имени метода и детерминированной proto-сериализации запроса.
func requestHash(method string, req proto.Message) (string, error) {
	if req == nil {
		return "", errors.New("request is nil")
	}

	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
