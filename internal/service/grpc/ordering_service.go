package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
	"github.com/vladislavdragonenkov/ordering/internal/service/contract"
	"github.com/vladislavdragonenkov/ordering/internal/service/ordering"
)

// OrderingService реализует gRPC API поверх доменных сервисов.
type OrderingService struct {
	svc      *ordering.Service
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
	now      func() time.Time
}

// NewOrderingService конструирует сервис. idemRepo может быть nil: тогда
// ключ идемпотентности игнорируется.
func NewOrderingService(svc *ordering.Service, idemRepo domain.IdempotencyRepository, logger *log.Entry) *OrderingService {
	if logger == nil {
		logger = log.New().WithField("component", "ordering-grpc")
	}
	return &OrderingService{
		svc:      svc,
		idemRepo: idemRepo,
		logger:   logger,
		now:      time.Now,
	}
}

type idRequest struct {
	ID int64 `json:"id"`
}

func (s *OrderingService) CreateClient(ctx context.Context, req *structpb.Struct) (proto.Message, error) {
	return s.idempotent(ctx, FullMethod(MethodCreateClient), req, func(ctx context.Context) (*structpb.Struct, error) {
		var in contract.ClientRequest
		if err := decodeStruct(req, &in); err != nil {
			return nil, s.statusError(MethodCreateClient, err)
		}
		client, err := s.svc.Clients.Create(ctx, in.Input())
		if err != nil {
			return nil, s.statusError(MethodCreateClient, err)
		}
		return s.encode(MethodCreateClient, contract.FromClient(client))
	})
}

func (s *OrderingService) ListClients(ctx context.Context, _ *structpb.Struct) (proto.Message, error) {
	clients, err := s.svc.Clients.List(ctx)
	if err != nil {
		return nil, s.statusError(MethodListClients, err)
	}
	return s.encodeList(MethodListClients, contract.FromClients(clients))
}

func (s *OrderingService) GetClient(ctx context.Context, req *structpb.Struct) (proto.Message, error) {
	id, err := s.readID(MethodGetClient, req)
	if err != nil {
		return nil, err
	}
	client, err := s.svc.Clients.Get(ctx, id)
	if err != nil {
		return nil, s.statusError(MethodGetClient, err)
	}
	return s.encode(MethodGetClient, contract.FromClient(client))
}

func (s *OrderingService) UpdateClient(ctx context.Context, req *structpb.Struct) (proto.Message, error) {
	id, err := s.readID(MethodUpdateClient, req)
	if err != nil {
		return nil, err
	}
	var in contract.ClientRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, s.statusError(MethodUpdateClient, err)
	}
	client, err := s.svc.Clients.Update(ctx, id, in.Input())
	if err != nil {
		return nil, s.statusError(MethodUpdateClient, err)
	}
	return s.encode(MethodUpdateClient, contract.FromClient(client))
}

func (s *OrderingService) DeleteClient(ctx context.Context, req *structpb.Struct) (proto.Message, error) {
	id, err := s.readID(MethodDeleteClient, req)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Clients.Delete(ctx, id); err != nil {
		return nil, s.statusError(MethodDeleteClient, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *OrderingService) ClientHistory(ctx context.Context, req *structpb.Struct) (proto.Message, error) {
	id, err := s.readID(MethodClientHistory, req)
	if err != nil {
		return nil, err
	}
	orders, err := s.svc.History.HistoryFor(ctx, id)
	if err != nil {
		return nil, s.statusError(MethodClientHistory, err)
	}
	return s.encodeList(MethodClientHistory, contract.FromOrders(orders))
}

func (s *OrderingService) CreateProduct(ctx context.Context, req *structpb.Struct) (proto.Message, error) {
	return s.idempotent(ctx, FullMethod(MethodCreateProduct), req, func(ctx context.Context) (*structpb.Struct, error) {
		var in contract.ProductRequest
		if err := decodeStruct(req, &in); err != nil {
			return nil, s.statusError(MethodCreateProduct, err)
		}
		product, err := s.svc.Products.Create(ctx, in.Input())
		if err != nil {
			return nil, s.statusError(MethodCreateProduct, err)
		}
		return s.encode(MethodCreateProduct, contract.FromProduct(product))
	})
}

func (s *OrderingService) ListProducts(ctx context.Context, _ *structpb.Struct) (proto.Message, error) {
	products, err := s.svc.Products.List(ctx)
	if err != nil {
		return nil, s.statusError(MethodListProducts, err)
	}
	return s.encodeList(MethodListProducts, contract.FromProducts(products))
}

func (s *OrderingService) GetProduct(ctx context.Context, req *structpb.Struct) (proto.Message, error) {
	id, err := s.readID(MethodGetProduct, req)
	if err != nil {
		return nil, err
	}
	product, err := s.svc.Products.Get(ctx, id)
	if err != nil {
		return nil, s.statusError(MethodGetProduct, err)
	}
	return s.encode(MethodGetProduct, contract.FromProduct(product))
}

func (s *OrderingService) UpdateProduct(ctx context.Context, req *structpb.Struct) (proto.Message, error) {
	id, err := s.readID(MethodUpdateProduct, req)
	if err != nil {
		return nil, err
	}
	var in contract.ProductRequest
	if err := decodeStruct(req, &in); err != nil {
		return nil, s.statusError(MethodUpdateProduct, err)
	}
	product, err := s.svc.Products.Update(ctx, id, in.Input())
	if err != nil {
		return nil, s.statusError(MethodUpdateProduct, err)
	}
	return s.encode(MethodUpdateProduct, contract.FromProduct(product))
}

func (s *OrderingService) DeleteProduct(ctx context.Context, req *structpb.Struct) (proto.Message, error) {
	id, err := s.readID(MethodDeleteProduct, req)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Products.Delete(ctx, id); err != nil {
		return nil, s.statusError(MethodDeleteProduct, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *OrderingService) CreateOrder(ctx context.Context, req *structpb.Struct) (proto.Message, error) {
	return s.idempotent(ctx, FullMethod(MethodCreateOrder), req, func(ctx context.Context) (*structpb.Struct, error) {
		var in contract.OrderRequest
		if err := decodeStruct(req, &in); err != nil {
			return nil, s.statusError(MethodCreateOrder, err)
		}
		order, err := s.svc.Orders.Create(ctx, in.Input())
		if err != nil {
			return nil, s.statusError(MethodCreateOrder, err)
		}
		return s.encode(MethodCreateOrder, contract.FromOrder(order))
	})
}

func (s *OrderingService) ListOrders(ctx context.Context, _ *structpb.Struct) (proto.Message, error) {
	orders, err := s.svc.Orders.List(ctx)
	if err != nil {
		return nil, s.statusError(MethodListOrders, err)
	}
	return s.encodeList(MethodListOrders, contract.FromOrders(orders))
}

func (s *OrderingService) GetOrder(ctx context.Context, req *structpb.Struct) (proto.Message, error) {
	id, err := s.readID(MethodGetOrder, req)
	if err != nil {
		return nil, err
	}
	order, err := s.svc.Orders.Get(ctx, id)
	if err != nil {
		return nil, s.statusError(MethodGetOrder, err)
	}
	return s.encode(MethodGetOrder, contract.FromOrder(order))
}

func (s *OrderingService) DeleteOrder(ctx context.Context, req *structpb.Struct) (proto.Message, error) {
	id, err := s.readID(MethodDeleteOrder, req)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Orders.Delete(ctx, id); err != nil {
		return nil, s.statusError(MethodDeleteOrder, err)
	}
	return &emptypb.Empty{}, nil
}

// readID достаёт обязательный положительный id из запроса.
func (s *OrderingService) readID(method string, req *structpb.Struct) (int64, error) {
	var in idRequest
	if err := decodeStruct(req, &in); err != nil {
		return 0, s.statusError(method, err)
	}
	if in.ID <= 0 {
		return 0, status.Error(codes.InvalidArgument, "id is required")
	}
	return in.ID, nil
}

// statusError переводит доменную ошибку в gRPC-статус.
func (s *OrderingService) statusError(method string, err error) error {
	if _, ok := status.FromError(err); ok && err != nil {
		return err
	}

	switch domain.ErrorCode(err) {
	case domain.CodeValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.CodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.CodeConflict:
		if errors.Is(err, domain.ErrCPFTaken) {
			return status.Error(codes.AlreadyExists, err.Error())
		}
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		s.logger.WithError(err).WithField("method", method).Error("request failed")
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *OrderingService) encode(method string, payload any) (*structpb.Struct, error) {
	out, err := encodeStruct(payload)
	if err != nil {
		return nil, s.statusError(method, err)
	}
	return out, nil
}

func (s *OrderingService) encodeList(method string, items any) (proto.Message, error) {
	return s.encode(method, map[string]any{"items": items})
}

// decodeStruct переносит Struct в DTO через JSON, чтобы правила разбора совпадали с HTTP API.
func decodeStruct(req *structpb.Struct, dst any) error {
	if req == nil {
		req = &structpb.Struct{}
	}
	data, err := protojson.Marshal(req)
	if err != nil {
		return domain.ErrMalformedRequest
	}
	return contract.Decode(data, dst)
}

func encodeStruct(payload any) (*structpb.Struct, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert response to struct: %w", err)
	}
	return out, nil
}
