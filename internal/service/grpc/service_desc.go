package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "ordering.v1.OrderingService"

// Методы сервиса. Запросы и ответы передаются как google.protobuf.Struct с теми же
// полями, что и в HTTP API; удаления возвращают google.protobuf.Empty.
const (
	MethodCreateClient  = "CreateClient"
	MethodListClients   = "ListClients"
	MethodGetClient     = "GetClient"
	MethodUpdateClient  = "UpdateClient"
	MethodDeleteClient  = "DeleteClient"
	MethodClientHistory = "ClientHistory"
	MethodCreateProduct = "CreateProduct"
	MethodListProducts  = "ListProducts"
	MethodGetProduct    = "GetProduct"
	MethodUpdateProduct = "UpdateProduct"
	MethodDeleteProduct = "DeleteProduct"
	MethodCreateOrder   = "CreateOrder"
	MethodListOrders    = "ListOrders"
	MethodGetOrder      = "GetOrder"
	MethodDeleteOrder   = "DeleteOrder"
)

// FullMethod возвращает путь метода в формате /service/method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

type unaryCall func(s *OrderingService, ctx context.Context, req *structpb.Struct) (proto.Message, error)

var unaryCalls = map[string]unaryCall{
	MethodCreateClient:  (*OrderingService).CreateClient,
	MethodListClients:   (*OrderingService).ListClients,
	MethodGetClient:     (*OrderingService).GetClient,
	MethodUpdateClient:  (*OrderingService).UpdateClient,
	MethodDeleteClient:  (*OrderingService).DeleteClient,
	MethodClientHistory: (*OrderingService).ClientHistory,
	MethodCreateProduct: (*OrderingService).CreateProduct,
	MethodListProducts:  (*OrderingService).ListProducts,
	MethodGetProduct:    (*OrderingService).GetProduct,
	MethodUpdateProduct: (*OrderingService).UpdateProduct,
	MethodDeleteProduct: (*OrderingService).DeleteProduct,
	MethodCreateOrder:   (*OrderingService).CreateOrder,
	MethodListOrders:    (*OrderingService).ListOrders,
	MethodGetOrder:      (*OrderingService).GetOrder,
	MethodDeleteOrder:   (*OrderingService).DeleteOrder,
}

// ServiceDesc описывает сервис без сгенерированного кода: все методы унарные.
var ServiceDesc = newServiceDesc()

func newServiceDesc() grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(unaryCalls))
	for _, name := range []string{
		MethodCreateClient, MethodListClients, MethodGetClient, MethodUpdateClient, MethodDeleteClient, MethodClientHistory,
		MethodCreateProduct, MethodListProducts, MethodGetProduct, MethodUpdateProduct, MethodDeleteProduct,
		MethodCreateOrder, MethodListOrders, MethodGetOrder, MethodDeleteOrder,
	} {
		methods = append(methods, grpc.MethodDesc{MethodName: name, Handler: methodHandler(name)})
	}

	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Methods:     methods,
		Metadata:    "ordering/v1/ordering.proto",
	}
}

func methodHandler(name string) grpc.MethodHandler {
	call := unaryCalls[name]
	fullMethod := FullMethod(name)

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		service := srv.(*OrderingService)
		if interceptor == nil {
			return call(service, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(service, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterOrderingServiceServer регистрирует сервис на gRPC-сервере.
func RegisterOrderingServiceServer(registrar grpc.ServiceRegistrar, service *OrderingService) {
	registrar.RegisterService(&ServiceDesc, service)
}

// Client — тонкий клиент сервиса поверх grpc.ClientConnInterface.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call вызывает метод, возвращающий Struct.
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete вызывает метод удаления по идентификатору.
func (c *Client) Delete(ctx context.Context, method string, id int64, opts ...grpc.CallOption) error {
	req, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, FullMethod(method), req, new(emptypb.Empty), opts...)
}
