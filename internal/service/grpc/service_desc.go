package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName полное имя gRPC-сервиса площадки.
const ServiceName = "agromarket.v1.MarketService"

const (
	MethodRegister          = "/" + ServiceName + "/Register"
	MethodSignIn            = "/" + ServiceName + "/SignIn"
	MethodPublishProduct    = "/" + ServiceName + "/PublishProduct"
	MethodUpdateProduct     = "/" + ServiceName + "/UpdateProduct"
	MethodDeleteProduct     = "/" + ServiceName + "/DeleteProduct"
	MethodGetProduct        = "/" + ServiceName + "/GetProduct"
	MethodUploadImage       = "/" + ServiceName + "/UploadImage"
	MethodSearchProducts    = "/" + ServiceName + "/SearchProducts"
	MethodCheckout          = "/" + ServiceName + "/Checkout"
	MethodAdvanceOrder      = "/" + ServiceName + "/AdvanceOrder"
	MethodGetOrder          = "/" + ServiceName + "/GetOrder"
	MethodOrderTimeline     = "/" + ServiceName + "/OrderTimeline"
	MethodWatchProducts     = "/" + ServiceName + "/WatchProducts"
	MethodWatchOrders       = "/" + ServiceName + "/WatchOrders"
	MethodWatchPendingCount = "/" + ServiceName + "/WatchPendingCount"
)

// MarketServer серверная сторона MarketService.
type MarketServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	SignIn(context.Context, *SignInRequest) (*SignInResponse, error)
	PublishProduct(context.Context, *PublishProductRequest) (*ProductResponse, error)
	UpdateProduct(context.Context, *UpdateProductRequest) (*ProductResponse, error)
	DeleteProduct(context.Context, *ProductRequest) (*Empty, error)
	GetProduct(context.Context, *ProductRequest) (*ProductResponse, error)
	UploadImage(context.Context, *UploadImageRequest) (*UploadImageResponse, error)
	SearchProducts(context.Context, *SearchProductsRequest) (*ProductList, error)
	Checkout(context.Context, *CheckoutRequest) (*CheckoutResponse, error)
	AdvanceOrder(context.Context, *AdvanceOrderRequest) (*OrderResponse, error)
	GetOrder(context.Context, *OrderRequest) (*OrderResponse, error)
	OrderTimeline(context.Context, *OrderRequest) (*OrderTimelineResponse, error)
	WatchProducts(*WatchProductsRequest, grpc.ServerStreamingServer[ProductList]) error
	WatchOrders(*WatchOrdersRequest, grpc.ServerStreamingServer[OrderList]) error
	WatchPendingCount(*Empty, grpc.ServerStreamingServer[PendingCount]) error
}

func unaryHandler[Req, Resp any](method string, call func(MarketServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MarketServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MarketServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamHandler[Req, Resp any](call func(MarketServer, *Req, grpc.ServerStreamingServer[Resp]) error) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		in := new(Req)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return call(srv.(MarketServer), in, &grpc.GenericServerStream[Req, Resp]{ServerStream: stream})
	}
}

// MarketServiceDesc описывает MarketService для grpc.Server.
var MarketServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MarketServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(MethodRegister, MarketServer.Register)},
		{MethodName: "SignIn", Handler: unaryHandler(MethodSignIn, MarketServer.SignIn)},
		{MethodName: "PublishProduct", Handler: unaryHandler(MethodPublishProduct, MarketServer.PublishProduct)},
		{MethodName: "UpdateProduct", Handler: unaryHandler(MethodUpdateProduct, MarketServer.UpdateProduct)},
		{MethodName: "DeleteProduct", Handler: unaryHandler(MethodDeleteProduct, MarketServer.DeleteProduct)},
		{MethodName: "GetProduct", Handler: unaryHandler(MethodGetProduct, MarketServer.GetProduct)},
		{MethodName: "UploadImage", Handler: unaryHandler(MethodUploadImage, MarketServer.UploadImage)},
		{MethodName: "SearchProducts", Handler: unaryHandler(MethodSearchProducts, MarketServer.SearchProducts)},
		{MethodName: "Checkout", Handler: unaryHandler(MethodCheckout, MarketServer.Checkout)},
		{MethodName: "AdvanceOrder", Handler: unaryHandler(MethodAdvanceOrder, MarketServer.AdvanceOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler(MethodGetOrder, MarketServer.GetOrder)},
		{MethodName: "OrderTimeline", Handler: unaryHandler(MethodOrderTimeline, MarketServer.OrderTimeline)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchProducts", Handler: streamHandler(MarketServer.WatchProducts), ServerStreams: true},
		{StreamName: "WatchOrders", Handler: streamHandler(MarketServer.WatchOrders), ServerStreams: true},
		{StreamName: "WatchPendingCount", Handler: streamHandler(MarketServer.WatchPendingCount), ServerStreams: true},
	},
	Metadata: "agromarket/v1/market_service",
}

// RegisterMarketServer регистрирует реализацию на сервере.
func RegisterMarketServer(s grpc.ServiceRegistrar, srv MarketServer) {
	s.RegisterService(&MarketServiceDesc, srv)
}

// MarketClient клиент MarketService. Все вызовы идут через JSON-кодек.
type MarketClient struct {
	cc grpc.ClientConnInterface
}

// NewMarketClient создаёт клиента поверх соединения.
func NewMarketClient(cc grpc.ClientConnInterface) *MarketClient {
	return &MarketClient{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, c *MarketClient, method string, in *Req, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{ClientCallOption()}, opts...)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func watch[Req, Resp any](ctx context.Context, c *MarketClient, desc *grpc.StreamDesc, method string, in *Req, opts []grpc.CallOption) (grpc.ServerStreamingClient[Resp], error) {
	opts = append([]grpc.CallOption{ClientCallOption()}, opts...)
	stream, err := c.cc.NewStream(ctx, desc, method, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Req, Resp]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *MarketClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterRequest, RegisterResponse](ctx, c, MethodRegister, in, opts)
}

func (c *MarketClient) SignIn(ctx context.Context, in *SignInRequest, opts ...grpc.CallOption) (*SignInResponse, error) {
	return invoke[SignInRequest, SignInResponse](ctx, c, MethodSignIn, in, opts)
}

func (c *MarketClient) PublishProduct(ctx context.Context, in *PublishProductRequest, opts ...grpc.CallOption) (*ProductResponse, error) {
	return invoke[PublishProductRequest, ProductResponse](ctx, c, MethodPublishProduct, in, opts)
}

func (c *MarketClient) UpdateProduct(ctx context.Context, in *UpdateProductRequest, opts ...grpc.CallOption) (*ProductResponse, error) {
	return invoke[UpdateProductRequest, ProductResponse](ctx, c, MethodUpdateProduct, in, opts)
}

func (c *MarketClient) DeleteProduct(ctx context.Context, in *ProductRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[ProductRequest, Empty](ctx, c, MethodDeleteProduct, in, opts)
}

func (c *MarketClient) GetProduct(ctx context.Context, in *ProductRequest, opts ...grpc.CallOption) (*ProductResponse, error) {
	return invoke[ProductRequest, ProductResponse](ctx, c, MethodGetProduct, in, opts)
}

func (c *MarketClient) UploadImage(ctx context.Context, in *UploadImageRequest, opts ...grpc.CallOption) (*UploadImageResponse, error) {
	return invoke[UploadImageRequest, UploadImageResponse](ctx, c, MethodUploadImage, in, opts)
}

func (c *MarketClient) SearchProducts(ctx context.Context, in *SearchProductsRequest, opts ...grpc.CallOption) (*ProductList, error) {
	return invoke[SearchProductsRequest, ProductList](ctx, c, MethodSearchProducts, in, opts)
}

func (c *MarketClient) Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	return invoke[CheckoutRequest, CheckoutResponse](ctx, c, MethodCheckout, in, opts)
}

func (c *MarketClient) AdvanceOrder(ctx context.Context, in *AdvanceOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[AdvanceOrderRequest, OrderResponse](ctx, c, MethodAdvanceOrder, in, opts)
}

func (c *MarketClient) GetOrder(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderRequest, OrderResponse](ctx, c, MethodGetOrder, in, opts)
}

func (c *MarketClient) OrderTimeline(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*OrderTimelineResponse, error) {
	return invoke[OrderRequest, OrderTimelineResponse](ctx, c, MethodOrderTimeline, in, opts)
}

func (c *MarketClient) WatchProducts(ctx context.Context, in *WatchProductsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ProductList], error) {
	return watch[WatchProductsRequest, ProductList](ctx, c, &MarketServiceDesc.Streams[0], MethodWatchProducts, in, opts)
}

func (c *MarketClient) WatchOrders(ctx context.Context, in *WatchOrdersRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[OrderList], error) {
	return watch[WatchOrdersRequest, OrderList](ctx, c, &MarketServiceDesc.Streams[1], MethodWatchOrders, in, opts)
}

func (c *MarketClient) WatchPendingCount(ctx context.Context, in *Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[PendingCount], error) {
	return watch[Empty, PendingCount](ctx, c, &MarketServiceDesc.Streams[2], MethodWatchPendingCount, in, opts)
}
