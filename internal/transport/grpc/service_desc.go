package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "slotbook.v1.SlotsService"

const (
	methodQuerySlots   = "/" + serviceName + "/QuerySlots"
	methodBook         = "/" + serviceName + "/Book"
	methodCancel       = "/" + serviceName + "/Cancel"
	methodGetBooking   = "/" + serviceName + "/GetBooking"
	methodRefreshGroup = "/" + serviceName + "/RefreshGroup"
)

// SlotsServiceServer is the server API for the slots service.
type SlotsServiceServer interface {
	QuerySlots(context.Context, *QuerySlotsRequest) (*QuerySlotsResponse, error)
	Book(context.Context, *BookRequest) (*BookResponse, error)
	Cancel(context.Context, *CancelRequest) (*CancelResponse, error)
	GetBooking(context.Context, *GetBookingRequest) (*GetBookingResponse, error)
	RefreshGroup(context.Context, *RefreshGroupRequest) (*RefreshGroupResponse, error)
}

func RegisterSlotsServiceServer(s grpc.ServiceRegistrar, srv SlotsServiceServer) {
	s.RegisterService(&SlotsServiceDesc, srv)
}

// unaryHandler adapts one typed method to the grpc.MethodDesc handler shape.
func unaryHandler[Req any, Resp any](fullMethod string, call func(SlotsServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SlotsServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SlotsServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var SlotsServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SlotsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "QuerySlots", Handler: unaryHandler(methodQuerySlots, SlotsServiceServer.QuerySlots)},
		{MethodName: "Book", Handler: unaryHandler(methodBook, SlotsServiceServer.Book)},
		{MethodName: "Cancel", Handler: unaryHandler(methodCancel, SlotsServiceServer.Cancel)},
		{MethodName: "GetBooking", Handler: unaryHandler(methodGetBooking, SlotsServiceServer.GetBooking)},
		{MethodName: "RefreshGroup", Handler: unaryHandler(methodRefreshGroup, SlotsServiceServer.RefreshGroup)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "slotbook/v1/slots.json",
}

// SlotsServiceClient calls the slots service with the JSON codec.
type SlotsServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSlotsServiceClient(cc grpc.ClientConnInterface) *SlotsServiceClient {
	return &SlotsServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SlotsServiceClient) QuerySlots(ctx context.Context, in *QuerySlotsRequest, opts ...grpc.CallOption) (*QuerySlotsResponse, error) {
	return invoke[QuerySlotsResponse](ctx, c.cc, methodQuerySlots, in, opts)
}

func (c *SlotsServiceClient) Book(ctx context.Context, in *BookRequest, opts ...grpc.CallOption) (*BookResponse, error) {
	return invoke[BookResponse](ctx, c.cc, methodBook, in, opts)
}

func (c *SlotsServiceClient) Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*CancelResponse, error) {
	return invoke[CancelResponse](ctx, c.cc, methodCancel, in, opts)
}

func (c *SlotsServiceClient) GetBooking(ctx context.Context, in *GetBookingRequest, opts ...grpc.CallOption) (*GetBookingResponse, error) {
	return invoke[GetBookingResponse](ctx, c.cc, methodGetBooking, in, opts)
}

func (c *SlotsServiceClient) RefreshGroup(ctx context.Context, in *RefreshGroupRequest, opts ...grpc.CallOption) (*RefreshGroupResponse, error) {
	return invoke[RefreshGroupResponse](ctx, c.cc, methodRefreshGroup, in, opts)
}
