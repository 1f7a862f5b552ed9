package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ruleServer is the gRPC view of RuleService.
type ruleServer interface {
	Compile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// grpcRuleService adapts RuleService to ruleServer.
type grpcRuleService struct {
	svc *RuleService
}

func (g grpcRuleService) Compile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	out, err := g.svc.compile(ctx, req)
	return out, grpcError(err)
}

func (g grpcRuleService) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	out, err := g.svc.evaluate(ctx, req)
	return out, grpcError(err)
}

// grpcError converts a Connect error to a gRPC status. The two code spaces
// share numbering.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return status.Error(codes.Code(ce.Code()), ce.Message())
	}
	return status.Error(codes.Internal, err.Error())
}

func unaryHandler(method string, call func(ruleServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ruleServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ruleServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ruleServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ruleServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Compile", ruleServer.Compile),
		unaryHandler("Evaluate", ruleServer.Evaluate),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "jary/v1/rule.proto",
}

// RegisterGRPC registers the rule service on a gRPC server.
func (s *RuleService) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&ruleServiceDesc, grpcRuleService{svc: s})
}
