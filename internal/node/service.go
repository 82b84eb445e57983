package node

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "validator.v1.Validator"

const processMethod = "/" + ServiceName + "/Process"

// ValidatorServer is the server API for the Validator service.
type ValidatorServer interface {
	Process(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterValidatorServer registers srv on s.
func RegisterValidatorServer(s grpc.ServiceRegistrar, srv ValidatorServer) {
	s.RegisterService(&validatorServiceDesc, srv)
}

func processHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ValidatorServer).Process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: processMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ValidatorServer).Process(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var validatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ValidatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Process",
			Handler:    processHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "validator/v1/validator.proto",
}

// ValidatorClient calls the Validator service.
type ValidatorClient struct {
	cc grpc.ClientConnInterface
}

// NewValidatorClient wraps a client connection.
func NewValidatorClient(cc grpc.ClientConnInterface) *ValidatorClient {
	return &ValidatorClient{cc: cc}
}

// Process sends payload and returns the consensus response.
func (c *ValidatorClient) Process(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, processMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
