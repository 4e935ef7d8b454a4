// Package mlpb is the gRPC client stub for the optional ML inference
// worker (C9's ml_confirmation/rl_agent gates). No .proto definition for
// this service shipped with the retrieved reference material, so rather
// than fabricate a protoc-gen-go-grpc output by hand, the request and
// response messages are google.golang.org/protobuf's own generated
// structpb.Struct type — a real, already-compiled proto.Message — carrying
// a schema-less field map. This keeps the wire format genuinely protobuf
// and the transport genuinely gRPC without fabricated generated code.
package mlpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "mlpb.StrategyService"

// StrategyServiceClient is the client API for the ML inference worker.
type StrategyServiceClient interface {
	// OnTick sends one market observation and returns the worker's
	// verdict (win probability, suggested size, rejection reason) as a
	// field map.
	OnTick(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type strategyServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStrategyServiceClient builds a client bound to an existing connection.
func NewStrategyServiceClient(cc grpc.ClientConnInterface) StrategyServiceClient {
	return &strategyServiceClient{cc: cc}
}

func (c *strategyServiceClient) OnTick(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/OnTick", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
