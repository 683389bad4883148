package protocol

import (
	"context"

	"google.golang.org/grpc"
)

// CoordinatorServiceName names the gRPC service carrying WorkerStream,
// mirroring the naming protoc-gen-go-grpc would assign.
const CoordinatorServiceName = "zisk.coordinator.v1.Coordinator"

// CoordinatorClient is the worker-side stub for the coordinator's gRPC
// service, hand-authored in the same shape protoc-gen-go-grpc would emit
// for a single bidirectional-streaming RPC.
type CoordinatorClient interface {
	WorkerStream(ctx context.Context, opts ...grpc.CallOption) (Coordinator_WorkerStreamClient, error)
}

type coordinatorClient struct {
	cc grpc.ClientConnInterface
}

// NewCoordinatorClient builds a CoordinatorClient over cc, always forcing
// GobCodec so callers don't need to remember the ForceCodec call option.
func NewCoordinatorClient(cc grpc.ClientConnInterface) CoordinatorClient {
	return &coordinatorClient{cc: cc}
}

func (c *coordinatorClient) WorkerStream(ctx context.Context, opts ...grpc.CallOption) (Coordinator_WorkerStreamClient, error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(GobCodec{})}, opts...)
	stream, err := c.cc.NewStream(ctx, &Coordinator_ServiceDesc.Streams[0], "/"+CoordinatorServiceName+"/WorkerStream", opts...)
	if err != nil {
		return nil, err
	}
	return &coordinatorWorkerStreamClient{stream}, nil
}

// Coordinator_WorkerStreamClient is the worker's view of the bidirectional
// stream: it sends WorkerMessage and receives CoordinatorMessage.
type Coordinator_WorkerStreamClient interface {
	Send(*WorkerMessage) error
	Recv() (*CoordinatorMessage, error)
	grpc.ClientStream
}

type coordinatorWorkerStreamClient struct {
	grpc.ClientStream
}

func (x *coordinatorWorkerStreamClient) Send(m *WorkerMessage) error {
	return x.ClientStream.SendMsg(m)
}

func (x *coordinatorWorkerStreamClient) Recv() (*CoordinatorMessage, error) {
	m := new(CoordinatorMessage)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// CoordinatorServer is implemented by the coordinator side.
type CoordinatorServer interface {
	WorkerStream(Coordinator_WorkerStreamServer) error
}

// Coordinator_WorkerStreamServer is the coordinator's view of the
// bidirectional stream: it sends CoordinatorMessage and receives
// WorkerMessage.
type Coordinator_WorkerStreamServer interface {
	Send(*CoordinatorMessage) error
	Recv() (*WorkerMessage, error)
	grpc.ServerStream
}

type coordinatorWorkerStreamServer struct {
	grpc.ServerStream
}

func (x *coordinatorWorkerStreamServer) Send(m *CoordinatorMessage) error {
	return x.ServerStream.SendMsg(m)
}

func (x *coordinatorWorkerStreamServer) Recv() (*WorkerMessage, error) {
	m := new(WorkerMessage)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Coordinator_WorkerStream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(CoordinatorServer).WorkerStream(&coordinatorWorkerStreamServer{stream})
}

// Coordinator_ServiceDesc is the hand-authored equivalent of a
// protoc-gen-go-grpc ServiceDesc for the single WorkerStream RPC.
var Coordinator_ServiceDesc = grpc.ServiceDesc{
	ServiceName: CoordinatorServiceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WorkerStream",
			Handler:       _Coordinator_WorkerStream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "zisk/coordinator.proto",
}

// RegisterCoordinatorServer registers srv against s, forcing GobCodec
// server-wide is the caller's responsibility (grpc.NewServer(
// grpc.ForceServerCodec(protocol.GobCodec{}))), since ServiceRegistrar
// doesn't expose per-service codec selection.
func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&Coordinator_ServiceDesc, srv)
}
