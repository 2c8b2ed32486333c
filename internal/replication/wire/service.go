// internal/replication/wire/service.go
// Hand-written gRPC service boilerplate for the peer mesh, in the exact
// generated-code shape the teacher's internal/proto package used
// (ServiceDesc + Client/Server interfaces + stream wrappers), but using
// structpb.Struct -- a real, already-implemented proto.Message from
// google.golang.org/protobuf -- as the wire type instead of hand-authoring
// a brand-new message type's marshal/unmarshal code, which this exercise
// can never verify against protoc. Every replication frame (Hello,
// SubscribeInterest, Publish, LatticeDelta) is a structpb.Struct whose
// "kind" field selects its shape; see internal/replication/frames.go.
package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// PeerServiceClient is the client half of the bidirectional Sync stream.
type PeerServiceClient interface {
	Sync(ctx context.Context, opts ...grpc.CallOption) (PeerService_SyncClient, error)
}

type peerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPeerServiceClient wraps cc (typically from grpc.NewClient) as a PeerServiceClient.
func NewPeerServiceClient(cc grpc.ClientConnInterface) PeerServiceClient {
	return &peerServiceClient{cc}
}

func (c *peerServiceClient) Sync(ctx context.Context, opts ...grpc.CallOption) (PeerService_SyncClient, error) {
	stream, err := c.cc.NewStream(ctx, &peerServiceServiceDesc.Streams[0], "/swindon.replication.PeerService/Sync", opts...)
	if err != nil {
		return nil, err
	}
	return &peerServiceSyncClient{stream}, nil
}

// PeerService_SyncClient is the client-side handle on one Sync stream.
type PeerService_SyncClient interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type peerServiceSyncClient struct {
	grpc.ClientStream
}

func (x *peerServiceSyncClient) Send(m *structpb.Struct) error { return x.ClientStream.SendMsg(m) }

func (x *peerServiceSyncClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// PeerServiceServer is implemented by internal/replication.Mesh.
type PeerServiceServer interface {
	Sync(PeerService_SyncServer) error
}

// UnimplementedPeerServiceServer can be embedded to satisfy forward
// compatibility, matching the teacher's Unimplemented*Server convention.
type UnimplementedPeerServiceServer struct{}

func (UnimplementedPeerServiceServer) Sync(PeerService_SyncServer) error {
	return status.Error(codes.Unimplemented, "method Sync not implemented")
}

// PeerService_SyncServer is the server-side handle on one Sync stream.
type PeerService_SyncServer interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ServerStream
}

type peerServiceSyncServer struct {
	grpc.ServerStream
}

func (x *peerServiceSyncServer) Send(m *structpb.Struct) error { return x.ServerStream.SendMsg(m) }

func (x *peerServiceSyncServer) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func peerServiceSyncHandler(srv any, stream grpc.ServerStream) error {
	return srv.(PeerServiceServer).Sync(&peerServiceSyncServer{stream})
}

var peerServiceServiceDesc = grpc.ServiceDesc{
	ServiceName: "swindon.replication.PeerService",
	HandlerType: (*PeerServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Sync",
			Handler:       peerServiceSyncHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "swindon/replication/peer.proto",
}

// RegisterPeerServiceServer mounts srv on s, mirroring the generated
// RegisterXxxServer helper.
func RegisterPeerServiceServer(s grpc.ServiceRegistrar, srv PeerServiceServer) {
	s.RegisterService(&peerServiceServiceDesc, srv)
}
