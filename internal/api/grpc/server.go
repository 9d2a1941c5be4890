// Package grpc implements the remote messaging transport named in spec.md
// §6: a thin gRPC surface that lets a peer Tell or Ask a local actor by id,
// so sends to a resolved remote Address differ from local sends only in
// latency, not in the caller's API.
package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/caflabs/substrate/internal/actor"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName = "substrate.actor.Transport"
	tellMethod  = "Tell"
	askMethod   = "Ask"

	tellFullMethod = "/" + serviceName + "/" + tellMethod
	askFullMethod  = "/" + serviceName + "/" + askMethod
)

// ServerConfig holds configuration for the transport's gRPC server, mirrored
// from the teacher's subtraterpc.ServerConfig keepalive defaults.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., "localhost:10009").
	ListenAddr string

	// ServerPingTime is the duration after which the server pings the
	// client.
	ServerPingTime time.Duration

	// ServerPingTimeout is the duration the server waits for ping ack.
	ServerPingTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:        "localhost:10009",
		ServerPingTime:    5 * time.Minute,
		ServerPingTimeout: time.Minute,
	}
}

// Server exposes an ActorSystem's local actors to remote Tell/Ask calls.
type Server struct {
	cfg    ServerConfig
	system *actor.ActorSystem

	grpcServer *grpc.Server
	listener   net.Listener
}

// NewServer builds a Server bound to system. Actors must already be spawned
// on system (via SpawnEventActor) before a remote peer can reach them by id.
func NewServer(cfg ServerConfig, system *actor.ActorSystem) *Server {
	return &Server{cfg: cfg, system: system}
}

// Start binds the configured listen address and begins serving in the
// background. It returns once the listener is bound; RPC handling runs on a
// separate goroutine until Stop is called.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    s.cfg.ServerPingTime,
			Timeout: s.cfg.ServerPingTimeout,
		}),
	)
	s.grpcServer.RegisterService(&transportServiceDesc, s)

	go func() {
		// Serve returns once Stop/GracefulStop closes the listener;
		// that's the expected shutdown path, not a server error.
		_ = s.grpcServer.Serve(lis)
	}()

	return nil
}

// Addr returns the address the server actually bound to, useful when
// ServerConfig.ListenAddr used a ":0" ephemeral port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop gracefully drains in-flight RPCs and closes the listener.
func (s *Server) Stop() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}

// tell implements the Tell RPC: a fire-and-forget enqueue into a local
// actor's mailbox.
func (s *Server) tell(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	target, payload, urgent, err := decodeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ea, ok := s.system.LookupEventActor(target)
	if !ok {
		return nil, status.Error(codes.NotFound, actor.ErrNoSuchActor.Error())
	}

	if err := ea.Tell(ctx, payload, urgent); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}

	return &structpb.Struct{}, nil
}

// ask implements the Ask RPC: enqueue payload and block until the target's
// reply arrives or ctx's deadline elapses.
func (s *Server) ask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	target, payload, urgent, err := decodeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ea, ok := s.system.LookupEventActor(target)
	if !ok {
		return nil, status.Error(codes.NotFound, actor.ErrNoSuchActor.Error())
	}

	future := ea.Ask(ctx, payload, urgent)
	result := future.Await(ctx)

	reply, err := result.Unpack()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	slots, err := payloadToSlots(reply)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(map[string]any{"slots": slots})
}

// transportServer is the handler-side interface the hand-rolled
// grpc.ServiceDesc below dispatches to — the same shape protoc-gen-go-grpc
// would generate from a two-RPC .proto, written directly against
// google.golang.org/grpc since this transport's wire messages (plain
// structpb.Struct) need no generated stubs.
type transportServer interface {
	tell(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func tellHandler(srv any, ctx context.Context, dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transportServer).tell(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: tellFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(transportServer).tell(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func askHandler(srv any, ctx context.Context, dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transportServer).ask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: askFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(transportServer).ask(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*transportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: tellMethod, Handler: tellHandler},
		{MethodName: askMethod, Handler: askHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/api/grpc/transport.go",
}
