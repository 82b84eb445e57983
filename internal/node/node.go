package node

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Node hosts the gRPC ingress.
type Node struct {
	listenAddr string
	grpcServer *grpc.Server
	health     *health.Server
}

// NewNode registers the Validator, health and reflection services.
func NewNode(listenAddr string, proc Processor) *Node {
	n := &Node{
		listenAddr: listenAddr,
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
	}
	RegisterValidatorServer(n.grpcServer, NewServer(proc))
	healthpb.RegisterHealthServer(n.grpcServer, n.health)
	// Enable gRPC reflection for grpcurl
	reflection.Register(n.grpcServer)

	n.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	n.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return n
}

// Start listens on the configured address and serves until Stop.
func (n *Node) Start() error {
	lis, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.listenAddr, err)
	}
	return n.Serve(lis)
}

// Serve serves on lis until Stop.
func (n *Node) Serve(lis net.Listener) error {
	log.Info("starting grpc ingress", zap.String("addr", lis.Addr().String()))
	if err := n.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop marks the node not serving and drains in-flight calls.
func (n *Node) Stop() {
	log.Info("stopping grpc ingress")
	n.health.Shutdown()
	n.grpcServer.GracefulStop()
}
