// Package hostsvc exposes the Host<->VM interface (pkg/window.Host plus the
// Engine's Run loop) as a Connect/gRPC service, so a scheduler process and
// the VM can run in separate processes. There is no .proto source here: the
// request/response types in types.go travel as plain JSON via a custom
// connect.Codec (codec.go) rather than generated protobuf stubs.
package hostsvc

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	loadProcedure = "/hostsvc.v1.HostService/Load"
	runProcedure  = "/hostsvc.v1.HostService/Run"
	serviceName   = "hostsvc.v1.HostService"
)

// Server is the daemon wrapping HostService: an HTTP handler that serves
// both gRPC (binary, over cleartext HTTP/2 via h2c) and Connect (HTTP/JSON)
// on the same port, plus a standalone gRPC health-check server for infra
// liveness/readiness probes on a second port.
type Server struct {
	svc         *HostService
	handler     http.Handler
	grpcServer  *grpc.Server
	health      *health.Server
	stopSweeper func()
}

// New creates a Server with its own module registry and a sweeper that
// evicts modules unused for 30 minutes, checked every 5 minutes.
func New() *Server {
	svc := NewHostService()
	mux := http.NewServeMux()

	loadHandler := connect.NewUnaryHandler(loadProcedure, svc.Load, connect.WithCodec(jsonCodec{}))
	runHandler := connect.NewUnaryHandler(runProcedure, svc.Run, connect.WithCodec(jsonCodec{}))
	mux.Handle(loadProcedure, loadHandler)
	mux.Handle(runProcedure, runHandler)

	// h2c lets the gRPC wire protocol (which connect's handlers already
	// speak) actually reach Load/Run in the clear, without TLS: plain
	// http.ListenAndServe only ever negotiates HTTP/1.1, which can't carry
	// gRPC's HTTP/2 framing.
	handler := h2c.NewHandler(mux, &http2.Server{})

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	return &Server{
		svc:         svc,
		handler:     handler,
		grpcServer:  grpcServer,
		health:      healthSrv,
		stopSweeper: svc.modules.StartSweeper(5*time.Minute, 30*time.Minute),
	}
}

// ListenAndServe starts the HTTP server on addr ("host:port" or ":port"),
// speaking Connect (JSON) and gRPC on the same port via h2c.
func (s *Server) ListenAndServe(addr string) error {
	fmt.Printf("ewal host service listening on %s\n", addr)
	fmt.Printf("  Load: http://%s%s\n", addr, loadProcedure)
	fmt.Printf("  Run:  http://%s%s\n", addr, runProcedure)
	return http.ListenAndServe(addr, s.handler)
}

// GRPCListenAndServe starts the standalone gRPC health-check server on
// addr, separately from the Connect/gRPC traffic ListenAndServe carries,
// so an orchestrator's liveness/readiness probe doesn't compete with Load
// or Run for the handler's attention.
func (s *Server) GRPCListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	fmt.Printf("ewal host service grpc health check listening on %s\n", addr)
	return s.grpcServer.Serve(lis)
}

// Handler returns the h2c-wrapped mux directly, for tests that want
// httptest.Server without binding a real port.
func (s *Server) Handler() http.Handler { return s.handler }

// SetCrashDumpDir enables a CBOR crash-dump file under dir for every Run
// call that faults. Pass "" to disable (the default).
func (s *Server) SetCrashDumpDir(dir string) {
	s.svc.SetCrashDumpDir(dir)
}

// Stop shuts down background housekeeping and the gRPC health server.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
