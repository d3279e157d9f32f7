// Package health exposes the broker's liveness over the standard gRPC
// health-checking protocol, grounded on the teacher's ad-hoc
// EventLog/RoutingTable/PeerLink health fields but reported through
// google.golang.org/grpc/health's pre-built service instead of a
// bespoke JSON endpoint, so any standard gRPC health probe (including
// grpcurl and k8s gRPC liveness probes) works unmodified.
package health

import (
	"context"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service names reported individually, mirroring the teacher's
// per-component health booleans (EventLogHealthy, RoutingTableHealthy,
// PeerLinkHealthy) as distinct gRPC health services instead of fields
// on one ad-hoc struct.
const (
	ServiceRoutingTable = "broker.routingtable"
	ServicePeerLink     = "broker.peerlink"
	ServiceDispatch     = "broker.dispatch"
)

// Server wraps grpc-go's health.Server, the default registration
// point for an overall plus per-component SERVING/NOT_SERVING status.
type Server struct {
	*health.Server
}

// New returns a health server with every tracked component and the
// overall service ("") initialized to NOT_SERVING until the endpoint
// explicitly marks them up.
func New() *Server {
	s := &Server{Server: health.NewServer()}
	for _, name := range []string{"", ServiceRoutingTable, ServicePeerLink, ServiceDispatch} {
		s.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// MarkServing flips a component (and, if all tracked components are
// now up, the overall "") status to SERVING.
func (s *Server) MarkServing(name string) {
	s.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	for _, n := range []string{ServiceRoutingTable, ServicePeerLink, ServiceDispatch} {
		resp, err := s.Check(context.Background(), &healthpb.HealthCheckRequest{Service: n})
		if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return
		}
	}
	s.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// MarkNotServing flips a component, and the overall status, to
// NOT_SERVING — a single degraded component takes the endpoint's
// overall health down with it.
func (s *Server) MarkNotServing(name string) {
	s.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	s.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
}
