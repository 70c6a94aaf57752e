package peer

import (
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/BMeu/crgp/internal/crgperr"
)

// Server hosts this process's PeerExchange endpoint so process 0 can
// dial in. Every process of rank > 0 binds its own hostfile entry;
// process 0 is the only one that dials.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
}

// Listen binds addr and registers impl as the PeerExchange handler.
// The server does not start accepting connections until Serve is
// called, so the caller can finish other startup work first.
func Listen(addr string, impl ExchangeServer) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "binding peer address %s", addr)
	}

	gs := grpc.NewServer()
	RegisterExchangeServer(gs, impl)

	return &Server{grpcServer: gs, listener: lis}, nil
}

// Serve blocks accepting peer connections until Stop is called.
func (s *Server) Serve() error {
	if err := s.grpcServer.Serve(s.listener); err != nil {
		return crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "serving peer exchange")
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	logrus.Debug("stopping peer exchange server")
	s.grpcServer.GracefulStop()
}
