package peer

import (
	"context"

	"google.golang.org/grpc"
)

// There is no .proto source in this environment to run protoc against,
// so PeerExchange is a hand-rolled gRPC service: a ServiceDesc built
// directly against grpc-go's streaming API (the same layer
// protoc-gen-go-grpc itself targets), carrying Envelope values with the
// gob codec registered in codec.go instead of a generated protobuf
// marshaler.
const (
	serviceName    = "crgp.PeerExchange"
	exchangeMethod = "/" + serviceName + "/Exchange"
)

// ExchangeStream is the minimal bidirectional-streaming surface the
// dataflow needs, satisfied by both the server- and client-side ends
// of an Exchange call.
type ExchangeStream interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
}

// ExchangeServer is implemented by a process to handle an inbound
// Exchange stream from a peer process.
type ExchangeServer interface {
	Exchange(stream ExchangeStream) error
}

type serverStreamAdapter struct{ grpc.ServerStream }

func (a serverStreamAdapter) Send(e *Envelope) error { return a.ServerStream.SendMsg(e) }

func (a serverStreamAdapter) Recv() (*Envelope, error) {
	e := new(Envelope)
	if err := a.ServerStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

type clientStreamAdapter struct{ grpc.ClientStream }

func (a clientStreamAdapter) Send(e *Envelope) error { return a.ClientStream.SendMsg(e) }

func (a clientStreamAdapter) Recv() (*Envelope, error) {
	e := new(Envelope)
	if err := a.ClientStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

func exchangeHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ExchangeServer).Exchange(serverStreamAdapter{stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExchangeServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

// RegisterExchangeServer wires impl's Exchange handler into s.
func RegisterExchangeServer(s *grpc.Server, impl ExchangeServer) {
	s.RegisterService(&serviceDesc, impl)
}

// DialExchange opens a client-side Exchange stream on an established
// connection.
func DialExchange(ctx context.Context, cc *grpc.ClientConn) (ExchangeStream, error) {
	desc := &grpc.StreamDesc{StreamName: "Exchange", ServerStreams: true, ClientStreams: true}
	cs, err := cc.NewStream(ctx, desc, exchangeMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	return clientStreamAdapter{cs}, nil
}
