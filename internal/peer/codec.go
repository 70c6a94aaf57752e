package peer

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's encoding package so both ends of
// a connection pick the same wire format. CRGP has no protobuf schema
// for its internal messages (there is no .proto source to compile in
// this environment), so it exchanges plain Go structs the same way the
// rest of the dataflow already does internally: gob.
const codecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec implements grpc's encoding.Codec over encoding/gob, so the
// PeerExchange service can carry Envelope values without a generated
// protobuf marshaler.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string {
	return codecName
}
