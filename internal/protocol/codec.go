package protocol

import (
	"bytes"
	"encoding/gob"
)

// GobCodec marshals WorkerMessage/CoordinatorMessage over gob instead of
// protobuf wire encoding.
//
// The coordinator schema is owned by an external protobuf definition;
// this module carries its own plain-struct mirror of the messages and
// swaps only the encoding, via the same grpc.Codec extension point
// non-protobuf gRPC services use (registered with
// ForceCodec/ForceServerCodec). Streaming, dispatch, heartbeats, and
// cancellation all stay on google.golang.org/grpc itself.
type GobCodec struct{}

func (GobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (GobCodec) Name() string { return "gob" }
