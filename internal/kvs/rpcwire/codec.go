// Package rpcwire installs a JSON-based grpc.Codec that lets this
// repository use real google.golang.org/grpc transport (HTTP/2 framing,
// streaming, deadlines, interceptors) without a protoc toolchain. Every
// wire message in this module is a plain, json-tagged Go struct rather
// than a generated protobuf type, so grpc-go's default "proto" codec
// (which requires proto.Message) cannot marshal them; this codec replaces
// it under the same registered name.
package rpcwire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName matches the name grpc-go looks up when no content-subtype is
// set on the call, so registering under "proto" makes every unary call in
// this module use JSON framing without requiring callers to opt in.
const codecName = "proto"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcwire: marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcwire: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
