// Copyright 2026 Fluxlog, Inc.

package rpcapi

import (
	"encoding/json"
	"fmt"
)

// jsonCodec is the gRPC message codec for the SPU service. The message
// types are plain Go structs rather than protobuf-generated code, so the
// frames carry JSON; gRPC still provides the transport, flow control,
// keepalive, and health checking.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcapi: marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcapi: unmarshal %T: %w", v, err)
	}
	return nil
}
