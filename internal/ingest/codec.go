// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ingest

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// codecName is the gRPC content-subtype the ingest service negotiates.
// Atom messages travel as this package's own wire.go encoding ([]byte
// in, []byte out); ack responses are real google.golang.org/protobuf
// messages (rpc/status.Status), so the codec falls back to proto.Marshal/
// Unmarshal for anything that isn't a bare byte slice.
const codecName = "telemetry-atom"

type atomCodec struct{}

func (atomCodec) Name() string { return codecName }

func (atomCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case []byte:
		return m, nil
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("ingest: atomCodec.Marshal: unsupported type %T", v)
	}
}

func (atomCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *[]byte:
		*m = append((*m)[:0], data...)
		return nil
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("ingest: atomCodec.Unmarshal: unsupported type %T", v)
	}
}

func init() {
	encoding.RegisterCodec(atomCodec{})
}
