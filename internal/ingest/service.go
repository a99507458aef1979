// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ingest

import (
	"context"
	"errors"
	"io"

	"github.com/go-logr/logr"
	"github.com/nodestat/telemetry-core/internal/atom"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
)

// serviceName and methodIngestAtoms name the RPC this package registers.
// There is no .proto for it: spec.md §1 puts the real ingestion transport
// out of scope, so this is a hand-described grpc.ServiceDesc rather than
// protoc-generated stubs, the thinnest adapter that still rides on the
// teacher's actual gRPC stack.
const (
	serviceName       = "telemetry.ingest.v1.AtomIngest"
	methodIngestAtoms = "IngestAtoms"
)

// Dispatcher is the engine.Engine method the ingest service depends on.
type Dispatcher interface {
	Dispatch(ctx context.Context, a atom.Atom) error
}

// Server adapts a client-streaming RPC of wire-encoded atoms into
// Dispatcher.Dispatch calls, acking each with an rpc/status.Status the way
// internal/config/ams.go's AMSLoader.ack constructs NACK details for a
// rejected config.
type Server struct {
	dispatcher Dispatcher
	log        logr.Logger
}

// NewServer builds an ingest Server delivering atoms to d.
func NewServer(d Dispatcher, log logr.Logger) *Server {
	return &Server{dispatcher: d, log: log.WithName("ingest")}
}

// Register attaches the ingest service to an existing *grpc.Server.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    methodIngestAtoms,
			Handler:       ingestAtomsHandler,
			ClientStreams: true,
		},
	},
	Metadata: "internal/ingest/service.go",
}

func ingestAtomsHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*Server)
	for {
		var raw []byte
		if err := stream.RecvMsg(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		a, err := DecodeAtom(raw)
		if err != nil {
			s.log.Error(err, "rejecting malformed atom")
			nack := &status.Status{Code: int32(codes.InvalidArgument), Message: err.Error()}
			if sendErr := stream.SendMsg(nack); sendErr != nil {
				return sendErr
			}
			continue
		}

		if err := s.dispatcher.Dispatch(stream.Context(), a); err != nil {
			s.log.Error(err, "dispatch failed", "atomID", a.ID)
			nack := &status.Status{Code: int32(codes.Internal), Message: err.Error()}
			if sendErr := stream.SendMsg(nack); sendErr != nil {
				return sendErr
			}
			continue
		}

		if err := stream.SendMsg(&status.Status{Code: int32(codes.OK)}); err != nil {
			return err
		}
	}
}

// CallOption returns the grpc.CallOption an ingest client must pass to every
// IngestAtoms call so the server's atomCodec is negotiated instead of the
// default proto codec, which knows nothing about the raw wire-encoded
// atom bytes this stream carries.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(codecName)
}
