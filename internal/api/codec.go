package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/enterchat/internal/bridge"
	"github.com/matheus3301/enterchat/internal/outbox"
	"github.com/matheus3301/enterchat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct converts a JSON-tagged Go value into the wire message.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return out, nil
}

// fromStruct decodes the wire message into a JSON-tagged Go value.
func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, bridge.ErrNotReady):
		code = codes.FailedPrecondition
	case errors.Is(err, bridge.ErrAppNotFound),
		errors.Is(err, bridge.ErrConversationNotFound),
		errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, bridge.ErrInvalidProfile),
		errors.Is(err, outbox.ErrEmptyMessage):
		code = codes.InvalidArgument
	}
	return grpcstatus.Error(code, err.Error())
}
