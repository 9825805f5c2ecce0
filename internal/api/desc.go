package api

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/matheus3301/enterchat/internal/bus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "enterchat.v1.BridgeService"

// BridgeServer is the handler type the descriptor dispatches to.
type BridgeServer interface {
	Status(context.Context, *Empty) (*StatusResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", (*Service).Status),
		unary("ListApps", (*Service).ListApps),
		unary("ConnectApp", (*Service).ConnectApp),
		unary("DisconnectApp", (*Service).DisconnectApp),
		unary("SyncAll", (*Service).SyncAll),
		unary("SendMessage", (*Service).SendMessage),
		unary("QueueMessage", (*Service).QueueMessage),
		unary("SendToContact", (*Service).SendToContact),
		unary("BulkSend", (*Service).BulkSend),
		unary("ListConversations", (*Service).ListConversations),
		unary("ListMessages", (*Service).ListMessages),
		unary("SearchMessages", (*Service).SearchMessages),
		unary("MarkRead", (*Service).MarkRead),
		unary("Archive", (*Service).Archive),
		unary("DeleteConversation", (*Service).DeleteConversation),
		unary("UnreadCounts", (*Service).UnreadCounts),
		unary("ListSessions", (*Service).ListSessions),
		unary("ClearSession", (*Service).ClearSession),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "enterchat/v1/bridge.proto",
}

// Register adds the bridge service to srv.
func Register(srv grpc.ServiceRegistrar, svc *Service) {
	srv.RegisterService(&serviceDesc, svc)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary adapts a typed handler to a Struct-in, Struct-out method.
func unary[Req, Resp any](name string, fn func(*Service, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, raw any) (any, error) {
				req := new(Req)
				if err := fromStruct(raw.(*structpb.Struct), req); err != nil {
					return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
				}
				resp, err := fn(srv.(*Service), ctx, req)
				if err != nil {
					return nil, toStatus(err)
				}
				return toStruct(resp)
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, call)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	var req WatchRequest
	if err := fromStruct(in, &req); err != nil {
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	return srv.(*Service).Watch(&req, stream)
}

// Watch forwards bus events whose kind starts with the requested prefix
// until the client goes away. Slow clients lose events rather than stall
// the bus.
func (s *Service) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	ch, unsub := s.Bus.Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, err := s.envelope(evt)
			if err != nil {
				continue
			}
			out, err := toStruct(env)
			if err != nil {
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) envelope(evt bus.Event) (*EventEnvelope, error) {
	env := &EventEnvelope{
		EventID:          evt.ID,
		Profile:          s.Profile,
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
		Kind:             evt.Kind,
		AppID:            evt.AppID,
		PayloadVersion:   1,
	}
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if evt.Payload != nil {
		raw, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return env, nil
}
