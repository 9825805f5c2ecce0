package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/enterchat/internal/bridge"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a running daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on a unix socket.
func Dial(socketPath string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient("unix://"+socketPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func call[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := fromStruct(out, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return call[StatusResponse](ctx, c, "Status", Empty{})
}

func (c *Client) ListApps(ctx context.Context) (*ListAppsResponse, error) {
	return call[ListAppsResponse](ctx, c, "ListApps", Empty{})
}

func (c *Client) ConnectApp(ctx context.Context, appID string) (*Ack, error) {
	return call[Ack](ctx, c, "ConnectApp", AppRequest{AppID: appID})
}

func (c *Client) DisconnectApp(ctx context.Context, appID string) (*Ack, error) {
	return call[Ack](ctx, c, "DisconnectApp", AppRequest{AppID: appID})
}

// Sync syncs every active app, or only appID when it is set.
func (c *Client) Sync(ctx context.Context, appID string) (*bridge.SyncReport, error) {
	return call[bridge.SyncReport](ctx, c, "SyncAll", AppRequest{AppID: appID})
}

func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*SendResponse, error) {
	return call[SendResponse](ctx, c, "SendMessage", req)
}

func (c *Client) QueueMessage(ctx context.Context, req SendRequest) (*SendResponse, error) {
	return call[SendResponse](ctx, c, "QueueMessage", req)
}

func (c *Client) SendToContact(ctx context.Context, req SendToContactRequest) (*SendResponse, error) {
	return call[SendResponse](ctx, c, "SendToContact", req)
}

func (c *Client) BulkSend(ctx context.Context, req BulkSendRequest) (*bridge.BulkResult, error) {
	return call[bridge.BulkResult](ctx, c, "BulkSend", req)
}

func (c *Client) ListConversations(ctx context.Context, req ListConversationsRequest) (*ListConversationsResponse, error) {
	return call[ListConversationsResponse](ctx, c, "ListConversations", req)
}

func (c *Client) ListMessages(ctx context.Context, req ListMessagesRequest) (*ListMessagesResponse, error) {
	return call[ListMessagesResponse](ctx, c, "ListMessages", req)
}

func (c *Client) SearchMessages(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	return call[SearchResponse](ctx, c, "SearchMessages", req)
}

func (c *Client) MarkRead(ctx context.Context, appID, conversationID string) (*Ack, error) {
	return call[Ack](ctx, c, "MarkRead", ConversationRequest{AppID: appID, ConversationID: conversationID})
}

func (c *Client) Archive(ctx context.Context, req ArchiveRequest) (*Ack, error) {
	return call[Ack](ctx, c, "Archive", req)
}

func (c *Client) DeleteConversation(ctx context.Context, appID, conversationID string) (*Ack, error) {
	return call[Ack](ctx, c, "DeleteConversation", ConversationRequest{AppID: appID, ConversationID: conversationID})
}

func (c *Client) UnreadCounts(ctx context.Context) (*UnreadResponse, error) {
	return call[UnreadResponse](ctx, c, "UnreadCounts", Empty{})
}

func (c *Client) ListSessions(ctx context.Context) (*SessionsResponse, error) {
	return call[SessionsResponse](ctx, c, "ListSessions", Empty{})
}

func (c *Client) ClearSession(ctx context.Context, appID string) (*Ack, error) {
	return call[Ack](ctx, c, "ClearSession", AppRequest{AppID: appID})
}

// Watch streams events whose kind starts with prefix to fn until ctx ends,
// the server closes the stream, or fn returns an error. A nil return means
// the stream ended normally.
func (c *Client) Watch(ctx context.Context, prefix string, fn func(*EventEnvelope) error) error {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod("Watch"))
	if err != nil {
		return err
	}
	in, err := toStruct(WatchRequest{Prefix: prefix})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var env EventEnvelope
		if err := fromStruct(out, &env); err != nil {
			return err
		}
		if err := fn(&env); err != nil {
			return err
		}
	}
}
