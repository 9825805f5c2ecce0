// Package api exposes the daemon over gRPC. Requests and responses travel
// as google.protobuf.Struct messages mirroring the JSON shapes in types.go.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/enterchat/internal/bridge"
	"github.com/matheus3301/enterchat/internal/bus"
	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/outbox"
	"github.com/matheus3301/enterchat/internal/registry"
	"github.com/matheus3301/enterchat/internal/session"
	"github.com/matheus3301/enterchat/internal/status"
	"github.com/matheus3301/enterchat/internal/store"
	intsync "github.com/matheus3301/enterchat/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// LinkStater reports the connection state of linked-device apps.
type LinkStater interface {
	LinkState(appID string) status.State
}

// Deps are the components the service fronts.
type Deps struct {
	Profile  string
	Engine   *bridge.Engine
	Ingest   *intsync.Engine
	Outbox   *outbox.Sender
	DB       *store.DB
	Sessions *session.Manager
	Bus      *bus.Bus
	// Links is optional.
	Links LinkStater
}

// Service implements enterchat.v1.BridgeService.
type Service struct {
	Deps
	startedAt time.Time
}

// NewService creates the bridge service.
func NewService(d Deps) *Service {
	return &Service{Deps: d, startedAt: time.Now()}
}

func (s *Service) Status(_ context.Context, _ *Empty) (*StatusResponse, error) {
	resp := &StatusResponse{
		Profile:  s.Profile,
		State:    string(s.Engine.State()),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
		LastSync: make(map[string]time.Time),
	}
	for _, app := range s.Engine.Registry().GetActiveApps() {
		resp.ActiveApps = append(resp.ActiveApps, app.ID)
		if at := s.lastSync(app.ID); at != nil {
			resp.LastSync[app.ID] = *at
		}
	}
	if n, err := s.DB.ConversationCount(); err == nil {
		resp.Conversations = n
	}
	if n, err := s.DB.MessageCount(); err == nil {
		resp.Messages = n
	}
	if s.Bus != nil {
		resp.DroppedEvents = s.Bus.Dropped()
	}
	return resp, nil
}

func (s *Service) ListApps(_ context.Context, _ *Empty) (*ListAppsResponse, error) {
	apps := s.Engine.Registry().GetAllApps()
	resp := &ListAppsResponse{Apps: make([]AppInfo, 0, len(apps))}
	for _, app := range apps {
		info := AppInfo{
			ID:          app.ID,
			DisplayName: app.DisplayName,
			Kind:        string(app.Kind),
			Active:      app.IsActive,
		}
		if app.Kind == registry.KindProtocol && s.Links != nil {
			info.LinkState = string(s.Links.LinkState(app.ID))
		}
		info.LastSync = s.lastSync(app.ID)
		resp.Apps = append(resp.Apps, info)
	}
	return resp, nil
}

func (s *Service) ConnectApp(ctx context.Context, req *AppRequest) (*Ack, error) {
	if err := s.Engine.ConnectApp(ctx, req.AppID); err != nil {
		return nil, err
	}
	return &Ack{OK: true, Message: fmt.Sprintf("%s connected", req.AppID)}, nil
}

func (s *Service) DisconnectApp(ctx context.Context, req *AppRequest) (*Ack, error) {
	if err := s.Engine.DisconnectApp(ctx, req.AppID); err != nil {
		return nil, err
	}
	return &Ack{OK: true, Message: fmt.Sprintf("%s disconnected", req.AppID)}, nil
}

// SyncAll runs a sync now, or a single app when app_id is set.
func (s *Service) SyncAll(ctx context.Context, req *AppRequest) (*bridge.SyncReport, error) {
	if req.AppID == "" {
		report, err := s.Engine.SyncAll(ctx)
		if err != nil {
			return nil, err
		}
		return &report, nil
	}
	res, err := s.Engine.SyncApp(ctx, req.AppID)
	if err != nil {
		return nil, err
	}
	report := &bridge.SyncReport{
		Apps:          []bridge.AppResult{res},
		Conversations: res.Conversations,
		Messages:      res.Messages,
		Skipped:       res.Skipped,
		Duration:      res.Duration,
	}
	if res.OK {
		report.Succeeded = 1
	} else {
		report.Failed = 1
	}
	return report, nil
}

// SendMessage dispatches immediately and reports the surface's result.
func (s *Service) SendMessage(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	ok, err := s.Engine.SendMessage(ctx, req.AppID, req.ConversationID, req.Text, req.Attachments)
	if err != nil {
		return nil, err
	}
	return &SendResponse{OK: ok}, nil
}

// QueueMessage hands the message to the outbox and returns at once.
func (s *Service) QueueMessage(_ context.Context, req *SendRequest) (*SendResponse, error) {
	if _, ok := s.Engine.Registry().GetApp(req.AppID); !ok {
		return nil, fmt.Errorf("%w: %s", bridge.ErrAppNotFound, req.AppID)
	}
	id, err := s.Outbox.Queue(req.AppID, req.ConversationID, req.Text, req.Attachments)
	if err != nil {
		return nil, err
	}
	return &SendResponse{OK: true, ClientMsgID: id}, nil
}

func (s *Service) SendToContact(ctx context.Context, req *SendToContactRequest) (*SendResponse, error) {
	ok, err := s.Engine.SendToContact(ctx, req.AppID, req.Name, req.Text)
	if err != nil {
		return nil, err
	}
	return &SendResponse{OK: ok}, nil
}

func (s *Service) BulkSend(ctx context.Context, req *BulkSendRequest) (*bridge.BulkResult, error) {
	res, err := s.Engine.BulkSend(ctx, req.AppID, req.ConversationIDs, req.Text)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Service) ListSessions(_ context.Context, _ *Empty) (*SessionsResponse, error) {
	ids, err := s.Sessions.GetActiveSessions()
	if err != nil {
		return nil, err
	}
	return &SessionsResponse{AppIDs: ids}, nil
}

// ClearSession drops stored session data. An empty app id clears every
// session.
func (s *Service) ClearSession(_ context.Context, req *AppRequest) (*Ack, error) {
	if req.AppID == "" {
		if err := s.Sessions.ClearAllSessions(); err != nil {
			return nil, err
		}
		return &Ack{OK: true, Message: "all sessions cleared"}, nil
	}
	if err := s.Sessions.ClearSession(req.AppID); err != nil {
		return nil, err
	}
	return &Ack{OK: true, Message: fmt.Sprintf("session %s cleared", req.AppID)}, nil
}

func (s *Service) lastSync(appID string) *time.Time {
	at, err := s.Ingest.Reconciler().LastSync(appID)
	if err != nil || at.IsZero() {
		return nil
	}
	return &at
}

func requireConversation(appID, conversationID string) (model.ConversationKey, error) {
	if appID == "" || conversationID == "" {
		return model.ConversationKey{}, grpcstatus.Error(codes.InvalidArgument, "app_id and conversation_id are required")
	}
	return model.ConversationKey{AppID: appID, ConversationID: conversationID}, nil
}
