package api

import (
	"context"

	"github.com/matheus3301/enterchat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const defaultLimit = 50

func (s *Service) ListConversations(_ context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	convs, err := s.DB.ListConversations(store.ConversationFilter{
		AppID:           req.AppID,
		IncludeArchived: req.IncludeArchived,
		UnreadOnly:      req.UnreadOnly,
		Limit:           limit,
		Offset:          req.Offset,
	})
	if err != nil {
		return nil, err
	}
	return &ListConversationsResponse{Conversations: convs, HasMore: len(convs) == limit}, nil
}

func (s *Service) ListMessages(_ context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	key, err := requireConversation(req.AppID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	msgs, err := s.DB.ListMessages(key, req.BeforeUnixMs, limit)
	if err != nil {
		return nil, err
	}
	return &ListMessagesResponse{Messages: msgs, HasMore: len(msgs) == limit}, nil
}

func (s *Service) SearchMessages(_ context.Context, req *SearchRequest) (*SearchResponse, error) {
	if req.Query == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	results, err := s.DB.SearchMessages(req.Query, req.AppID, limit)
	if err != nil {
		return nil, err
	}
	resp := &SearchResponse{Results: make([]SearchHit, 0, len(results)), HasMore: len(results) == limit}
	for _, r := range results {
		resp.Results = append(resp.Results, SearchHit{Message: r.Message, Snippet: r.Snippet})
	}
	return resp, nil
}

func (s *Service) MarkRead(_ context.Context, req *ConversationRequest) (*Ack, error) {
	key, err := requireConversation(req.AppID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := s.DB.MarkRead(key); err != nil {
		return nil, err
	}
	if err := s.Ingest.Refresh(key); err != nil {
		return nil, err
	}
	return &Ack{OK: true}, nil
}

func (s *Service) Archive(_ context.Context, req *ArchiveRequest) (*Ack, error) {
	key, err := requireConversation(req.AppID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := s.DB.Archive(key, req.Archived); err != nil {
		return nil, err
	}
	if err := s.Ingest.Refresh(key); err != nil {
		return nil, err
	}
	return &Ack{OK: true}, nil
}

func (s *Service) DeleteConversation(_ context.Context, req *ConversationRequest) (*Ack, error) {
	key, err := requireConversation(req.AppID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := s.DB.DeleteConversation(key); err != nil {
		return nil, err
	}
	s.Ingest.Removed(key)
	return &Ack{OK: true}, nil
}

func (s *Service) UnreadCounts(_ context.Context, _ *Empty) (*UnreadResponse, error) {
	sum, err := s.DB.UnreadCounts()
	if err != nil {
		return nil, err
	}
	return &UnreadResponse{Total: sum.Total, ByApp: sum.ByApp}, nil
}
