package wa

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/enterchat/internal/model"
)

// defaultKeep is how many recent messages the inbox holds per conversation.
const defaultKeep = 200

// Inbox caches what the linked device has seen so the sync loop can pull it
// the same way it scrapes a web page.
type Inbox struct {
	appID string
	keep  int
	now   func() time.Time

	mu    sync.RWMutex
	convs map[string]*model.Conversation
	msgs  map[string][]model.Message
	names map[string]string
}

// NewInbox creates an empty inbox for appID. keep <= 0 uses the default.
func NewInbox(appID string, keep int) *Inbox {
	if keep <= 0 {
		keep = defaultKeep
	}
	return &Inbox{
		appID: appID,
		keep:  keep,
		now:   time.Now,
		convs: make(map[string]*model.Conversation),
		msgs:  make(map[string][]model.Message),
		names: make(map[string]string),
	}
}

// Add records msg. It reports false when the message id is already known in
// that conversation.
func (in *Inbox) Add(msg model.Message) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	id := msg.SourceConversationID
	list := in.msgs[id]
	if slices.ContainsFunc(list, func(m model.Message) bool { return m.MessageID == msg.MessageID }) {
		return false
	}

	conv := in.conversationLocked(id)
	if conv.LastMessageTime == nil || !msg.Timestamp.Before(*conv.LastMessageTime) {
		conv.RecordMessage(&msg, in.now())
	}

	i, _ := slices.BinarySearchFunc(list, msg, func(a, b model.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	list = slices.Insert(list, i, msg)
	if len(list) > in.keep {
		list = list[len(list)-in.keep:]
	}
	in.msgs[id] = list
	return true
}

// SetName records a display name for a chat. Conversations created later
// pick it up too.
func (in *Inbox) SetName(convID, name string) {
	if name == "" {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.names[convID] = name
	if conv, ok := in.convs[convID]; ok {
		conv.DisplayName = name
	}
}

// SuggestName records name only when the chat has none yet.
func (in *Inbox) SuggestName(convID, name string) {
	if name == "" {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.names[convID]; ok {
		return
	}
	in.names[convID] = name
	if conv, ok := in.convs[convID]; ok {
		conv.DisplayName = name
	}
}

// SetUnread overrides the unread counter with the value the server reports.
func (in *Inbox) SetUnread(convID string, n int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.conversationLocked(convID).UnreadCount = n
}

// UpdateStatus advances the status of the given messages and returns the
// ids that actually moved.
func (in *Inbox) UpdateStatus(convID string, ids []string, status model.MessageStatus) []string {
	in.mu.Lock()
	defer in.mu.Unlock()

	var moved []string
	list := in.msgs[convID]
	for i := range list {
		if !slices.Contains(ids, list[i].MessageID) {
			continue
		}
		if list[i].Advance(status) == nil {
			moved = append(moved, list[i].MessageID)
		}
	}
	return moved
}

// Has reports whether the inbox knows convID.
func (in *Inbox) Has(convID string) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	_, ok := in.convs[convID]
	return ok
}

// Conversations returns copies of all conversations, most recent first.
func (in *Inbox) Conversations() []model.Conversation {
	in.mu.RLock()
	out := make([]model.Conversation, 0, len(in.convs))
	for _, c := range in.convs {
		out = append(out, c.Clone())
	}
	in.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Conversation) int {
		return cmp.Compare(lastMillis(b), lastMillis(a))
	})
	return out
}

// Messages returns up to limit of the most recent messages of convID, oldest
// first.
func (in *Inbox) Messages(convID string, limit int) []model.Message {
	in.mu.RLock()
	defer in.mu.RUnlock()
	list := in.msgs[convID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return slices.Clone(list)
}

// Reset drops everything the inbox has cached.
func (in *Inbox) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	clear(in.convs)
	clear(in.msgs)
	clear(in.names)
}

func (in *Inbox) conversationLocked(id string) *model.Conversation {
	if conv, ok := in.convs[id]; ok {
		return conv
	}
	now := in.now()
	name := in.names[id]
	if name == "" {
		name = id
	}
	conv := &model.Conversation{
		ConversationID: id,
		SourceAppID:    in.appID,
		DisplayName:    name,
		Type:           conversationType(id),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	in.convs[id] = conv
	return conv
}

func lastMillis(c model.Conversation) int64 {
	if c.LastMessageTime == nil {
		return 0
	}
	return c.LastMessageTime.UnixMilli()
}
