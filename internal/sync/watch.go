package sync

import (
	stdsync "sync"

	"github.com/matheus3301/enterchat/internal/model"
)

// ChangeKind tells what a Change carries.
type ChangeKind string

const (
	ChangeConversation ChangeKind = "conversation"
	ChangeMessage      ChangeKind = "message"
	ChangeStatus       ChangeKind = "status"
	ChangeDeleted      ChangeKind = "deleted"
)

// Change is one persisted update.
type Change struct {
	Kind         ChangeKind
	Key          model.ConversationKey
	Conversation *model.Conversation
	Message      *model.Message
	Status       *model.StatusUpdate
}

// Filter selects changes by app and, optionally, conversation. Empty fields
// match everything.
type Filter struct {
	AppID          string
	ConversationID string
}

func (f Filter) match(key model.ConversationKey) bool {
	if f.AppID != "" && f.AppID != key.AppID {
		return false
	}
	return f.ConversationID == "" || f.ConversationID == key.ConversationID
}

func (c Change) key() model.ConversationKey {
	switch {
	case c.Conversation != nil:
		return c.Conversation.Key()
	case c.Message != nil:
		return c.Message.ConversationKey()
	case c.Status != nil:
		return model.ConversationKey{AppID: c.Status.AppID, ConversationID: c.Status.ConversationID}
	}
	return c.Key
}

type watcher struct {
	filter Filter
	ch     chan Change
}

// watchers fans changes out without blocking. A full watcher misses the
// change, like a bus subscriber.
type watchers struct {
	mu     stdsync.Mutex
	next   int
	subs   map[int]*watcher
	closed bool
}

func newWatchers() *watchers {
	return &watchers{subs: make(map[int]*watcher)}
}

func (w *watchers) add(f Filter, buf int) (<-chan Change, func()) {
	ch := make(chan Change, buf)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		close(ch)
		return ch, func() {}
	}
	id := w.next
	w.next++
	w.subs[id] = &watcher{filter: f, ch: ch}

	var once stdsync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if sub, ok := w.subs[id]; ok {
				delete(w.subs, id)
				close(sub.ch)
			}
		})
	}
}

func (w *watchers) notify(c Change) {
	key := c.key()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subs {
		if !sub.filter.match(key) {
			continue
		}
		select {
		case sub.ch <- c:
		default:
		}
	}
}

func (w *watchers) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for id, sub := range w.subs {
		close(sub.ch)
		delete(w.subs, id)
	}
}
