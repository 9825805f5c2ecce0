package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds published on the bus. Subscribers filter by prefix, so the
// part before the first dot is the namespace.
const (
	ConversationDiscovered = "conversation.discovered"
	MessageReceived        = "message.received"
	MessageSent            = "message.sent"
	MessageStatus          = "message.status"
	MessageSendFailed      = "message.send_failed"

	SyncStarted      = "sync.started"
	SyncAppCompleted = "sync.app_completed"
	SyncCompleted    = "sync.completed"
	SyncSkipped      = "sync.skipped"

	EngineStateChanged  = "engine.state_changed"
	AppConnected        = "app.connected"
	AppDisconnected     = "app.disconnected"
	RegistryReloaded    = "app.registry_reloaded"
	AppLinkStateChanged = "app.link_state_changed"

	SessionQRCode        = "session.qr_code"
	SessionAuthenticated = "session.authenticated"
	SessionLoggedOut     = "session.logged_out"
	SessionAuthFailed    = "session.auth_failed"

	StoreConversationSaved = "store.conversation_saved"
	StoreMessageSaved      = "store.message_saved"
	StoreConversationGone  = "store.conversation_deleted"

	ProtocolMessage = "wa.message"
	ProtocolReceipt = "wa.receipt"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	AppID     string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps a new event with an id and the current time.
func NewEvent(kind, appID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		AppID:     appID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
