package wa

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

var errLoggedIn = errors.New("already logged in")

// Client is the slice of a linked-device connection the driver needs.
type Client interface {
	IsLoggedIn() bool
	IsConnected() bool
	Connect() error
	Disconnect()
	Logout(ctx context.Context) error
	AddEventHandler(handler func(evt any))
	SendText(ctx context.Context, jid, text string) (string, error)
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	PhoneNumber() string
	Contacts(ctx context.Context) map[string]string
	ResolveLID(ctx context.Context, jid types.JID) types.JID
}

// Adapter wraps the whatsmeow client for one linked device.
type Adapter struct {
	client *whatsmeow.Client
	logger *zap.Logger
}

// NewAdapter opens the device store at dbPath and creates a client for its
// first device.
func NewAdapter(ctx context.Context, dbPath string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("EnterChat", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client: whatsmeow.NewClient(deviceStore, nil),
		logger: logger,
	}, nil
}

// IsLoggedIn returns whether the device has credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// IsConnected reports whether the websocket is up.
func (a *Adapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Connect opens the connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting linked device")
	return a.client.Connect()
}

// Disconnect closes the connection, keeping credentials.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting linked device")
	a.client.Disconnect()
}

// Logout unlinks the device and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// AddEventHandler registers a handler for whatsmeow events.
func (a *Adapter) AddEventHandler(handler func(evt any)) {
	a.client.AddEventHandler(handler)
}

// SendText sends a text message to the given JID and returns the server
// message id.
func (a *Adapter) SendText(ctx context.Context, jid, text string) (string, error) {
	to, err := types.ParseJID(jid)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// GetQRChannel returns the pairing QR channel. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, errLoggedIn
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// PhoneNumber returns the linked account's number, or "".
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// Contacts returns display names known to the device store, keyed by
// normalized JID. Full names win over push names.
func (a *Adapter) Contacts(ctx context.Context) map[string]string {
	all, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		a.logger.Warn("failed to get contacts from device store", zap.Error(err))
		return nil
	}
	names := make(map[string]string, len(all))
	for jid, info := range all {
		name := info.FullName
		if name == "" {
			name = info.PushName
		}
		if name != "" {
			names[jid.ToNonAD().String()] = name
		}
	}
	return names
}

// ResolveLID maps a LID JID to its phone number JID. Anything that is not a
// LID, or cannot be resolved, is returned unchanged.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
