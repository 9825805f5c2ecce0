package wa

import (
	"context"

	"github.com/matheus3301/enterchat/internal/bus"
	"github.com/matheus3301/enterchat/internal/status"
	"go.uber.org/zap"
)

// AuthEventType enumerates pairing events.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent is one step of the pairing flow. It is also the payload of the
// session.* bus events.
type AuthEvent struct {
	Type    AuthEventType `json:"type"`
	QRCode  string        `json:"qr_code,omitempty"`
	Message string        `json:"message,omitempty"`
}

// pair runs the QR pairing flow for a link until it succeeds, times out or
// ctx ends. Each QR code is published as session.qr_code.
func (d *Driver) pair(ctx context.Context, appID string, l *link) {
	defer l.pairing.Store(false)

	qrChan, err := l.client.GetQRChannel(ctx)
	if err != nil {
		d.logger.Warn("pairing unavailable", zap.String("app", appID), zap.Error(err))
		return
	}

	// Connect must be called after GetQRChannel.
	_ = l.machine.Transition(status.LinkConnecting)
	if err := l.client.Connect(); err != nil {
		d.authEvent(appID, AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()})
		_ = l.machine.Transition(status.LinkAuthRequired)
		return
	}

	for item := range qrChan {
		switch item.Event {
		case "code":
			d.authEvent(appID, AuthEvent{Type: AuthEventQRCode, QRCode: item.Code})
		case "success":
			d.authEvent(appID, AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"})
			d.remember(appID, l)
			return
		case "timeout":
			d.authEvent(appID, AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"})
			l.client.Disconnect()
			_ = l.machine.Transition(status.LinkAuthRequired)
			return
		default:
			if item.Error != nil {
				d.authEvent(appID, AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()})
				l.client.Disconnect()
				_ = l.machine.Transition(status.LinkAuthRequired)
				return
			}
		}
	}
}

func (d *Driver) authEvent(appID string, evt AuthEvent) {
	kind := bus.SessionQRCode
	switch evt.Type {
	case AuthEventAuthenticated:
		kind = bus.SessionAuthenticated
	case AuthEventAuthFailed, AuthEventTimeout:
		kind = bus.SessionAuthFailed
	}
	d.bus.Publish(bus.NewEvent(kind, appID, evt))
}
