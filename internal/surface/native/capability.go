// Package native drives chat apps installed on a device through an
// accessibility capability.
package native

import (
	"context"
	"encoding/json"

	"github.com/matheus3301/enterchat/internal/registry"
)

// Permission is a one-time OS permission the automation needs.
type Permission string

const (
	PermissionAccessibility Permission = "accessibility"
	PermissionOverlay       Permission = "overlay"
	PermissionNotification  Permission = "notification"
)

// Permissions lists what the bridge requests at startup.
var Permissions = []Permission{PermissionAccessibility, PermissionOverlay, PermissionNotification}

// Capability is the device-side accessibility service. List results are raw
// JSON arrays of rows so malformed rows can be skipped individually.
type Capability interface {
	IsEnabled(ctx context.Context) (bool, error)
	RequestPermission(ctx context.Context, p Permission) error
	OpenApp(ctx context.Context, packageName string) (bool, error)
	ListConversations(ctx context.Context, appID string, nodes Nodes, limit int) (json.RawMessage, error)
	SendMessage(ctx context.Context, appID, conversationID string, nodes Nodes, text string, attachments []string) (bool, error)
}

// Nodes maps a UI role to the accessibility node id the companion should
// act on for that role.
type Nodes map[string]string

// NodesOf returns the app's node ids keyed by role name.
func NodesOf(app registry.AppConfig) Nodes {
	if len(app.Profile.Nodes) == 0 {
		return nil
	}
	nodes := make(Nodes, len(app.Profile.Nodes))
	for role, id := range app.Profile.Nodes {
		nodes[string(role)] = id
	}
	return nodes
}

// MessageLister is implemented by capabilities that can read a thread.
type MessageLister interface {
	ListMessages(ctx context.Context, appID, conversationID string, nodes Nodes, limit int) (json.RawMessage, error)
}

// AppLister is implemented by capabilities that can list installed apps.
type AppLister interface {
	InstalledApps(ctx context.Context) ([]InstalledApp, error)
}

// InstalledApp is one app reported by an AppLister.
type InstalledApp struct {
	ID          string `json:"id"`
	PackageName string `json:"package_name"`
	Installed   bool   `json:"installed"`
}
