package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/matheus3301/enterchat/internal/session"
)

var (
	ErrUnknownKind   = errors.New("unknown app kind")
	ErrMissingField  = errors.New("missing required profile field")
	ErrInvalidConfig = errors.New("invalid app config")
)

// Kind selects the automation mechanism used for an app.
type Kind string

const (
	KindWebview  Kind = "webview"
	KindNative   Kind = "native"
	KindProtocol Kind = "protocol"
)

// Role is a semantic UI element name used to address selectors and
// accessibility nodes.
type Role string

const (
	RoleConversationList Role = "conversationList"
	RoleConversationName Role = "conversationName"
	RoleMessageInput     Role = "messageInput"
	RoleSendButton       Role = "sendButton"
	RoleMessageContainer Role = "messageContainer"
	RoleAttachButton     Role = "attachButton"
	RoleSearchInput      Role = "searchInput"
)

// Capabilities advertises what an app supports through its surface.
type Capabilities struct {
	SupportsText            bool `yaml:"text" json:"text"`
	SupportsMedia           bool `yaml:"media" json:"media"`
	SupportsFiles           bool `yaml:"files" json:"files"`
	SupportsReply           bool `yaml:"reply" json:"reply"`
	SupportsGroup           bool `yaml:"group" json:"group"`
	SupportsCalls           bool `yaml:"calls" json:"calls"`
	SupportsReadReceipts    bool `yaml:"read_receipts" json:"read_receipts"`
	SupportsTypingIndicator bool `yaml:"typing_indicator" json:"typing_indicator"`
}

// Script is a snippet evaluated inside a web surface.
//
// Source is the body of an async function taking a single args object. It may
// await and must return a JSON-serializable value or nothing.
type Script struct {
	Name   string
	Source string
}

// Render wraps the script into a self-invoking expression with args inlined
// as JSON. The expression evaluates to a promise.
func (s *Script) Render(args any) (string, error) {
	if s == nil || s.Source == "" {
		return "", fmt.Errorf("%w: empty script", ErrMissingField)
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal %s args: %w", s.Name, err)
	}
	return fmt.Sprintf("(async (args) => {\n%s\n})(%s)", s.Source, raw), nil
}

// AutomationProfile is the strategy payload attached to an app. Web apps use
// Selectors and the scripts; native apps use Nodes.
type AutomationProfile struct {
	Selectors map[Role]string
	Nodes     map[Role]string

	ScrapeConversations *Script
	ScrapeMessages      *Script
	SendMessage         *Script
	Init                *Script

	// ReadySelector, when set, replaces the fixed settle delay after load.
	ReadySelector string
	UserAgent     string
}

// Selector returns the selector for role, or "".
func (p AutomationProfile) Selector(role Role) string {
	return p.Selectors[role]
}

// Node returns the accessibility node id for role, or "".
func (p AutomationProfile) Node(role Role) string {
	return p.Nodes[role]
}

func (p AutomationProfile) clone() AutomationProfile {
	p.Selectors = maps.Clone(p.Selectors)
	p.Nodes = maps.Clone(p.Nodes)
	p.ScrapeConversations = cloneScript(p.ScrapeConversations)
	p.ScrapeMessages = cloneScript(p.ScrapeMessages)
	p.SendMessage = cloneScript(p.SendMessage)
	p.Init = cloneScript(p.Init)
	return p
}

func (p AutomationProfile) hasScripts() bool {
	return p.ScrapeConversations != nil || p.ScrapeMessages != nil || p.SendMessage != nil || p.Init != nil
}

func cloneScript(s *Script) *Script {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// AppConfig identifies one bridged application.
type AppConfig struct {
	ID           string
	DisplayName  string
	Kind         Kind
	PackageName  string
	WebEntryURL  string
	Profile      AutomationProfile
	Capabilities Capabilities
	IsActive     bool
}

// Clone returns a deep copy so callers cannot reach registry state.
func (a AppConfig) Clone() AppConfig {
	a.Profile = a.Profile.clone()
	return a
}

// Validate checks that the fields required by the app's kind are present and
// that no field belonging to another kind is set.
func (a AppConfig) Validate() error {
	if err := session.ValidateName(a.ID); err != nil {
		return fmt.Errorf("%w: id: %v", ErrInvalidConfig, err)
	}
	missing := func(what string) error {
		return fmt.Errorf("app %s: %w: %s", a.ID, ErrMissingField, what)
	}
	invalid := func(what string) error {
		return fmt.Errorf("app %s: %w: %s", a.ID, ErrInvalidConfig, what)
	}

	switch a.Kind {
	case KindWebview:
		if a.WebEntryURL == "" {
			return missing("web entry url")
		}
		if a.PackageName != "" {
			return invalid("webview app must not set a package name")
		}
		for _, r := range []Role{RoleConversationList, RoleMessageInput, RoleSendButton} {
			if a.Profile.Selector(r) == "" {
				return missing("selector " + string(r))
			}
		}
		if a.Profile.ScrapeConversations == nil {
			return missing("scrape conversations script")
		}
		if len(a.Profile.Nodes) > 0 {
			return invalid("webview app must not set accessibility nodes")
		}
	case KindNative:
		if a.PackageName == "" {
			return missing("package name")
		}
		if a.WebEntryURL != "" {
			return invalid("native app must not set a web entry url")
		}
		if len(a.Profile.Nodes) == 0 {
			return missing("accessibility nodes")
		}
		if a.Profile.hasScripts() || len(a.Profile.Selectors) > 0 {
			return invalid("native app must not set web selectors or scripts")
		}
	case KindProtocol:
		if a.WebEntryURL != "" || a.PackageName != "" {
			return invalid("protocol app must not set a url or package name")
		}
		if a.Profile.hasScripts() {
			return invalid("protocol app must not set scripts")
		}
	default:
		return fmt.Errorf("app %s: %w %q", a.ID, ErrUnknownKind, a.Kind)
	}
	return nil
}
