package status

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/enterchat/internal/bus"
)

// walkTo transitions the machine through the given states sequentially.
func walkTo(t *testing.T, m *Machine, states ...State) {
	t.Helper()
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
}

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Uninitialized {
		t.Errorf("initial state = %s, want UNINITIALIZED", m.Current())
	}
	l := NewLinkMachine(nil, "whatsapp-linked")
	if l.Current() != LinkIdle {
		t.Errorf("initial link state = %s, want IDLE", l.Current())
	}
}

func TestEngineTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
	}{
		{"happy path", []State{Initializing, Ready}},
		{"failed init retried", []State{Initializing, Uninitialized, Initializing, Ready}},
		{"shutdown", []State{Initializing, Ready, Stopping, Stopped}},
		{"stop before init", []State{Stopped}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.path...)
			if got, want := m.Current(), tt.path[len(tt.path)-1]; got != want {
				t.Errorf("state = %s, want %s", got, want)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	err := m.Transition(Ready)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Transition(UNINITIALIZED -> READY) err = %v, want ErrInvalidTransition", err)
	}
	if m.Current() != Uninitialized {
		t.Errorf("state changed on invalid transition: %s", m.Current())
	}

	walkTo(t, m, Initializing, Ready)
	if err := m.Transition(Initializing); err == nil {
		t.Error("READY -> INITIALIZING should fail")
	}
}

func TestStoppedIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Stopped)
	for _, s := range []State{Uninitialized, Initializing, Ready, Stopping} {
		if err := m.Transition(s); err == nil {
			t.Errorf("STOPPED -> %s should fail", s)
		}
	}
}

func TestLinkTransitions(t *testing.T) {
	m := NewLinkMachine(nil, "whatsapp-linked")
	walkTo(t, m, LinkAuthRequired, LinkConnecting, LinkConnected, LinkReconnecting, LinkConnecting, LinkConnected, LinkLoggedOut)
	if err := m.Transition(LinkConnected); err == nil {
		t.Error("LOGGED_OUT -> CONNECTED should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("engine.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Initializing); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.EngineStateChanged {
			t.Errorf("kind = %q, want %s", evt.Kind, bus.EngineStateChanged)
		}
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if change.From != Uninitialized || change.To != Initializing {
			t.Errorf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for state change event")
	}
}

func TestLinkEventCarriesApp(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.AppLinkStateChanged, 10)
	defer unsub()

	m := NewLinkMachine(b, "whatsapp-linked")
	walkTo(t, m, LinkConnecting)

	select {
	case evt := <-ch:
		if evt.AppID != "whatsapp-linked" {
			t.Errorf("app = %q, want whatsapp-linked", evt.AppID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for link state event")
	}
}
