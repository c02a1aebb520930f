package session

import (
	"testing"

	"github.com/tapchat/tapd/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := newMachine(nil)
	if m.Current() != Offline {
		t.Errorf("initial state = %s, want OFFLINE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		path []State
	}{
		{[]State{Connecting, Online, Reconnecting, Connecting, Online, Offline}},
		{[]State{Connecting, AuthFailed, Connecting, Online}},
		{[]State{Connecting, Offline}},
	}
	for _, tt := range tests {
		m := newMachine(nil)
		for _, s := range tt.path {
			if err := m.Transition(s); err != nil {
				t.Fatalf("Transition to %s: %v", s, err)
			}
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	m := newMachine(nil)
	if err := m.Transition(Online); err == nil {
		t.Error("Transition(OFFLINE -> ONLINE) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := newMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	ev := <-ch
	change := ev.Payload.(StateChange)
	if change.From != Offline || change.To != Connecting {
		t.Errorf("change = %+v", change)
	}
}
