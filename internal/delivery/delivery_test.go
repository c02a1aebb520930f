package delivery

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tapchat/tapd/internal/bus"
	"github.com/tapchat/tapd/internal/store"
	"github.com/tapchat/tapd/internal/wire"
)

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStatusWordRoundTrip(t *testing.T) {
	states := []wire.ChatState{
		wire.StateComposing, wire.StatePaused, wire.StateGone,
		wire.StateInactive, wire.StateActive,
	}
	for _, s := range states {
		if got := ParseStatusWord(StatusWord(s)); got != s {
			t.Errorf("round trip of %s = %s", s, got)
		}
	}
	if ParseStatusWord("Banana") != "" {
		t.Error("unknown word should map to empty state")
	}
}

func TestTrackerProgression(t *testing.T) {
	db := testStore(t)
	if err := db.CreateConversation(&store.Conversation{Identity: "bob@example.com"}); err != nil {
		t.Fatal(err)
	}
	m := &store.Message{MessageID: "m1", ConversationID: "bob@example.com",
		Sender: "me@example.com", Recipient: "bob@example.com",
		Date: "2026-08-28", Time: "10:00:00", Body: "x"}
	if _, err := db.InsertMessageIfAbsent(m, &store.MessageStatus{MessageID: "m1", Draft: true}); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	tr := NewTracker(db, b, zap.NewNop())
	tr.Sent("m1")
	tr.Received("m1")
	tr.ConversationRead("bob@example.com")

	st, err := db.MessageStatusFor("m1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Draft || !st.Sent || !st.Received || !st.Read {
		t.Errorf("status = %+v", st)
	}

	kinds := map[string]bool{}
	for range 3 {
		select {
		case ev := <-ch:
			kinds[ev.Kind] = true
		case <-time.After(time.Second):
			t.Fatal("missing bus event")
		}
	}
	for _, k := range []string{bus.KindMessageSent, bus.KindMessageReceipt, bus.KindMessageRead} {
		if !kinds[k] {
			t.Errorf("missing event %s", k)
		}
	}
}

func TestLivenessApply(t *testing.T) {
	db := testStore(t)
	if err := db.CreateConversation(&store.Conversation{Identity: "bob@example.com"}); err != nil {
		t.Fatal(err)
	}
	l := NewLiveness(db, bus.New(), zap.NewNop())

	if !l.Apply("bob@example.com", "bob@example.com", "Bob", wire.StateComposing) {
		t.Fatal("first composing not applied")
	}
	if l.Apply("bob@example.com", "bob@example.com", "Bob", wire.StateComposing) {
		t.Fatal("repeated state re-applied")
	}

	conv, err := db.GetConversation("bob@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !conv.PeerComposing || conv.PeerComposingName != "Bob" {
		t.Errorf("conversation = %+v", conv)
	}

	if !l.Apply("bob@example.com", "bob@example.com", "Bob", wire.StatePaused) {
		t.Fatal("paused not applied")
	}
	conv, _ = db.GetConversation("bob@example.com")
	if conv.PeerComposing {
		t.Error("composing flag not cleared on paused")
	}

	// After Forget the same state applies again.
	l.Forget("bob@example.com")
	if !l.Apply("bob@example.com", "bob@example.com", "Bob", wire.StatePaused) {
		t.Error("state after Forget not applied")
	}
}

type stateRecorder struct {
	mu   sync.Mutex
	sent []wire.ChatState
}

func (r *stateRecorder) send(conversation string, state wire.ChatState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, state)
}

func (r *stateRecorder) snapshot() []wire.ChatState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.ChatState(nil), r.sent...)
}

func TestTypistDebounce(t *testing.T) {
	rec := &stateRecorder{}
	ty := NewTypist(rec.send, true, true)
	ty.delay = 30 * time.Millisecond

	// A burst of keystrokes produces exactly one composing.
	ty.Keystroke("bob@example.com")
	ty.Keystroke("bob@example.com")
	ty.Keystroke("bob@example.com")

	deadline := time.Now().Add(time.Second)
	for {
		got := rec.snapshot()
		if len(got) == 2 {
			if got[0] != wire.StateComposing || got[1] != wire.StatePaused {
				t.Fatalf("states = %v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("states = %v, want composing then paused", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTypistDone(t *testing.T) {
	rec := &stateRecorder{}
	ty := NewTypist(rec.send, true, true)
	ty.delay = time.Hour // paused must come from Done, not the timer

	ty.Keystroke("bob@example.com")
	ty.Done("bob@example.com", wire.StateActive)

	time.Sleep(20 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 2 || got[0] != wire.StateComposing || got[1] != wire.StateActive {
		t.Fatalf("states = %v", got)
	}
}

func TestTypistDisabled(t *testing.T) {
	rec := &stateRecorder{}
	ty := NewTypist(rec.send, false, false)
	ty.Keystroke("bob@example.com")
	ty.Done("bob@example.com", wire.StateActive)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("disabled typist sent %v", got)
	}
	// Gone is never suppressed: the peer must see the view close.
	ty.Done("bob@example.com", wire.StateGone)
	if got := rec.snapshot(); len(got) != 1 || got[0] != wire.StateGone {
		t.Fatalf("states = %v, want only gone", got)
	}
}

func TestTypistReceiptGate(t *testing.T) {
	rec := &stateRecorder{}
	ty := NewTypist(rec.send, true, false)
	ty.Keystroke("bob@example.com")
	ty.Done("bob@example.com", wire.StateActive)
	if got := rec.snapshot(); len(got) != 1 || got[0] != wire.StateComposing {
		t.Fatalf("states = %v, want only composing", got)
	}
}
