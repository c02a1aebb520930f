package wire

import "testing"

func TestEnvelopeRoundTrip(t *testing.T) {
	in := &envelope{Type: envStanza, Stanza: &Stanza{
		ID:   "m1",
		From: "alice@example.com",
		To:   "bob@example.com",
		Type: StanzaChat,
		Body: "hi",
	}}
	data, err := encodeEnvelope(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := decodeEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}
	if out.Stanza.ID != "m1" || out.Stanza.Body != "hi" {
		t.Errorf("decoded = %+v", out.Stanza)
	}
}

func TestDecodeEnvelopeRejectsMismatch(t *testing.T) {
	for _, raw := range []string{
		`{"type":"stanza"}`,
		`{"type":"chat_state"}`,
		`{"type":"invite"}`,
		`{"type":"bogus"}`,
		`not json`,
	} {
		if _, err := decodeEnvelope([]byte(raw)); err == nil {
			t.Errorf("decodeEnvelope(%s) accepted", raw)
		}
	}
}

func TestSubjects(t *testing.T) {
	if got := inboxSubject("alice@example.com"); got != "tap.inbox.alice.example.com" {
		t.Errorf("inbox = %q", got)
	}
	if got := roomMsgSubject("team1@conference.example.com"); got != "tap.room.msg.team1.conference.example.com" {
		t.Errorf("room = %q", got)
	}
}

func TestHasFlag(t *testing.T) {
	s := &Stanza{Flags: []string{FlagEncrypted}}
	if !s.HasFlag(FlagEncrypted) {
		t.Error("missing encrypted flag")
	}
	if s.HasFlag(FlagMedia) {
		t.Error("unexpected media flag")
	}
}
