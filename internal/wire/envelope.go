package wire

import (
	"encoding/json"
	"fmt"
)

// envelope wraps every payload delivered on an inbox subject so one
// subscription yields one ordered stream of mixed traffic.
type envelope struct {
	Type      string       `json:"type"`
	Stanza    *Stanza      `json:"stanza,omitempty"`
	ChatState *StateChange `json:"chat_state,omitempty"`
	Invite    *Invite      `json:"invite,omitempty"`
}

const (
	envStanza    = "stanza"
	envChatState = "chat_state"
	envInvite    = "invite"
)

func encodeEnvelope(e *envelope) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch e.Type {
	case envStanza:
		if e.Stanza == nil {
			return nil, fmt.Errorf("stanza envelope without stanza")
		}
	case envChatState:
		if e.ChatState == nil {
			return nil, fmt.Errorf("chat_state envelope without body")
		}
	case envInvite:
		if e.Invite == nil {
			return nil, fmt.Errorf("invite envelope without body")
		}
	default:
		return nil, fmt.Errorf("unknown envelope type %q", e.Type)
	}
	return &e, nil
}

// Request/response bodies for the broker's service subjects.

type loginRequest struct {
	Identity   string `json:"identity"`
	Credential string `json:"credential"`
	Mechanism  string `json:"mechanism"`
}

type loginResponse struct {
	OK         bool     `json:"ok"`
	Error      string   `json:"error,omitempty"`
	Mechanisms []string `json:"mechanisms,omitempty"`
}

// Legacy challenge mechanisms the client never accepts. Login always
// offers PLAIN over the authenticated broker link.
var blockedMechanisms = map[string]bool{
	"DIGEST-MD5": true,
	"CRAM-MD5":   true,
}

type rosterResponse struct {
	Entries []RosterEntry `json:"entries"`
}

type offlineHeadersResponse struct {
	Headers []OfflineHeader `json:"headers"`
}

type offlineFetchRequest struct {
	Identity string   `json:"identity"`
	IDs      []string `json:"ids"`
}

type offlineFetchResponse struct {
	Stanzas []Stanza `json:"stanzas"`
}

type roomRequest struct {
	Room        string `json:"room"`
	Actor       string `json:"actor"`
	Member      string `json:"member,omitempty"`
	Nick        string `json:"nick,omitempty"`
	Reason      string `json:"reason,omitempty"`
	HistorySecs int64  `json:"history_secs,omitempty"`
}

type roomMembersResponse struct {
	Members []string `json:"members"`
}

type okResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
