package ws

import "encoding/json"

// EventType is an inbound client event.
type EventType string

const (
	EvJoinLobby         EventType = "join_lobby"
	EvCreateTable       EventType = "create_table"
	EvJoinTable         EventType = "join_table"
	EvLeaveTable        EventType = "leave_table"
	EvSpectateTable     EventType = "spectate_table"
	EvStopSpectating    EventType = "stop_spectating"
	EvSetReady          EventType = "set_ready"
	EvTakeTurnAction    EventType = "take_turn_action"
	EvSendTableChat     EventType = "send_table_chat"
	EvSendTableReaction EventType = "send_table_reaction"
	EvModerateChat      EventType = "moderate_table_chat"
	EvAdminCommand      EventType = "admin_command"
	EvSyncState         EventType = "sync_state"
)

var knownEvents = map[EventType]struct{}{
	EvJoinLobby:         {},
	EvCreateTable:       {},
	EvJoinTable:         {},
	EvLeaveTable:        {},
	EvSpectateTable:     {},
	EvStopSpectating:    {},
	EvSetReady:          {},
	EvTakeTurnAction:    {},
	EvSendTableChat:     {},
	EvSendTableReaction: {},
	EvModerateChat:      {},
	EvAdminCommand:      {},
	EvSyncState:         {},
}

func ParseEventType(raw string) (EventType, bool) {
	ev := EventType(raw)
	_, ok := knownEvents[ev]
	return ev, ok
}

// Replies that only ever go to the sender.
const (
	OutAck                = "ack"
	OutError              = "error"
	OutRateLimited        = "rate_limited"
	OutAdminCommandResult = "admin_command_result"
)

// Envelope is one inbound frame.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
}

type Ack struct {
	RequestID string      `json:"requestId,omitempty"`
	Event     string      `json:"event"`
	OK        bool        `json:"ok"`
	Error     string      `json:"error,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

type createTablePayload struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers"`
	IsPrivate  bool   `json:"isPrivate"`
}

type joinTablePayload struct {
	TableID    string `json:"tableId"`
	InviteCode string `json:"inviteCode"`
}

type tablePayload struct {
	TableID string `json:"tableId"`
}

type setReadyPayload struct {
	Ready *bool `json:"ready"`
	Bet   int64 `json:"bet"`
}

type turnActionPayload struct {
	Action   string `json:"action"`
	ActionID string `json:"actionId"`
}

type chatPayload struct {
	TableID string `json:"tableId"`
	Message string `json:"message"`
}

type reactionPayload struct {
	TableID string `json:"tableId"`
	Emoji   string `json:"emoji"`
}

type moderatePayload struct {
	TableID         string `json:"tableId"`
	TargetUserID    string `json:"targetUserId"`
	Action          string `json:"action"`
	DurationSeconds int    `json:"durationSeconds"`
}

type adminPayload struct {
	Command string `json:"command"`
}

type syncPayload struct {
	PreferredTableID string `json:"preferredTableId"`
	PreferredMode    string `json:"preferredMode"`
}
