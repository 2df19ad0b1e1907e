package table

import (
	"time"

	"maca-service/internal/model"
)

// Outbound event types.
const (
	EventSystem             = "system"
	EventSessionRestored    = "session_restored"
	EventLobbySnapshot      = "lobby_snapshot"
	EventLobbyJoined        = "lobby_joined"
	EventTableJoined        = "table_joined"
	EventTableLeft          = "table_left"
	EventTableSnapshot      = "table_snapshot"
	EventTableClosed        = "table_closed"
	EventTableGameState     = "table_game_state"
	EventTableReadyToStart  = "table_ready_to_start"
	EventTableGameStarted   = "table_game_started"
	EventTableGameEnded     = "table_game_ended"
	EventTurnActionApplied  = "turn_action_applied"
	EventTurnTimeout        = "turn_timeout"
	EventTurnSkipped        = "turn_skipped"
	EventTableRoundResolved = "table_round_resolved"
	EventPlayerAutoRemoved  = "player_auto_removed"
	EventSpectatorJoined    = "spectator_joined"
	EventSpectatorLeft      = "spectator_left"
	EventChatMessage        = "table_chat_message"
	EventChatHistory        = "table_chat_history"
	EventReaction           = "table_reaction"
	EventModerationNotice   = "table_moderation_notice"
	EventModerationUpdated  = "table_moderation_updated"
	EventBalanceUpdated     = "balance_updated"
	EventRoleUpdated        = "role_updated"
)

// Reasons carried by table_game_ended, turn_skipped and player_auto_removed.
const (
	ReasonNotEnoughPlayers = "not_enough_players"
	ReasonAdminEndedRound  = "admin_ended_round"
	ReasonTableClosed      = "table_closed"
	ReasonPlayerLeft       = "player_left"
	ReasonGraceExpired     = "disconnect_grace_expired"
)

// OutgoingMessage is the envelope every connection receives. Seq is stamped
// by the connection itself.
type OutgoingMessage struct {
	Type string      `json:"type"`
	Seq  int64       `json:"seq"`
	Data interface{} `json:"data"`
}

// Conn is one live client connection. Send must not block; it reports false
// when the message was dropped.
type Conn interface {
	ID() string
	Send(msg OutgoingMessage) bool
}

// Identity is who a connection acts as.
type Identity struct {
	UserID   string     `json:"userId"`
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	TableID   string    `json:"tableId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Filtered  bool      `json:"filtered"`
	CreatedAt time.Time `json:"createdAt"`
}

type Reaction struct {
	ID        string    `json:"id"`
	TableID   string    `json:"tableId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// ModerationNotice is broadcast after a mute, unmute, ban, unban or kick.
type ModerationNotice struct {
	TableID      string                 `json:"tableId"`
	Action       string                 `json:"action"`
	TargetUserID string                 `json:"targetUserId"`
	ActorUserID  string                 `json:"actorUserId"`
	At           time.Time              `json:"at"`
	Details      map[string]interface{} `json:"details"`
}

type ModerationState struct {
	TableID     string         `json:"tableId"`
	MutedUsers  map[string]int `json:"mutedUsers"` // remaining seconds
	BannedUsers []string       `json:"bannedUsers"`
}

// TableView is a table as broadcast in table_snapshot and lobby_snapshot.
type TableView struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	OwnerID              string     `json:"ownerId"`
	MaxPlayers           int        `json:"maxPlayers"`
	IsPrivate            bool       `json:"isPrivate"`
	InviteCode           string     `json:"inviteCode,omitempty"`
	Players              []string   `json:"players"`
	ReadyPlayers         []string   `json:"readyPlayers"`
	OnlinePlayers        []string   `json:"onlinePlayers"`
	IsReadyToStart       bool       `json:"isReadyToStart"`
	HasActiveTurn        bool       `json:"hasActiveTurn"`
	SpectatorCount       int        `json:"spectatorCount"`
	IsLocked             bool       `json:"isLocked"`
	CurrentTurnUserID    string     `json:"currentTurnUserId,omitempty"`
	TurnDeadline         *time.Time `json:"turnDeadline"`
	TurnRemainingSeconds *int       `json:"turnRemainingSeconds"`
	CreatedAt            time.Time  `json:"createdAt"`
}
