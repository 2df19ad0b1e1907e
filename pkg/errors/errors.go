package errors

import "errors"

// Table game rejections. These are reported to the acting connection only.
var (
	ErrNoActiveRound      = errors.New("no active table round")
	ErrRoundAlreadyActive = errors.New("table game already active")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrNoActiveHand       = errors.New("no active hand")
	ErrHandResolved       = errors.New("hand is already resolved")
	ErrActionNotAllowed   = errors.New("action not allowed")
	ErrInvalidAction      = errors.New("invalid action")
	ErrInvariantViolation = errors.New("round invariant violated")
	ErrNotEnoughPlayers   = errors.New("not enough players")
)

// Table membership.
var (
	ErrTableNotFound     = errors.New("table not found")
	ErrTableFull         = errors.New("table is full")
	ErrTableLocked       = errors.New("table is locked by admin")
	ErrBannedFromTable   = errors.New("you are banned from this table")
	ErrGameInProgress    = errors.New("table game already in progress")
	ErrTablePrivate      = errors.New("table is private")
	ErrNotSeated         = errors.New("join a table first")
	ErrNotSpectating     = errors.New("not spectating requested table")
	ErrSpectatorReadOnly = errors.New("spectators are read-only")
	ErrNotTableManager   = errors.New("only table owner can moderate chat")
	ErrSelfModeration    = errors.New("cannot moderate yourself")
	ErrChatBlocked       = errors.New("chat blocked")
	ErrReactionTooFast   = errors.New("sending reactions too fast")
)

// Input validation.
var (
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrInvalidActionID     = errors.New("invalid action_id")
	ErrInvalidTableName    = errors.New("table name must be 3-60 characters")
	ErrMessageEmpty        = errors.New("message is empty")
	ErrMessageTooLong      = errors.New("message is too long")
	ErrInvalidSeats        = errors.New("max players must be between 2 and 8")
	ErrEmojiInvalid        = errors.New("emoji is required and must be at most 16 characters")
	ErrInvalidCard         = errors.New("invalid card")
	ErrEmptyDrawOrder      = errors.New("draw order must not be empty")
	ErrInvalidBet          = errors.New("invalid bet")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Identity, roles, admin commands and rate limiting.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUserNotFound   = errors.New("user not found")
	ErrForbidden      = errors.New("insufficient role")
	ErrInvalidRole    = errors.New("invalid role")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrUnknownCommand = errors.New("unknown command")
	ErrCommandUsage   = errors.New("invalid command usage")
)

// Persistence.
var (
	ErrSettlementPersistence = errors.New("settlement persistence failed")
	ErrRoundNotFound         = errors.New("round not found")
	ErrRoundExpired          = errors.New("round expired")
)
