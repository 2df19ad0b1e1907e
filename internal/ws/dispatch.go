package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"maca-service/internal/config"
	"maca-service/internal/model"
	"maca-service/internal/service/admin"
	"maca-service/internal/service/lobby"
	"maca-service/internal/service/ratelimit"
	"maca-service/internal/service/table"
	appErr "maca-service/pkg/errors"
	"maca-service/pkg/logger"

	"go.uber.org/zap"
)

// Tables is the table layer behind the websocket events.
type Tables interface {
	ConnIdentity(connID string) (table.Identity, bool)
	OnConnect(conn table.Conn, identity table.Identity)
	OnDisconnect(connID string)
	JoinLobby(connID string) ([]table.TableView, error)
	CreateTable(connID string, req lobby.CreateRequest) (table.TableView, error)
	JoinTable(connID, tableID, inviteCode string) (table.TableView, error)
	LeaveTable(connID, tableID string) (string, error)
	SpectateTable(connID, tableID string) (table.SpectateResult, error)
	StopSpectating(connID, tableID string) (string, error)
	SetReady(connID string, ready bool, bet int64) (table.ReadyResult, error)
	TakeTurnAction(connID, rawAction, actionID string) (table.TurnResult, error)
	SendTableChat(connID, tableID, message string) (table.ChatMessage, error)
	SendTableReaction(connID, tableID, emoji string) (table.Reaction, error)
	ModerateTableChat(connID string, req table.ModerationRequest) (table.ModerationNotice, error)
	SyncState(connID string, req table.SyncRequest) (table.SyncResult, error)
}

type AdminExecutor interface {
	Execute(ctx context.Context, actor admin.Actor, text string) admin.Result
}

type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) ratelimit.Decision
}

// Dispatcher decodes inbound frames, applies the per-event rate limit and
// routes each event to the table layer. Every reply goes to the sending
// connection only.
type Dispatcher struct {
	tables  Tables
	admin   AdminExecutor
	limiter Limiter
	limits  config.RateLimitConfig
}

func NewDispatcher(tables Tables, adminExec AdminExecutor, limiter Limiter, limits config.RateLimitConfig) *Dispatcher {
	return &Dispatcher{tables: tables, admin: adminExec, limiter: limiter, limits: limits}
}

func reply(conn table.Conn, msgType string, data interface{}) {
	conn.Send(table.OutgoingMessage{Type: msgType, Data: data})
}

// Dispatch handles one raw frame from conn.
func (d *Dispatcher) Dispatch(ctx context.Context, conn table.Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		reply(conn, OutError, map[string]string{"message": appErr.ErrInvalidPayload.Error()})
		return
	}
	ev, ok := ParseEventType(strings.TrimSpace(env.Type))
	if !ok {
		reply(conn, OutError, map[string]string{"message": "unknown event", "event": env.Type})
		return
	}

	identity, ok := d.tables.ConnIdentity(conn.ID())
	if !ok {
		d.ack(conn, env, false, appErr.ErrUnauthorized.Error(), nil)
		return
	}

	if decision, allowed := d.allow(ctx, ev, identity.UserID); !allowed {
		reply(conn, OutRateLimited, map[string]interface{}{
			"event":      string(ev),
			"message":    "Too many requests. Slow down.",
			"retryAfter": decision.RetryAfter,
		})
		d.ack(conn, env, false, appErr.ErrRateLimited.Error(), map[string]int{"retryAfter": decision.RetryAfter})
		return
	}

	data, err := d.route(ctx, conn, identity, ev, env.Data)
	if err != nil {
		if errors.Is(err, appErr.ErrInvariantViolation) {
			logger.Log.Error("event refused on invariant violation",
				zap.String("event", string(ev)), zap.String("userID", identity.UserID), zap.Error(err))
		}
		d.ack(conn, env, false, err.Error(), nil)
		return
	}
	d.ack(conn, env, true, "", data)
}

func (d *Dispatcher) ack(conn table.Conn, env Envelope, ok bool, errMsg string, data interface{}) {
	reply(conn, OutAck, Ack{RequestID: env.RequestID, Event: env.Type, OK: ok, Error: errMsg, Data: data})
}

func (d *Dispatcher) allow(ctx context.Context, ev EventType, userID string) (ratelimit.Decision, bool) {
	if d.limiter == nil || !d.limits.Enabled {
		return ratelimit.Decision{Allowed: true}, true
	}
	window := time.Duration(d.limits.EventWindowSeconds) * time.Second
	decision := d.limiter.Check(ctx, ratelimit.EventKey(string(ev), userID), d.limits.EventLimit, window)
	return decision, decision.Allowed
}

// decode reads an optional payload; an absent or null body leaves v zero.
func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return appErr.ErrInvalidPayload
	}
	return nil
}

func (d *Dispatcher) route(ctx context.Context, conn table.Conn, identity table.Identity, ev EventType, raw json.RawMessage) (interface{}, error) {
	connID := conn.ID()
	switch ev {
	case EvJoinLobby:
		if _, err := d.tables.JoinLobby(connID); err != nil {
			return nil, err
		}
		return nil, nil

	case EvCreateTable:
		var p createTablePayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		view, err := d.tables.CreateTable(connID, lobby.CreateRequest{Name: p.Name, MaxPlayers: p.MaxPlayers, IsPrivate: p.IsPrivate})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"table": view}, nil

	case EvJoinTable:
		var p joinTablePayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		view, err := d.tables.JoinTable(connID, p.TableID, p.InviteCode)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"table": view}, nil

	case EvLeaveTable:
		var p tablePayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		tableID, err := d.tables.LeaveTable(connID, p.TableID)
		if err != nil {
			return nil, err
		}
		return map[string]string{"tableId": tableID}, nil

	case EvSpectateTable:
		var p tablePayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return d.tables.SpectateTable(connID, p.TableID)

	case EvStopSpectating:
		var p tablePayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		tableID, err := d.tables.StopSpectating(connID, p.TableID)
		if err != nil {
			return nil, err
		}
		return map[string]string{"tableId": tableID}, nil

	case EvSetReady:
		var p setReadyPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		ready := p.Ready == nil || *p.Ready
		return d.tables.SetReady(connID, ready, p.Bet)

	case EvTakeTurnAction:
		var p turnActionPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return d.tables.TakeTurnAction(connID, p.Action, p.ActionID)

	case EvSendTableChat:
		var p chatPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		msg, err := d.tables.SendTableChat(connID, p.TableID, p.Message)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"message": msg}, nil

	case EvSendTableReaction:
		var p reactionPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		r, err := d.tables.SendTableReaction(connID, p.TableID, p.Emoji)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"reaction": r}, nil

	case EvModerateChat:
		var p moderatePayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		notice, err := d.tables.ModerateTableChat(connID, table.ModerationRequest{
			TableID:         p.TableID,
			TargetUserID:    p.TargetUserID,
			Action:          p.Action,
			DurationSeconds: p.DurationSeconds,
		})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"notice": notice}, nil

	case EvAdminCommand:
		return d.adminCommand(ctx, conn, identity, raw)

	case EvSyncState:
		var p syncPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		return d.tables.SyncState(connID, table.SyncRequest{PreferredTableID: p.PreferredTableID, PreferredMode: p.PreferredMode})
	}
	return nil, appErr.ErrInvalidPayload
}

// adminCommand runs a command and reports its result both as the
// admin_command_result event and in the ack.
func (d *Dispatcher) adminCommand(ctx context.Context, conn table.Conn, identity table.Identity, raw json.RawMessage) (interface{}, error) {
	if d.admin == nil || !identity.Role.AtLeast(model.RoleMod) {
		return nil, appErr.ErrForbidden
	}
	var p adminPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	result := d.admin.Execute(ctx, admin.Actor{UserID: identity.UserID, Role: identity.Role}, p.Command)
	reply(conn, OutAdminCommandResult, result)
	if !result.OK {
		return nil, errors.New(result.Message)
	}
	return result, nil
}
