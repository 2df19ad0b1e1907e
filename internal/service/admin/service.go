package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"maca-service/internal/config"
	"maca-service/internal/model"
	"maca-service/internal/service/table"
	"maca-service/internal/service/wallet"
	appErr "maca-service/pkg/errors"
	"maca-service/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const maxAuditText = 500

// Users resolves command targets and changes roles.
type Users interface {
	Resolve(ctx context.Context, ref string) (*model.User, error)
	SetRole(ctx context.Context, userID string, role model.Role) (*model.User, error)
	Create(ctx context.Context, username, passwordHash string, role model.Role, balance int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

// Balances adjusts user balances on an admin's behalf.
type Balances interface {
	ApplyBalanceDelta(ctx context.Context, adj wallet.Adjustment) (int64, error)
	SetBalance(ctx context.Context, userID string, amount int64, meta map[string]interface{}) (int64, error)
}

// Tables is the table control surface the commands drive.
type Tables interface {
	Kick(tableID, actorID, userID string) error
	Moderate(tableID, actorID, targetID, action string, durationSeconds int) (table.ModerationNotice, error)
	SetLocked(tableID string, locked bool) error
	EndRound(tableID string) error
	CloseTable(tableID string) error
	SpectateAs(userID, tableID string) (int, error)
	SeatedTable(userID string) string
	TableExists(tableID string) bool
	NotifyBalance(userID string, balance int64)
	UpdateRole(userID string, role model.Role)
}

// Actor is who runs a command.
type Actor struct {
	UserID string
	Role   model.Role
}

type Result struct {
	OK      bool                   `json:"ok"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

type Service struct {
	db       *gorm.DB
	users    Users
	balances Balances
	tables   Tables
}

func NewService(db *gorm.DB, users Users, balances Balances, tables Tables) *Service {
	return &Service{db: db, users: users, balances: balances, tables: tables}
}

// usageError is a refusal whose text goes back to the actor verbatim.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func (e usageError) Unwrap() error { return appErr.ErrCommandUsage }

func usage(format string, args ...interface{}) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// invocation carries what the audit entry records about one command.
type invocation struct {
	actor         Actor
	command       Command
	args          []string
	targetUserID  string
	targetTableID string
	data          map[string]interface{}
}

// Execute parses and runs one admin command. Every outcome past the empty
// and too-long checks, refusals included, is written to the audit log.
func (s *Service) Execute(ctx context.Context, actor Actor, text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Message: "command is required"}
	}
	if utf8.RuneCountInString(text) > MaxCommandLength {
		return Result{Message: "command is too long"}
	}

	tokens, err := Tokenize(text)
	if err != nil {
		return Result{Message: "invalid command syntax"}
	}
	if len(tokens) == 0 {
		return Result{Message: "command is required"}
	}

	inv := &invocation{actor: actor, command: ParseCommand(tokens[0]), args: tokens[1:], data: map[string]interface{}{}}
	minRole, known := inv.command.MinRole()
	if !known {
		return s.finish(ctx, inv, text, "", plainError("unknown admin command"))
	}
	if !actor.Role.AtLeast(minRole) {
		return s.finish(ctx, inv, text, "", plainError(fmt.Sprintf("requires %s role", minRole)))
	}

	message, err := s.dispatch(ctx, inv)
	return s.finish(ctx, inv, text, message, err)
}

func (s *Service) finish(ctx context.Context, inv *invocation, text, message string, err error) Result {
	res := Result{OK: err == nil, Message: message}
	status := StatusSuccess
	if err != nil {
		status = StatusError
		res.Message = describe(inv, err)
	}
	if res.OK && len(inv.data) > 0 {
		res.Data = inv.data
	}

	entry := model.AdminAuditLog{
		ActorUserID:   inv.actor.UserID,
		ActorRole:     inv.actor.Role,
		Command:       truncate(text, maxAuditText),
		Status:        status,
		Message:       truncate(res.Message, maxAuditText),
		TargetUserID:  inv.targetUserID,
		TargetTableID: inv.targetTableID,
		MetaJSON:      toJSON(inv.data),
	}
	if aerr := s.AppendAuditLog(ctx, &entry); aerr != nil {
		logger.Log.Error("admin audit write failed", zap.String("actorID", inv.actor.UserID), zap.Error(aerr))
	}
	return res
}

// describe turns a command error into the text shown to the actor.
// Unexpected failures are logged and reported generically.
func describe(inv *invocation, err error) string {
	var ue usageError
	if errors.As(err, &ue) {
		return ue.msg
	}
	if isRefusal(err) {
		return err.Error()
	}
	logger.Log.Error("admin command failed",
		zap.String("actorID", inv.actor.UserID),
		zap.String("command", string(inv.command)),
		zap.Error(err))
	return "admin command failed"
}

// isRefusal reports errors that describe a rejected request rather than a
// failure, so their text is safe to show.
func isRefusal(err error) bool {
	for _, target := range []error{
		appErr.ErrUserNotFound, appErr.ErrTableNotFound, appErr.ErrNoActiveRound,
		appErr.ErrNotSeated, appErr.ErrInvalidRole, appErr.ErrInvalidAmount,
		appErr.ErrUnauthorized, appErr.ErrUnknownCommand, appErr.ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var plain plainError
	return errors.As(err, &plain)
}

// plainError is a refusal built from a literal message.
type plainError string

func (e plainError) Error() string { return string(e) }

func (s *Service) dispatch(ctx context.Context, inv *invocation) (string, error) {
	switch inv.command {
	case CmdKick:
		return s.kick(ctx, inv)
	case CmdMute, CmdUnmute, CmdBan, CmdUnban:
		return s.moderate(ctx, inv)
	case CmdSpectate:
		return s.spectate(inv)
	case CmdLockTable, CmdUnlockTable:
		return s.lock(inv)
	case CmdEndTableRound:
		return s.endRound(inv)
	case CmdCloseTable:
		return s.closeTable(inv)
	case CmdAddBalance, CmdRemoveBalance, CmdSetBalance:
		return s.balance(ctx, inv)
	case CmdSetRole:
		return s.setRole(ctx, inv)
	}
	return "", appErr.ErrUnknownCommand
}

func (s *Service) resolveTarget(ctx context.Context, ref string) (*model.User, error) {
	u, err := s.users.Resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, appErr.ErrUserNotFound) {
			return nil, plainError("target user not found")
		}
		return nil, err
	}
	return u, nil
}

// targetTable is the explicit table or the one the target sits at.
func (s *Service) targetTable(userID, explicit string) (string, error) {
	tableID := strings.TrimSpace(explicit)
	if tableID == "" {
		tableID = s.tables.SeatedTable(userID)
	}
	if tableID == "" || !s.tables.TableExists(tableID) {
		return "", plainError("table not found for target user")
	}
	return tableID, nil
}

func (s *Service) kick(ctx context.Context, inv *invocation) (string, error) {
	if len(inv.args) < 1 {
		return "", usage("usage: /kick <user_id_or_username> [table_id]")
	}
	target, err := s.resolveTarget(ctx, inv.args[0])
	if err != nil {
		return "", err
	}
	explicit := ""
	if len(inv.args) > 1 {
		explicit = inv.args[1]
	}
	tableID, err := s.targetTable(target.ID, explicit)
	if err != nil {
		return "", err
	}
	inv.targetUserID, inv.targetTableID = target.ID, tableID
	if err := s.tables.Kick(tableID, inv.actor.UserID, target.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("kicked %s from table %s", target.Username, tableID), nil
}

func (s *Service) moderate(ctx context.Context, inv *invocation) (string, error) {
	if len(inv.args) < 1 {
		if inv.command == CmdMute {
			return "", usage("usage: /mute <user_id_or_username> [seconds] [table_id]")
		}
		return "", usage("usage: /%s <user_id_or_username> [table_id]", inv.command)
	}
	target, err := s.resolveTarget(ctx, inv.args[0])
	if err != nil {
		return "", err
	}

	seconds := int(table.MuteDefault / time.Second)
	tableArg := ""
	if len(inv.args) >= 2 {
		if inv.command == CmdMute {
			if n, convErr := strconv.Atoi(inv.args[1]); convErr == nil {
				seconds = n
				if len(inv.args) >= 3 {
					tableArg = inv.args[2]
				}
			} else {
				tableArg = inv.args[1]
			}
		} else {
			tableArg = inv.args[1]
		}
	}
	tableID, err := s.targetTable(target.ID, tableArg)
	if err != nil {
		return "", err
	}
	inv.targetUserID, inv.targetTableID = target.ID, tableID

	notice, err := s.tables.Moderate(tableID, inv.actor.UserID, target.ID, string(inv.command), seconds)
	if err != nil {
		return "", err
	}
	if d, ok := notice.Details["durationSeconds"]; ok {
		inv.data["durationSeconds"] = d
	}
	return fmt.Sprintf("%s applied to %s on table %s", inv.command, target.Username, tableID), nil
}

func (s *Service) spectate(inv *invocation) (string, error) {
	if len(inv.args) < 1 {
		return "", usage("usage: /spectate <table_id>")
	}
	tableID := strings.TrimSpace(inv.args[0])
	inv.targetTableID = tableID
	if !s.tables.TableExists(tableID) {
		return "", plainError("table not found")
	}
	if _, err := s.tables.SpectateAs(inv.actor.UserID, tableID); err != nil {
		if errors.Is(err, appErr.ErrUnauthorized) {
			return "", plainError("no active connection found for actor")
		}
		return "", err
	}
	return fmt.Sprintf("moved admin session to spectate table %s", tableID), nil
}

func (s *Service) tableArg(inv *invocation, usageText string) (string, error) {
	if len(inv.args) < 1 {
		return "", usage("%s", usageText)
	}
	tableID := strings.TrimSpace(inv.args[0])
	inv.targetTableID = tableID
	if tableID == "" || !s.tables.TableExists(tableID) {
		return "", plainError("table not found")
	}
	return tableID, nil
}

func (s *Service) lock(inv *invocation) (string, error) {
	tableID, err := s.tableArg(inv, fmt.Sprintf("usage: /%s <table_id>", inv.command))
	if err != nil {
		return "", err
	}
	locked := inv.command == CmdLockTable
	if err := s.tables.SetLocked(tableID, locked); err != nil {
		return "", err
	}
	if locked {
		return fmt.Sprintf("table %s locked", tableID), nil
	}
	return fmt.Sprintf("table %s unlocked", tableID), nil
}

func (s *Service) endRound(inv *invocation) (string, error) {
	tableID, err := s.tableArg(inv, "usage: /end_round <table_id>")
	if err != nil {
		return "", err
	}
	if err := s.tables.EndRound(tableID); err != nil {
		return "", err
	}
	return fmt.Sprintf("ended active round for table %s", tableID), nil
}

func (s *Service) closeTable(inv *invocation) (string, error) {
	tableID, err := s.tableArg(inv, "usage: /close_table <table_id>")
	if err != nil {
		return "", err
	}
	if err := s.tables.CloseTable(tableID); err != nil {
		return "", err
	}
	return fmt.Sprintf("closed table %s", tableID), nil
}

func (s *Service) balance(ctx context.Context, inv *invocation) (string, error) {
	if len(inv.args) < 2 {
		return "", usage("usage: /%s <user_id_or_username> <amount>", inv.command)
	}
	amount, err := ParseAmount(inv.args[1])
	if err != nil {
		return "", plainError("invalid amount")
	}
	switch {
	case inv.command != CmdSetBalance && amount <= 0:
		return "", plainError("amount must be greater than 0")
	case inv.command == CmdSetBalance && amount < 0:
		return "", plainError("amount cannot be negative")
	}
	target, err := s.resolveTarget(ctx, inv.args[0])
	if err != nil {
		return "", err
	}
	inv.targetUserID = target.ID

	meta := map[string]interface{}{"actorUserId": inv.actor.UserID, "command": string(inv.command)}
	var balance int64
	switch inv.command {
	case CmdAddBalance:
		balance, err = s.balances.ApplyBalanceDelta(ctx, wallet.Adjustment{
			UserID: target.ID, Delta: amount, Type: wallet.TypeAdminAdd, Meta: meta,
		})
	case CmdRemoveBalance:
		balance, err = s.balances.ApplyBalanceDelta(ctx, wallet.Adjustment{
			UserID: target.ID, Delta: -amount, Type: wallet.TypeAdminRemove, Meta: meta,
		})
	default:
		balance, err = s.balances.SetBalance(ctx, target.ID, amount, meta)
	}
	if err != nil {
		return "", err
	}

	inv.data["balance"] = balance
	s.tables.NotifyBalance(target.ID, balance)
	return fmt.Sprintf("%s completed for %s; balance=%s", inv.command, target.Username, FormatCents(balance)), nil
}

func (s *Service) setRole(ctx context.Context, inv *invocation) (string, error) {
	if len(inv.args) < 2 {
		return "", usage("usage: /set_role <user_id_or_username> <player|mod|admin|super>")
	}
	role, ok := model.ParseRole(inv.args[1])
	if !ok {
		return "", plainError("invalid role")
	}
	target, err := s.resolveTarget(ctx, inv.args[0])
	if err != nil {
		return "", err
	}
	inv.targetUserID = target.ID

	updated, err := s.users.SetRole(ctx, target.ID, role)
	if err != nil {
		return "", err
	}
	inv.data["role"] = updated.Role
	s.tables.UpdateRole(updated.ID, updated.Role)
	return fmt.Sprintf("set role for %s to %s", updated.Username, updated.Role), nil
}

// AppendAuditLog stores one audit entry, truncating free text.
func (s *Service) AppendAuditLog(ctx context.Context, entry *model.AdminAuditLog) error {
	entry.Command = truncate(entry.Command, maxAuditText)
	entry.Message = truncate(entry.Message, maxAuditText)
	if len(entry.MetaJSON) == 0 {
		entry.MetaJSON = datatypes.JSON("{}")
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// ListAuditLogs returns the newest entries first; limit is clamped to 1..200.
func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]model.AdminAuditLog, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	var out []model.AdminAuditLog
	err := s.db.WithContext(ctx).Order("created_at desc").Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// EnsureDefaultAdmin creates the configured super user on first boot.
func (s *Service) EnsureDefaultAdmin(ctx context.Context) error {
	cfg := config.GlobalConfig.Admin
	if cfg.DefaultUsername == "" || cfg.DefaultPassword == "" {
		logger.Log.Warn("default admin credentials not configured; skipping bootstrap")
		return nil
	}

	existing, err := s.users.GetByUsername(ctx, cfg.DefaultUsername)
	if err == nil {
		if existing.Role != model.RoleSuper {
			if _, err := s.users.SetRole(ctx, existing.ID, model.RoleSuper); err != nil {
				return err
			}
		}
		return nil
	}
	if !errors.Is(err, appErr.ErrUserNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.DefaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u, err := s.users.Create(ctx, cfg.DefaultUsername, string(hash), model.RoleSuper, 0)
	if err != nil {
		return err
	}
	logger.Log.Info("default admin account created",
		zap.String("username", cfg.DefaultUsername),
		zap.String("userID", u.ID))
	return nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func toJSON(v map[string]interface{}) datatypes.JSON {
	if len(v) == 0 {
		return datatypes.JSON("{}")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
