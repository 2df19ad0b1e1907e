package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Role orders privileges: player < mod < admin < super.
type Role string

const (
	RolePlayer Role = "player"
	RoleMod    Role = "mod"
	RoleAdmin  Role = "admin"
	RoleSuper  Role = "super"
)

func (r Role) Rank() int {
	switch r {
	case RoleMod:
		return 1
	case RoleAdmin:
		return 2
	case RoleSuper:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether r has min's privileges or more.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() >= min.Rank()
}

func (r Role) Valid() bool {
	switch r {
	case RolePlayer, RoleMod, RoleAdmin, RoleSuper:
		return true
	}
	return false
}

func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.Valid()
}

// 1. Accounts

type User struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `gorm:"size:16;default:player;not null" json:"role"`
	Balance      int64     `gorm:"default:0;not null" json:"balance"` // cents
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// 2. Balance ledger

type BalanceLog struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       string         `gorm:"index;size:64" json:"userId"`
	Type         string         `json:"type"` // round_settlement/admin_add/admin_remove/admin_set/solo_settlement/reconcile
	Delta        int64          `json:"delta"`
	BalanceAfter int64          `json:"balanceAfter"`
	RoundID      string         `gorm:"index;size:64" json:"roundId"`
	MetaJSON     datatypes.JSON `gorm:"type:jsonb" json:"meta"`
	CreatedAt    time.Time      `json:"createdAt"`
}

type RoundHistory struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string         `gorm:"index;size:64" json:"userId"`
	RoundID   string         `gorm:"index;size:64" json:"roundId"`
	TableID   string         `gorm:"size:32" json:"tableId"`
	HandID    string         `gorm:"size:32" json:"handId"`
	Bet       int64          `json:"bet"`
	Result    string         `json:"result"` // win/lose/push/blackjack
	Payout    int64          `json:"payout"`
	CardsJSON datatypes.JSON `gorm:"type:jsonb" json:"cards"`
	CreatedAt time.Time      `json:"createdAt"`
}

// 3. Moderation

type AdminAuditLog struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorUserID   string         `gorm:"index;size:64" json:"actorUserId"`
	ActorRole     Role           `gorm:"size:16" json:"actorRole"`
	Command       string         `gorm:"size:512" json:"command"`
	Status        string         `gorm:"size:16" json:"status"` // success/failed/denied
	Message       string         `gorm:"size:512" json:"message"`
	TargetUserID  string         `gorm:"size:64" json:"targetUserId"`
	TargetTableID string         `gorm:"size:32" json:"targetTableId"`
	MetaJSON      datatypes.JSON `gorm:"type:jsonb" json:"meta"`
	CreatedAt     time.Time      `json:"createdAt"`
}
