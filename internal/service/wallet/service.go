package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"maca-service/internal/model"
	"maca-service/internal/service/game"
	appErr "maca-service/pkg/errors"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Balance log types.
const (
	TypeRoundSettlement = "round_settlement"
	TypeSoloSettlement  = "solo_settlement"
	TypeAdminAdd        = "admin_add"
	TypeAdminRemove     = "admin_remove"
	TypeAdminSet        = "admin_set"
)

// InsuranceHandID marks the round history row of an insurance side bet.
const InsuranceHandID = "insurance"

// Adjustment is one requested balance change.
type Adjustment struct {
	UserID  string                 `json:"userId"`
	Delta   int64                  `json:"delta"`
	Type    string                 `json:"type"`
	RoundID string                 `json:"roundId,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

type Service struct {
	db  *gorm.DB
	rdb *redis.Client

	queue *reconcileQueue
}

func NewService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{db: db, rdb: rdb, queue: newReconcileQueue(rdb)}
}

func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	var user model.User
	err := s.db.WithContext(ctx).Select("id", "balance").Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, appErr.ErrUserNotFound
		}
		return 0, err
	}
	return user.Balance, nil
}

// ApplyBalanceDelta adds adj.Delta to the user's balance inside a transaction
// and returns the new balance. The balance never goes below zero; the clamped
// amount is what gets logged.
func (s *Service) ApplyBalanceDelta(ctx context.Context, adj Adjustment) (int64, error) {
	var after int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, adj.UserID)
		if err != nil {
			return err
		}
		before := user.Balance
		after = before + adj.Delta
		if after < 0 {
			after = 0
		}
		meta := copyMeta(adj.Meta)
		if after-before != adj.Delta {
			meta["requestedDelta"] = adj.Delta
		}
		return writeBalance(tx, user, after, adj.Type, adj.RoundID, meta)
	})
	if err != nil {
		return 0, err
	}
	return after, nil
}

// SetBalance overwrites the user's balance.
func (s *Service) SetBalance(ctx context.Context, userID string, amount int64, meta map[string]interface{}) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: balance must be >= 0", appErr.ErrInvalidAmount)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		return writeBalance(tx, user, amount, TypeAdminSet, "", copyMeta(meta))
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

func lockUser(tx *gorm.DB, userID string) (*model.User, error) {
	var user model.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func writeBalance(tx *gorm.DB, user *model.User, after int64, logType, roundID string, meta map[string]interface{}) error {
	before := user.Balance
	if err := tx.Model(&model.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{"balance": after, "updated_at": time.Now()}).Error; err != nil {
		return err
	}
	return tx.Create(&model.BalanceLog{
		UserID:       user.ID,
		Type:         logType,
		Delta:        after - before,
		BalanceAfter: after,
		RoundID:      roundID,
		MetaJSON:     toJSON(meta),
	}).Error
}

// AppendRoundHistory stores one row per settled hand, plus an "insurance"
// row for players who bought insurance, so a player's rows sum to their
// balance delta. Busts and surrenders are recorded as losses.
func (s *Service) AppendRoundHistory(ctx context.Context, settlement *game.Settlement) error {
	if settlement == nil {
		return nil
	}
	rows := make([]model.RoundHistory, 0)
	for _, pr := range settlement.Players {
		for _, h := range pr.Hands {
			rows = append(rows, model.RoundHistory{
				UserID:    pr.UserID,
				RoundID:   settlement.RoundID,
				TableID:   settlement.TableID,
				HandID:    h.HandID,
				Bet:       h.Bet,
				Result:    historyResult(h.Result),
				Payout:    h.Payout,
				CardsJSON: toJSON(h.Cards),
			})
		}
		if pr.InsuranceBet > 0 {
			result := game.ResultLose
			if pr.InsurancePayout > 0 {
				result = game.ResultWin
			}
			rows = append(rows, model.RoundHistory{
				UserID:  pr.UserID,
				RoundID: settlement.RoundID,
				TableID: settlement.TableID,
				HandID:  InsuranceHandID,
				Bet:     pr.InsuranceBet,
				Result:  string(result),
				Payout:  pr.InsurancePayout,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func historyResult(r game.HandResult) string {
	switch r {
	case game.ResultBust, game.ResultSurrender:
		return string(game.ResultLose)
	default:
		return string(r)
	}
}

// History returns a user's most recent hands, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]model.RoundHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []model.RoundHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func copyMeta(meta map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func toJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("{}")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
