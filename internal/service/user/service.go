package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"maca-service/internal/model"
	appErr "maca-service/pkg/errors"
	"maca-service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListPageSize = 20
	maxListPageSize     = 100
)

type Service struct {
	db *gorm.DB
}

type ListFilter struct {
	Page            int
	Size            int
	Role            string
	UsernameKeyword string
}

type ListResult struct {
	Items []model.User `json:"items"`
	Total int64        `json:"total"`
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (f *ListFilter) sanitize() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Size <= 0 {
		f.Size = defaultListPageSize
	}
	if f.Size > maxListPageSize {
		f.Size = maxListPageSize
	}
	f.Role = strings.ToLower(strings.TrimSpace(f.Role))
	f.UsernameKeyword = strings.TrimSpace(f.UsernameKeyword)
}

func applyFilters(db *gorm.DB, filter ListFilter) *gorm.DB {
	if filter.Role != "" {
		db = db.Where("role = ?", filter.Role)
	}
	if filter.UsernameKeyword != "" {
		db = db.Where("LOWER(username) LIKE ?", "%"+strings.ToLower(filter.UsernameKeyword)+"%")
	}
	return db
}

// Create inserts a new account with a generated id.
func (s *Service) Create(ctx context.Context, username, passwordHash string, role model.Role, balance int64) (*model.User, error) {
	user := model.User{
		ID:           uuid.NewString(),
		Username:     strings.TrimSpace(username),
		PasswordHash: passwordHash,
		Role:         role,
		Balance:      balance,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) GetByID(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Where("LOWER(username) = ?", strings.ToLower(strings.TrimSpace(username))).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Resolve finds a user by id first, then by username.
func (s *Service) Resolve(ctx context.Context, ref string) (*model.User, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "@")
	if ref == "" {
		return nil, appErr.ErrUserNotFound
	}
	user, err := s.GetByID(ctx, ref)
	if err == nil || !errors.Is(err, appErr.ErrUserNotFound) {
		return user, err
	}
	return s.GetByUsername(ctx, ref)
}

func (s *Service) SetRole(ctx context.Context, userID string, role model.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, appErr.ErrInvalidRole
	}
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"role":       role,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, appErr.ErrUserNotFound
	}

	logger.Log.Info("user role updated",
		zap.String("userID", userID),
		zap.String("role", string(role)))

	return s.GetByID(ctx, userID)
}

func (s *Service) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	filter.sanitize()

	var total int64
	if err := applyFilters(s.db.WithContext(ctx).Model(&model.User{}), filter).Count(&total).Error; err != nil {
		return nil, err
	}

	result := &ListResult{Items: make([]model.User, 0), Total: total}
	if total == 0 {
		return result, nil
	}
	if err := applyFilters(s.db.WithContext(ctx).Model(&model.User{}), filter).
		Order("created_at DESC").
		Limit(filter.Size).
		Offset((filter.Page - 1) * filter.Size).
		Find(&result.Items).Error; err != nil {
		return nil, err
	}
	return result, nil
}
