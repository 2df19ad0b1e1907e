package auth

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"maca-service/internal/config"
	"maca-service/internal/model"
	"maca-service/internal/service/user"
	pkgAuth "maca-service/pkg/auth"
	appErr "maca-service/pkg/errors"
	"maca-service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// StartingBalance is credited to new accounts, in cents.
const StartingBalance int64 = 100000

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
)

// Identity is who a connection or request acts as.
type Identity struct {
	UserID   string     `json:"userId"`
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
}

type Service struct {
	users *user.Service
}

type LoginResult struct {
	Token    string     `json:"token"`
	ExpireAt time.Time  `json:"expireAt"`
	User     model.User `json:"user"`
}

func NewService(users *user.Service) *Service {
	return &Service{users: users}
}

func validUsername(name string) bool {
	n := utf8.RuneCountInString(name)
	if n < 3 || n > 32 {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r == '-' || r == '.' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

func (s *Service) Register(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if !validUsername(username) || len(password) < 8 {
		return nil, appErr.ErrInvalidPayload
	}
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, appErr.ErrUserNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u, err := s.users.Create(ctx, username, string(hash), model.RolePlayer, StartingBalance)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("user registered", zap.String("userID", u.ID), zap.String("username", u.Username))
	return s.issue(*u)
}

func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, appErr.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(*u)
}

func (s *Service) issue(u model.User) (*LoginResult, error) {
	token, err := pkgAuth.GenerateToken(u.ID, uuid.NewString())
	if err != nil {
		return nil, err
	}
	u.PasswordHash = ""
	return &LoginResult{
		Token:    token,
		ExpireAt: time.Now().Add(time.Duration(config.GlobalConfig.JWT.Expire) * time.Hour),
		User:     u,
	}, nil
}

// ResolveToken validates a bearer token and loads the identity it belongs
// to. Roles come from the store, never from the token.
func (s *Service) ResolveToken(ctx context.Context, token string) (Identity, error) {
	claims, err := pkgAuth.ParseToken(strings.TrimSpace(token))
	if err != nil {
		return Identity{}, appErr.ErrUnauthorized
	}
	u, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, appErr.ErrUserNotFound) {
			return Identity{}, appErr.ErrUnauthorized
		}
		return Identity{}, err
	}
	return Identity{UserID: u.ID, Username: u.Username, Role: u.Role}, nil
}
