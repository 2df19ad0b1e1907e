package auth_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"maca-service/internal/config"
	"maca-service/internal/model"
	authsvc "maca-service/internal/service/auth"
	usersvc "maca-service/internal/service/user"
	pkgAuth "maca-service/pkg/auth"
	appErr "maca-service/pkg/errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*usersvc.Service, *authsvc.Service) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}); err != nil {
		t.Fatalf("failed to migrate user model: %v", err)
	}
	config.GlobalConfig = &config.Config{
		JWT: config.JWTConfig{Secret: "test-secret", Expire: 1},
	}
	users := usersvc.NewService(db)
	return users, authsvc.NewService(users)
}

func TestRegisterLoginAndResolve(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "alice", "Secret@123")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if reg.User.Balance != authsvc.StartingBalance || reg.User.Role != model.RolePlayer {
		t.Fatalf("unexpected new user %+v", reg.User)
	}
	if reg.User.PasswordHash != "" {
		t.Fatalf("password hash must not be returned")
	}

	if _, err := svc.Register(ctx, "ALICE", "Secret@123"); !errors.Is(err, authsvc.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "wrong-password"); !errors.Is(err, authsvc.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	login, err := svc.Login(ctx, "alice", "Secret@123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	id, err := svc.ResolveToken(ctx, login.Token)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if id.UserID != reg.User.ID || id.Username != "alice" || id.Role != model.RolePlayer {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestRegisterValidation(t *testing.T) {
	_, svc := newTestService(t)
	for _, tc := range []struct{ username, password string }{
		{"ab", "Secret@123"},
		{"has space", "Secret@123"},
		{"bob", "short"},
	} {
		if _, err := svc.Register(context.Background(), tc.username, tc.password); !errors.Is(err, appErr.ErrInvalidPayload) {
			t.Fatalf("expected ErrInvalidPayload for %q, got %v", tc.username, err)
		}
	}
}

func TestResolveTokenRejectsUnknownUsers(t *testing.T) {
	_, svc := newTestService(t)

	if _, err := svc.ResolveToken(context.Background(), "garbage"); !errors.Is(err, appErr.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	token, err := pkgAuth.GenerateToken("ghost", "s1")
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := svc.ResolveToken(context.Background(), token); !errors.Is(err, appErr.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown subject, got %v", err)
	}
}

func TestUserResolveAndSetRole(t *testing.T) {
	users, svc := newTestService(t)
	ctx := context.Background()
	reg, err := svc.Register(ctx, "carol", "Secret@123")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	byName, err := users.Resolve(ctx, "@Carol")
	if err != nil || byName.ID != reg.User.ID {
		t.Fatalf("resolve by username failed: %v", err)
	}
	byID, err := users.Resolve(ctx, reg.User.ID)
	if err != nil || byID.Username != "carol" {
		t.Fatalf("resolve by id failed: %v", err)
	}

	updated, err := users.SetRole(ctx, reg.User.ID, model.RoleMod)
	if err != nil || updated.Role != model.RoleMod {
		t.Fatalf("set role failed: %v", err)
	}
	if _, err := users.SetRole(ctx, reg.User.ID, model.Role("god")); !errors.Is(err, appErr.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := users.SetRole(ctx, "ghost", model.RoleMod); !errors.Is(err, appErr.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	list, err := users.List(ctx, usersvc.ListFilter{Role: "mod"})
	if err != nil || list.Total != 1 {
		t.Fatalf("expected one mod, got %+v (%v)", list, err)
	}
}
