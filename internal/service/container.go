package service

import (
	"context"
	"time"

	"maca-service/internal/config"
	"maca-service/internal/service/admin"
	"maca-service/internal/service/auth"
	"maca-service/internal/service/chat"
	"maca-service/internal/service/lobby"
	"maca-service/internal/service/ratelimit"
	"maca-service/internal/service/solo"
	"maca-service/internal/service/table"
	"maca-service/internal/service/user"
	"maca-service/internal/service/wallet"
	"maca-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reconcileInterval = 30 * time.Second

type Container struct {
	Config    *config.Config
	User      *user.Service
	Auth      *auth.Service
	Wallet    *wallet.Service
	Lobby     *lobby.Service
	Tables    *table.Manager
	Admin     *admin.Service
	Solo      *solo.Service
	RateLimit *ratelimit.Service

	hasRedis bool
}

func NewContainer(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *Container {
	users := user.NewService(db)
	wallets := wallet.NewService(db, rdb)
	lobbies := lobby.NewService(rdb)

	// Without redis the reconcile queue lives in process memory.
	tables := table.NewManager(lobbies, wallets, wallets, chat.NewFilter(), cfg.Game)

	return &Container{
		Config:    cfg,
		User:      users,
		Auth:      auth.NewService(users),
		Wallet:    wallets,
		Lobby:     lobbies,
		Tables:    tables,
		Admin:     admin.NewService(db, users, wallets, tables),
		Solo:      solo.NewService(wallets, wallets, cfg.Game),
		RateLimit: ratelimit.NewService(rdb),
		hasRedis:  rdb != nil,
	}
}

// Start seeds the super admin and launches the background loops, which
// stop with ctx.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Admin.EnsureDefaultAdmin(ctx); err != nil {
		return err
	}
	go c.Tables.Run(ctx)
	go c.Solo.Run(ctx)
	go c.Wallet.RunReconciler(ctx, reconcileInterval)
	logger.Log.Info("background loops started",
		zap.Duration("timerTick", c.Config.Game.TimerTick()),
		zap.Bool("redis", c.hasRedis))
	return nil
}
