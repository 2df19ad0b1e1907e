package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Game      GameConfig      `mapstructure:"game"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	Admin     AdminSeedConfig `mapstructure:"admin"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"` // debug, release
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres, mysql, sqlite
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int    `mapstructure:"expire"` // hours
}

type GameConfig struct {
	TurnSeconds           int   `mapstructure:"turnSeconds"`
	TimerTickMillis       int   `mapstructure:"timerTickMillis"`
	ReconnectGraceSeconds int   `mapstructure:"reconnectGraceSeconds"`
	DefaultBet            int64 `mapstructure:"defaultBet"` // cents
	MinBet                int64 `mapstructure:"minBet"`
	MaxBet                int64 `mapstructure:"maxBet"`
	PersistTimeoutMillis  int   `mapstructure:"persistTimeoutMillis"`
	SoloTimeoutSeconds    int   `mapstructure:"soloTimeoutSeconds"`
}

type RateLimitConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	ConnectLimit         int  `mapstructure:"connectLimit"`
	ConnectWindowSeconds int  `mapstructure:"connectWindowSeconds"`
	EventLimit           int  `mapstructure:"eventLimit"`
	EventWindowSeconds   int  `mapstructure:"eventWindowSeconds"`
}

type AdminSeedConfig struct {
	DefaultUsername string `mapstructure:"defaultUsername"`
	DefaultPassword string `mapstructure:"defaultPassword"`
}

var GlobalConfig *Config

func LoadConfig(path string) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("MACA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file, %s", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
	cfg.Game.normalize()
	GlobalConfig = &cfg
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("jwt.expire", 24)
	viper.SetDefault("rateLimit.enabled", true)
	viper.SetDefault("rateLimit.connectLimit", 20)
	viper.SetDefault("rateLimit.connectWindowSeconds", 60)
	viper.SetDefault("rateLimit.eventLimit", 180)
	viper.SetDefault("rateLimit.eventWindowSeconds", 60)
}

// DefaultGameConfig mirrors the production table settings.
func DefaultGameConfig() GameConfig {
	g := GameConfig{}
	g.normalize()
	return g
}

func (g *GameConfig) normalize() {
	if g.TurnSeconds < 5 {
		g.TurnSeconds = 8
	}
	if g.TimerTickMillis < 500 {
		g.TimerTickMillis = 1000
	}
	if g.ReconnectGraceSeconds < 5 {
		g.ReconnectGraceSeconds = 30
	}
	if g.MinBet <= 0 {
		g.MinBet = 100
	}
	if g.MaxBet < g.MinBet {
		g.MaxBet = 100000
	}
	if g.DefaultBet < g.MinBet || g.DefaultBet > g.MaxBet {
		g.DefaultBet = 1000
	}
	if g.PersistTimeoutMillis <= 0 {
		g.PersistTimeoutMillis = 3000
	}
	if g.SoloTimeoutSeconds <= 0 {
		g.SoloTimeoutSeconds = 45
	}
}

func (g GameConfig) TurnDuration() time.Duration {
	return time.Duration(g.TurnSeconds) * time.Second
}

func (g GameConfig) TimerTick() time.Duration {
	return time.Duration(g.TimerTickMillis) * time.Millisecond
}

func (g GameConfig) ReconnectGrace() time.Duration {
	return time.Duration(g.ReconnectGraceSeconds) * time.Second
}

func (g GameConfig) PersistTimeout() time.Duration {
	return time.Duration(g.PersistTimeoutMillis) * time.Millisecond
}

// NormalizeBet clamps a requested wager into the configured table range.
// Non-positive values fall back to the default bet.
func (g GameConfig) NormalizeBet(bet int64) int64 {
	if bet <= 0 {
		return g.DefaultBet
	}
	if bet < g.MinBet {
		return g.MinBet
	}
	if bet > g.MaxBet {
		return g.MaxBet
	}
	return bet
}
