package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is usable before InitLogger runs (tests, tooling) and discards output until then.
var Log = zap.NewNop()

func InitLogger(mode string) {
	var config zap.Config

	if mode == "release" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.OutputPaths = []string{"stdout"}
	config.InitialFields = map[string]interface{}{"service": "maca"}

	l, err := config.Build()
	if err != nil {
		os.Exit(1)
	}
	Log = l
	zap.ReplaceGlobals(Log)
}

// Table returns a child logger scoped to one table.
func Table(tableID string) *zap.Logger {
	return Log.With(zap.String("tableID", tableID))
}
