// Copyright 2024 Canonical.

// Package logger contains the default logger setup and logger adapters
// for services keyturn integrates with.
package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/zaputil/zapctx"
	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SetupLogger installs the process-wide default logger under the
// "keyturn" name. In dev mode it is a colorized plain text logger
// with short timestamps; otherwise it is a JSON structured logger.
// An empty level selects info.
func SetupLogger(ctx context.Context, logLevel string, devMode bool) {
	level := zap.InfoLevel
	if logLevel != "" {
		var err error
		level, err = zapcore.ParseLevel(logLevel)
		if err != nil {
			fmt.Printf("ERROR: log level %q cannot be parsed, defaulting to info\n", logLevel)
			level = zap.InfoLevel
		}
	}
	var log *zap.Logger
	if devMode {
		devConfig := zap.NewDevelopmentEncoderConfig()
		devConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		devConfig.EncodeTime = shortTimeEncoder
		log = zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(devConfig),
			zapcore.AddSync(colorable.NewColorableStdout()),
			level,
		))
	} else {
		prodConfig := zap.NewProductionConfig()
		prodConfig.Level = zap.NewAtomicLevelAt(level)
		log = zap.Must(prodConfig.Build()) // this panics if an error is encountered during Build
	}
	zapctx.Default = log.Named("keyturn")
	zapctx.Debug(ctx, "logger set up", zap.Stringer("level", level), zap.Bool("dev", devMode))
}

// shortTimeEncoder encodes time as 15:04:05.000
func shortTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05.000"))
}
