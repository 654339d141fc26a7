// Copyright 2024 Canonical.

package main

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	service "github.com/canonical/go-service"
	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/keyturn"
	"github.com/canonical/keyturn/internal/logger"
	"github.com/canonical/keyturn/version"
)

func main() {
	ctx, s := service.NewService(context.Background(), os.Interrupt, syscall.SIGTERM)
	s.Go(func() error {
		return start(ctx, s)
	})
	err := s.Wait()

	zapctx.Error(context.Background(), "shutdown", zap.Error(err))
	if _, ok := err.(*service.SignalError); !ok {
		os.Exit(1)
	}
}

// start initialises the keyturn service.
func start(ctx context.Context, s *service.Service) error {
	logger.SetupLogger(ctx, os.Getenv("KEYTURN_LOG_LEVEL"), os.Getenv("KEYTURN_DEV_MODE") != "")
	zapctx.Info(ctx, "keyturn info",
		zap.String("version", version.VersionInfo.Version),
		zap.String("commit", version.VersionInfo.GitCommit),
	)

	addr := os.Getenv("KEYTURN_LISTEN_ADDR")
	if addr == "" {
		addr = ":http-alt"
	}

	svc, err := keyturn.NewService(ctx, keyturn.Params{
		DSN:                   os.Getenv("KEYTURN_DSN"),
		KeyDir:                os.Getenv("KEYTURN_KEY_DIR"),
		VaultAddress:          os.Getenv("VAULT_ADDR"),
		VaultRoleID:           os.Getenv("VAULT_ROLE_ID"),
		VaultRoleSecretID:     os.Getenv("VAULT_ROLE_SECRET_ID"),
		VaultPath:             os.Getenv("VAULT_PATH"),
		GracePeriod:           durationEnv(ctx, "KEYTURN_GRACE_PERIOD"),
		DefaultTokenTTL:       durationEnv(ctx, "KEYTURN_TOKEN_TTL"),
		RotationRetryInterval: durationEnv(ctx, "KEYTURN_ROTATION_RETRY_INTERVAL"),
	})
	if err != nil {
		return err
	}
	s.OnShutdown(svc.Cleanup)

	rotationInterval := durationEnv(ctx, "KEYTURN_ROTATION_CHECK_INTERVAL")
	if rotationInterval == 0 {
		rotationInterval = time.Minute
	}
	s.Go(func() error {
		return svc.StartRotationScheduler(ctx, time.NewTicker(rotationInterval).C)
	})

	reapInterval := durationEnv(ctx, "KEYTURN_REAP_INTERVAL")
	if reapInterval == 0 {
		reapInterval = time.Hour
	}
	s.Go(func() error {
		return svc.StartJanitor(ctx, time.NewTicker(reapInterval).C)
	})

	httpsrv := &http.Server{
		Addr:    addr,
		Handler: svc,
	}
	s.OnShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		zapctx.Warn(ctx, "server shutdown triggered")
		httpsrv.Shutdown(ctx)
	})
	s.Go(httpsrv.ListenAndServe)
	zapctx.Info(ctx, "Successfully started keyturn server")
	return nil
}

// durationEnv parses the named environment variable as a duration. An
// unset or unparseable value yields zero, leaving the service's
// default in place.
func durationEnv(ctx context.Context, name string) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		zapctx.Error(ctx, "cannot parse duration", zap.String("var", name), zap.Error(err))
		return 0
	}
	return d
}
