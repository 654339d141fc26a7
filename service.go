// Copyright 2024 Canonical.

// Package keyturn assembles the signing-key lifecycle service: key
// generation, storage, rotation, retirement, reaping and JWKS
// publication of RSA key pairs across isolated domains.
package keyturn

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	vaultapi "github.com/hashicorp/vault/api"
	"github.com/juju/clock"
	"github.com/juju/zaputil/zapctx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/canonical/keyturn/internal/blob"
	"github.com/canonical/keyturn/internal/db"
	"github.com/canonical/keyturn/internal/debugapi"
	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/generator"
	"github.com/canonical/keyturn/internal/janitor"
	"github.com/canonical/keyturn/internal/jwks"
	"github.com/canonical/keyturn/internal/keycrypto"
	"github.com/canonical/keyturn/internal/keystore"
	"github.com/canonical/keyturn/internal/logger"
	"github.com/canonical/keyturn/internal/metadata"
	"github.com/canonical/keyturn/internal/middleware"
	"github.com/canonical/keyturn/internal/policy"
	"github.com/canonical/keyturn/internal/rotation"
	"github.com/canonical/keyturn/internal/signer"
	"github.com/canonical/keyturn/internal/vault"
	"github.com/canonical/keyturn/internal/wellknownapi"
)

// A Params structure contains the parameters required to initialise a
// new Service.
type Params struct {
	// DSN is the data source name that the service will use to
	// connect to its database. If this is empty an in-memory
	// database will be used.
	DSN string

	// KeyDir is the directory key material is stored beneath when no
	// vault is configured.
	KeyDir string

	// VaultAddress is the URL of a vault server that will be used to
	// store key material. If this is empty key material is stored
	// under KeyDir instead.
	VaultAddress string

	// VaultRoleID and VaultRoleSecretID are the AppRole credentials
	// used to authenticate with the vault server.
	VaultRoleID       string
	VaultRoleSecretID string

	// VaultPath is the mount path of the KV version 2 secrets engine
	// on the vault server.
	VaultPath string

	// GracePeriod is how long retired public keys remain available
	// for verification. Zero selects the default of 7 days.
	GracePeriod time.Duration

	// DefaultTokenTTL is the token lifetime applied when a signing
	// request does not specify one. Zero selects the default of 30
	// days.
	DefaultTokenTTL time.Duration

	// MaxPayloadBytes bounds the canonical serialization of a token
	// payload. Zero selects the default of 4096 bytes.
	MaxPayloadBytes int

	// RotationMaxRetries and RotationRetryInterval are the initial
	// scheduler sweep settings. Zero values select the most
	// conservative permitted values.
	RotationMaxRetries    int
	RotationRetryInterval time.Duration

	// Clock supplies the time throughout the service. A nil Clock
	// selects the wall clock.
	Clock clock.Clock
}

// A Service is the implementation of a keyturn server.
type Service struct {
	mux *chi.Mux

	// Database backs rotation policies and leases.
	Database *db.Database

	// Resolver maps domains to their active signing keys.
	Resolver *keystore.Resolver

	// Generator mints new key pairs.
	Generator *generator.Generator

	// Signer issues tokens under domains' active keys.
	Signer *signer.Signer

	// JWKS assembles the per-domain verification sets.
	JWKS *jwks.Builder

	// Janitor reaps expired keys.
	Janitor *janitor.Janitor

	// Scheduler drives policy-based rotation.
	Scheduler *rotation.Scheduler

	// Config holds the runtime-updatable scheduler settings.
	Config *rotation.Config

	repository *keystore.Repository
	clock      clock.Clock
}

// ServeHTTP implements http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.mux.ServeHTTP(w, req)
}

// NewService creates a new Service using the given params.
func NewService(ctx context.Context, p Params) (*Service, error) {
	const op = errors.Op("keyturn.NewService")

	s := new(Service)
	s.mux = chi.NewRouter()
	s.clock = p.Clock
	if s.clock == nil {
		s.clock = clock.WallClock
	}

	if p.DSN == "" {
		p.DSN = "file::memory:?mode=memory&cache=shared"
	}
	gdb, err := openDB(ctx, p.DSN)
	if err != nil {
		return nil, errors.E(op, err)
	}
	s.Database = &db.Database{DB: gdb, Clock: s.clock}
	if err := s.Database.Migrate(ctx); err != nil {
		return nil, errors.E(op, err)
	}

	store, err := newBlobStore(ctx, p)
	if err != nil {
		return nil, errors.E(op, err)
	}

	crypto := keycrypto.NewRSAProvider(s.clock)
	index := keystore.NewCacheIndex()
	s.repository = keystore.NewRepository(store, crypto, index)
	registry := keystore.NewMemoryRegistry()
	s.Resolver = keystore.NewResolver(registry, s.repository)
	meta := metadata.NewManager(store, s.clock)
	s.Janitor = janitor.NewJanitor(s.repository, meta, index, s.clock, p.GracePeriod)
	s.Generator = generator.NewGenerator(crypto, s.repository, meta, s.clock)
	s.Signer = signer.New(crypto, s.Resolver, index, signer.Params{
		DefaultTTL:      p.DefaultTokenTTL,
		MaxPayloadBytes: p.MaxPayloadBytes,
		Clock:           s.clock,
	})
	s.JWKS = jwks.NewBuilder(s.repository, crypto, index)

	rotator := rotation.NewRotator(s.Generator, s.Resolver, s.Janitor, s.Database)
	maxRetries := p.RotationMaxRetries
	if maxRetries == 0 {
		maxRetries = rotation.DefaultLimits.MinRetries
	}
	retryInterval := p.RotationRetryInterval
	if retryInterval == 0 {
		retryInterval = rotation.DefaultLimits.MinRetryInterval
	}
	s.Config, err = rotation.NewConfig(rotation.DefaultLimits, maxRetries, retryInterval)
	if err != nil {
		return nil, errors.E(op, err)
	}
	s.Scheduler = rotation.NewScheduler(rotator, s.Database, s.Config, s.clock)

	if err := s.recoverActiveKeys(ctx); err != nil {
		return nil, errors.E(op, err)
	}

	s.mux.Use(middleware.MeasureResponseTime)
	s.mux.Mount("/debug", debugapi.NewDebugHandler(map[string]debugapi.StatusCheck{
		"start_time": debugapi.ServerStartTime,
	}).Routes())
	s.mux.Mount("/.well-known", wellknownapi.NewWellKnownHandler(s.JWKS).Routes())
	s.mux.Handle("/metrics", promhttp.Handler())

	return s, nil
}

// CreateDomain registers a rotation policy for the domain and, if the
// domain has no key yet, generates its first key pair and makes it
// active.
func (s *Service) CreateDomain(ctx context.Context, domain string, rotationInterval time.Duration) error {
	const op = errors.Op("keyturn.CreateDomain")

	d, err := keycrypto.NormalizeDomain(domain)
	if err != nil {
		return errors.E(op, err)
	}
	if rotationInterval <= 0 {
		return errors.E(op, errors.CodeBadRequest, "rotation interval must be positive")
	}
	err = s.Database.SetPolicy(ctx, policy.Policy{
		Domain:           d,
		RotationInterval: rotationInterval,
		NextRotation:     s.clock.Now().Add(rotationInterval),
	})
	if err != nil {
		return errors.E(op, err)
	}

	active, err := s.Resolver.ActiveKID(d)
	if err != nil {
		return errors.E(op, err)
	}
	if active != "" {
		return nil
	}
	kid, err := s.Generator.Generate(ctx, d)
	if err != nil {
		return errors.E(op, err)
	}
	if _, err := s.Resolver.SetActive(d, kid); err != nil {
		return errors.E(op, err)
	}
	zapctx.Info(ctx, "created domain", zap.String("domain", d), zap.String("kid", kid))
	return nil
}

// TriggerRotation rotates the given domain's key now, regardless of
// its schedule. It reports whether the domain actually rotated.
func (s *Service) TriggerRotation(ctx context.Context, domain string) (bool, error) {
	return s.Scheduler.TriggerForDomain(ctx, domain)
}

// StartRotationScheduler runs a rotation sweep every time the given
// channel ticks, until the context is cancelled.
func (s *Service) StartRotationScheduler(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			zapctx.Info(ctx, "rotation scheduler stopped")
			return nil
		case <-tick:
			summary, err := s.Scheduler.RunScheduled(ctx)
			if err != nil {
				zapctx.Error(ctx, "rotation sweep failed", zap.Error(err))
				continue
			}
			zapctx.Debug(ctx, "rotation sweep complete",
				zap.Int("success", summary.Success),
				zap.Int("failed", summary.Failed),
				zap.Int("skipped", summary.Skipped),
			)
		}
	}
}

// StartJanitor reaps expired keys every time the given channel ticks,
// until the context is cancelled.
func (s *Service) StartJanitor(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			zapctx.Info(ctx, "janitor stopped")
			return nil
		case <-tick:
			if err := s.Janitor.Reap(ctx); err != nil {
				zapctx.Error(ctx, "reap sweep failed", zap.Error(err))
			}
		}
	}
}

// Cleanup closes the service's database connection.
func (s *Service) Cleanup() {
	if err := s.Database.Close(); err != nil {
		zapctx.Error(context.Background(), "cannot close database", zap.Error(err))
	}
}

// recoverActiveKeys rebuilds the in-memory active pointers after a
// restart. Exactly one key per domain holds a private PEM, so that
// key is the active one; with several candidates the newest wins, as
// its KID sorts last.
func (s *Service) recoverActiveKeys(ctx context.Context) error {
	const op = errors.Op("keyturn.recoverActiveKeys")

	policies, err := s.Database.ListPolicies(ctx)
	if err != nil {
		return errors.E(op, err)
	}
	for _, p := range policies {
		kids, err := s.repository.ListPrivateKIDs(ctx, p.Domain)
		if err != nil {
			return errors.E(op, err)
		}
		if len(kids) == 0 {
			zapctx.Warn(ctx, "domain has no signing key", zap.String("domain", p.Domain))
			continue
		}
		if len(kids) > 1 {
			zapctx.Warn(ctx, "domain has multiple private keys, activating newest",
				zap.String("domain", p.Domain),
				zap.Int("count", len(kids)),
			)
		}
		kid := kids[len(kids)-1]
		if _, err := s.Resolver.SetActive(p.Domain, kid); err != nil {
			return errors.E(op, err)
		}
		zapctx.Info(ctx, "recovered active key",
			zap.String("domain", p.Domain),
			zap.String("kid", kid),
		)
	}
	return nil
}

func newBlobStore(ctx context.Context, p Params) (blob.Store, error) {
	if p.VaultAddress == "" {
		if p.KeyDir == "" {
			return nil, errors.E(errors.CodeServerConfiguration, "no key directory configured")
		}
		return blob.NewLocalStore(p.KeyDir)
	}

	cfg := vaultapi.DefaultConfig()
	cfg.Address = p.VaultAddress
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, errors.E(err, "cannot create vault client")
	}
	zapctx.Info(ctx, "configuring vault key storage", zap.String("address", p.VaultAddress))
	return &vault.VaultStore{
		Client:       client,
		RoleID:       p.VaultRoleID,
		RoleSecretID: p.VaultRoleSecretID,
		KVPath:       p.VaultPath,
		Prefix:       "keyturn",
	}, nil
}

func openDB(ctx context.Context, dsn string) (*gorm.DB, error) {
	zapctx.Info(ctx, "connecting database")

	var dialect gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "pgx:"):
		dialect = postgres.Open(strings.TrimPrefix(dsn, "pgx:"))
	case strings.HasPrefix(dsn, "postgres:") || strings.HasPrefix(dsn, "postgresql:"):
		dialect = postgres.Open(dsn)
	case strings.HasPrefix(dsn, "file:"):
		dialect = sqlite.Open(dsn)
	default:
		return nil, errors.E(errors.CodeServerConfiguration, "unsupported DSN")
	}
	return gorm.Open(dialect, &gorm.Config{
		Logger:         logger.GormLogger{},
		TranslateError: true,
	})
}
