// Copyright 2024 Canonical.

// Package metadata manages the per-KID metadata records that track a
// key's creation and retirement. Origin records live under the key's
// domain and exist from creation until full retirement; archive
// records are domain-flat, are written at retirement and carry the
// key's expiry time.
package metadata

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/keyturn/internal/blob"
	"github.com/canonical/keyturn/internal/errors"
)

const (
	metadataRoot = "metadata/keys"
	archivedDir  = "archived"
	metaSuffix   = ".meta"

	metaFileMode = 0o644
)

// A Record is the stored metadata for a single KID.
type Record struct {
	// KID is the key identifier the record describes.
	KID string `json:"kid"`

	// Domain is the domain the key belongs to.
	Domain string `json:"domain"`

	// CreatedAt is the time the key pair was generated.
	CreatedAt time.Time `json:"createdAt"`

	// ExpiredAt is the time after which the key may be reaped. It
	// is nil until the key is retired.
	ExpiredAt *time.Time `json:"expiredAt"`
}

// Expired reports whether the record's expiry is set and strictly in
// the past relative to the given time.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiredAt != nil && r.ExpiredAt.Before(now)
}

// A Manager reads and writes metadata records through a blob store.
type Manager struct {
	store blob.Store
	clock clock.Clock
}

// NewManager returns a metadata manager persisting records in the
// given store and evaluating expiry against the given clock.
func NewManager(store blob.Store, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Manager{store: store, clock: clk}
}

// Create writes the origin record for a newly generated key. An error
// with a code of CodeAlreadyExists is returned if an origin record for
// the KID is already present.
func (m *Manager) Create(ctx context.Context, domain, kid string, createdAt time.Time) error {
	const op = errors.Op("metadata.Create")

	name := originName(domain, kid)
	if _, err := m.store.Get(ctx, name); err == nil {
		return errors.E(op, errors.CodeAlreadyExists, "origin metadata already exists for "+kid)
	} else if errors.ErrorCode(err) != errors.CodeNotFound {
		return errors.E(op, err)
	}

	r := Record{
		KID:       kid,
		Domain:    domain,
		CreatedAt: createdAt.UTC(),
	}
	if err := m.write(ctx, name, r); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Read returns the record for the given KID, consulting the origin
// record first and falling back to the archive. An error with a code
// of CodeNotFound is returned if neither exists.
func (m *Manager) Read(ctx context.Context, domain, kid string) (Record, error) {
	const op = errors.Op("metadata.Read")

	r, err := m.read(ctx, originName(domain, kid))
	if err == nil {
		return r, nil
	}
	if errors.ErrorCode(err) != errors.CodeNotFound {
		return Record{}, errors.E(op, err)
	}
	r, err = m.read(ctx, archiveName(kid))
	if err != nil {
		return Record{}, errors.E(op, err)
	}
	return r, nil
}

// AddExpiry stamps the record for the given KID with the given expiry
// time and writes it to the archive. The origin record, if present, is
// left untouched; it is removed separately when the key is fully
// retired. An error with a code of CodeNotFound is returned if the KID
// has no record at all.
func (m *Manager) AddExpiry(ctx context.Context, domain, kid string, expiresAt time.Time) (Record, error) {
	const op = errors.Op("metadata.AddExpiry")

	r, err := m.Read(ctx, domain, kid)
	if err != nil {
		return Record{}, errors.E(op, err)
	}
	expiry := expiresAt.UTC()
	r.ExpiredAt = &expiry
	if err := m.write(ctx, archiveName(kid), r); err != nil {
		return Record{}, errors.E(op, err)
	}
	zapctx.Debug(ctx, "archived key metadata",
		zap.String("kid", kid),
		zap.Time("expiredAt", expiry),
	)
	return r, nil
}

// DeleteOrigin removes the origin record for the given KID. A missing
// record is not an error.
func (m *Manager) DeleteOrigin(ctx context.Context, domain, kid string) error {
	const op = errors.Op("metadata.DeleteOrigin")

	if err := m.store.Delete(ctx, originName(domain, kid)); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// DeleteArchive removes the archive record for the given KID. A
// missing record is not an error.
func (m *Manager) DeleteArchive(ctx context.Context, kid string) error {
	const op = errors.Op("metadata.DeleteArchive")

	if err := m.store.Delete(ctx, archiveName(kid)); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// ListExpired scans the archive and returns every record whose expiry
// is strictly in the past. Records that fail to parse are logged and
// skipped so one corrupt file cannot block the reaper.
func (m *Manager) ListExpired(ctx context.Context) ([]Record, error) {
	const op = errors.Op("metadata.ListExpired")

	names, err := m.store.List(ctx, path.Join(metadataRoot, archivedDir))
	if err != nil {
		return nil, errors.E(op, err)
	}
	now := m.clock.Now()
	var expired []Record
	for _, name := range names {
		if !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		r, err := m.read(ctx, path.Join(metadataRoot, archivedDir, name))
		if err != nil {
			zapctx.Warn(ctx, "skipping unreadable archive record",
				zap.String("name", name),
				zap.Error(err),
			)
			continue
		}
		if r.Expired(now) {
			expired = append(expired, r)
		}
	}
	return expired, nil
}

func (m *Manager) read(ctx context.Context, name string) (Record, error) {
	data, err := m.store.Get(ctx, name)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, errors.E(errors.CodeUnavailable, err)
	}
	return r, nil
}

func (m *Manager) write(ctx context.Context, name string, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.E(errors.CodeUnavailable, err)
	}
	return m.store.Put(ctx, name, data, metaFileMode)
}

func originName(domain, kid string) string {
	return path.Join(metadataRoot, domain, kid+metaSuffix)
}

func archiveName(kid string) string {
	return path.Join(metadataRoot, archivedDir, kid+metaSuffix)
}
