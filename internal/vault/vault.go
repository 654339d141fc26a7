// Copyright 2024 Canonical.

// Package vault provides a blob store backed by a vault KV version 2
// secrets engine. Key material stored through it never touches local
// disk.
package vault

import (
	"context"
	"encoding/base64"
	goerr "errors"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"
	auth "github.com/hashicorp/vault/api/auth/approle"
	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/keyturn/internal/blob"
	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/servermon"
)

// contentKey is the secret data key the stored bytes live under.
const contentKey = "content"

// A VaultStore is a blob.Store persisting its entries as secrets in a
// vault KV version 2 engine.
type VaultStore struct {
	// Client contains the client used to communicate with the vault
	// service. This client is not modified by the store.
	Client *api.Client

	// RoleID is the AppRole role ID.
	RoleID string

	// RoleSecretID is the AppRole secret ID.
	RoleSecretID string

	// KVPath is the mount path of the KV version 2 secrets engine.
	KVPath string

	// Prefix is the path under the mount all entries live beneath.
	Prefix string

	// mu protects the fields below it.
	mu      sync.Mutex
	expires time.Time
	client_ *api.Client
}

// Put implements blob.Store. The mode carries no meaning in vault and
// is ignored; access control is the engine's policy concern.
func (s *VaultStore) Put(ctx context.Context, name string, data []byte, mode fs.FileMode) (err error) {
	const op = errors.Op("vault.Put")

	durationObserver := servermon.DurationObserver(servermon.VaultCallDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.VaultCallErrorCount, &err, string(op))

	client, err := s.client(ctx)
	if err != nil {
		return errors.E(op, err)
	}
	secret := map[string]any{
		contentKey: base64.StdEncoding.EncodeToString(data),
	}
	if _, err := client.KVv2(s.KVPath).Put(ctx, s.path(name), secret); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Get implements blob.Store.
func (s *VaultStore) Get(ctx context.Context, name string) (_ []byte, err error) {
	const op = errors.Op("vault.Get")

	durationObserver := servermon.DurationObserver(servermon.VaultCallDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.VaultCallErrorCount, &err, string(op))

	client, err := s.client(ctx)
	if err != nil {
		return nil, errors.E(op, err)
	}
	secret, err := client.KVv2(s.KVPath).Get(ctx, s.path(name))
	if err != nil && goerr.Unwrap(err) != api.ErrSecretNotFound {
		return nil, errors.E(op, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, errors.E(op, errors.CodeNotFound, name+" not found")
	}
	b64, ok := secret.Data[contentKey].(string)
	if !ok {
		return nil, errors.E(op, "invalid type for stored content")
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return data, nil
}

// Delete implements blob.Store. Metadata is deleted along with every
// version so the entry disappears from listings.
func (s *VaultStore) Delete(ctx context.Context, name string) (err error) {
	const op = errors.Op("vault.Delete")

	durationObserver := servermon.DurationObserver(servermon.VaultCallDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.VaultCallErrorCount, &err, string(op))

	client, err := s.client(ctx)
	if err != nil {
		return errors.E(op, err)
	}
	err = client.KVv2(s.KVPath).DeleteMetadata(ctx, s.path(name))
	if rerr, ok := err.(*api.ResponseError); ok && rerr.StatusCode == http.StatusNotFound {
		// Ignore the error if attempting to delete something that isn't there.
		err = nil
	}
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

// List implements blob.Store.
func (s *VaultStore) List(ctx context.Context, dir string) (_ []string, err error) {
	const op = errors.Op("vault.List")

	durationObserver := servermon.DurationObserver(servermon.VaultCallDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.VaultCallErrorCount, &err, string(op))

	client, err := s.client(ctx)
	if err != nil {
		return nil, errors.E(op, err)
	}
	secret, err := client.Logical().ListWithContext(ctx, path.Join(s.KVPath, "metadata", s.path(dir)))
	if err != nil {
		return nil, errors.E(op, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	keysI, ok := secret.Data["keys"].([]any)
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(keysI))
	for _, k := range keysI {
		name, ok := k.(string)
		if !ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// EnsureDir implements blob.Store. Vault paths have no directories so
// there is nothing to create.
func (s *VaultStore) EnsureDir(ctx context.Context, dir string) error {
	return nil
}

const ttlLeeway time.Duration = 5 * time.Second

func (s *VaultStore) client(ctx context.Context) (*api.Client, error) {
	const op = errors.Op("vault.client")

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.Before(s.expires) {
		return s.client_, nil
	}

	roleSecretID := &auth.SecretID{
		FromString: s.RoleSecretID,
	}
	appRoleAuth, err := auth.NewAppRoleAuth(
		s.RoleID,
		roleSecretID,
	)
	if err != nil {
		zapctx.Error(ctx, "unable to initialize approle auth method", zap.Error(err))
		return nil, errors.E(op, err, "unable to initialize approle auth method")
	}

	authInfo, err := s.Client.Auth().Login(ctx, appRoleAuth)
	if err != nil {
		zapctx.Error(ctx, "unable to login to approle auth method", zap.Error(err))
		return nil, errors.E(op, err, "unable to login to approle auth method")
	}
	if authInfo == nil {
		return nil, errors.E(op, "no auth info was returned after login")
	}

	ttl, err := authInfo.TokenTTL()
	if err != nil {
		return nil, errors.E(op, err)
	}
	tok, err := authInfo.TokenID()
	if err != nil {
		return nil, errors.E(op, err)
	}
	s.client_, err = s.Client.Clone()
	if err != nil {
		return nil, errors.E(op, err)
	}
	s.client_.SetToken(tok)
	s.expires = now.Add(ttl - ttlLeeway)
	return s.client_, nil
}

func (s *VaultStore) path(name string) string {
	return path.Join(s.Prefix, name)
}

var _ blob.Store = (*VaultStore)(nil)
