// Copyright 2024 Canonical.

package vault_test

import (
	"context"
	"os"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/hashicorp/vault/api"

	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/vault"
)

// newVaultStore connects to the vault named in the environment, or
// skips the test when none is configured.
func newVaultStore(c *qt.C) *vault.VaultStore {
	addr := os.Getenv("KEYTURN_TEST_VAULT_ADDR")
	if addr == "" {
		c.Skip("KEYTURN_TEST_VAULT_ADDR not set")
	}
	cfg := api.DefaultConfig()
	cfg.Address = addr
	client, err := api.NewClient(cfg)
	c.Assert(err, qt.IsNil)
	return &vault.VaultStore{
		Client:       client,
		RoleID:       os.Getenv("KEYTURN_TEST_VAULT_ROLE_ID"),
		RoleSecretID: os.Getenv("KEYTURN_TEST_VAULT_ROLE_SECRET_ID"),
		KVPath:       "keyturn-test",
		Prefix:       c.Name(),
	}
}

func TestVaultStoreRoundTrip(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newVaultStore(c)

	c.Assert(s.Put(ctx, "keys/USER/public/k1.pem", []byte("public pem"), 0o644), qt.IsNil)
	data, err := s.Get(ctx, "keys/USER/public/k1.pem")
	c.Assert(err, qt.IsNil)
	c.Check(string(data), qt.Equals, "public pem")

	names, err := s.List(ctx, "keys/USER/public")
	c.Assert(err, qt.IsNil)
	c.Check(names, qt.DeepEquals, []string{"k1.pem"})

	c.Assert(s.Delete(ctx, "keys/USER/public/k1.pem"), qt.IsNil)
	_, err = s.Get(ctx, "keys/USER/public/k1.pem")
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeNotFound)

	// Deleting again is not an error.
	c.Check(s.Delete(ctx, "keys/USER/public/k1.pem"), qt.IsNil)
}
