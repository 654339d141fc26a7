// Copyright 2024 Canonical.

package keystore_test

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/canonical/keyturn/internal/blob"
	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/keycrypto"
	"github.com/canonical/keyturn/internal/keystore"
)

const (
	kid1 = "USER-20260109-133000-ABCDEF01"
	kid2 = "USER-20260109-133500-ABCDEF02"
)

func newRepository(c *qt.C) (*keystore.Repository, *blob.LocalStore, *keystore.CacheIndex) {
	store, err := blob.NewLocalStore(c.TempDir())
	c.Assert(err, qt.IsNil)
	index := keystore.NewCacheIndex()
	repo := keystore.NewRepository(store, keycrypto.NewRSAProvider(nil), index)
	return repo, store, index
}

func TestSaveAndReadKeyPair(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo, _, _ := newRepository(c)

	c.Assert(repo.EnsureDirs(ctx, "USER"), qt.IsNil)
	c.Assert(repo.SaveKeyPair(ctx, "USER", kid1, []byte("public pem"), []byte("private pem")), qt.IsNil)

	pub, err := repo.ReadPublicPEM(ctx, kid1)
	c.Assert(err, qt.IsNil)
	c.Check(string(pub), qt.Equals, "public pem")

	priv, err := repo.ReadPrivatePEM(ctx, kid1)
	c.Assert(err, qt.IsNil)
	c.Check(string(priv), qt.Equals, "private pem")
}

func TestReadMissingKID(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo, _, _ := newRepository(c)

	_, err := repo.ReadPublicPEM(ctx, kid1)
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeNotFound)
}

func TestReadRejectsMalformedKID(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo, _, _ := newRepository(c)

	_, err := repo.ReadPublicPEM(ctx, "not-a-kid")
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeBadRequest)
}

func TestCacheServesReadsAfterFileRemoval(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo, store, _ := newRepository(c)

	c.Assert(repo.SaveKeyPair(ctx, "USER", kid1, []byte("public pem"), []byte("private pem")), qt.IsNil)
	_, err := repo.ReadPublicPEM(ctx, kid1)
	c.Assert(err, qt.IsNil)

	// Remove the file behind the repository's back. The cache is
	// authoritative for the process, so the read still succeeds.
	c.Assert(store.Delete(ctx, "keys/USER/public/"+kid1+".pem"), qt.IsNil)

	pub, err := repo.ReadPublicPEM(ctx, kid1)
	c.Assert(err, qt.IsNil)
	c.Check(string(pub), qt.Equals, "public pem")
}

func TestCacheIndexInvalidateDropsCachedPEM(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo, store, index := newRepository(c)

	c.Assert(repo.SaveKeyPair(ctx, "USER", kid1, []byte("public pem"), []byte("private pem")), qt.IsNil)
	_, err := repo.ReadPublicPEM(ctx, kid1)
	c.Assert(err, qt.IsNil)

	c.Assert(store.Delete(ctx, "keys/USER/public/"+kid1+".pem"), qt.IsNil)
	index.Invalidate(kid1)

	_, err = repo.ReadPublicPEM(ctx, kid1)
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeNotFound)
}

func TestDeleteEvictsCache(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo, _, _ := newRepository(c)

	c.Assert(repo.SaveKeyPair(ctx, "USER", kid1, []byte("public pem"), []byte("private pem")), qt.IsNil)
	_, err := repo.ReadPrivatePEM(ctx, kid1)
	c.Assert(err, qt.IsNil)

	c.Assert(repo.DeletePrivate(ctx, kid1), qt.IsNil)
	_, err = repo.ReadPrivatePEM(ctx, kid1)
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeNotFound)

	// Deleting again is not an error.
	c.Check(repo.DeletePrivate(ctx, kid1), qt.IsNil)
}

func TestListKIDs(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo, store, _ := newRepository(c)

	c.Assert(repo.SaveKeyPair(ctx, "USER", kid2, []byte("pub2"), []byte("priv2")), qt.IsNil)
	c.Assert(repo.SaveKeyPair(ctx, "USER", kid1, []byte("pub1"), []byte("priv1")), qt.IsNil)

	// A stray non-PEM file is ignored.
	c.Assert(store.Put(ctx, "keys/USER/public/README", []byte("x"), 0o644), qt.IsNil)

	kids, err := repo.ListPublicKIDs(ctx, "USER")
	c.Assert(err, qt.IsNil)
	c.Check(kids, qt.DeepEquals, []string{kid1, kid2})

	kids, err = repo.ListPrivateKIDs(ctx, "USER")
	c.Assert(err, qt.IsNil)
	c.Check(kids, qt.DeepEquals, []string{kid1, kid2})

	kids, err = repo.ListPublicKIDs(ctx, "EMPTY")
	c.Assert(err, qt.IsNil)
	c.Check(kids, qt.HasLen, 0)
}

func TestMemoryRegistry(t *testing.T) {
	c := qt.New(t)
	r := keystore.NewMemoryRegistry()

	c.Check(r.GetActive("USER"), qt.Equals, "")
	c.Check(r.SetActive("USER", kid1), qt.Equals, kid1)
	c.Check(r.GetActive("USER"), qt.Equals, kid1)

	// Last writer wins.
	c.Check(r.SetActive("USER", kid2), qt.Equals, kid2)
	c.Check(r.GetActive("USER"), qt.Equals, kid2)

	r.ClearActive("USER")
	c.Check(r.GetActive("USER"), qt.Equals, "")

	r.SetActive("USER", kid1)
	r.SetActive("ORDER", kid2)
	r.ClearAll()
	c.Check(r.GetActive("USER"), qt.Equals, "")
	c.Check(r.GetActive("ORDER"), qt.Equals, "")
}

func TestResolver(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	repo, _, _ := newRepository(c)
	registry := keystore.NewMemoryRegistry()
	resolver := keystore.NewResolver(registry, repo)

	c.Assert(repo.SaveKeyPair(ctx, "USER", kid1, []byte("public pem"), []byte("private pem")), qt.IsNil)

	// Domain input is normalized on every entry.
	kid, err := resolver.ActiveKID(" user ")
	c.Assert(err, qt.IsNil)
	c.Check(kid, qt.Equals, "")

	_, err = resolver.SigningKey(ctx, "user")
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeNoActiveKey)

	_, err = resolver.SetActive(" user ", kid1)
	c.Assert(err, qt.IsNil)

	kid, err = resolver.ActiveKID("USER")
	c.Assert(err, qt.IsNil)
	c.Check(kid, qt.Equals, kid1)

	pem, err := resolver.SigningKey(ctx, "user")
	c.Assert(err, qt.IsNil)
	c.Check(string(pem), qt.Equals, "private pem")

	c.Assert(resolver.ClearActive("user"), qt.IsNil)
	kid, err = resolver.ActiveKID("USER")
	c.Assert(err, qt.IsNil)
	c.Check(kid, qt.Equals, "")

	_, err = resolver.ActiveKID("")
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeBadRequest)
}
