// Copyright 2024 Canonical.

package blob_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/canonical/keyturn/internal/blob"
	"github.com/canonical/keyturn/internal/errors"
)

func newStore(c *qt.C) *blob.LocalStore {
	s, err := blob.NewLocalStore(c.TempDir())
	c.Assert(err, qt.IsNil)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newStore(c)

	err := s.Put(ctx, "keys/USER/public/a.pem", []byte("pem data"), 0o644)
	c.Assert(err, qt.IsNil)

	data, err := s.Get(ctx, "keys/USER/public/a.pem")
	c.Assert(err, qt.IsNil)
	c.Check(string(data), qt.Equals, "pem data")
}

func TestPutAppliesMode(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	dir := c.TempDir()
	s, err := blob.NewLocalStore(dir)
	c.Assert(err, qt.IsNil)

	err = s.Put(ctx, "keys/USER/private/a.pem", []byte("secret"), 0o600)
	c.Assert(err, qt.IsNil)

	info, err := os.Stat(filepath.Join(dir, "keys", "USER", "private", "a.pem"))
	c.Assert(err, qt.IsNil)
	c.Check(info.Mode().Perm(), qt.Equals, os.FileMode(0o600))
}

func TestGetNotFound(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newStore(c)

	_, err := s.Get(ctx, "keys/USER/public/missing.pem")
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newStore(c)

	err := s.Put(ctx, "keys/USER/public/a.pem", []byte("pem"), 0o644)
	c.Assert(err, qt.IsNil)

	c.Assert(s.Delete(ctx, "keys/USER/public/a.pem"), qt.IsNil)
	c.Assert(s.Delete(ctx, "keys/USER/public/a.pem"), qt.IsNil)

	_, err = s.Get(ctx, "keys/USER/public/a.pem")
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeNotFound)
}

func TestListSortedAndStable(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newStore(c)

	c.Assert(s.Put(ctx, "keys/USER/public/b.pem", []byte("b"), 0o644), qt.IsNil)
	c.Assert(s.Put(ctx, "keys/USER/public/a.pem", []byte("a"), 0o644), qt.IsNil)

	names, err := s.List(ctx, "keys/USER/public")
	c.Assert(err, qt.IsNil)
	c.Check(names, qt.DeepEquals, []string{"a.pem", "b.pem"})

	again, err := s.List(ctx, "keys/USER/public")
	c.Assert(err, qt.IsNil)
	c.Check(again, qt.DeepEquals, names)
}

func TestListMissingDirectory(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newStore(c)

	names, err := s.List(ctx, "keys/NOPE/public")
	c.Assert(err, qt.IsNil)
	c.Check(names, qt.HasLen, 0)
}

func TestEnsureDirIdempotent(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newStore(c)

	c.Assert(s.EnsureDir(ctx, "keys/USER/private"), qt.IsNil)
	c.Assert(s.EnsureDir(ctx, "keys/USER/private"), qt.IsNil)
}

func TestRejectsEscapingNames(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newStore(c)

	_, err := s.Get(ctx, "../outside")
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeBadRequest)

	err = s.Put(ctx, "/abs/path", []byte("x"), 0o644)
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeBadRequest)
}
