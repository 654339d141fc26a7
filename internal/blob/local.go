// Copyright 2024 Canonical.

package blob

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/servermon"
)

// dirMode is the mode used for directories created by the store.
const dirMode = 0o700

// A LocalStore is a Store backed by a directory on the local
// filesystem. Entry names map directly onto paths below the root
// directory.
type LocalStore struct {
	root string
}

// NewLocalStore returns a local filesystem store rooted at the given
// directory. The directory is created if it does not exist.
func NewLocalStore(root string) (*LocalStore, error) {
	const op = errors.Op("blob.NewLocalStore")

	if root == "" {
		return nil, errors.E(op, errors.CodeServerConfiguration, "empty storage root")
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, errors.E(op, errors.CodeUnavailable, err)
	}
	return &LocalStore{root: root}, nil
}

// Put implements Store.Put. The file is written via a temporary name
// in the same directory and renamed into place so readers never
// observe a partial write.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte, mode fs.FileMode) (err error) {
	const op = errors.Op("blob.Put")

	durationObserver := servermon.DurationObserver(servermon.BlobCallDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.BlobCallErrorCount, &err, string(op))

	path, err := s.path(op, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return errors.E(op, errors.CodeUnavailable, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.E(op, errors.CodeUnavailable, err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return errors.E(op, errors.CodeUnavailable, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.E(op, errors.CodeUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.E(op, errors.CodeUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.E(op, errors.CodeUnavailable, err)
	}
	zapctx.Debug(ctx, "wrote blob", zap.String("name", name), zap.Int("size", len(data)))
	return nil
}

// Get implements Store.Get.
func (s *LocalStore) Get(ctx context.Context, name string) (_ []byte, err error) {
	const op = errors.Op("blob.Get")

	durationObserver := servermon.DurationObserver(servermon.BlobCallDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.BlobCallErrorCount, &err, string(op))

	path, err := s.path(op, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(op, errors.CodeNotFound, err)
		}
		return nil, errors.E(op, errors.CodeUnavailable, err)
	}
	return data, nil
}

// Delete implements Store.Delete. Deleting an absent entry is not an
// error.
func (s *LocalStore) Delete(ctx context.Context, name string) (err error) {
	const op = errors.Op("blob.Delete")

	durationObserver := servermon.DurationObserver(servermon.BlobCallDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.BlobCallErrorCount, &err, string(op))

	path, err := s.path(op, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.E(op, errors.CodeUnavailable, err)
	}
	return nil
}

// List implements Store.List. Names are returned sorted so that the
// listing order is stable for a given filesystem state.
func (s *LocalStore) List(ctx context.Context, dir string) (_ []string, err error) {
	const op = errors.Op("blob.List")

	durationObserver := servermon.DurationObserver(servermon.BlobCallDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.BlobCallErrorCount, &err, string(op))

	path, err := s.path(op, dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.E(op, errors.CodeUnavailable, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// EnsureDir implements Store.EnsureDir.
func (s *LocalStore) EnsureDir(ctx context.Context, dir string) (err error) {
	const op = errors.Op("blob.EnsureDir")

	durationObserver := servermon.DurationObserver(servermon.BlobCallDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.BlobCallErrorCount, &err, string(op))

	path, err := s.path(op, dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, dirMode); err != nil {
		return errors.E(op, errors.CodeUnavailable, err)
	}
	return nil
}

// path resolves a store name to an absolute path, rejecting names
// that would escape the store root.
func (s *LocalStore) path(op errors.Op, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", errors.E(op, errors.CodeBadRequest, "invalid blob name")
	}
	return filepath.Join(s.root, clean), nil
}

var _ Store = (*LocalStore)(nil)
