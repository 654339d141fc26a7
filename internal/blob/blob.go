// Copyright 2024 Canonical.

// Package blob defines the byte-storage abstraction that key material
// and key metadata are persisted through. Stores address their content
// by slash-separated names relative to a store root and carry
// POSIX-like permission modes where the backend supports them.
package blob

import (
	"context"
	"io/fs"
)

// A Store provides namespaced byte storage for key artifacts and
// metadata records. Implementations must be safe for concurrent use.
type Store interface {
	// Put writes data under the given name, creating or replacing
	// it. The mode is applied on backends with POSIX semantics and
	// ignored elsewhere.
	Put(ctx context.Context, name string, data []byte, mode fs.FileMode) error

	// Get returns the content stored under the given name. If there
	// is no such entry an error with a code of
	// errors.CodeNotFound is returned.
	Get(ctx context.Context, name string) ([]byte, error)

	// Delete removes the entry with the given name. Deleting an
	// absent entry is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the base names of all entries directly under the
	// given directory name. A missing directory yields an empty
	// list. Two calls against the same stored state return the
	// names in the same order.
	List(ctx context.Context, dir string) ([]string, error)

	// EnsureDir creates the given directory, and any missing
	// parents, if the backend distinguishes directories. It is
	// idempotent.
	EnsureDir(ctx context.Context, dir string) error
}
