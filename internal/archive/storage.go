// Package archive provides the storage abstraction behind the event archive:
// a tree of byte-identical daily file copies plus one summary artifact per
// compacted period. The summary file doubles as the sentinel that marks a
// period as durably archived, so Exists is the load-bearing operation here.
package archive

import (
	"context"
	"errors"
)

// Common errors for archive storage operations.
var (
	ErrObjectNotFound = errors.New("archive object not found")
	ErrCopyFailed     = errors.New("archive copy failed")
	ErrWriteFailed    = errors.New("archive write failed")
	ErrDeleteFailed   = errors.New("archive delete failed")
)

// Storage abstracts the archive tree. Implementations include the local
// filesystem and an in-memory fake for tests; the sentinel predicate and the
// archiver are written against this interface only.
type Storage interface {
	// Exists reports whether an object is present in the archive.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// CopyIn copies a local file into the archive at objectPath, creating
	// parent directories as needed. The copy must be byte-identical.
	CopyIn(ctx context.Context, localPath, objectPath string) error

	// WriteAtomic durably writes data to objectPath such that the object is
	// either fully absent or fully valid, never partially written.
	WriteAtomic(ctx context.Context, objectPath string, data []byte) error

	// Read returns the full contents of an archived object.
	Read(ctx context.Context, objectPath string) ([]byte, error)

	// List returns all object paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error
}
