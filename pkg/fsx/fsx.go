// Package fsx is the Path & Filesystem Facade (spec §4.1): a uniform
// capability surface — exists, list, read, write, delete, move — over
// local, in-memory, and object-store backends, each bound to its own
// per-URI storage options. The append engine (pkg/append) queries
// AtomicMove to decide whether a "replace" is journalled as a single
// REPLACED action or decomposed into DELETED+ADDED.
package fsx

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"

	"github.com/bcdev/zappend/pkg/zerrors"
)

// Facade is the capability set the core drives every backend through.
// All operations fail with a *zerrors.Error (CodeIO) carrying op and path.
type Facade interface {
	// Scheme identifies the backend kind ("file", "mem", "s3", ...), used
	// by callers that need to special-case atomicity or retry behavior.
	Scheme() string

	// AtomicMove reports whether Move is a true rename on this backend.
	// Object stores implement Move as copy+delete and return false here,
	// so the rollback engine journals replacements as ADDED+DELETED
	// instead of REPLACED (spec §4.5).
	AtomicMove() bool

	Exists(ctx context.Context, p string) (bool, error)
	IsDir(ctx context.Context, p string) (bool, error)
	List(ctx context.Context, p string) ([]string, error)
	Read(ctx context.Context, p string) ([]byte, error)
	Write(ctx context.Context, p string, data []byte, overwrite bool) error
	Delete(ctx context.Context, p string, recursive bool) error
	Move(ctx context.Context, src, dst string) error

	// MkdirAll ensures p and its parents exist. Needed before the first
	// write into a brand-new cube or transaction directory.
	MkdirAll(ctx context.Context, p string) error
}

// NormalizePath cleans p to a canonical forward-slash form ("." for an
// empty p), so that Sibling can derive the lock file path even when p
// has no parent segment (spec §4.1, "a path with no parent segment still
// yields a well-defined sibling for the lock file").
func NormalizePath(p string) string {
	if p == "" {
		return "."
	}
	cleaned := path.Clean(strings.ReplaceAll(p, `\`, "/"))
	return cleaned
}

// Sibling returns the path obtained by appending suffix to p's final path
// segment, e.g. Sibling("a/b/cube.zarr", ".lock") -> "a/b/cube.zarr.lock".
func Sibling(p, suffix string) string {
	return NormalizePath(p) + suffix
}

// IsNotExist reports whether err represents a missing path, looking
// through both zerrors.Error and plain fs.ErrNotExist causes.
func IsNotExist(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*zerrors.Error); ok && e.Cause != nil {
		return IsNotExist(e.Cause)
	}
	return errors.Is(err, fs.ErrNotExist)
}
