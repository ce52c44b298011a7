// Package slicing resolves a slice handle — a path/URI, an in-memory
// dataset, or a user-supplied source function — into a cube.Dataset,
// polling for its appearance when configured to do so (spec §4.4).
//
// A slice source is deliberately modeled the same way the teacher models
// a content store backend (pkg/store/content): a narrow interface with
// one primary read operation, wrapped by a retry/backoff layer rather
// than baking polling into every implementation.
package slicing

import (
	"context"

	"github.com/bcdev/zappend/pkg/cube"
)

// Handle identifies one slice to be appended: either a filesystem/URI
// path resolved through a Reader, or a Dataset already materialized in
// memory by the caller (the programmatic API's "dict-like object" case,
// spec §4.1).
type Handle struct {
	Path    string
	Dataset *cube.Dataset
}

// IsInline reports whether the handle already carries its data, bypassing
// acquisition entirely.
func (h Handle) IsInline() bool { return h.Dataset != nil }

// Reader resolves a Handle's Path into a Dataset. Implementations
// correspond to the configured slice_engine (spec §6): a plain
// filesystem/object-store reader for Zarr/NetCDF-like slice stores, or an
// adapter around a user-supplied slice_source callable.
type Reader interface {
	// Read loads the dataset at path. A path that does not yet exist
	// must return an error satisfying fsx.IsNotExist so that Acquire can
	// distinguish "not here yet" (keep polling) from a malformed slice
	// (fail immediately, spec §4.4 edge case).
	Read(ctx context.Context, path string) (*cube.Dataset, error)
}

// ReaderFunc adapts a function to a Reader, mirroring the teacher's
// handler-as-function idiom used throughout its protocol packages.
type ReaderFunc func(ctx context.Context, path string) (*cube.Dataset, error)

func (f ReaderFunc) Read(ctx context.Context, path string) (*cube.Dataset, error) {
	return f(ctx, path)
}
