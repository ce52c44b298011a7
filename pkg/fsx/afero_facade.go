package fsx

import (
	"context"
	"io/fs"
	"os"

	"github.com/spf13/afero"

	"github.com/bcdev/zappend/pkg/zerrors"
)

// aferoFacade adapts an afero.Fs into the Facade interface. Both the
// local backend (afero.NewOsFs) and the in-memory backend
// (afero.NewMemMapFs) share this implementation; they differ only in
// scheme name and whether Move is a true rename (both are, in fact,
// since afero.Rename delegates to os.Rename / an in-process map mutation).
type aferoFacade struct {
	fs     afero.Fs
	scheme string
	atomic bool
}

// NewLocal returns a Facade backed by the real, local filesystem.
func NewLocal() Facade {
	return &aferoFacade{fs: afero.NewOsFs(), scheme: "file", atomic: true}
}

// NewMemory returns a Facade backed by an in-process, in-memory
// filesystem. Useful for tests and for persist_mem_slices staging
// (spec §4.4).
func NewMemory() Facade {
	return &aferoFacade{fs: afero.NewMemMapFs(), scheme: "mem", atomic: true}
}

func (a *aferoFacade) Scheme() string    { return a.scheme }
func (a *aferoFacade) AtomicMove() bool  { return a.atomic }

func (a *aferoFacade) Exists(_ context.Context, p string) (bool, error) {
	ok, err := afero.Exists(a.fs, p)
	if err != nil {
		return false, zerrors.IO("exists", p, err)
	}
	return ok, nil
}

func (a *aferoFacade) IsDir(_ context.Context, p string) (bool, error) {
	info, err := a.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, zerrors.IO("is_dir", p, fs.ErrNotExist)
		}
		return false, zerrors.IO("is_dir", p, err)
	}
	return info.IsDir(), nil
}

func (a *aferoFacade) List(_ context.Context, p string) ([]string, error) {
	entries, err := afero.ReadDir(a.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, zerrors.IO("list", p, fs.ErrNotExist)
		}
		return nil, zerrors.IO("list", p, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (a *aferoFacade) Read(_ context.Context, p string) ([]byte, error) {
	data, err := afero.ReadFile(a.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, zerrors.IO("read", p, fs.ErrNotExist)
		}
		return nil, zerrors.IO("read", p, err)
	}
	return data, nil
}

func (a *aferoFacade) Write(_ context.Context, p string, data []byte, overwrite bool) error {
	if !overwrite {
		if ok, _ := afero.Exists(a.fs, p); ok {
			return zerrors.IO("write", p, os.ErrExist)
		}
	}
	if err := a.fs.MkdirAll(parentDir(p), 0o755); err != nil {
		return zerrors.IO("write", p, err)
	}
	if err := afero.WriteFile(a.fs, p, data, 0o644); err != nil {
		return zerrors.IO("write", p, err)
	}
	return nil
}

func (a *aferoFacade) Delete(_ context.Context, p string, recursive bool) error {
	var err error
	if recursive {
		err = a.fs.RemoveAll(p)
	} else {
		err = a.fs.Remove(p)
	}
	if err != nil && !os.IsNotExist(err) {
		return zerrors.IO("delete", p, err)
	}
	return nil
}

func (a *aferoFacade) Move(_ context.Context, src, dst string) error {
	if err := a.fs.MkdirAll(parentDir(dst), 0o755); err != nil {
		return zerrors.IO("move", src, err)
	}
	if err := a.fs.Rename(src, dst); err != nil {
		return zerrors.IO("move", src, err)
	}
	return nil
}

func (a *aferoFacade) MkdirAll(_ context.Context, p string) error {
	if err := a.fs.MkdirAll(p, 0o755); err != nil {
		return zerrors.IO("mkdir", p, err)
	}
	return nil
}

func parentDir(p string) string {
	dir := p
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			dir = p[:i]
			break
		}
		if i == 0 {
			dir = "."
		}
	}
	return dir
}
