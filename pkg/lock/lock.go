// Package lock implements the cube's single-writer lock (spec §4.7): a
// create-if-absent marker file that serializes concurrent append
// processes against the same target. Grounded on the teacher's
// writeContentWithRetry idiom (pkg/store/content/s3/s3_write.go) for the
// retry/backoff shape, generalized from S3 PutObject retries to lock
// acquisition polling via github.com/cenkalti/backoff/v4.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bcdev/zappend/internal/logger"
	"github.com/bcdev/zappend/pkg/fsx"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// lockSuffix names the lock file as a sibling of the target directory,
// not a marker nested inside it (spec §4.7: "Lock path = target_dir
// with suffix .lock in the same parent directory").
const lockSuffix = ".lock"

// holder is the JSON document written into the lock file, identifying
// whoever is holding it — useful for a human diagnosing TargetLocked.
type holder struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	StartedAt time.Time `json:"started_at"`
}

// Lock represents a held cube lock. Release must be called exactly once,
// typically via defer, regardless of whether the append transaction that
// follows it succeeds.
type Lock struct {
	fac  fsx.Facade
	path string
	log  *logger.Logger
}

// Options controls acquisition behavior (spec §4.7).
type Options struct {
	// FailFast, when true, returns TargetLocked immediately on contention
	// instead of waiting.
	FailFast bool
	// WaitTimeout bounds how long Acquire polls before giving up. Ignored
	// when FailFast is true.
	WaitTimeout time.Duration
	// WaitInterval is the base polling interval between attempts.
	WaitInterval time.Duration
}

// Acquire creates the lock file at targetDir, waiting according to opts
// when another writer already holds it. Neither targetDir nor its parent
// directory is checked beforehand: the target may not exist yet on a
// CREATE run, and a missing parent directory is created by the lock
// file's write on the local and in-memory backends (object stores have
// no directories).
func Acquire(ctx context.Context, fac fsx.Facade, targetDir string, opts Options, log *logger.Logger) (*Lock, error) {
	if log == nil {
		log = logger.Nop()
	}
	path := fsx.Sibling(targetDir, lockSuffix)

	if opts.FailFast {
		if err := tryCreate(ctx, fac, path); err != nil {
			return nil, err
		}
		log.Debug("lock acquired", "path", path)
		return &Lock{fac: fac, path: path, log: log}, nil
	}

	bo := backoff.NewExponentialBackOff()
	if opts.WaitInterval > 0 {
		bo.InitialInterval = opts.WaitInterval
	}
	bo.MaxElapsedTime = opts.WaitTimeout

	var lastErr error
	operation := func() error {
		lastErr = tryCreate(ctx, fac, path)
		return lastErr
	}
	notify := func(err error, d time.Duration) {
		log.Debug("lock contended, retrying", "path", path, "backoff", d, "error", err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, zerrors.Cancelled()
		}
		return nil, zerrors.TargetLocked(path, lastErr)
	}

	log.Debug("lock acquired", "path", path)
	return &Lock{fac: fac, path: path, log: log}, nil
}

// tryCreate attempts a single create-if-absent write of the lock file.
func tryCreate(ctx context.Context, fac fsx.Facade, path string) error {
	exists, err := fac.Exists(ctx, path)
	if err != nil {
		return zerrors.IO("lock", path, err)
	}
	if exists {
		return zerrors.TargetLocked(path, fmt.Errorf("lock file already present"))
	}

	host, _ := os.Hostname()
	h := holder{PID: os.Getpid(), Host: host, StartedAt: time.Now()}
	data, err := json.Marshal(h)
	if err != nil {
		return zerrors.Internal("marshal lock holder: %s", err)
	}

	if err := fac.Write(ctx, path, data, false); err != nil {
		// A write failure because the file now exists is contention, not
		// an I/O fault; everything else propagates unchanged.
		if errors.Is(err, os.ErrExist) {
			return zerrors.TargetLocked(path, err)
		}
		return err
	}
	return nil
}

// Release removes the lock file. Safe to call even if the file is
// already gone (e.g. a prior Release already ran during rollback).
func (l *Lock) Release(ctx context.Context) error {
	if err := l.fac.Delete(ctx, l.path, false); err != nil {
		return zerrors.IO("unlock", l.path, err)
	}
	l.log.Debug("lock released", "path", l.path)
	return nil
}

// Path returns the lock file's path, chiefly for diagnostics and tests.
func (l *Lock) Path() string { return l.path }
