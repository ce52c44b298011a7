package slicing

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bcdev/zappend/internal/logger"
	"github.com/bcdev/zappend/pkg/cube"
	"github.com/bcdev/zappend/pkg/fsx"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// PollOptions controls how long Acquire waits for a slice that is
// merely absent, as opposed to one that exists but fails to parse
// (spec §4.4): a malformed slice is never retried.
type PollOptions struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
}

// Acquire resolves h into a Dataset. Inline handles resolve immediately.
// Path handles are read through r; when polling is enabled and the
// target is merely absent, Acquire retries with exponential backoff up
// to Timeout before returning CodeSliceUnavailable. A read that fails
// for any reason other than "does not exist yet" is returned
// immediately without retrying, since retrying a parse error can only
// ever fail the same way again.
func Acquire(ctx context.Context, r Reader, h Handle, opts PollOptions, log *logger.Logger) (*cube.Dataset, error) {
	if log == nil {
		log = logger.Nop()
	}
	if h.IsInline() {
		return h.Dataset, nil
	}
	if r == nil {
		return nil, zerrors.Internal("slicing: no reader configured for path handle %q", h.Path)
	}

	if !opts.Enabled {
		ds, err := r.Read(ctx, h.Path)
		if err != nil {
			if fsx.IsNotExist(err) {
				return nil, zerrors.SliceUnavailable("slice %q does not exist", h.Path)
			}
			return nil, err
		}
		return ds, nil
	}

	bo := backoff.NewExponentialBackOff()
	if opts.Interval > 0 {
		bo.InitialInterval = opts.Interval
	}
	bo.MaxElapsedTime = opts.Timeout

	var ds *cube.Dataset
	var lastErr error
	operation := func() error {
		d, err := r.Read(ctx, h.Path)
		if err != nil {
			if fsx.IsNotExist(err) {
				lastErr = err
				return err // retryable: keep polling
			}
			lastErr = err
			return backoff.Permanent(err) // malformed slice: fail now
		}
		ds = d
		return nil
	}
	notify := func(err error, d time.Duration) {
		log.Debug("slice not yet available, polling", "path", h.Path, "backoff", d, "error", err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, zerrors.Cancelled()
		}
		if fsx.IsNotExist(lastErr) {
			return nil, zerrors.SliceUnavailable("timed out waiting for slice %q: %s", h.Path, lastErr)
		}
		return nil, lastErr
	}

	return ds, nil
}
