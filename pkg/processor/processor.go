// Package processor implements the outermost coordinator (spec §4.8):
// acquire the lock once, then for each slice handle in order, acquire
// its dataset, run a CREATE or APPEND transaction against it, and
// release the lock when the sequence (or the first failure) is reached.
package processor

import (
	"context"
	"fmt"

	"github.com/bcdev/zappend/internal/logger"
	"github.com/bcdev/zappend/pkg/append"
	"github.com/bcdev/zappend/pkg/chunkstore"
	"github.com/bcdev/zappend/pkg/config"
	"github.com/bcdev/zappend/pkg/cube"
	"github.com/bcdev/zappend/pkg/fsx"
	"github.com/bcdev/zappend/pkg/lock"
	"github.com/bcdev/zappend/pkg/slicing"
	"github.com/bcdev/zappend/pkg/txn"
	"github.com/bcdev/zappend/pkg/validate"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// Processor is the programmatic entry point's engine: one instance
// drives one call to Process, mirroring the spec's `process(slices,
// config, **overrides)` function (spec §6).
type Processor struct {
	fac    fsx.Facade
	reader slicing.Reader
	engine *append.Engine
	log    *logger.Logger
}

// Option configures a Processor beyond its required collaborators.
type Option func(*Processor)

// WithLogger overrides the no-op default logger.
func WithLogger(log *logger.Logger) Option {
	return func(p *Processor) { p.log = log }
}

// New builds a Processor. fac is the facade backing both the target and
// the transaction journal, wherever temp_dir places it; reader
// resolves path-based slice handles into datasets.
func New(fac fsx.Facade, reader slicing.Reader, opts ...Option) *Processor {
	log := logger.Nop()
	p := &Processor{fac: fac, reader: reader, log: log}
	for _, opt := range opts {
		opt(p)
	}
	p.engine = append.New(fac, chunkstore.New(fac), p.log)
	return p
}

// Result reports how many slices were appended and, on failure, the
// index of the one that failed — the processor's own contract ("reports
// the failing slice index and exits", spec §4.8).
type Result struct {
	Appended   int
	FailedAt   int // -1 when every slice succeeded
	FailedErr  error
}

// Process runs the top-level algorithm from spec §4.8 against handles,
// in order, under cfg.
func (p *Processor) Process(ctx context.Context, cfg *config.Config, handles []slicing.Handle) (Result, error) {
	result := Result{FailedAt: -1}

	if cfg.ForceNew {
		if err := p.forceNew(ctx, cfg); err != nil {
			return result, err
		}
	}

	journalRoot := txn.JournalRoot(cfg.TargetDir, cfg.TempDir)
	if !cfg.DisableRollback {
		if err := txn.Recover(ctx, p.fac, journalRoot, p.log); err != nil {
			return result, err
		}
	}

	lockOpts := lock.Options{
		FailFast:     cfg.LockFailFast,
		WaitTimeout:  cfg.LockWaitTimeout,
		WaitInterval: cfg.LockWaitInterval,
	}
	l, err := lock.Acquire(ctx, p.fac, cfg.TargetDir, lockOpts, p.log)
	if err != nil {
		return result, err
	}
	defer func() {
		if err := l.Release(ctx); err != nil {
			p.log.Error("failed to release lock", "error", err)
		}
	}()

	pollOpts := slicing.PollOptions{}
	if cfg.SlicePolling != nil {
		pollOpts = slicing.PollOptions{Enabled: cfg.SlicePolling.Enabled, Interval: cfg.SlicePolling.Interval, Timeout: cfg.SlicePolling.Timeout}
	}

	for i, h := range handles {
		if err := ctx.Err(); err != nil {
			result.FailedAt = i
			result.FailedErr = zerrors.Cancelled()
			return result, result.FailedErr
		}

		ds, err := slicing.Acquire(ctx, p.reader, h, pollOpts, p.log)
		if err != nil {
			result.FailedAt = i
			result.FailedErr = err
			return result, err
		}

		if err := p.processOne(ctx, cfg, i, ds); err != nil {
			result.FailedAt = i
			result.FailedErr = err
			return result, err
		}
		result.Appended++
	}

	return result, nil
}

// processOne runs exactly one CREATE or APPEND transaction, per spec
// §4.8's "if cube absent: CREATE else: APPEND".
func (p *Processor) processOne(ctx context.Context, cfg *config.Config, index int, ds *cube.Dataset) error {
	exists, err := p.engine.Exists(ctx, cfg.TargetDir)
	if err != nil {
		return fmt.Errorf("slice %d: %w", index, err)
	}

	if !exists {
		if _, err := p.engine.Create(ctx, cfg, ds); err != nil {
			return fmt.Errorf("slice %d: %w", index, err)
		}
		return nil
	}

	schema, lengths, doc, err := p.engine.Load(ctx, cfg.TargetDir)
	if err != nil {
		return fmt.Errorf("slice %d: %w", index, err)
	}

	if cfg.AppendStep != nil && cfg.AppendStep.IsSet {
		if err := checkAppendStep(schema, ds, cfg); err != nil {
			return fmt.Errorf("slice %d: %w", index, err)
		}
	}

	if err := p.engine.Append(ctx, cfg, schema, ds, lengths, doc); err != nil {
		return fmt.Errorf("slice %d: %w", index, err)
	}
	return nil
}

// forceNew destroys an existing cube and its lock before any transaction
// begins, non-transactionally (spec §4.6 edge case, §9 open question ii:
// the lock is acquired before the destructive delete).
func (p *Processor) forceNew(ctx context.Context, cfg *config.Config) error {
	lockOpts := lock.Options{FailFast: cfg.LockFailFast, WaitTimeout: cfg.LockWaitTimeout, WaitInterval: cfg.LockWaitInterval}
	l, err := lock.Acquire(ctx, p.fac, cfg.TargetDir, lockOpts, p.log)
	if err != nil {
		return err
	}
	defer func() {
		_ = l.Release(ctx)
	}()

	p.log.Warn("force_new: deleting existing cube", "target", cfg.TargetDir)
	if err := p.fac.Delete(ctx, cfg.TargetDir, true); err != nil && !fsx.IsNotExist(err) {
		return zerrors.IO("force_new", cfg.TargetDir, err)
	}
	return nil
}

// checkAppendStep enforces I3 (spec §4.3's append_step ordering rule)
// using the append coordinate variable's first/last labels, when the
// cube and slice both carry a coordinate variable named after the
// append axis.
func checkAppendStep(schema *cube.Schema, slice *cube.Dataset, cfg *config.Config) error {
	coordName := schema.AppendDim
	cubeCoord, ok1 := schema.Variables[coordName]
	sliceCoord, ok2 := slice.Variables[coordName]
	if !ok1 || !ok2 {
		return nil // no coordinate variable to order-check
	}

	lastLabel, err := cube.LastLabel(cubeCoord)
	if err != nil {
		return nil // coordinate not numeric; ordering check not applicable
	}
	firstLabel, err := cube.FirstLabel(sliceCoord)
	if err != nil {
		return nil
	}

	if cfg.AppendStep.Sign != "" {
		return validate.AppendOrder(lastLabel, firstLabel, cfg.AppendStep.Sign)
	}
	return validate.AppendDelta(lastLabel, firstLabel, cfg.AppendStep.Delta)
}
