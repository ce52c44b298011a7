// Package append implements the Append Engine state machine (spec
// §4.6): INIT → OPENED → VALIDATED → JOURNALED → WRITTEN → COMMITTED, or
// ROLLED_BACK from any non-terminal state on failure. It is the one
// package that drives every other core package — cube, validate,
// chunkstore, txn — against a single slice.
package append

import (
	"context"
	"sort"

	"github.com/bcdev/zappend/internal/logger"
	"github.com/bcdev/zappend/pkg/chunkstore"
	"github.com/bcdev/zappend/pkg/config"
	"github.com/bcdev/zappend/pkg/cube"
	"github.com/bcdev/zappend/pkg/eval"
	"github.com/bcdev/zappend/pkg/fsx"
	"github.com/bcdev/zappend/pkg/txn"
	"github.com/bcdev/zappend/pkg/validate"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// Engine drives the append transaction state machine against one target.
type Engine struct {
	fac   fsx.Facade
	store *chunkstore.Store
	log   *logger.Logger
}

// New returns an Engine writing through fac via store.
func New(fac fsx.Facade, store *chunkstore.Store, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{fac: fac, store: store, log: log}
}

// Exists reports whether a cube already exists at cfg.TargetDir,
// distinguishing the CREATE path from the APPEND path (spec §4.8).
func (e *Engine) Exists(ctx context.Context, targetDir string) (bool, error) {
	return e.store.Exists(ctx, targetDir)
}

func journalRoot(cfg *config.Config) string { return txn.JournalRoot(cfg.TargetDir, cfg.TempDir) }

// Create runs the CREATE transaction: derive the cube schema from the
// first slice, write every variable's initial chunk and metadata, and
// write the group document (spec §4.6 CREATE path).
func (e *Engine) Create(ctx context.Context, cfg *config.Config, first *cube.Dataset) (*cube.Schema, error) {
	if cfg.DryRun {
		e.log.Info("dry-run: would create cube", "target", cfg.TargetDir)
		return cube.DeriveSchema(first, cfg)
	}

	schema, err := cube.DeriveSchema(first, cfg)
	if err != nil {
		return nil, err
	}

	j, err := txn.Begin(ctx, e.fac, journalRoot(cfg), cfg.TargetDir, txn.KindCreate, e.log)
	if err != nil {
		return nil, err
	}

	if err := e.writeVariables(ctx, j, cfg.TargetDir, schema, first, nil); err != nil {
		e.rollbackOnFailure(ctx, j)
		return nil, err
	}

	attrs, err := mergeCreateAttrs(first, cfg)
	if err != nil {
		e.rollbackOnFailure(ctx, j)
		return nil, err
	}

	doc := chunkstore.GroupDoc{
		AppendDim: schema.AppendDim,
		FixedDims: schema.FixedDims,
		Attrs:     attrs,
		Variables: sortedVariableNames(schema),
	}
	if _, err := j.Record(ctx, txn.Action{Kind: txn.ActionAdded, Path: e.store.GroupDocPath(cfg.TargetDir)}); err != nil {
		e.rollbackOnFailure(ctx, j)
		return nil, err
	}
	if err := e.store.WriteGroupDoc(ctx, cfg.TargetDir, doc); err != nil {
		e.rollbackOnFailure(ctx, j)
		return nil, err
	}

	if err := j.Commit(ctx); err != nil {
		return nil, err
	}
	e.log.Info("cube created", "target", cfg.TargetDir)
	return schema, nil
}

// Load reconstructs a cube's schema, each variable's current append-axis
// length, and its group document by reading back what Create/Append
// persisted — the read side of the APPEND path's step 1 ("open existing
// cube in read mode to obtain current K and current append-axis length
// N per variable", spec §4.6).
func (e *Engine) Load(ctx context.Context, targetDir string) (*cube.Schema, map[string]int, *chunkstore.GroupDoc, error) {
	doc, err := e.store.ReadGroupDoc(ctx, targetDir)
	if err != nil {
		return nil, nil, nil, zerrors.IO("load", targetDir, err)
	}

	schema := &cube.Schema{AppendDim: doc.AppendDim, FixedDims: doc.FixedDims, Variables: map[string]*cube.Variable{}}
	lengths := make(map[string]int, len(doc.Variables))

	for _, name := range doc.Variables {
		meta, err := e.store.ReadMeta(ctx, targetDir, name)
		if err != nil {
			return nil, nil, nil, zerrors.IO("load", name, err)
		}
		v := &cube.Variable{
			Name:        name,
			Dims:        meta.Dims,
			Dtype:       meta.Dtype,
			Chunks:      meta.Chunks,
			FillValue:   meta.FillValue,
			ScaleFactor: meta.ScaleFactor,
			AddOffset:   meta.AddOffset,
			Units:       meta.Units,
			Calendar:    meta.Calendar,
			Compressor:  meta.Compressor,
			Filters:     meta.Filters,
			Attrs:       meta.Attrs,
		}
		schema.Variables[name] = v

		idx := v.AppendAxisIndex(schema.AppendDim)
		if idx < 0 || idx >= len(meta.Shape) {
			continue
		}
		lengths[name] = meta.Shape[idx]

		if v.IsCoordinate() {
			// The append-order check (I3) only ever needs the cube's most
			// recent label, which lives in the last chunk written along
			// the append axis; load just that chunk rather than the
			// coordinate's entire history.
			data, err := e.lastChunkData(ctx, targetDir, schema, v, meta)
			if err != nil {
				return nil, nil, nil, err
			}
			v.Data = data
		}
	}

	return schema, lengths, doc, nil
}

// lastChunkData reads the most recently written chunk of a coordinate
// variable, used to recover its current upper bound for ordering checks.
func (e *Engine) lastChunkData(ctx context.Context, targetDir string, schema *cube.Schema, v *cube.Variable, meta *chunkstore.VariableMeta) ([]byte, error) {
	appendIdx := v.AppendAxisIndex(schema.AppendDim)
	resolved := schema.ResolveChunks(v)
	chunkSize := resolved[appendIdx]
	if chunkSize <= 0 || meta.Shape[appendIdx] == 0 {
		return nil, nil
	}
	chunkIndex := make([]int, len(v.Dims))
	chunkIndex[appendIdx] = meta.Shape[appendIdx]/chunkSize - 1
	data, err := e.store.ReadChunk(ctx, targetDir, v.Name, chunkIndex, v.Compressor)
	if err != nil {
		if fsx.IsNotExist(err) {
			return nil, nil // sparse store: an all-fill-value chunk is never written
		}
		return nil, zerrors.IO("load_coordinate", v.Name, err)
	}
	return data, nil
}

// Append runs the APPEND transaction against an existing cube (spec
// §4.6 APPEND path). schema and currentLengths (per-variable append-axis
// length before this slice) are read back by the caller from the
// existing cube's metadata.
func (e *Engine) Append(ctx context.Context, cfg *config.Config, schema *cube.Schema, slice *cube.Dataset, currentLengths map[string]int, doc *chunkstore.GroupDoc) error {
	if err := validate.Slice(slice, schema); err != nil {
		return err
	}

	if cfg.DryRun {
		e.log.Info("dry-run: would append slice", "target", cfg.TargetDir)
		return nil
	}

	j, err := txn.Begin(ctx, e.fac, journalRoot(cfg), cfg.TargetDir, txn.KindAppend, e.log)
	if err != nil {
		return err
	}

	if err := e.writeVariables(ctx, j, cfg.TargetDir, schema, slice, currentLengths); err != nil {
		e.rollbackOnFailure(ctx, j)
		return err
	}

	attrs, err := mergeAppendAttrs(schema, doc.Attrs, slice, cfg)
	if err != nil {
		e.rollbackOnFailure(ctx, j)
		return err
	}
	newDoc := chunkstore.GroupDoc{
		AppendDim: schema.AppendDim,
		FixedDims: schema.FixedDims,
		Attrs:     attrs,
		Variables: sortedVariableNames(schema),
	}
	if err := e.journalReplace(ctx, j, e.store.GroupDocPath(cfg.TargetDir), func() error {
		return e.store.WriteGroupDoc(ctx, cfg.TargetDir, newDoc)
	}); err != nil {
		e.rollbackOnFailure(ctx, j)
		return err
	}

	if err := j.Commit(ctx); err != nil {
		return err
	}
	e.log.Info("slice appended", "target", cfg.TargetDir)
	return nil
}

// writeVariables writes one new chunk plus an updated metadata document
// for every variable in schema, using slice's data (spec §4.6 step 4).
// currentLengths is nil on CREATE (every variable starts at length 0).
func (e *Engine) writeVariables(ctx context.Context, j *txn.Journal, targetDir string, schema *cube.Schema, slice *cube.Dataset, currentLengths map[string]int) error {
	for _, name := range sortedVariableNames(schema) {
		v := schema.Variables[name]
		sliceVar := slice.Variables[name]

		appendIdx := v.AppendAxisIndex(schema.AppendDim)
		current := currentLengths[name] // zero value on CREATE

		resolved := schema.ResolveChunks(v)
		chunkSize := 0
		if appendIdx >= 0 {
			chunkSize = resolved[appendIdx]
		} else if currentLengths != nil {
			continue // a variable without the append axis is written once, on CREATE
		}

		shape, err := v.Shape(mergedDims(schema, slice, current+chunkSize))
		if err != nil {
			return err
		}

		chunkIndex := make([]int, len(v.Dims))
		if chunkSize > 0 {
			chunkIndex[appendIdx] = current / chunkSize
		}

		if isAllFillValue(sliceVar, v.FillValue) {
			// Sparse store: a chunk wholly equal to the fill value is
			// never written (spec §4.6 edge-case policy).
			e.log.Debug("skipping all-fill-value chunk", "variable", name)
		} else {
			path := e.store.ChunkPath(targetDir, name, chunkIndex)
			if _, err := j.Record(ctx, txn.Action{Kind: txn.ActionAdded, Path: path}); err != nil {
				return err
			}
			if err := e.store.WriteChunk(ctx, targetDir, name, chunkIndex, sliceVar.Data, v.Compressor, current == 0); err != nil {
				return err
			}
		}

		metaPath := e.store.MetaPath(targetDir, name)
		if current == 0 {
			if _, err := j.Record(ctx, txn.Action{Kind: txn.ActionAdded, Path: metaPath}); err != nil {
				return err
			}
			if err := e.store.WriteMeta(ctx, targetDir, schema, v, shape); err != nil {
				return err
			}
		} else {
			if err := e.journalReplace(ctx, j, metaPath, func() error {
				return e.store.WriteMeta(ctx, targetDir, schema, v, shape)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// journalReplace stages path's existing content as a backup, records a
// REPLACED action (or an ADDED+DELETED pair when the facade can't
// guarantee an atomic rename, spec §4.5), then runs write.
func (e *Engine) journalReplace(ctx context.Context, j *txn.Journal, path string, write func() error) error {
	backup, err := j.StageBackup(ctx, path)
	if err != nil {
		return err
	}
	if !e.fac.AtomicMove() {
		if _, err := j.Record(ctx, txn.Action{Kind: txn.ActionDeleted, Path: path, PriorPath: backup}); err != nil {
			return err
		}
		if _, err := j.Record(ctx, txn.Action{Kind: txn.ActionAdded, Path: path}); err != nil {
			return err
		}
		return write()
	}
	if _, err := j.Record(ctx, txn.Action{Kind: txn.ActionReplaced, Path: path, PriorPath: backup}); err != nil {
		return err
	}
	return write()
}

// rollbackOnFailure undoes a transaction that failed before commit. Its
// own failure is only logged: it is not attached to the error that
// Create/Append return, which is always the original error, unchanged.
func (e *Engine) rollbackOnFailure(ctx context.Context, j *txn.Journal) {
	if err := txn.Rollback(ctx, e.fac, j.Dir(), e.log); err != nil {
		e.log.Error("rollback failed after transaction error", "dir", j.Dir(), "error", err)
	}
}

func sortedVariableNames(schema *cube.Schema) []string {
	names := make([]string, 0, len(schema.Variables))
	for name := range schema.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mergedDims(schema *cube.Schema, slice *cube.Dataset, newAppendLength int) map[string]int {
	dims := make(map[string]int, len(schema.FixedDims)+1)
	for k, v := range schema.FixedDims {
		dims[k] = v
	}
	dims[schema.AppendDim] = newAppendLength
	for k, v := range slice.Dims {
		if k == schema.AppendDim {
			continue
		}
		dims[k] = v
	}
	return dims
}

// isAllFillValue reports whether v's data is wholly equal to fill, the
// cube's fill value for the variable. Only a zero-valued fill is
// recognized; a chunk equal to a non-zero fill_value is written like any
// other.
func isAllFillValue(v *cube.Variable, fill any) bool {
	if v.Data == nil || fill == nil {
		return false
	}
	var zeroFill bool
	switch f := fill.(type) {
	case float64:
		zeroFill = f == 0
	case float32:
		zeroFill = f == 0
	case int:
		zeroFill = f == 0
	}
	if !zeroFill {
		return false
	}
	width, err := cube.DtypeSize(v.Dtype)
	if err != nil || width == 0 {
		return false
	}
	zero := make([]byte, width)
	for i := 0; i+width <= len(v.Data); i += width {
		for b := 0; b < width; b++ {
			if v.Data[i+b] != zero[b] {
				return false
			}
		}
	}
	return true
}

// buildEvalArrays resolves the named-array bounds permit_eval expressions
// may reference (spec §4.6/§9: lower_bound(array, ref)/upper_bound(array,
// ref)). upper always comes from slice, the freshly-acquired data. lower
// prefers existing's own coordinate data when the cube already has one
// (an APPEND, where existing carries the last chunk written so far — the
// same "last chunk only, not full history" approximation Load already
// makes for the I3 ordering check); on CREATE, existing is nil and slice
// is the only data there is, so its own first label is exact.
func buildEvalArrays(existing *cube.Schema, slice *cube.Dataset) map[string]eval.Bounds {
	arrays := make(map[string]eval.Bounds, len(slice.Variables))
	for name, sliceVar := range slice.Variables {
		if !sliceVar.IsCoordinate() {
			continue
		}
		upper, err := cube.LastLabel(sliceVar)
		if err != nil {
			continue
		}
		lower := upper
		if first, err := cube.FirstLabel(sliceVar); err == nil {
			lower = first
		}
		if existing != nil {
			if existingVar, ok := existing.Variables[name]; ok {
				if first, err := cube.FirstLabel(existingVar); err == nil {
					lower = first
				}
			}
		}
		arrays[name] = eval.Bounds{Lower: lower, Upper: upper}
	}
	return arrays
}

func mergeCreateAttrs(first *cube.Dataset, cfg *config.Config) (map[string]any, error) {
	merged := make(map[string]any, len(first.Attrs)+len(cfg.Attrs))
	for k, v := range first.Attrs {
		merged[k] = v
	}
	for k, v := range cfg.Attrs {
		merged[k] = v
	}
	if !cfg.PermitEval {
		return merged, nil
	}
	evalCtx := eval.Context{Arrays: buildEvalArrays(nil, first)}
	evaluated, err := eval.EvalAttrs(merged, evalCtx)
	if err != nil {
		return nil, zerrors.Config("%s", err)
	}
	return evaluated, nil
}

// mergeAppendAttrs applies attrs_update_mode ∈ {keep, replace, update,
// ignore} against the cube's existing group attributes, then merges in
// configuration attrs (spec §4.6 step 6). "replace" is treated as whole-
// object replacement: keys present only in the old attrs are dropped
// (SPEC_FULL §D, resolving the open question about replace's scope).
func mergeAppendAttrs(schema *cube.Schema, existing map[string]any, slice *cube.Dataset, cfg *config.Config) (map[string]any, error) {
	var base map[string]any
	switch cfg.AttrsUpdateMode {
	case "", "keep":
		base = cloneAttrs(existing)
	case "replace":
		base = cloneAttrs(slice.Attrs)
	case "update":
		base = cloneAttrs(existing)
		for k, v := range slice.Attrs {
			base[k] = v
		}
	case "ignore":
		base = map[string]any{}
	default:
		return nil, zerrors.Config("unknown attrs_update_mode %q", cfg.AttrsUpdateMode)
	}

	for k, v := range cfg.Attrs {
		base[k] = v
	}

	if !cfg.PermitEval {
		return base, nil
	}
	evalCtx := eval.Context{Arrays: buildEvalArrays(schema, slice)}
	evaluated, err := eval.EvalAttrs(base, evalCtx)
	if err != nil {
		return nil, zerrors.Config("%s", err)
	}
	return evaluated, nil
}

func cloneAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
