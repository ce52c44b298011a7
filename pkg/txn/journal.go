// Package txn implements the crash-safe transaction journal and rollback
// engine (spec §4.5). Each append opens exactly one journal directory,
// named with a fresh google/uuid, that lists every filesystem action the
// transaction intends to perform before performing it, and is deleted
// only after every action has committed. A journal left behind after a
// crash is how a later run recognizes an interrupted transaction and
// rolls it back (spec's crash-recovery scenario, §8).
package txn

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bcdev/zappend/internal/logger"
	"github.com/bcdev/zappend/pkg/fsx"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// ActionKind identifies the effect a single journal entry had, or will
// have, on the target filesystem.
type ActionKind string

const (
	// ActionAdded records that Path did not exist before and was created.
	ActionAdded ActionKind = "ADDED"
	// ActionReplaced records that Path existed and its content was
	// atomically replaced (only possible on facades where AtomicMove is
	// true; non-atomic backends decompose a replace into Added+Deleted).
	ActionReplaced ActionKind = "REPLACED"
	// ActionDeleted records that Path existed and was removed.
	ActionDeleted ActionKind = "DELETED"
)

// Action is one entry in the journal's manifest.
type Action struct {
	Kind ActionKind `json:"kind"`
	Path string     `json:"path"`
	// PriorPath is set for REPLACED/DELETED actions taken via a staged
	// temp file, recording where the previous content (if any) was
	// preserved so rollback can restore it.
	PriorPath string `json:"prior_path,omitempty"`
}

// Manifest is the journal's on-disk document: the ordered list of
// actions a transaction intends to perform, written before any of them
// execute (write-ahead), and deleted only once every action has
// committed and the transaction is durable.
type Manifest struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	TargetDir string    `json:"target_dir"`
	StartedAt time.Time `json:"started_at"`
	Actions   []Action  `json:"actions"`
	// Committed is appended-to as each action actually completes, so a
	// crash mid-transaction leaves a manifest whose Actions run ahead of
	// Committed; rollback undoes only the actions listed in Committed.
	Committed []int `json:"committed"`
}

// Journal is a single transaction's write-ahead log, rooted under
// <journalRoot>/<id>/manifest.json, where journalRoot is the configured
// temp_dir (or a default beneath the target when unset, see JournalRoot).
type Journal struct {
	fac fsx.Facade
	dir string
	man Manifest
	log *logger.Logger
}

// Kind identifies whether a transaction creates the cube fresh or
// extends an existing one (spec §4.5 manifest field "transaction kind").
type Kind string

const (
	KindCreate Kind = "CREATE"
	KindAppend Kind = "APPEND"
)

// Dir returns the transaction directory's path, under which staged
// content for REPLACED/DELETED actions is kept until commit.
func (j *Journal) Dir() string { return j.dir }

// JournalRoot returns the directory holding every transaction's journal
// for a target: tempDir if configured, otherwise a dot-directory
// co-located with the target itself.
func JournalRoot(targetDir, tempDir string) string {
	if tempDir != "" {
		return fsx.NormalizePath(tempDir) + "/zappend-txn"
	}
	return fsx.NormalizePath(targetDir) + "/.zappend/txn"
}

func manifestPath(dir string) string { return dir + "/manifest.json" }

// commitMarkerPath returns the path of the durable commit marker: once
// this file exists, the transaction is logically complete and a crash
// before the directory is actually removed must NOT trigger rollback —
// only best-effort cleanup (spec §4.5, glossary "Commit marker").
func commitMarkerPath(dir string) string { return dir + "/COMMITTED" }

// Begin creates a new journal directory under root and writes an empty
// manifest, establishing the write-ahead record before any mutating
// action runs.
func Begin(ctx context.Context, fac fsx.Facade, root, targetDir string, kind Kind, log *logger.Logger) (*Journal, error) {
	if log == nil {
		log = logger.Nop()
	}
	id := uuid.New().String()
	dir := root + "/" + id

	if err := fac.MkdirAll(ctx, dir); err != nil {
		return nil, zerrors.Transaction("create journal directory: %s", err)
	}

	j := &Journal{
		fac: fac,
		dir: dir,
		man: Manifest{ID: id, Kind: kind, TargetDir: targetDir, StartedAt: time.Now()},
		log: log,
	}
	if err := j.persist(ctx); err != nil {
		return nil, err
	}
	log.Debug("transaction opened", "id", id, "dir", dir)
	return j, nil
}

// Record appends action to the manifest and persists it before the
// action itself is performed, so that a crash between Record and the
// actual filesystem mutation still leaves an accurate intent record.
func (j *Journal) Record(ctx context.Context, action Action) (int, error) {
	j.man.Actions = append(j.man.Actions, action)
	idx := len(j.man.Actions) - 1
	if err := j.persist(ctx); err != nil {
		return 0, err
	}
	return idx, nil
}

// MarkCommitted records that the action at idx has actually completed on
// the target filesystem.
func (j *Journal) MarkCommitted(ctx context.Context, idx int) error {
	j.man.Committed = append(j.man.Committed, idx)
	return j.persist(ctx)
}

// Commit writes the durable commit marker, then removes the journal
// directory (backups and all). A crash between the two leaves a
// transaction directory containing a commit marker; Recover treats that
// as forward progress to complete, never as something to roll back
// (spec §4.5: "After the commit marker exists, forward progress is
// guaranteed even if the process dies").
func (j *Journal) Commit(ctx context.Context) error {
	if len(j.man.Committed) != len(j.man.Actions) {
		return zerrors.Internal("commit called with %d/%d actions committed", len(j.man.Committed), len(j.man.Actions))
	}
	if err := j.fac.Write(ctx, commitMarkerPath(j.dir), []byte(time.Now().UTC().Format(time.RFC3339Nano)), true); err != nil {
		return zerrors.Transaction("write commit marker %q: %s", j.dir, err)
	}
	if err := j.fac.Delete(ctx, j.dir, true); err != nil {
		return zerrors.Transaction("remove journal directory %q: %s", j.dir, err)
	}
	j.log.Debug("transaction committed", "id", j.man.ID)
	return nil
}

// StageBackup copies the current content of path into the journal's own
// backup area and returns the backup's path, for use as a REPLACED or
// DELETED action's PriorPath. Copying through Read+Write (rather than
// Move) keeps the original in place until the caller's own replace/delete
// actually happens, which is what makes the sequence safe to journal
// before it executes.
func (j *Journal) StageBackup(ctx context.Context, path string) (string, error) {
	data, err := j.fac.Read(ctx, path)
	if err != nil {
		return "", zerrors.Transaction("stage backup of %q: %s", path, err)
	}
	backupPath := j.dir + "/backups/" + strconv.Itoa(len(j.man.Actions))
	if err := j.fac.Write(ctx, backupPath, data, true); err != nil {
		return "", zerrors.Transaction("write backup of %q: %s", path, err)
	}
	return backupPath, nil
}

func (j *Journal) persist(ctx context.Context) error {
	data, err := json.MarshalIndent(j.man, "", "  ")
	if err != nil {
		return zerrors.Internal("marshal manifest: %s", err)
	}
	if err := j.fac.Write(ctx, manifestPath(j.dir), data, true); err != nil {
		return zerrors.Transaction("persist manifest: %s", err)
	}
	return nil
}
