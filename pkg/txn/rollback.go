package txn

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bcdev/zappend/internal/logger"
	"github.com/bcdev/zappend/pkg/fsx"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// Rollback undoes every action the manifest marks as committed (actually
// applied), in reverse order, then removes the journal directory itself. Rollback is
// idempotent: re-running it against a partially-rolled-back manifest
// (e.g. because a previous rollback attempt itself crashed) only retries
// the actions that still need undoing, since each undo step tolerates
// its target already being absent.
//
// If dir already carries a commit marker, the transaction it describes
// already completed logically; Rollback degrades to plain cleanup of the
// directory rather than undoing anything (spec §4.5).
func Rollback(ctx context.Context, fac fsx.Facade, dir string, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}

	if committed, err := fac.Exists(ctx, commitMarkerPath(dir)); err != nil {
		return zerrors.Transaction("check commit marker %q: %s", dir, err)
	} else if committed {
		if err := fac.Delete(ctx, dir, true); err != nil {
			return zerrors.Transaction("remove completed journal directory %q: %s", dir, err)
		}
		log.Debug("completed transaction's journal cleaned up", "dir", dir)
		return nil
	}

	data, err := fac.Read(ctx, manifestPath(dir))
	if err != nil {
		if fsx.IsNotExist(err) {
			return nil // nothing to roll back, journal already gone
		}
		return zerrors.Transaction("read manifest %q for rollback: %s", dir, err)
	}

	var man Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return zerrors.Transaction("decode manifest %q: %s", dir, err)
	}

	committed := make(map[int]bool, len(man.Committed))
	for _, i := range man.Committed {
		committed[i] = true
	}

	var notes []string

	if man.Kind == KindCreate {
		// A CREATE transaction that never committed leaves no cube worth
		// keeping any part of; rollback deletes the target wholesale
		// rather than replaying individual action inverses (spec §4.5).
		if err := fac.Delete(ctx, man.TargetDir, true); err != nil {
			notes = append(notes, fmt.Sprintf("remove target %q: %v", man.TargetDir, err))
		}
	} else {
		for i := len(man.Actions) - 1; i >= 0; i-- {
			if !committed[i] {
				continue // never applied to the target; nothing to undo
			}
			if err := undo(ctx, fac, man.Actions[i]); err != nil {
				notes = append(notes, fmt.Sprintf("action %d (%s %s): %v", i, man.Actions[i].Kind, man.Actions[i].Path, err))
			}
		}
	}

	if err := fac.Delete(ctx, dir, true); err != nil {
		notes = append(notes, fmt.Sprintf("remove journal directory: %v", err))
	}

	if len(notes) > 0 {
		rerr := zerrors.Transaction("rollback of %q completed with %d error(s)", dir, len(notes))
		for _, n := range notes {
			rerr.AddNote(n)
		}
		return rerr
	}
	log.Debug("transaction rolled back", "dir", dir)
	return nil
}

// undo reverses a single committed action.
func undo(ctx context.Context, fac fsx.Facade, a Action) error {
	switch a.Kind {
	case ActionAdded:
		// The path was created by this transaction; removing it restores
		// the pre-transaction state.
		return fac.Delete(ctx, a.Path, true)
	case ActionDeleted:
		// The path existed before and was removed; its prior content was
		// staged at PriorPath before the delete, so move it back.
		if a.PriorPath == "" {
			return zerrors.Internal("DELETED action for %q has no staged prior content", a.Path)
		}
		exists, err := fac.Exists(ctx, a.PriorPath)
		if err != nil {
			return err
		}
		if !exists {
			return nil // already restored by an earlier rollback attempt
		}
		return fac.Move(ctx, a.PriorPath, a.Path)
	case ActionReplaced:
		// Path's content was atomically replaced; the previous content is
		// staged at PriorPath and is moved back over Path.
		if a.PriorPath == "" {
			return zerrors.Internal("REPLACED action for %q has no staged prior content", a.Path)
		}
		exists, err := fac.Exists(ctx, a.PriorPath)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		return fac.Move(ctx, a.PriorPath, a.Path)
	default:
		return zerrors.Internal("unknown action kind %q", a.Kind)
	}
}

// Recover scans root for leftover transaction journals — the signature
// of a process that crashed mid-append — and rolls each of them back.
// Called once, before a new transaction begins, unless disable_rollback
// is configured (spec §6, §8).
func Recover(ctx context.Context, fac fsx.Facade, root string, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	exists, err := fac.Exists(ctx, root)
	if err != nil {
		return zerrors.Transaction("check journal root %q: %s", root, err)
	}
	if !exists {
		return nil
	}

	ids, err := fac.List(ctx, root)
	if err != nil {
		return zerrors.Transaction("list journal root %q: %s", root, err)
	}

	for _, id := range ids {
		dir := root + "/" + id
		log.Info("recovering interrupted transaction", "dir", dir)
		if err := Rollback(ctx, fac, dir, log); err != nil {
			return err
		}
	}
	return nil
}
