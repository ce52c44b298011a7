package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcdev/zappend/pkg/fsx"
)

func TestRollback_AppendKind_UndoesAddedAndReplacedInReverse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()

	j, err := Begin(ctx, fac, "root", "cube.zarr", KindAppend, nil)
	require.NoError(t, err)

	// Action 0: a brand new chunk file is added.
	require.NoError(t, fac.Write(ctx, "cube.zarr/temp/1", []byte("new"), false))
	i0, err := j.Record(ctx, Action{Kind: ActionAdded, Path: "cube.zarr/temp/1"})
	require.NoError(t, err)
	require.NoError(t, j.MarkCommitted(ctx, i0))

	// Action 1: an existing chunk is replaced; prior content staged first.
	require.NoError(t, fac.Write(ctx, "cube.zarr/temp/0", []byte("old"), false))
	backup, err := j.StageBackup(ctx, "cube.zarr/temp/0")
	require.NoError(t, err)
	require.NoError(t, fac.Write(ctx, "cube.zarr/temp/0", []byte("new-value"), true))
	i1, err := j.Record(ctx, Action{Kind: ActionReplaced, Path: "cube.zarr/temp/0", PriorPath: backup})
	require.NoError(t, err)
	require.NoError(t, j.MarkCommitted(ctx, i1))

	require.NoError(t, Rollback(ctx, fac, j.Dir(), nil))

	// The added chunk must be gone.
	ok, err := fac.Exists(ctx, "cube.zarr/temp/1")
	require.NoError(t, err)
	assert.False(t, ok)

	// The replaced chunk must be restored to its prior content.
	data, err := fac.Read(ctx, "cube.zarr/temp/0")
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	// The journal directory itself is gone.
	ok, err = fac.Exists(ctx, j.Dir())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRollback_AppendKind_RestoresDeletedAction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()

	j, err := Begin(ctx, fac, "root", "cube.zarr", KindAppend, nil)
	require.NoError(t, err)

	require.NoError(t, fac.Write(ctx, "cube.zarr/stale", []byte("keep-me"), false))
	backup, err := j.StageBackup(ctx, "cube.zarr/stale")
	require.NoError(t, err)
	require.NoError(t, fac.Delete(ctx, "cube.zarr/stale", false))
	idx, err := j.Record(ctx, Action{Kind: ActionDeleted, Path: "cube.zarr/stale", PriorPath: backup})
	require.NoError(t, err)
	require.NoError(t, j.MarkCommitted(ctx, idx))

	require.NoError(t, Rollback(ctx, fac, j.Dir(), nil))

	data, err := fac.Read(ctx, "cube.zarr/stale")
	require.NoError(t, err)
	assert.Equal(t, "keep-me", string(data))
}

func TestRollback_AppendKind_SkipsActionsNeverCommitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()

	j, err := Begin(ctx, fac, "root", "cube.zarr", KindAppend, nil)
	require.NoError(t, err)

	// Recorded (write-ahead) but the actual filesystem write never
	// happened before the crash, so it's not in Committed.
	_, err = j.Record(ctx, Action{Kind: ActionAdded, Path: "cube.zarr/temp/never-written"})
	require.NoError(t, err)

	require.NoError(t, Rollback(ctx, fac, j.Dir(), nil))

	ok, err := fac.Exists(ctx, "cube.zarr/temp/never-written")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRollback_CreateKind_DeletesTargetWholesale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()

	j, err := Begin(ctx, fac, "root", "cube.zarr", KindCreate, nil)
	require.NoError(t, err)

	require.NoError(t, fac.Write(ctx, "cube.zarr/temp/0", []byte("x"), false))
	require.NoError(t, fac.Write(ctx, "cube.zarr/.zgroup.json", []byte("{}"), false))
	i0, err := j.Record(ctx, Action{Kind: ActionAdded, Path: "cube.zarr/temp/0"})
	require.NoError(t, err)
	require.NoError(t, j.MarkCommitted(ctx, i0))

	require.NoError(t, Rollback(ctx, fac, j.Dir(), nil))

	ok, err := fac.Exists(ctx, "cube.zarr")
	require.NoError(t, err)
	assert.False(t, ok, "CREATE rollback removes the whole target directory")
}

func TestRollback_SkipsUndoWhenCommitMarkerPresent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()

	j, err := Begin(ctx, fac, "root", "cube.zarr", KindAppend, nil)
	require.NoError(t, err)

	require.NoError(t, fac.Write(ctx, "cube.zarr/temp/0", []byte("x"), false))
	idx, err := j.Record(ctx, Action{Kind: ActionAdded, Path: "cube.zarr/temp/0"})
	require.NoError(t, err)
	require.NoError(t, j.MarkCommitted(ctx, idx))

	// Simulate a crash between writing the commit marker and removing the
	// journal directory: write the marker directly without calling Commit,
	// leaving the manifest (and its ADDED action) in place too.
	require.NoError(t, fac.Write(ctx, commitMarkerPath(j.Dir()), []byte("done"), true))

	require.NoError(t, Rollback(ctx, fac, j.Dir(), nil))

	// The commit marker branch treats the transaction as done: the action
	// must NOT be undone, only the journal directory cleaned up.
	ok, err := fac.Exists(ctx, "cube.zarr/temp/0")
	require.NoError(t, err)
	assert.True(t, ok, "committed action must survive rollback once a commit marker exists")

	ok, err = fac.Exists(ctx, j.Dir())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRollback_IsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()

	j, err := Begin(ctx, fac, "root", "cube.zarr", KindAppend, nil)
	require.NoError(t, err)

	require.NoError(t, fac.Write(ctx, "cube.zarr/temp/0", []byte("x"), false))
	idx, err := j.Record(ctx, Action{Kind: ActionAdded, Path: "cube.zarr/temp/0"})
	require.NoError(t, err)
	require.NoError(t, j.MarkCommitted(ctx, idx))

	require.NoError(t, Rollback(ctx, fac, j.Dir(), nil))
	// A second rollback attempt against the now-gone journal directory
	// must not error: the manifest read returns "not found" and Rollback
	// treats that as already-cleaned-up.
	require.NoError(t, Rollback(ctx, fac, j.Dir(), nil))
}

func TestRollback_AggregatesMultiplePartialFailuresAsNotes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()

	j, err := Begin(ctx, fac, "root", "cube.zarr", KindAppend, nil)
	require.NoError(t, err)

	// A DELETED action whose backup was never staged: undo() fails with
	// an internal error, but Rollback must still clean up and aggregate
	// rather than stopping short.
	idx, err := j.Record(ctx, Action{Kind: ActionDeleted, Path: "cube.zarr/orphan"})
	require.NoError(t, err)
	require.NoError(t, j.MarkCommitted(ctx, idx))

	err = Rollback(ctx, fac, j.Dir(), nil)
	require.Error(t, err)

	ok, err2 := fac.Exists(ctx, j.Dir())
	require.NoError(t, err2)
	assert.False(t, ok, "journal directory is still removed despite the undo failure")
}

func TestRecover_NoOpWhenRootAbsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()

	require.NoError(t, Recover(ctx, fac, "cube.zarr/.zappend/txn", nil))
}

func TestRecover_RollsBackEveryLeftoverJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()
	root := "cube.zarr/.zappend/txn"

	j1, err := Begin(ctx, fac, root, "cube.zarr", KindAppend, nil)
	require.NoError(t, err)
	require.NoError(t, fac.Write(ctx, "cube.zarr/temp/a", []byte("a"), false))
	i, err := j1.Record(ctx, Action{Kind: ActionAdded, Path: "cube.zarr/temp/a"})
	require.NoError(t, err)
	require.NoError(t, j1.MarkCommitted(ctx, i))

	j2, err := Begin(ctx, fac, root, "cube.zarr", KindAppend, nil)
	require.NoError(t, err)
	require.NoError(t, fac.Write(ctx, "cube.zarr/temp/b", []byte("b"), false))
	i, err = j2.Record(ctx, Action{Kind: ActionAdded, Path: "cube.zarr/temp/b"})
	require.NoError(t, err)
	require.NoError(t, j2.MarkCommitted(ctx, i))

	require.NoError(t, Recover(ctx, fac, root, nil))

	for _, p := range []string{"cube.zarr/temp/a", "cube.zarr/temp/b"} {
		ok, err := fac.Exists(ctx, p)
		require.NoError(t, err)
		assert.False(t, ok, "%s should have been rolled back", p)
	}

	// Recover only removes each per-transaction journal directory, not
	// the shared root; nothing should remain listed under it.
	names, err := fac.List(ctx, root)
	require.NoError(t, err)
	assert.Empty(t, names)
}
