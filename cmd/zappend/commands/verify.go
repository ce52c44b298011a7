package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bcdev/zappend/pkg/chunkstore"
	"github.com/bcdev/zappend/pkg/zerrors"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check an existing cube's invariants without modifying it",
	Long: `verify walks an existing cube's group and per-variable metadata
documents and checks the chunk-size invariant (I1: every variable's
append-axis chunk size evenly divides its current length) and the
fixed-dimension invariant (I2: every variable's non-append dimensions
agree with the cube's recorded fixed_dims), entirely read-only.

It never acquires the lock and never opens a transaction; it is outside
the append transaction's blast radius by construction.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return reportErr(err)
	}

	fac, err := buildFacade(cfg)
	if err != nil {
		return reportErr(err)
	}

	store := chunkstore.New(fac)
	ctx := cmd.Context()

	doc, err := store.ReadGroupDoc(ctx, cfg.TargetDir)
	if err != nil {
		return reportErr(zerrors.Internal("reading group document for %q: %s", cfg.TargetDir, err))
	}

	problems := 0
	for _, name := range doc.Variables {
		meta, err := store.ReadMeta(ctx, cfg.TargetDir, name)
		if err != nil {
			cmd.PrintErrf("  %s: cannot read metadata: %v\n", name, err)
			problems++
			continue
		}
		if msg := checkChunkInvariant(doc, name, meta); msg != "" {
			cmd.PrintErrf("  %s: %s\n", name, msg)
			problems++
		}
		if msg := checkFixedDimInvariant(doc, name, meta); msg != "" {
			cmd.PrintErrf("  %s: %s\n", name, msg)
			problems++
		}
	}

	if problems > 0 {
		return fmt.Errorf("verify: %d problem(s) found in %q", problems, cfg.TargetDir)
	}
	cmd.Printf("verify: %q is consistent (%d variable(s) checked)\n", cfg.TargetDir, len(doc.Variables))
	return nil
}

// checkChunkInvariant enforces I1: the append-axis chunk size must evenly
// divide the variable's current length along that axis (each append adds
// exactly one whole chunk, so a partial last chunk means the append axis
// was corrupted or hand-edited outside of zappend).
func checkChunkInvariant(doc *chunkstore.GroupDoc, name string, meta *chunkstore.VariableMeta) string {
	idx := indexOf(meta.Dims, doc.AppendDim)
	if idx < 0 {
		return "" // no append axis on this variable
	}
	if idx >= len(meta.Chunks) || idx >= len(meta.Shape) {
		return "malformed metadata: dims/chunks/shape length mismatch"
	}
	chunkSize := meta.Chunks[idx]
	if chunkSize <= 0 {
		return fmt.Sprintf("invalid append-axis chunk size %d", chunkSize)
	}
	if meta.Shape[idx]%chunkSize != 0 {
		return fmt.Sprintf("append-axis length %d is not a multiple of chunk size %d", meta.Shape[idx], chunkSize)
	}
	return ""
}

// checkFixedDimInvariant enforces I2: every non-append dimension's
// recorded shape must match the cube-wide fixed_dims entry for that name.
func checkFixedDimInvariant(doc *chunkstore.GroupDoc, name string, meta *chunkstore.VariableMeta) string {
	for i, d := range meta.Dims {
		if d == doc.AppendDim {
			continue
		}
		want, ok := doc.FixedDims[d]
		if !ok {
			continue
		}
		if i >= len(meta.Shape) {
			return "malformed metadata: dims/shape length mismatch"
		}
		if meta.Shape[i] != want {
			return fmt.Sprintf("dimension %q is %d, cube fixed_dims says %d", d, meta.Shape[i], want)
		}
	}
	return ""
}

func indexOf(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return -1
}
