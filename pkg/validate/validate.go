// Package validate checks an acquired slice against the cube schema before
// it is allowed into the transaction journal (spec §4.3, §4.4). A slice
// that fails validation never reaches pkg/txn: rejecting it here is what
// keeps I2 (schema stability) true for the lifetime of the cube. The
// slice's append-axis size is not compared with the cube's chunk size,
// so I1 (append-axis chunk identity) is not checked here.
package validate

import (
	"fmt"
	"math"

	"github.com/bcdev/zappend/pkg/cube"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// Slice checks ds against schema, returning a *zerrors.Error with code
// CodeSliceSchema or CodeSliceShape on the first violation found.
func Slice(ds *cube.Dataset, schema *cube.Schema) error {
	if err := checkAppendDim(ds, schema); err != nil {
		return err
	}
	if err := checkFixedDims(ds, schema); err != nil {
		return err
	}
	if err := checkVariables(ds, schema); err != nil {
		return err
	}
	return nil
}

func checkAppendDim(ds *cube.Dataset, schema *cube.Schema) error {
	size, ok := ds.Dims[schema.AppendDim]
	if !ok {
		return zerrors.SliceSchema("slice does not declare append dimension %q", schema.AppendDim)
	}
	if size <= 0 {
		return zerrors.SliceShape("append dimension %q has non-positive size %d", schema.AppendDim, size)
	}
	return nil
}

// checkFixedDims verifies every non-append dimension the slice declares
// matches the cube's established size exactly (I2: schema stability).
func checkFixedDims(ds *cube.Dataset, schema *cube.Schema) error {
	for name, size := range ds.Dims {
		if name == schema.AppendDim {
			continue
		}
		want, ok := schema.FixedDims[name]
		if !ok {
			continue // dimension unused by any kept variable
		}
		if size != want {
			return zerrors.SliceShape("dimension %q has size %d, cube requires %d", name, size, want)
		}
	}
	return nil
}

func checkVariables(ds *cube.Dataset, schema *cube.Schema) error {
	for name, schemaVar := range schema.Variables {
		sliceVar, ok := ds.Variables[name]
		if !ok {
			return zerrors.SliceSchema("slice is missing variable %q", name)
		}
		if err := checkVariable(name, sliceVar, schemaVar, schema); err != nil {
			return err
		}
	}
	return nil
}

func checkVariable(name string, sliceVar, schemaVar *cube.Variable, schema *cube.Schema) error {
	if sliceVar.Dtype != schemaVar.Dtype {
		return zerrors.SliceSchema("variable %q has dtype %q, cube requires %q", name, sliceVar.Dtype, schemaVar.Dtype)
	}
	if len(sliceVar.Dims) != len(schemaVar.Dims) {
		return zerrors.SliceShape("variable %q has %d dimensions, cube requires %d", name, len(sliceVar.Dims), len(schemaVar.Dims))
	}
	for i, d := range schemaVar.Dims {
		if sliceVar.Dims[i] != d {
			return zerrors.SliceSchema("variable %q dimension %d is %q, cube requires %q", name, i, sliceVar.Dims[i], d)
		}
	}

	// Non-append dimension sizes are already checked at the dataset level
	// by checkFixedDims. The slice's append-axis size is only checked to be
	// positive (checkAppendDim); it is not compared with the cube's chunk
	// size along that axis.

	if err := expectDataLength(name, sliceVar); err != nil {
		return err
	}
	return nil
}

// expectDataLength sanity-checks that Data is a whole number of elements
// for Dtype; a partial element means the slice handle produced malformed
// data, distinct from a slice being simply absent (spec §4.4 edge case).
func expectDataLength(name string, v *cube.Variable) error {
	if v.Data == nil {
		return nil // coordinate-only or metadata-only variable description
	}
	width, err := cube.DtypeSize(v.Dtype)
	if err != nil {
		return zerrors.SliceSchema("variable %q: %s", name, err.Error())
	}
	if len(v.Data)%width != 0 {
		return zerrors.SliceShape("variable %q data length %d is not a multiple of element width %d", name, len(v.Data), width)
	}
	return nil
}

// AppendOrder checks that a next slice whose first label is nextFirst,
// appended after a cube whose last label is currentLast, moves in the
// direction sign ("+" or "-") of a configured append_step (spec §4.3's
// ordering edge case). labels must be numeric
// coordinate values already resolved by the caller.
func AppendOrder(currentLast, nextFirst float64, sign string) error {
	switch sign {
	case "+":
		if nextFirst <= currentLast {
			return zerrors.AppendOrder(fmt.Sprintf("next slice's first label %v must be greater than the cube's last label %v", nextFirst, currentLast))
		}
	case "-":
		if nextFirst >= currentLast {
			return zerrors.AppendOrder(fmt.Sprintf("next slice's first label %v must be less than the cube's last label %v", nextFirst, currentLast))
		}
	}
	return nil
}

// appendDeltaTolerance absorbs floating-point rounding when comparing a
// label gap against a configured append_step delta; it is not a
// configurable slack in the invariant itself.
const appendDeltaTolerance = 1e-9

// AppendDelta checks the other half of I3 (spec §4.3): when append_step
// names an exact delta rather than a sign, the gap between the cube's
// last label and the next slice's first label must match delta exactly
// (within floating-point tolerance), not merely move in one direction.
func AppendDelta(currentLast, nextFirst, delta float64) error {
	gap := nextFirst - currentLast
	tolerance := appendDeltaTolerance * math.Max(1, math.Abs(delta))
	if math.Abs(gap-delta) > tolerance {
		return zerrors.AppendOrder(fmt.Sprintf("next slice's first label is %v past the cube's last label, append_step requires exactly %v", gap, delta))
	}
	return nil
}
