// Package cube implements the Metadata Model (spec §4.3): deriving the
// cube schema from the first slice merged with configuration, and the
// in-memory dataset representation that both slices and cubes share.
//
// The physical correctness of numeric data is explicitly out of scope
// (spec §1 Non-goals); Variable.Data is an opaque, row-major byte buffer
// whose element width is determined by Dtype. The core never interprets
// the bytes themselves — it only slices, concatenates, and hands them to
// pkg/chunkstore, the facade standing in for the "external chunked-array
// engine" collaborator named in spec §1.
package cube

import "fmt"

// Dataset is an in-memory view of either a slice or (a subset of) a cube,
// resolved by slice acquisition (spec §4.1/§4.4) from a handle.
type Dataset struct {
	// Dims maps every dimension name appearing on any variable to its size.
	Dims map[string]int

	// Variables holds one entry per data or coordinate variable.
	Variables map[string]*Variable

	// Attrs are group-level (dataset-wide) attributes.
	Attrs map[string]any
}

// Variable is one data or coordinate variable, carrying both its encoding
// (the persisted-storage description from spec §3) and, when resolved
// from a slice, its data.
type Variable struct {
	Name string
	Dims []string

	Dtype       string
	Chunks      []int // per-dimension chunk size; index-aligned with Dims
	FillValue   any
	ScaleFactor *float64
	AddOffset   *float64
	Units       string
	Calendar    string
	Compressor  string
	Filters     []string
	Attrs       map[string]any

	// Data is the row-major payload, present when this Variable was
	// resolved from an acquired slice (not when it's part of a schema
	// description only).
	Data []byte
}

// DtypeSize returns the storage width in bytes of one element of dtype.
// Supported dtypes mirror a minimal NumPy-like set; anything else is
// rejected during validation.
func DtypeSize(dtype string) (int, error) {
	switch dtype {
	case "int8", "uint8", "bool":
		return 1, nil
	case "int16", "uint16":
		return 2, nil
	case "int32", "uint32", "float32":
		return 4, nil
	case "int64", "uint64", "float64":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", dtype)
	}
}

// Shape returns the variable's dimension sizes looked up from a Dims map,
// in declaration order.
func (v *Variable) Shape(dims map[string]int) ([]int, error) {
	shape := make([]int, len(v.Dims))
	for i, d := range v.Dims {
		size, ok := dims[d]
		if !ok {
			return nil, fmt.Errorf("variable %q references unknown dimension %q", v.Name, d)
		}
		shape[i] = size
	}
	return shape, nil
}

// ElementCount returns the total number of elements implied by shape.
func ElementCount(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// IsCoordinate reports whether v is a coordinate variable: one whose name
// equals one of its own dimensions (spec §3).
func (v *Variable) IsCoordinate() bool {
	for _, d := range v.Dims {
		if d == v.Name {
			return true
		}
	}
	return false
}

// AppendAxisIndex returns the position of dim within v.Dims, or -1 if v
// does not declare dim.
func (v *Variable) AppendAxisIndex(dim string) int {
	for i, d := range v.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}
