package cube

import (
	"sort"

	"github.com/bcdev/zappend/pkg/config"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// Schema is the cube schema K derived once, from the first slice S0
// merged with configuration (spec §4.3). It never changes shape again
// except for each variable's append-axis length, tracked separately by
// the append engine as cube state.
type Schema struct {
	AppendDim string
	// FixedDims holds every non-append dimension's fixed size.
	FixedDims map[string]int
	Variables map[string]*Variable
}

// DeriveSchema builds K from the first slice and configuration, applying
// the included/excluded variable filters, the variables/* merge
// precedence, and the append-axis chunking rule (spec §4.3): the chunk
// size along the append axis always equals the first slice's size along
// that axis, and a conflicting explicit value is a ConfigError.
func DeriveSchema(first *Dataset, cfg *config.Config) (*Schema, error) {
	appendDim := cfg.AppendDim
	if appendDim == "" {
		appendDim = "time"
	}

	appendSize, ok := first.Dims[appendDim]
	if !ok {
		return nil, zerrors.Config("first slice does not declare append dimension %q", appendDim)
	}

	fixedDims := make(map[string]int)
	for name, size := range first.Dims {
		if name == appendDim {
			continue
		}
		fixedDims[name] = size
	}
	for name, size := range cfg.FixedDims {
		fixedDims[name] = size // config overrides slice-derived sizes
	}

	kept := filterVariables(first, cfg)

	schema := &Schema{AppendDim: appendDim, FixedDims: fixedDims, Variables: make(map[string]*Variable)}

	for _, name := range kept {
		srcVar := first.Variables[name]
		merged, err := mergeVariableEncoding(name, srcVar, cfg, appendDim, appendSize)
		if err != nil {
			return nil, err
		}
		schema.Variables[name] = merged
	}

	return schema, nil
}

// filterVariables applies included_variables/excluded_variables (spec
// §4.3) and returns the surviving variable names in a stable order.
func filterVariables(first *Dataset, cfg *config.Config) []string {
	included := asSet(cfg.IncludedVariables)
	excluded := asSet(cfg.ExcludedVariables)

	var names []string
	for name := range first.Variables {
		if len(included) > 0 && !included[name] {
			continue
		}
		if excluded[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func asSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// mergeVariableEncoding merges, in decreasing precedence: explicit
// variables[name], wildcard variables["*"], then the slice's own
// variable metadata (spec §4.3).
func mergeVariableEncoding(name string, sliceVar *Variable, cfg *config.Config, appendDim string, appendSize int) (*Variable, error) {
	merged := &Variable{
		Name:      name,
		Dims:      append([]string(nil), sliceVar.Dims...),
		Dtype:     sliceVar.Dtype,
		Chunks:    append([]int(nil), sliceVar.Chunks...),
		FillValue: sliceVar.FillValue,
		Units:     sliceVar.Units,
		Calendar:  sliceVar.Calendar,
		Attrs:     copyAttrs(sliceVar.Attrs),
	}
	if sliceVar.ScaleFactor != nil {
		v := *sliceVar.ScaleFactor
		merged.ScaleFactor = &v
	}
	if sliceVar.AddOffset != nil {
		v := *sliceVar.AddOffset
		merged.AddOffset = &v
	}

	applyVariableConfig(merged, cfg.Variables["*"])
	applyVariableConfig(merged, cfg.Variables[name])

	if err := finalizeChunks(merged, appendDim, appendSize); err != nil {
		return nil, err
	}

	return merged, nil
}

func applyVariableConfig(v *Variable, vc config.VariableConfig) {
	if len(vc.Dims) > 0 {
		v.Dims = append([]string(nil), vc.Dims...)
	}
	enc := vc.Encoding
	if enc.Dtype != "" {
		v.Dtype = enc.Dtype
	}
	if len(enc.Chunks) > 0 {
		v.Chunks = make([]int, len(enc.Chunks))
		for i, c := range enc.Chunks {
			if c == nil {
				v.Chunks[i] = -1 // resolved to dim size later
			} else {
				v.Chunks[i] = *c
			}
		}
	}
	if enc.FillValue != nil {
		v.FillValue = enc.FillValue
	}
	if enc.ScaleFactor != nil {
		v.ScaleFactor = enc.ScaleFactor
	}
	if enc.AddOffset != nil {
		v.AddOffset = enc.AddOffset
	}
	if enc.Units != "" {
		v.Units = enc.Units
	}
	if enc.Calendar != "" {
		v.Calendar = enc.Calendar
	}
	if enc.Compressor != "" {
		v.Compressor = enc.Compressor
	}
	if len(enc.Filters) > 0 {
		v.Filters = append([]string(nil), enc.Filters...)
	}
	for k, val := range vc.Attrs {
		if v.Attrs == nil {
			v.Attrs = make(map[string]any)
		}
		v.Attrs[k] = val
	}
}

// finalizeChunks enforces the append-axis chunking rule (I1): the chunk
// size along the append axis must equal appendSize. A user-supplied value
// that differs is rejected with ConfigError. Coordinate variables default
// to unchunked (one chunk per dimension) unless overridden (spec §4.3).
func finalizeChunks(v *Variable, appendDim string, appendSize int) error {
	if len(v.Chunks) == 0 {
		v.Chunks = make([]int, len(v.Dims))
		for i := range v.Chunks {
			v.Chunks[i] = -1
		}
	}
	if len(v.Chunks) != len(v.Dims) {
		return zerrors.Config("variable %q: chunks length %d does not match dims length %d", v.Name, len(v.Chunks), len(v.Dims))
	}

	isCoord := v.IsCoordinate()

	for i, d := range v.Dims {
		if d == appendDim {
			if v.Chunks[i] != -1 && v.Chunks[i] != appendSize {
				return zerrors.Config("variable %q: chunk size %d along append axis %q conflicts with slice size %d", v.Name, v.Chunks[i], appendDim, appendSize)
			}
			v.Chunks[i] = appendSize
			continue
		}
		if v.Chunks[i] == -1 && !isCoord {
			// Resolved against the dimension's actual size by the caller
			// once fixed dim sizes are known; -1 is a placeholder meaning
			// "equal to the dim size" (spec §4.3).
			continue
		}
	}
	return nil
}

// ResolveChunks replaces every -1 placeholder in v.Chunks (meaning "equal
// to the dim size") with the schema's actual dimension sizes.
func (s *Schema) ResolveChunks(v *Variable) []int {
	resolved := make([]int, len(v.Chunks))
	for i, c := range v.Chunks {
		if c != -1 {
			resolved[i] = c
			continue
		}
		d := v.Dims[i]
		if d == s.AppendDim {
			resolved[i] = v.Chunks[i]
			continue
		}
		resolved[i] = s.FixedDims[d]
	}
	return resolved
}

func copyAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
