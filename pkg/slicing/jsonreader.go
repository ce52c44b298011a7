package slicing

import (
	"context"
	"encoding/json"

	"github.com/bcdev/zappend/pkg/cube"
	"github.com/bcdev/zappend/pkg/fsx"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// jsonDataset is the on-disk shape a JSONReader reads and writes. It
// mirrors cube.Dataset/cube.Variable field for field; encoding/json
// base64-encodes Variable.Data automatically since it's a []byte.
type jsonDataset struct {
	Dims      map[string]int          `json:"dims"`
	Variables map[string]*jsonVariable `json:"variables"`
	Attrs     map[string]any          `json:"attrs,omitempty"`
}

type jsonVariable struct {
	Name        string         `json:"name"`
	Dims        []string       `json:"dims"`
	Dtype       string         `json:"dtype"`
	Chunks      []int          `json:"chunks,omitempty"`
	FillValue   any            `json:"fill_value,omitempty"`
	ScaleFactor *float64       `json:"scale_factor,omitempty"`
	AddOffset   *float64       `json:"add_offset,omitempty"`
	Units       string         `json:"units,omitempty"`
	Calendar    string         `json:"calendar,omitempty"`
	Compressor  string         `json:"compressor,omitempty"`
	Filters     []string       `json:"filters,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
	Data        []byte         `json:"data,omitempty"`
}

// JSONReader reads slices serialized as a single JSON document through an
// fsx.Facade. It stands in for the "slice_engine" a real deployment would
// plug in to read NetCDF/Zarr slices (spec §1 Non-goals: the core never
// parses scientific data formats itself); any format that can produce a
// cube.Dataset can be wired the same way by implementing Reader.
type JSONReader struct {
	fac fsx.Facade
}

// NewJSONReader returns a Reader backed by fac.
func NewJSONReader(fac fsx.Facade) *JSONReader { return &JSONReader{fac: fac} }

func (r *JSONReader) Read(ctx context.Context, path string) (*cube.Dataset, error) {
	data, err := r.fac.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return ParseJSON(path, data)
}

// ParseJSON decodes a slice document's raw bytes into a Dataset. name is
// used only to annotate a decode error; it need not be a real path (the
// CLI's "-" stdin handle has none).
func ParseJSON(name string, data []byte) (*cube.Dataset, error) {
	var doc jsonDataset
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, zerrors.SliceSchema("slice %q: invalid JSON: %s", name, err)
	}
	ds := &cube.Dataset{Dims: doc.Dims, Attrs: doc.Attrs, Variables: map[string]*cube.Variable{}}
	for varName, v := range doc.Variables {
		ds.Variables[varName] = &cube.Variable{
			Name: varName, Dims: v.Dims, Dtype: v.Dtype, Chunks: v.Chunks,
			FillValue: v.FillValue, ScaleFactor: v.ScaleFactor, AddOffset: v.AddOffset,
			Units: v.Units, Calendar: v.Calendar, Compressor: v.Compressor,
			Filters: v.Filters, Attrs: v.Attrs, Data: v.Data,
		}
	}
	return ds, nil
}

// WriteSlice serializes ds as a JSON document at path; used by tests to
// write slice fixtures.
func WriteSlice(ctx context.Context, fac fsx.Facade, path string, ds *cube.Dataset) error {
	doc := jsonDataset{Dims: ds.Dims, Attrs: ds.Attrs, Variables: map[string]*jsonVariable{}}
	for name, v := range ds.Variables {
		doc.Variables[name] = &jsonVariable{
			Name: v.Name, Dims: v.Dims, Dtype: v.Dtype, Chunks: v.Chunks,
			FillValue: v.FillValue, ScaleFactor: v.ScaleFactor, AddOffset: v.AddOffset,
			Units: v.Units, Calendar: v.Calendar, Compressor: v.Compressor,
			Filters: v.Filters, Attrs: v.Attrs, Data: v.Data,
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return zerrors.Internal("marshal slice: %s", err)
	}
	return fac.Write(ctx, path, data, true)
}
