// Package chunkstore stands in for the "external chunked-array storage
// engine" the spec deliberately treats as a collaborator rather than
// something this module reimplements (spec §1 Non-goals): it writes one
// file per chunk plus a per-variable metadata document, the same
// decomposition a Zarr store uses. Grounded on the teacher's block store
// (pkg/payload/block, pkg/store/content): fixed-size units addressed by
// index, one object per unit, a metadata document describing the whole.
//
// Compression uses klauspost/compress's zstd encoder/decoder, promoted
// here from the teacher's transitive dependency closure to a direct one.
package chunkstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/bcdev/zappend/pkg/cube"
	"github.com/bcdev/zappend/pkg/fsx"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// VariableMeta is the metadata document persisted alongside a variable's
// chunk files, analogous to Zarr's ".zarray": enough to reopen the
// variable without re-deriving its schema.
type VariableMeta struct {
	Dims        []string       `json:"dims"`
	Shape       []int          `json:"shape"`
	Chunks      []int          `json:"chunks"`
	Dtype       string         `json:"dtype"`
	FillValue   any            `json:"fill_value,omitempty"`
	ScaleFactor *float64       `json:"scale_factor,omitempty"`
	AddOffset   *float64       `json:"add_offset,omitempty"`
	Units       string         `json:"units,omitempty"`
	Calendar    string         `json:"calendar,omitempty"`
	Compressor  string         `json:"compressor,omitempty"`
	Filters     []string       `json:"filters,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
}

// GroupDoc is the cube's top-level descriptor: the derived schema's
// dimensions plus group attributes, analogous to Zarr's ".zattrs"/".zgroup"
// pair collapsed into one document. Its presence at a target is what
// distinguishes an existing cube from one yet to be created (spec §4.8).
type GroupDoc struct {
	AppendDim string         `json:"append_dim"`
	FixedDims map[string]int `json:"fixed_dims"`
	Attrs     map[string]any `json:"attrs"`
	Variables []string       `json:"variables"`
}

func groupDocPath(targetDir string) string { return fsx.NormalizePath(targetDir) + "/.zgroup.json" }

// Exists reports whether a cube already exists at targetDir.
func (s *Store) Exists(ctx context.Context, targetDir string) (bool, error) {
	ok, err := s.fac.Exists(ctx, groupDocPath(targetDir))
	if err != nil {
		return false, zerrors.IO("exists", targetDir, err)
	}
	return ok, nil
}

// WriteGroupDoc persists the cube's group-level document, overwriting any
// existing one.
func (s *Store) WriteGroupDoc(ctx context.Context, targetDir string, doc GroupDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return zerrors.Internal("marshal group document: %s", err)
	}
	if err := s.fac.Write(ctx, groupDocPath(targetDir), data, true); err != nil {
		return zerrors.IO("write_group_doc", targetDir, err)
	}
	return nil
}

// ReadGroupDoc loads the cube's group-level document.
func (s *Store) ReadGroupDoc(ctx context.Context, targetDir string) (*GroupDoc, error) {
	data, err := s.fac.Read(ctx, groupDocPath(targetDir))
	if err != nil {
		return nil, err
	}
	var doc GroupDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, zerrors.Internal("decode group document: %s", err)
	}
	return &doc, nil
}

// GroupDocPath exposes the group document's path for journalling.
func (s *Store) GroupDocPath(targetDir string) string { return groupDocPath(targetDir) }

// Store writes and reads a cube's on-disk chunk layout through an
// fsx.Facade, so it works identically against local, in-memory, and S3
// backends.
type Store struct {
	fac fsx.Facade
}

// New returns a Store rooted at whatever paths are passed to its methods
// (each is relative to the cube's target directory).
func New(fac fsx.Facade) *Store { return &Store{fac: fac} }

func variableDir(targetDir, name string) string {
	return fsx.NormalizePath(targetDir) + "/" + name
}

func metaPath(targetDir, name string) string { return variableDir(targetDir, name) + "/.zmeta.json" }

func chunkPath(targetDir, name string, chunkIndex []int) string {
	parts := make([]string, len(chunkIndex))
	for i, c := range chunkIndex {
		parts[i] = strconv.Itoa(c)
	}
	return variableDir(targetDir, name) + "/" + strings.Join(parts, ".")
}

// WriteMeta persists v's metadata document, overwriting any existing one.
// Called once per variable the first time the cube is created, and again
// whenever an append changes shape along the append axis.
func (s *Store) WriteMeta(ctx context.Context, targetDir string, schema *cube.Schema, v *cube.Variable, shape []int) error {
	meta := VariableMeta{
		Dims:        v.Dims,
		Shape:       shape,
		Chunks:      schema.ResolveChunks(v),
		Dtype:       v.Dtype,
		FillValue:   v.FillValue,
		ScaleFactor: v.ScaleFactor,
		AddOffset:   v.AddOffset,
		Units:       v.Units,
		Calendar:    v.Calendar,
		Compressor:  v.Compressor,
		Filters:     v.Filters,
		Attrs:       v.Attrs,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return zerrors.Internal("marshal variable metadata for %q: %s", v.Name, err)
	}
	if err := s.fac.Write(ctx, metaPath(targetDir, v.Name), data, true); err != nil {
		return zerrors.IO("write_meta", v.Name, err)
	}
	return nil
}

// ReadMeta loads a variable's metadata document, or fsx.IsNotExist-
// satisfying error if the variable has never been written.
func (s *Store) ReadMeta(ctx context.Context, targetDir, name string) (*VariableMeta, error) {
	data, err := s.fac.Read(ctx, metaPath(targetDir, name))
	if err != nil {
		return nil, err
	}
	var meta VariableMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, zerrors.Internal("decode variable metadata for %q: %s", name, err)
	}
	return &meta, nil
}

// WriteChunk compresses and persists one chunk's raw bytes at
// chunkIndex. With overwrite false, writing over an existing chunk file
// fails; the append engine passes true only on CREATE.
func (s *Store) WriteChunk(ctx context.Context, targetDir, name string, chunkIndex []int, raw []byte, compressor string, overwrite bool) error {
	encoded, err := compress(raw, compressor)
	if err != nil {
		return zerrors.Internal("compress chunk %v of %q: %s", chunkIndex, name, err)
	}
	if err := s.fac.Write(ctx, chunkPath(targetDir, name, chunkIndex), encoded, overwrite); err != nil {
		return zerrors.IO("write_chunk", fmt.Sprintf("%s/%v", name, chunkIndex), err)
	}
	return nil
}

// ReadChunk loads and decompresses one chunk's raw bytes.
func (s *Store) ReadChunk(ctx context.Context, targetDir, name string, chunkIndex []int, compressor string) ([]byte, error) {
	encoded, err := s.fac.Read(ctx, chunkPath(targetDir, name, chunkIndex))
	if err != nil {
		return nil, err
	}
	raw, err := decompress(encoded, compressor)
	if err != nil {
		return nil, zerrors.Internal("decompress chunk %v of %q: %s", chunkIndex, name, err)
	}
	return raw, nil
}

// DeleteChunk removes one chunk file. The append engine itself never
// calls it; rollback removes added chunks through the facade directly.
func (s *Store) DeleteChunk(ctx context.Context, targetDir, name string, chunkIndex []int) error {
	if err := s.fac.Delete(ctx, chunkPath(targetDir, name, chunkIndex), false); err != nil {
		return zerrors.IO("delete_chunk", fmt.Sprintf("%s/%v", name, chunkIndex), err)
	}
	return nil
}

// ChunkPath exposes the on-disk path of a chunk so the journal and
// rollback engine can stage/restore it without duplicating the naming
// scheme.
func (s *Store) ChunkPath(targetDir, name string, chunkIndex []int) string {
	return chunkPath(targetDir, name, chunkIndex)
}

// MetaPath exposes a variable's metadata document path for the same reason.
func (s *Store) MetaPath(targetDir, name string) string { return metaPath(targetDir, name) }

func compress(raw []byte, compressor string) ([]byte, error) {
	switch compressor {
	case "", "none":
		return raw, nil
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compressor %q", compressor)
	}
}

func decompress(encoded []byte, compressor string) ([]byte, error) {
	switch compressor {
	case "", "none":
		return encoded, nil
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(encoded, nil)
	default:
		return nil, fmt.Errorf("unsupported compressor %q", compressor)
	}
}
