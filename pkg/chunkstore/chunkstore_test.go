package chunkstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcdev/zappend/pkg/cube"
	"github.com/bcdev/zappend/pkg/fsx"
)

func TestGroupDoc_WriteReadExists_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()
	s := New(fac)

	ok, err := s.Exists(ctx, "cube.zarr")
	require.NoError(t, err)
	assert.False(t, ok)

	doc := GroupDoc{
		AppendDim: "time",
		FixedDims: map[string]int{"lat": 2, "lon": 2},
		Attrs:     map[string]any{"title": "test cube"},
		Variables: []string{"time", "lat", "lon", "temp"},
	}
	require.NoError(t, s.WriteGroupDoc(ctx, "cube.zarr", doc))

	ok, err = s.Exists(ctx, "cube.zarr")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.ReadGroupDoc(ctx, "cube.zarr")
	require.NoError(t, err)
	assert.Equal(t, doc, *got)
}

func TestReadGroupDoc_MissingSatisfiesIsNotExist(t *testing.T) {
	t.Parallel()
	fac := fsx.NewMemory()
	s := New(fac)

	_, err := s.ReadGroupDoc(context.Background(), "cube.zarr")
	require.Error(t, err)
	assert.True(t, fsx.IsNotExist(err))
}

func TestVariableMeta_WriteRead_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()
	s := New(fac)

	schema := &cube.Schema{AppendDim: "time", FixedDims: map[string]int{"lat": 2}}
	v := &cube.Variable{
		Name: "temp", Dims: []string{"time", "lat"}, Dtype: "float32",
		Chunks: []int{3, -1}, Units: "K", Compressor: "zstd",
	}

	require.NoError(t, s.WriteMeta(ctx, "cube.zarr", schema, v, []int{3, 2}))

	meta, err := s.ReadMeta(ctx, "cube.zarr", "temp")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, meta.Shape)
	assert.Equal(t, []int{3, 2}, meta.Chunks)
	assert.Equal(t, "float32", meta.Dtype)
	assert.Equal(t, "K", meta.Units)
	assert.Equal(t, "zstd", meta.Compressor)
}

func TestReadMeta_MissingSatisfiesIsNotExist(t *testing.T) {
	t.Parallel()
	fac := fsx.NewMemory()
	s := New(fac)

	_, err := s.ReadMeta(context.Background(), "cube.zarr", "temp")
	require.Error(t, err)
	assert.True(t, fsx.IsNotExist(err))
}

func TestWriteReadChunk_Uncompressed_RoundTrips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()
	s := New(fac)

	raw := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, s.WriteChunk(ctx, "cube.zarr", "temp", []int{0, 0}, raw, "none", false))

	got, err := s.ReadChunk(ctx, "cube.zarr", "temp", []int{0, 0}, "none")
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestWriteReadChunk_Zstd_RoundTrips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()
	s := New(fac)

	raw := make([]byte, 4096)
	for i := range raw {
		raw[i] = byte(i % 7)
	}
	require.NoError(t, s.WriteChunk(ctx, "cube.zarr", "temp", []int{1, 0}, raw, "zstd", false))

	stored, err := fac.Read(ctx, s.ChunkPath("cube.zarr", "temp", []int{1, 0}))
	require.NoError(t, err)
	assert.Less(t, len(stored), len(raw), "zstd should compress a repetitive buffer")

	got, err := s.ReadChunk(ctx, "cube.zarr", "temp", []int{1, 0}, "zstd")
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestWriteChunk_OverwriteFalseFailsOnExistingChunk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()
	s := New(fac)

	require.NoError(t, s.WriteChunk(ctx, "cube.zarr", "temp", []int{0}, []byte("a"), "none", false))
	err := s.WriteChunk(ctx, "cube.zarr", "temp", []int{0}, []byte("b"), "none", false)
	require.Error(t, err)

	require.NoError(t, s.WriteChunk(ctx, "cube.zarr", "temp", []int{0}, []byte("b"), "none", true))
	got, err := s.ReadChunk(ctx, "cube.zarr", "temp", []int{0}, "none")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)
}

func TestDeleteChunk_RemovesChunkFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()
	s := New(fac)

	require.NoError(t, s.WriteChunk(ctx, "cube.zarr", "temp", []int{2}, []byte("x"), "none", false))
	require.NoError(t, s.DeleteChunk(ctx, "cube.zarr", "temp", []int{2}))

	_, err := s.ReadChunk(ctx, "cube.zarr", "temp", []int{2}, "none")
	require.Error(t, err)
	assert.True(t, fsx.IsNotExist(err))
}

func TestChunkPath_EncodesMultiDimensionalIndex(t *testing.T) {
	t.Parallel()
	fac := fsx.NewMemory()
	s := New(fac)

	assert.Equal(t, "cube.zarr/temp/1.0.2", s.ChunkPath("cube.zarr", "temp", []int{1, 0, 2}))
	assert.Equal(t, "cube.zarr/temp/.zmeta.json", s.MetaPath("cube.zarr", "temp"))
}

func TestCompress_UnsupportedCompressorIsAnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fac := fsx.NewMemory()
	s := New(fac)

	err := s.WriteChunk(ctx, "cube.zarr", "temp", []int{0}, []byte("x"), "bogus", false)
	require.Error(t, err)
}
