package cube

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcdev/zappend/pkg/config"
)

func sampleSlice() *Dataset {
	return &Dataset{
		Dims: map[string]int{"time": 3, "lat": 2, "lon": 2},
		Variables: map[string]*Variable{
			"time": {Name: "time", Dims: []string{"time"}, Dtype: "int64"},
			"lat":  {Name: "lat", Dims: []string{"lat"}, Dtype: "float64"},
			"temp": {Name: "temp", Dims: []string{"time", "lat", "lon"}, Dtype: "float32", FillValue: float32(0)},
			"qc":   {Name: "qc", Dims: []string{"time", "lat", "lon"}, Dtype: "int8"},
		},
		Attrs: map[string]any{"title": "sample"},
	}
}

func TestDeriveSchema_Basic(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{AppendDim: "time"}
	schema, err := DeriveSchema(sampleSlice(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "time", schema.AppendDim)
	assert.Equal(t, map[string]int{"lat": 2, "lon": 2}, schema.FixedDims)
	assert.Len(t, schema.Variables, 4)

	temp := schema.Variables["temp"]
	require.NotNil(t, temp)
	assert.Equal(t, []int{3, -1, -1}, temp.Chunks)
	assert.Equal(t, []int{3, 2, 2}, schema.ResolveChunks(temp))
}

func TestDeriveSchema_DefaultsAppendDimToTime(t *testing.T) {
	t.Parallel()

	schema, err := DeriveSchema(sampleSlice(), &config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "time", schema.AppendDim)
}

func TestDeriveSchema_MissingAppendDim(t *testing.T) {
	t.Parallel()

	slice := &Dataset{Dims: map[string]int{"lat": 2}, Variables: map[string]*Variable{}}
	_, err := DeriveSchema(slice, &config.Config{AppendDim: "time"})
	require.Error(t, err)
}

func TestDeriveSchema_IncludedExcludedVariables(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{AppendDim: "time", IncludedVariables: []string{"time", "temp"}}
	schema, err := DeriveSchema(sampleSlice(), cfg)
	require.NoError(t, err)
	assert.Len(t, schema.Variables, 2)
	assert.Contains(t, schema.Variables, "temp")
	assert.NotContains(t, schema.Variables, "qc")

	cfg2 := &config.Config{AppendDim: "time", ExcludedVariables: []string{"qc"}}
	schema2, err := DeriveSchema(sampleSlice(), cfg2)
	require.NoError(t, err)
	assert.NotContains(t, schema2.Variables, "qc")
	assert.Contains(t, schema2.Variables, "temp")
}

func TestDeriveSchema_FixedDimsConfigOverride(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{AppendDim: "time", FixedDims: map[string]int{"lat": 180}}
	schema, err := DeriveSchema(sampleSlice(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 180, schema.FixedDims["lat"])
	assert.Equal(t, 2, schema.FixedDims["lon"])
}

func TestDeriveSchema_WildcardAndExplicitVariableConfig(t *testing.T) {
	t.Parallel()

	one := 1
	cfg := &config.Config{
		AppendDim: "time",
		Variables: map[string]config.VariableConfig{
			"*":    {Encoding: config.EncodingConfig{Compressor: "zstd"}},
			"temp": {Encoding: config.EncodingConfig{Compressor: "none", Chunks: []*int{nil, &one, &one}}},
		},
	}
	schema, err := DeriveSchema(sampleSlice(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "zstd", schema.Variables["qc"].Compressor)
	assert.Equal(t, "none", schema.Variables["temp"].Compressor) // explicit overrides wildcard
	assert.Equal(t, []int{3, 1, 1}, schema.Variables["temp"].Chunks)
}

func TestDeriveSchema_ConflictingAppendAxisChunkIsConfigError(t *testing.T) {
	t.Parallel()

	bad := 99
	cfg := &config.Config{
		AppendDim: "time",
		Variables: map[string]config.VariableConfig{
			"temp": {Encoding: config.EncodingConfig{Chunks: []*int{&bad, nil, nil}}},
		},
	}
	_, err := DeriveSchema(sampleSlice(), cfg)
	require.Error(t, err)
}

func TestDeriveSchema_ChunksDimsLengthMismatch(t *testing.T) {
	t.Parallel()

	one := 1
	cfg := &config.Config{
		AppendDim: "time",
		Variables: map[string]config.VariableConfig{
			"temp": {Encoding: config.EncodingConfig{Chunks: []*int{&one}}},
		},
	}
	_, err := DeriveSchema(sampleSlice(), cfg)
	require.Error(t, err)
}

func TestSchema_ResolveChunks_CoordinateDefaultsToWholeDim(t *testing.T) {
	t.Parallel()

	schema, err := DeriveSchema(sampleSlice(), &config.Config{AppendDim: "time"})
	require.NoError(t, err)

	lat := schema.Variables["lat"]
	require.NotNil(t, lat)
	assert.Equal(t, []int{2}, schema.ResolveChunks(lat))
}
