package cube

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDtypeSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dtype   string
		want    int
		wantErr bool
	}{
		{"int8", 1, false},
		{"uint8", 1, false},
		{"bool", 1, false},
		{"int16", 2, false},
		{"uint16", 2, false},
		{"int32", 4, false},
		{"uint32", 4, false},
		{"float32", 4, false},
		{"int64", 8, false},
		{"uint64", 8, false},
		{"float64", 8, false},
		{"nonsense", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.dtype, func(t *testing.T) {
			got, err := DtypeSize(tt.dtype)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVariable_Shape(t *testing.T) {
	t.Parallel()

	v := &Variable{Name: "temp", Dims: []string{"time", "lat", "lon"}}
	dims := map[string]int{"time": 10, "lat": 4, "lon": 8}

	shape, err := v.Shape(dims)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 4, 8}, shape)
}

func TestVariable_Shape_UnknownDim(t *testing.T) {
	t.Parallel()

	v := &Variable{Name: "temp", Dims: []string{"depth"}}
	_, err := v.Shape(map[string]int{"time": 1})
	require.Error(t, err)
}

func TestElementCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 80, ElementCount([]int{10, 4, 2}))
	assert.Equal(t, 1, ElementCount(nil))
	assert.Equal(t, 0, ElementCount([]int{0, 5}))
}

func TestVariable_IsCoordinate(t *testing.T) {
	t.Parallel()

	coord := &Variable{Name: "time", Dims: []string{"time"}}
	data := &Variable{Name: "temp", Dims: []string{"time", "lat"}}

	assert.True(t, coord.IsCoordinate())
	assert.False(t, data.IsCoordinate())
}

func TestVariable_AppendAxisIndex(t *testing.T) {
	t.Parallel()

	v := &Variable{Name: "temp", Dims: []string{"lat", "time", "lon"}}
	assert.Equal(t, 1, v.AppendAxisIndex("time"))
	assert.Equal(t, -1, v.AppendAxisIndex("depth"))
}
