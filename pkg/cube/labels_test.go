package cube

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Bytes(vals ...int64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return buf
}

func float32Bytes(vals ...float32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func TestFirstLastLabel_Int64(t *testing.T) {
	t.Parallel()
	v := &Variable{Name: "time", Dtype: "int64", Data: int64Bytes(10, 20, 30)}

	first, err := FirstLabel(v)
	require.NoError(t, err)
	assert.Equal(t, 10.0, first)

	last, err := LastLabel(v)
	require.NoError(t, err)
	assert.Equal(t, 30.0, last)
}

func TestFirstLastLabel_Float32(t *testing.T) {
	t.Parallel()
	v := &Variable{Name: "lat", Dtype: "float32", Data: float32Bytes(1.5, 2.5)}

	first, err := FirstLabel(v)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, first, 1e-6)

	last, err := LastLabel(v)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, last, 1e-6)
}

func TestLastLabel_NoDataIsAnError(t *testing.T) {
	t.Parallel()
	v := &Variable{Name: "time", Dtype: "int64"}

	_, err := LastLabel(v)
	require.Error(t, err)
}

func TestLabelAt_UnsupportedDtypeIsAnError(t *testing.T) {
	t.Parallel()
	v := &Variable{Name: "bad", Dtype: "string", Data: []byte("x")}

	_, err := FirstLabel(v)
	require.Error(t, err)
}
