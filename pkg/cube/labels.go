package cube

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FirstLabel and LastLabel decode a coordinate variable's row-major Data
// buffer as an array of its declared Dtype and return the first/last
// element as a float64, for use by the append_step ordering check (I3)
// and by attribute-expression bound lookups (pkg/eval). A coordinate
// variable read back from metadata alone (no Data) can't be decoded
// this way; callers treat that as "not applicable" rather than an error.
func FirstLabel(v *Variable) (float64, error) {
	return labelAt(v, 0)
}

func LastLabel(v *Variable) (float64, error) {
	width, err := DtypeSize(v.Dtype)
	if err != nil {
		return 0, err
	}
	if len(v.Data) < width {
		return 0, fmt.Errorf("coordinate %q has no data", v.Name)
	}
	return labelAt(v, len(v.Data)/width-1)
}

func labelAt(v *Variable, elemIndex int) (float64, error) {
	width, err := DtypeSize(v.Dtype)
	if err != nil {
		return 0, err
	}
	off := elemIndex * width
	if off < 0 || off+width > len(v.Data) {
		return 0, fmt.Errorf("coordinate %q: index %d out of range", v.Name, elemIndex)
	}
	b := v.Data[off : off+width]
	switch v.Dtype {
	case "int8":
		return float64(int8(b[0])), nil
	case "uint8", "bool":
		return float64(b[0]), nil
	case "int16":
		return float64(int16(binary.LittleEndian.Uint16(b))), nil
	case "uint16":
		return float64(binary.LittleEndian.Uint16(b)), nil
	case "int32":
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	case "uint32":
		return float64(binary.LittleEndian.Uint32(b)), nil
	case "float32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case "int64":
		return float64(int64(binary.LittleEndian.Uint64(b))), nil
	case "uint64":
		return float64(binary.LittleEndian.Uint64(b)), nil
	case "float64":
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q for coordinate decoding", v.Dtype)
	}
}
