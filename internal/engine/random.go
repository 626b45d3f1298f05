package engine

import (
	"math/rand"

	"github.com/23skdu/longbow-reduce/internal/device"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// RandomTensor fills a tensor of the given type and shape with values from
// rng: normally distributed for floats, small integers otherwise so sums
// stay in range.
func RandomTensor(b device.Backend, rng *rand.Rand, dtype tensor.DataType, shape tensor.Shape) (device.Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	values := make([]float64, shape.NumElements())
	for i := range values {
		switch {
		case dtype.IsFloat():
			values[i] = rng.NormFloat64()
		case dtype.IsSigned():
			values[i] = float64(rng.Intn(201) - 100)
		default:
			values[i] = float64(rng.Intn(201))
		}
	}
	return b.NewTensor(dtype, shape, device.FromFloat64s(dtype, values))
}
