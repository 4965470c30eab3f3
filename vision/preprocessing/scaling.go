package preprocessing

import (
	"fmt"

	"github.com/satellitecrops/cropseg/tensor"
	"gonum.org/v1/gonum/floats"
)

// Scale rescales each channel of a (samples, channels, height, width)
// tensor independently to [0, maxValue] using its minimum and maximum over
// all samples. Constant channels become zero.
func Scale(x *tensor.Tensor, maxValue float64) (*tensor.Tensor, error) {
	if x.Dim() != 4 {
		return nil, fmt.Errorf("expected (samples, channels, height, width), got shape %v", x.Shape)
	}
	if maxValue <= 0 {
		return nil, fmt.Errorf("scale maximum must be positive, got %g", maxValue)
	}
	data, err := x.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	n, channels := x.Shape[0], x.Shape[1]
	plane := x.Shape[2] * x.Shape[3]

	out := make([]float32, len(data))
	buf := make([]float64, n*plane)

	for c := 0; c < channels; c++ {
		for s := 0; s < n; s++ {
			base := (s*channels + c) * plane
			for p := 0; p < plane; p++ {
				buf[s*plane+p] = float64(data[base+p])
			}
		}

		lo, hi := floats.Min(buf), floats.Max(buf)
		if hi > lo {
			floats.AddConst(-lo, buf)
			floats.Scale(maxValue/(hi-lo), buf)
		} else {
			for i := range buf {
				buf[i] = 0
			}
		}

		for s := 0; s < n; s++ {
			base := (s*channels + c) * plane
			for p := 0; p < plane; p++ {
				out[base+p] = float32(buf[s*plane+p])
			}
		}
	}

	return tensor.NewTensor(x.Shape, tensor.Float32, out)
}
