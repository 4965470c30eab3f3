package preprocessing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/satellitecrops/cropseg/tensor"
)

// ErrTooFewClasses is returned when labels hold fewer than two classes.
var ErrTooFewClasses = errors.New("labels need at least two distinct classes")

// UniqueClasses returns the distinct label values in ascending order.
func UniqueClasses(y *tensor.Tensor) ([]int32, error) {
	data, err := y.GetInt32Data()
	if err != nil {
		return nil, err
	}

	seen := make(map[int32]struct{})
	for _, v := range data {
		seen[v] = struct{}{}
	}

	classes := make([]int32, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return classes, nil
}

// CleanLabels maps raw label codes onto contiguous class ids 0..K-1 in
// ascending code order, so 0 (no crop) stays the background class. The
// returned slice gives the raw code of each class id.
func CleanLabels(y *tensor.Tensor) (*tensor.Tensor, []int32, error) {
	codes, err := UniqueClasses(y)
	if err != nil {
		return nil, nil, err
	}

	classOf := make(map[int32]int32, len(codes))
	for i, code := range codes {
		classOf[code] = int32(i)
	}

	data := y.Data.([]int32)
	cleaned := make([]int32, len(data))
	for i, v := range data {
		cleaned[i] = classOf[v]
	}

	out, err := tensor.NewTensor(y.Shape, tensor.Int32, cleaned)
	if err != nil {
		return nil, nil, err
	}
	return out, codes, nil
}

// ToCategorical one-hot encodes integer labels into a float32 tensor with a
// trailing axis of numClasses channels. numClasses <= 0 uses max(y)+1.
func ToCategorical(y *tensor.Tensor, numClasses int) (*tensor.Tensor, error) {
	data, err := y.GetInt32Data()
	if err != nil {
		return nil, err
	}

	if numClasses <= 0 {
		maxLabel := int32(-1)
		for _, v := range data {
			if v > maxLabel {
				maxLabel = v
			}
		}
		numClasses = int(maxLabel) + 1
	}
	if numClasses < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewClasses, numClasses)
	}

	shape := append(y.Size(), numClasses)
	out, err := tensor.Zeros(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}

	encoded := out.Data.([]float32)
	for i, v := range data {
		if v < 0 || int(v) >= numClasses {
			return nil, fmt.Errorf("label %d at %d outside [0, %d)", v, i, numClasses)
		}
		encoded[i*numClasses+int(v)] = 1
	}
	return out, nil
}
