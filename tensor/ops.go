package tensor

import (
	"fmt"
)

// MoveAxis returns a copy of t with axis src moved to position dst, the
// remaining axes keeping their relative order.
func (t *Tensor) MoveAxis(src, dst int) (*Tensor, error) {
	rank := len(t.Shape)
	if src < 0 {
		src += rank
	}
	if dst < 0 {
		dst += rank
	}
	if src < 0 || src >= rank || dst < 0 || dst >= rank {
		return nil, fmt.Errorf("axis out of range: src=%d dst=%d rank=%d", src, dst, rank)
	}

	perm := make([]int, 0, rank)
	for i := 0; i < rank; i++ {
		if i != src {
			perm = append(perm, i)
		}
	}
	perm = append(perm[:dst], append([]int{src}, perm[dst:]...)...)

	return t.Transpose(perm)
}

// Transpose returns a copy of t whose axis i is the input axis perm[i].
func (t *Tensor) Transpose(perm []int) (*Tensor, error) {
	rank := len(t.Shape)
	if len(perm) != rank {
		return nil, fmt.Errorf("permutation length %d does not match rank %d", len(perm), rank)
	}
	seen := make([]bool, rank)
	for _, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			return nil, fmt.Errorf("invalid permutation %v", perm)
		}
		seen[p] = true
	}
	if t.Data == nil {
		return nil, fmt.Errorf("tensor data has been released")
	}

	outShape := make([]int, rank)
	srcStrides := make([]int, rank)
	for i, p := range perm {
		outShape[i] = t.Shape[p]
		srcStrides[i] = t.Strides[p]
	}

	out, err := Zeros(outShape, t.DType)
	if err != nil {
		return nil, err
	}

	// Walk the output in row-major order, tracking the source offset.
	index := make([]int, rank)
	offset := 0
	copyAt := func(dstIdx, srcIdx int) {}
	switch t.DType {
	case Float32:
		src, dst := t.Data.([]float32), out.Data.([]float32)
		copyAt = func(dstIdx, srcIdx int) { dst[dstIdx] = src[srcIdx] }
	case Int32:
		src, dst := t.Data.([]int32), out.Data.([]int32)
		copyAt = func(dstIdx, srcIdx int) { dst[dstIdx] = src[srcIdx] }
	default:
		return nil, fmt.Errorf("unsupported dtype for Transpose: %s", t.DType)
	}

	for i := 0; i < out.NumElems; i++ {
		copyAt(i, offset)
		for axis := rank - 1; axis >= 0; axis-- {
			index[axis]++
			offset += srcStrides[axis]
			if index[axis] < outShape[axis] {
				break
			}
			offset -= srcStrides[axis] * outShape[axis]
			index[axis] = 0
		}
	}

	return out, nil
}

// Gather copies the samples at the given leading-axis indices into a new
// tensor, in the order given.
func (t *Tensor) Gather(indices []int) (*Tensor, error) {
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("cannot gather from a scalar tensor")
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("gather requires at least one index")
	}
	if t.Data == nil {
		return nil, fmt.Errorf("tensor data has been released")
	}

	n := t.Shape[0]
	stride := t.NumElems / n

	outShape := make([]int, len(t.Shape))
	copy(outShape, t.Shape)
	outShape[0] = len(indices)

	out, err := Zeros(outShape, t.DType)
	if err != nil {
		return nil, err
	}

	for i, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("index %d out of range [0, %d)", idx, n)
		}
		switch t.DType {
		case Float32:
			copy(out.Data.([]float32)[i*stride:(i+1)*stride], t.Data.([]float32)[idx*stride:(idx+1)*stride])
		case Int32:
			copy(out.Data.([]int32)[i*stride:(i+1)*stride], t.Data.([]int32)[idx*stride:(idx+1)*stride])
		default:
			return nil, fmt.Errorf("unsupported dtype for Gather: %s", t.DType)
		}
	}

	return out, nil
}

// Slice returns the samples [start, end) of the leading axis as a view
// sharing t's data.
func (t *Tensor) Slice(start, end int) (*Tensor, error) {
	if len(t.Shape) == 0 {
		return nil, fmt.Errorf("cannot slice a scalar tensor")
	}
	if start < 0 || end > t.Shape[0] || start >= end {
		return nil, fmt.Errorf("invalid slice [%d, %d) of %d samples", start, end, t.Shape[0])
	}
	if t.Data == nil {
		return nil, fmt.Errorf("tensor data has been released")
	}

	stride := t.NumElems / t.Shape[0]
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	shape[0] = end - start

	view := &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		DType:    t.DType,
		NumElems: stride * (end - start),
	}
	switch t.DType {
	case Float32:
		view.Data = t.Data.([]float32)[start*stride : end*stride]
	case Int32:
		view.Data = t.Data.([]int32)[start*stride : end*stride]
	default:
		return nil, fmt.Errorf("unsupported dtype for Slice: %s", t.DType)
	}
	return view, nil
}
