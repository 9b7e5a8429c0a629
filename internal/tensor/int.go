package tensor

import "errors"

// IntTensor is a dense row-major n-dimensional array of int32 token ids.
type IntTensor struct {
	Shape []int
	Data  []int32
}

// NewInt allocates a zero-initialised integer tensor with the given shape.
func NewInt(shape ...int) *IntTensor {
	n := checkShape(shape)
	return &IntTensor{Shape: append([]int(nil), shape...), Data: make([]int32, n)}
}

// IntFromData wraps existing token data in a tensor.  It panics if the data
// length does not match the shape.
func IntFromData(shape []int, data []int32) *IntTensor {
	if checkShape(shape) != len(data) {
		panic(errDataMismatch)
	}
	return &IntTensor{Shape: append([]int(nil), shape...), Data: data}
}

// Rank returns the number of axes.
func (t *IntTensor) Rank() int { return len(t.Shape) }

// Size returns the total number of elements.
func (t *IntTensor) Size() int { return len(t.Data) }

// Dim returns the length of the i-th axis.
func (t *IntTensor) Dim(i int) int { return t.Shape[i] }

// Clone returns a deep copy of t.
func (t *IntTensor) Clone() *IntTensor {
	out := &IntTensor{Shape: append([]int(nil), t.Shape...), Data: make([]int32, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// IndexAxis selects index idx along the given axis, dropping that axis from
// the result.
func (t *IntTensor) IndexAxis(axis, idx int) (*IntTensor, error) {
	shape, outer, n, inner, err := indexDims(t.Shape, axis, idx)
	if err != nil {
		return nil, err
	}
	out := NewInt(shape...)
	for o := 0; o < outer; o++ {
		src := (o*n + idx) * inner
		copy(out.Data[o*inner:(o+1)*inner], t.Data[src:src+inner])
	}
	return out, nil
}

// StackInt assembles len(parts) equally shaped integer tensors into one
// tensor with a new axis of that length at position axis.
func StackInt(axis int, parts []*IntTensor) (*IntTensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensor: stack of zero tensors")
	}
	base := parts[0].Shape
	for _, p := range parts[1:] {
		if !shapeEqual(base, p.Shape) {
			return nil, errDataMismatch
		}
	}
	if axis < 0 || axis > len(base) {
		return nil, errors.New("tensor: stack axis out of range")
	}
	shape := make([]int, 0, len(base)+1)
	shape = append(shape, base[:axis]...)
	shape = append(shape, len(parts))
	shape = append(shape, base[axis:]...)

	outer, inner := 1, 1
	for _, d := range base[:axis] {
		outer *= d
	}
	for _, d := range base[axis:] {
		inner *= d
	}
	out := NewInt(shape...)
	for o := 0; o < outer; o++ {
		for j, p := range parts {
			dst := (o*len(parts) + j) * inner
			copy(out.Data[dst:dst+inner], p.Data[o*inner:(o+1)*inner])
		}
	}
	return out, nil
}
