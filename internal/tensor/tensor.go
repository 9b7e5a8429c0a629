// Package tensor provides the dense numeric containers the training and
// decoding cores operate on.  Tensors are row-major with explicit shapes;
// float32 for parameters, gradients and logits, int32 for token batches.
package tensor

import (
	"errors"
	"fmt"
	"math/rand"
)

var (
	errNegativeDim  = errors.New("tensor: negative dimension")
	errDataMismatch = errors.New("tensor: data length does not match shape")
)

// Tensor is a dense row-major n-dimensional array of float32 values.
//
// Tensor does not perform any memory safety beyond the checks performed by
// Go's slice types; out-of-range flat indices will panic.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zero-initialised tensor with the given shape.
func New(shape ...int) *Tensor {
	n := checkShape(shape)
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// FromData wraps existing data in a tensor.  It panics if the data length
// does not match the shape.
func FromData(shape []int, data []float32) *Tensor {
	if checkShape(shape) != len(data) {
		panic(errDataMismatch)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}
}

// ZerosLike returns a zero-valued tensor with the same shape as t.
func ZerosLike(t *Tensor) *Tensor {
	return New(t.Shape...)
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Size returns the total number of elements.
func (t *Tensor) Size() int { return len(t.Data) }

// Dim returns the length of the i-th axis.
func (t *Tensor) Dim(i int) int { return t.Shape[i] }

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{Shape: append([]int(nil), t.Shape...), Data: make([]float32, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// IndexAxis selects index idx along the given axis, dropping that axis from
// the result.  This mirrors dynamic_index_in_dim with keepdims=false.
func (t *Tensor) IndexAxis(axis, idx int) (*Tensor, error) {
	shape, outer, n, inner, err := indexDims(t.Shape, axis, idx)
	if err != nil {
		return nil, err
	}
	out := New(shape...)
	for o := 0; o < outer; o++ {
		src := (o*n + idx) * inner
		copy(out.Data[o*inner:(o+1)*inner], t.Data[src:src+inner])
	}
	return out, nil
}

// Stack is the inverse of IndexAxis: it assembles len(parts) equally shaped
// tensors into one tensor with a new axis of that length at position axis.
func Stack(axis int, parts []*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensor: stack of zero tensors")
	}
	base := parts[0].Shape
	for _, p := range parts[1:] {
		if !shapeEqual(base, p.Shape) {
			return nil, fmt.Errorf("tensor: stack shape mismatch: %v vs %v", base, p.Shape)
		}
	}
	if axis < 0 || axis > len(base) {
		return nil, fmt.Errorf("tensor: stack axis %d out of range for rank %d", axis, len(base))
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
	out := New(shape...)
	for o := 0; o < outer; o++ {
		for j, p := range parts {
			dst := (o*len(parts) + j) * inner
			copy(out.Data[dst:dst+inner], p.Data[o*inner:(o+1)*inner])
		}
	}
	return out, nil
}

// FillRand fills t with small deterministic pseudo-random values derived
// from seed, roughly in (-0.01, 0.01).
func FillRand(t *Tensor, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range t.Data {
		t.Data[i] = (rng.Float32() - 0.5) * 0.02
	}
}

func checkShape(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(errNegativeDim)
		}
		n *= d
	}
	return n
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func indexDims(shape []int, axis, idx int) (out []int, outer, n, inner int, err error) {
	if axis < 0 || axis >= len(shape) {
		return nil, 0, 0, 0, fmt.Errorf("tensor: axis %d out of range for rank %d", axis, len(shape))
	}
	n = shape[axis]
	if idx < 0 || idx >= n {
		return nil, 0, 0, 0, fmt.Errorf("tensor: index %d out of range for axis %d of length %d", idx, axis, n)
	}
	outer, inner = 1, 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	for _, d := range shape[axis+1:] {
		inner *= d
	}
	out = make([]int, 0, len(shape)-1)
	out = append(out, shape[:axis]...)
	out = append(out, shape[axis+1:]...)
	return out, outer, n, inner, nil
}
