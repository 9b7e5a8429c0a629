package decode

import (
	"fmt"

	"github.com/parallax-ml/parallax/internal/tensor"
)

// Cache holds the per-layer attention key/value history of one generation
// session.  Each layer stores a pair of (positions, dim) tensors with a
// fixed position capacity; appending past capacity drops the oldest
// positions.  A cache is owned exclusively by a single session and is
// discarded at termination.
type Cache struct {
	maxLen int
	keys   []*tensor.Tensor
	values []*tensor.Tensor
}

// NewCache allocates an empty cache for the given layer count and position
// capacity.
func NewCache(numLayers, maxLen int) *Cache {
	if numLayers < 1 || maxLen < 1 {
		panic("decode: cache needs at least one layer and one position")
	}
	return &Cache{
		maxLen: maxLen,
		keys:   make([]*tensor.Tensor, numLayers),
		values: make([]*tensor.Tensor, numLayers),
	}
}

// NumLayers returns the layer count.
func (c *Cache) NumLayers() int { return len(c.keys) }

// MaxLen returns the position capacity per layer.
func (c *Cache) MaxLen() int { return c.maxLen }

// Len returns the number of cached positions.
func (c *Cache) Len() int {
	if c.keys[0] == nil {
		return 0
	}
	return c.keys[0].Dim(0)
}

// Layer returns the key and value tensors of layer i, nil when empty.
func (c *Cache) Layer(i int) (k, v *tensor.Tensor) {
	return c.keys[i], c.values[i]
}

// Append concatenates new (positions, dim) key/value blocks onto layer i,
// then truncates from the front so at most MaxLen positions remain.
func (c *Cache) Append(i int, k, v *tensor.Tensor) error {
	if i < 0 || i >= len(c.keys) {
		return fmt.Errorf("decode: cache layer %d out of range", i)
	}
	if k.Rank() != 2 || v.Rank() != 2 {
		return fmt.Errorf("decode: cache entries must be rank 2, got %d and %d", k.Rank(), v.Rank())
	}
	if k.Dim(0) != v.Dim(0) {
		return fmt.Errorf("decode: key/value position counts differ: %d vs %d", k.Dim(0), v.Dim(0))
	}
	var err error
	if c.keys[i], err = appendRows(c.keys[i], k, c.maxLen); err != nil {
		return err
	}
	c.values[i], err = appendRows(c.values[i], v, c.maxLen)
	return err
}

func appendRows(old, add *tensor.Tensor, maxRows int) (*tensor.Tensor, error) {
	if old == nil {
		out := add.Clone()
		return truncateFront(out, maxRows), nil
	}
	if old.Dim(1) != add.Dim(1) {
		return nil, fmt.Errorf("decode: cache width changed: %d vs %d", old.Dim(1), add.Dim(1))
	}
	rows := old.Dim(0) + add.Dim(0)
	dim := old.Dim(1)
	out := tensor.New(rows, dim)
	copy(out.Data, old.Data)
	copy(out.Data[old.Size():], add.Data)
	return truncateFront(out, maxRows), nil
}

func truncateFront(t *tensor.Tensor, maxRows int) *tensor.Tensor {
	rows, dim := t.Dim(0), t.Dim(1)
	if rows <= maxRows {
		return t
	}
	drop := rows - maxRows
	return tensor.FromData([]int{maxRows, dim}, t.Data[drop*dim:])
}
