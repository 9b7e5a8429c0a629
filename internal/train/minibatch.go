package train

import "github.com/parallax-ml/parallax/internal/tree"

// AccumAxis is the axis every batch leaf carries its accumulation steps on.
// Batches are laid out (micro_batch, accum_steps, seq_len); see
// ReshapeForAccumulation.
const AccumAxis = 1

// sliceable is satisfied by any tensor kind that can select an index along
// an axis, dropping that axis.
type sliceable[T any] interface {
	IndexAxis(axis, idx int) (T, error)
}

// Minibatch selects index idx along the accumulation axis of every leaf in
// the batch tree, preserving all other axes.  It works uniformly over
// arbitrarily nested trees and has no side effects; an out-of-range index is
// an error.
func Minibatch[T sliceable[T]](batch *tree.Tree[T], idx int) (*tree.Tree[T], error) {
	return tree.Map(batch, func(_ string, v T) (T, error) {
		return v.IndexAxis(AccumAxis, idx)
	})
}
