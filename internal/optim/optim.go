// Package optim provides gradient-transformation update rules.  A Rule
// turns (grads, state, params) into parameter deltas plus a replacement
// state; applying the deltas is a separate, trivial step so that the caller
// controls exactly when parameters change.
package optim

import (
	"errors"

	"github.com/parallax-ml/parallax/internal/tensor"
	"github.com/parallax-ml/parallax/internal/tree"
)

// State is the auxiliary state of an update rule.  The moment trees mirror
// the parameter tree structurally.  State is never mutated in place: Update
// returns a replacement snapshot each step.
type State struct {
	Step int64
	M    *tree.Tree[*tensor.Tensor]
	V    *tree.Tree[*tensor.Tensor]
}

// Rule is the update-rule collaborator: Init builds fresh state for a
// parameter tree, Update produces parameter deltas and the next state.
type Rule interface {
	Init(params *tree.Tree[*tensor.Tensor]) (*State, error)
	Update(grads *tree.Tree[*tensor.Tensor], st *State, params *tree.Tree[*tensor.Tensor]) (*tree.Tree[*tensor.Tensor], *State, error)
}

var errNilState = errors.New("optim: nil optimizer state")

// ApplyUpdates adds deltas to params leaf by leaf, returning a new
// parameter tree.  Neither input is modified.
func ApplyUpdates(params, deltas *tree.Tree[*tensor.Tensor]) (*tree.Tree[*tensor.Tensor], error) {
	return tree.Zip(params, deltas, func(_ string, p, d *tensor.Tensor) (*tensor.Tensor, error) {
		out := p.Clone()
		tensor.Add(out.Data, d.Data)
		return out, nil
	})
}

// ZerosLike returns a zero tree with the same structure and shapes as t.
func ZerosLike(t *tree.Tree[*tensor.Tensor]) (*tree.Tree[*tensor.Tensor], error) {
	return tree.Map(t, func(_ string, v *tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.ZerosLike(v), nil
	})
}
