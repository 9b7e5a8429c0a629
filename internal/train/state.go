package train

import (
	"github.com/parallax-ml/parallax/internal/optim"
	"github.com/parallax-ml/parallax/internal/partition"
	"github.com/parallax-ml/parallax/internal/tensor"
	"github.com/parallax-ml/parallax/internal/tree"
)

// TrainState bundles parameters, the update rule and its state into one
// value threaded through Step.  A state is never mutated: ApplyGradients
// returns a replacement.
type TrainState struct {
	Params   *tree.Tree[*tensor.Tensor]
	Rule     optim.Rule
	OptState *optim.State
	Step     int64
}

// NewTrainState initialises optimizer state for params and wraps everything
// into a TrainState.
func NewTrainState(params *tree.Tree[*tensor.Tensor], rule optim.Rule) (*TrainState, error) {
	st, err := rule.Init(params)
	if err != nil {
		return nil, err
	}
	return &TrainState{Params: params, Rule: rule, OptState: st}, nil
}

// ApplyGradients runs one optimizer update and returns the successor state.
func (s *TrainState) ApplyGradients(grads *tree.Tree[*tensor.Tensor], specs partition.SpecSet, mesh *partition.Mesh) (*TrainState, error) {
	newParams, newOpt, err := UpdateOptState(grads, s.OptState, s.Params, s.Rule, specs, mesh)
	if err != nil {
		return nil, err
	}
	return &TrainState{Params: newParams, Rule: s.Rule, OptState: newOpt, Step: s.Step + 1}, nil
}

// UpdateOptState applies one update-rule step to sharded parameters and
// sharded optimizer state.  Params, grads and the moment trees are all
// re-constrained against the declared partition specs before the rule runs;
// any layout disagreement aborts the update.
func UpdateOptState(grads *tree.Tree[*tensor.Tensor], st *optim.State, params *tree.Tree[*tensor.Tensor], rule optim.Rule, specs partition.SpecSet, mesh *partition.Mesh) (*tree.Tree[*tensor.Tensor], *optim.State, error) {
	if err := partition.Constrain(params, specs, mesh); err != nil {
		return nil, nil, err
	}
	if err := partition.Constrain(grads, specs, mesh); err != nil {
		return nil, nil, err
	}
	// Moment trees are sharded like the parameters they track.
	if st != nil {
		if err := partition.Constrain(st.M, specs, mesh); err != nil {
			return nil, nil, err
		}
		if err := partition.Constrain(st.V, specs, mesh); err != nil {
			return nil, nil, err
		}
	}
	deltas, newSt, err := rule.Update(grads, st, params)
	if err != nil {
		return nil, nil, err
	}
	newParams, err := optim.ApplyUpdates(params, deltas)
	if err != nil {
		return nil, nil, err
	}
	return newParams, newSt, nil
}
