package optim

import (
	"math"

	"github.com/parallax-ml/parallax/internal/tensor"
	"github.com/parallax-ml/parallax/internal/tree"
)

// AdamW is Adam with decoupled weight decay.  The decay term is added to
// the update directly rather than folded into the gradient, so a zero
// gradient with zero decay is an exact parameter no-op.
type AdamW struct {
	LR          float32
	Beta1       float32
	Beta2       float32
	Eps         float32
	WeightDecay float32
}

// NewAdamW returns an AdamW rule with the conventional defaults for any
// field left at zero.
func NewAdamW(lr, weightDecay float32) *AdamW {
	return &AdamW{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
	}
}

// Init builds zeroed first/second moment trees mirroring params.
func (a *AdamW) Init(params *tree.Tree[*tensor.Tensor]) (*State, error) {
	m, err := ZerosLike(params)
	if err != nil {
		return nil, err
	}
	v, err := ZerosLike(params)
	if err != nil {
		return nil, err
	}
	return &State{Step: 0, M: m, V: v}, nil
}

// Update computes AdamW deltas.  Bias correction follows the usual
// step-count schedule; the prior state is left untouched and a full
// replacement snapshot is returned.
func (a *AdamW) Update(grads *tree.Tree[*tensor.Tensor], st *State, params *tree.Tree[*tensor.Tensor]) (*tree.Tree[*tensor.Tensor], *State, error) {
	if st == nil {
		return nil, nil, errNilState
	}
	step := st.Step + 1
	t := float64(step)
	c1 := 1.0 - math.Pow(float64(a.Beta1), t)
	c2 := 1.0 - math.Pow(float64(a.Beta2), t)

	newM, err := tree.Zip(st.M, grads, func(_ string, m, g *tensor.Tensor) (*tensor.Tensor, error) {
		out := tensor.ZerosLike(m)
		for i := range out.Data {
			out.Data[i] = a.Beta1*m.Data[i] + (1-a.Beta1)*g.Data[i]
		}
		return out, nil
	})
	if err != nil {
		return nil, nil, err
	}
	newV, err := tree.Zip(st.V, grads, func(_ string, v, g *tensor.Tensor) (*tensor.Tensor, error) {
		out := tensor.ZerosLike(v)
		for i := range out.Data {
			out.Data[i] = a.Beta2*v.Data[i] + (1-a.Beta2)*g.Data[i]*g.Data[i]
		}
		return out, nil
	})
	if err != nil {
		return nil, nil, err
	}

	mv, err := tree.Zip(newM, newV, func(_ string, m, v *tensor.Tensor) (*tensor.Tensor, error) {
		out := tensor.ZerosLike(m)
		for i := range out.Data {
			mhat := float64(m.Data[i]) / c1
			vhat := float64(v.Data[i]) / c2
			out.Data[i] = float32(mhat / (math.Sqrt(vhat) + float64(a.Eps)))
		}
		return out, nil
	})
	if err != nil {
		return nil, nil, err
	}
	deltas, err := tree.Zip(mv, params, func(_ string, u, p *tensor.Tensor) (*tensor.Tensor, error) {
		out := tensor.ZerosLike(u)
		for i := range out.Data {
			out.Data[i] = -a.LR * (u.Data[i] + a.WeightDecay*p.Data[i])
		}
		return out, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return deltas, &State{Step: step, M: newM, V: newV}, nil
}
