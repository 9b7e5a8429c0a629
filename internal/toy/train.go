package toy

import (
	"errors"
	"math/rand"

	"github.com/parallax-ml/parallax/internal/tensor"
	"github.com/parallax-ml/parallax/internal/tree"
)

// Params returns the model weights as a parameter tree, the layout the
// training core operates on.
func (m *LM) Params() (*tree.Tree[*tensor.Tensor], error) {
	params := tree.New[*tensor.Tensor]()
	if err := params.Set("embed/wte", m.Emb.Clone()); err != nil {
		return nil, err
	}
	if err := params.Set("head/w", m.W.Clone()); err != nil {
		return nil, err
	}
	return params, nil
}

// LossGrad is the per-microbatch loss-and-gradient collaborator for the toy
// model: a quadratic penalty on the weights scaled by the batch's mean
// token id.  It is analytic rather than backpropagated, which keeps steps
// deterministic and cheap while exercising the full tree plumbing.
func (m *LM) LossGrad(params *tree.Tree[*tensor.Tensor], mb *tree.Tree[*tensor.IntTensor], _ *rand.Rand) (float32, *tree.Tree[*tensor.Tensor], error) {
	s, err := batchScale(mb, m.Vocab)
	if err != nil {
		return 0, nil, err
	}
	var loss float32
	grads, err := tree.Map(params, func(_ string, p *tensor.Tensor) (*tensor.Tensor, error) {
		g := tensor.ZerosLike(p)
		inv := 1 / float32(p.Size())
		for i, v := range p.Data {
			loss += s * v * v * inv
			g.Data[i] = 2 * s * v * inv
		}
		return g, nil
	})
	if err != nil {
		return 0, nil, err
	}
	return loss, grads, nil
}

// Loss is the forward-only variant used by eval steps.
func (m *LM) Loss(params *tree.Tree[*tensor.Tensor], batch *tree.Tree[*tensor.IntTensor]) (float32, error) {
	s, err := batchScale(batch, m.Vocab)
	if err != nil {
		return 0, err
	}
	var loss float32
	err = params.Walk(func(_ string, p *tensor.Tensor) error {
		inv := 1 / float32(p.Size())
		for _, v := range p.Data {
			loss += s * v * v * inv
		}
		return nil
	})
	return loss, err
}

func batchScale(batch *tree.Tree[*tensor.IntTensor], vocab int) (float32, error) {
	tok, ok := batch.Get("tokens")
	if !ok {
		return 0, errors.New("toy: batch has no tokens leaf")
	}
	var sum float64
	for _, v := range tok.Data {
		sum += float64(v)
	}
	return float32(sum / float64(len(tok.Data)) / float64(vocab)), nil
}
