package train

import (
	"math/rand"

	"github.com/parallax-ml/parallax/internal/optim"
	"github.com/parallax-ml/parallax/internal/tensor"
	"github.com/parallax-ml/parallax/internal/tree"
)

// LossGradFunc computes the loss and gradient tree for one microbatch.  The
// gradient tree must mirror the parameter tree structurally.  The rng is
// threaded through for model-side randomness (dropout); implementations may
// ignore it.
type LossGradFunc func(params *tree.Tree[*tensor.Tensor], microbatch *tree.Tree[*tensor.IntTensor], rng *rand.Rand) (float32, *tree.Tree[*tensor.Tensor], error)

// LossFunc computes a forward-only loss for a full batch, used by Eval.
type LossFunc func(params *tree.Tree[*tensor.Tensor], batch *tree.Tree[*tensor.IntTensor]) (float32, error)

// Accumulate runs accumSteps sequential forward/backward passes over the
// microbatches of batch, summing losses and gradients into zero-initialised
// accumulators, and returns the means.  The trip count is fixed up front:
// the loop always runs exactly accumSteps times in index order 0..N-1, which
// also fixes the summation order for determinism.  A batch whose
// accumulation axis does not carry exactly accumSteps entries is a
// configuration error.
func Accumulate(params *tree.Tree[*tensor.Tensor], batch *tree.Tree[*tensor.IntTensor], accumSteps int, rng *rand.Rand, f LossGradFunc) (float32, *tree.Tree[*tensor.Tensor], error) {
	if accumSteps < 1 {
		return 0, nil, newAccumulationConfig("accumulation steps %d", accumSteps)
	}
	if err := batch.Walk(func(path string, v *tensor.IntTensor) error {
		if v.Rank() <= AccumAxis {
			return newAccumulationConfig("batch leaf %q has rank %d, need accumulation axis %d", path, v.Rank(), AccumAxis)
		}
		if v.Dim(AccumAxis) != accumSteps {
			return newAccumulationConfig("batch leaf %q carries %d accumulation entries, configured for %d",
				path, v.Dim(AccumAxis), accumSteps)
		}
		return nil
	}); err != nil {
		return 0, nil, err
	}

	var loss float32
	grads, err := optim.ZerosLike(params)
	if err != nil {
		return 0, nil, err
	}
	for i := 0; i < accumSteps; i++ {
		mb, err := Minibatch(batch, i)
		if err != nil {
			return 0, nil, err
		}
		l, g, err := f(params, mb, rng)
		if err != nil {
			return 0, nil, err
		}
		loss += l
		if _, err := tree.Zip(grads, g, func(_ string, acc, gi *tensor.Tensor) (struct{}, error) {
			tensor.Add(acc.Data, gi.Data)
			return struct{}{}, nil
		}); err != nil {
			return 0, nil, err
		}
	}

	inv := float32(1.0) / float32(accumSteps)
	loss *= inv
	_ = grads.Walk(func(_ string, v *tensor.Tensor) error {
		tensor.Scale(v.Data, inv)
		return nil
	})
	return loss, grads, nil
}
