package train

import (
	"errors"
	"math"
	"math/rand"

	"github.com/parallax-ml/parallax/internal/collective"
	"github.com/parallax-ml/parallax/internal/partition"
	"github.com/parallax-ml/parallax/internal/tensor"
	"github.com/parallax-ml/parallax/internal/tree"
)

// Metrics is the per-step training record.
type Metrics struct {
	Loss       float32 `json:"loss"`
	Perplexity float32 `json:"perplexity"`
}

// Config wires a Stepper.  Every participant of the group runs the same
// Stepper against its own shard of the data.
type Config struct {
	AccumSteps int
	Mesh       *partition.Mesh
	Specs      partition.SpecSet
	Group      *collective.Group
	LossGrad   LossGradFunc
	Loss       LossFunc // optional, required only for Eval
}

// Stepper composes minibatch extraction, gradient accumulation, the
// cross-worker reduction and the optimizer update into one atomic step.
type Stepper struct {
	cfg Config
}

// NewStepper validates the configuration.
func NewStepper(cfg Config) (*Stepper, error) {
	if cfg.AccumSteps < 1 {
		return nil, newAccumulationConfig("accumulation steps %d", cfg.AccumSteps)
	}
	if cfg.Group == nil {
		return nil, errors.New("train: nil collective group")
	}
	if cfg.Mesh == nil {
		return nil, errors.New("train: nil mesh")
	}
	if cfg.LossGrad == nil {
		return nil, errors.New("train: nil loss/grad function")
	}
	return &Stepper{cfg: cfg}, nil
}

// Step trains on a single gradient-accumulation batch: accumulate local
// loss and gradients, mean-reduce both across the group, re-assert the
// gradient partition layout, then apply the optimizer update.  The returned
// metrics hold the globally averaged loss and its perplexity.  Step is a
// pure transformation from (state, batch) to (state, metrics); nothing
// persists outside what is threaded in and out.
func (s *Stepper) Step(state *TrainState, batch *tree.Tree[*tensor.IntTensor], rng *rand.Rand) (*TrainState, Metrics, error) {
	loss, grads, err := Accumulate(state.Params, batch, s.cfg.AccumSteps, rng, s.cfg.LossGrad)
	if err != nil {
		return nil, Metrics{}, err
	}

	loss = s.cfg.Group.MeanScalar(loss)
	grads, err = s.cfg.Group.MeanTree(grads)
	if err != nil {
		return nil, Metrics{}, err
	}
	if err := partition.Constrain(grads, s.cfg.Specs, s.cfg.Mesh); err != nil {
		return nil, Metrics{}, err
	}

	newState, err := state.ApplyGradients(grads, s.cfg.Specs, s.cfg.Mesh)
	if err != nil {
		return nil, Metrics{}, err
	}
	return newState, metricsFor(loss), nil
}

// Eval computes the globally averaged forward-only loss on a full batch.
func (s *Stepper) Eval(state *TrainState, batch *tree.Tree[*tensor.IntTensor]) (Metrics, error) {
	if s.cfg.Loss == nil {
		return Metrics{}, errors.New("train: no eval loss function configured")
	}
	loss, err := s.cfg.Loss(state.Params, batch)
	if err != nil {
		return Metrics{}, err
	}
	loss = s.cfg.Group.MeanScalar(loss)
	return metricsFor(loss), nil
}

func metricsFor(loss float32) Metrics {
	return Metrics{
		Loss:       loss,
		Perplexity: float32(math.Exp(float64(loss))),
	}
}
