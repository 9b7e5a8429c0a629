package train

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/parallax-ml/parallax/internal/collective"
	"github.com/parallax-ml/parallax/internal/optim"
	"github.com/parallax-ml/parallax/internal/partition"
	"github.com/parallax-ml/parallax/internal/tensor"
	"github.com/parallax-ml/parallax/internal/tree"
)

func tokenBatch(t *testing.T, micro, accum, ctx int, seed int64) *tree.Tree[*tensor.IntTensor] {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	tok := tensor.NewInt(micro, accum, ctx)
	for i := range tok.Data {
		tok.Data[i] = int32(rng.Intn(100))
	}
	b := tree.New[*tensor.IntTensor]()
	if err := b.Set("tokens", tok); err != nil {
		t.Fatal(err)
	}
	return b
}

func smallParams(t *testing.T) *tree.Tree[*tensor.Tensor] {
	t.Helper()
	params := tree.New[*tensor.Tensor]()
	w := tensor.New(4, 4)
	tensor.FillRand(w, 3)
	if err := params.Set("block/w", w); err != nil {
		t.Fatal(err)
	}
	b := tensor.New(4)
	tensor.FillRand(b, 5)
	if err := params.Set("block/b", b); err != nil {
		t.Fatal(err)
	}
	return params
}

// quadLossGrad is an analytic loss with a closed-form gradient:
// loss = s * sum(p^2) with s the mean token id, grad = 2*s*p.
func quadLossGrad(params *tree.Tree[*tensor.Tensor], mb *tree.Tree[*tensor.IntTensor], _ *rand.Rand) (float32, *tree.Tree[*tensor.Tensor], error) {
	tok, ok := mb.Get("tokens")
	if !ok {
		return 0, nil, errors.New("missing tokens leaf")
	}
	var sum float64
	for _, v := range tok.Data {
		sum += float64(v)
	}
	s := float32(sum / float64(len(tok.Data)) / 100.0)

	var loss float32
	grads, err := tree.Map(params, func(_ string, p *tensor.Tensor) (*tensor.Tensor, error) {
		g := tensor.ZerosLike(p)
		for i, v := range p.Data {
			loss += s * v * v
			g.Data[i] = 2 * s * v
		}
		return g, nil
	})
	return loss, grads, err
}

// TestMinibatchRoundTrip: slicing every accumulation index and stacking the
// slices back must exactly reconstruct the original batch.
func TestMinibatchRoundTrip(t *testing.T) {
	const accum = 4
	batch := tokenBatch(t, 2, accum, 8, 11)

	parts := make([]*tensor.IntTensor, accum)
	for i := 0; i < accum; i++ {
		mb, err := Minibatch(batch, i)
		if err != nil {
			t.Fatal(err)
		}
		tok, ok := mb.Get("tokens")
		if !ok {
			t.Fatal("minibatch lost the tokens leaf")
		}
		if tok.Rank() != 2 {
			t.Fatalf("minibatch rank = %d, want 2", tok.Rank())
		}
		parts[i] = tok
	}
	back, err := tensor.StackInt(AccumAxis, parts)
	if err != nil {
		t.Fatal(err)
	}
	orig, _ := batch.Get("tokens")
	for i := range orig.Data {
		if back.Data[i] != orig.Data[i] {
			t.Fatalf("reassembled batch differs at %d", i)
		}
	}
}

func TestMinibatchOutOfRange(t *testing.T) {
	batch := tokenBatch(t, 2, 4, 8, 11)
	if _, err := Minibatch(batch, 4); err == nil {
		t.Fatal("out-of-range minibatch index succeeded")
	}
}

// TestAccumulateMeanLaw: the accumulated loss must equal the arithmetic mean
// of the per-microbatch losses computed independently.
func TestAccumulateMeanLaw(t *testing.T) {
	const accum = 8
	params := smallParams(t)
	batch := tokenBatch(t, 2, accum, 16, 17)

	loss, grads, err := Accumulate(params, batch, accum, nil, quadLossGrad)
	if err != nil {
		t.Fatal(err)
	}

	var want float32
	for i := 0; i < accum; i++ {
		mb, err := Minibatch(batch, i)
		if err != nil {
			t.Fatal(err)
		}
		l, _, err := quadLossGrad(params, mb, nil)
		if err != nil {
			t.Fatal(err)
		}
		want += l
	}
	want /= accum
	if math.Abs(float64(loss-want)) > 1e-5 {
		t.Fatalf("accumulated loss %v, want mean %v", loss, want)
	}
	if grads.NumLeaves() != params.NumLeaves() {
		t.Fatalf("gradient tree has %d leaves, params %d", grads.NumLeaves(), params.NumLeaves())
	}
}

func TestAccumulateBadConfig(t *testing.T) {
	params := smallParams(t)
	batch := tokenBatch(t, 2, 4, 8, 11)

	_, _, err := Accumulate(params, batch, 3, nil, quadLossGrad)
	if !errors.Is(err, ErrAccumulationConfig) {
		t.Fatalf("err = %v, want ErrAccumulationConfig", err)
	}
	_, _, err = Accumulate(params, batch, 0, nil, quadLossGrad)
	if !errors.Is(err, ErrAccumulationConfig) {
		t.Fatalf("err = %v, want ErrAccumulationConfig", err)
	}
}

func TestReshapeForAccumulation(t *testing.T) {
	const b, ctx, accum = 8, 3, 4
	tok := tensor.NewInt(b, ctx)
	for i := range tok.Data {
		tok.Data[i] = int32(i / ctx) // every row holds its row index
	}
	out, err := ReshapeForAccumulation(tok, accum)
	if err != nil {
		t.Fatal(err)
	}
	if out.Dim(0) != b/accum || out.Dim(1) != accum || out.Dim(2) != ctx {
		t.Fatalf("shape = %v", out.Shape)
	}
	// Row (i, j) must be global row j*(b/accum)+i.
	micro := b / accum
	for i := 0; i < micro; i++ {
		for j := 0; j < accum; j++ {
			got := out.Data[(i*accum+j)*ctx]
			if int(got) != j*micro+i {
				t.Fatalf("row (%d,%d) = %d, want %d", i, j, got, j*micro+i)
			}
		}
	}

	if _, err := ReshapeForAccumulation(tok, 3); !errors.Is(err, ErrAccumulationConfig) {
		t.Fatalf("indivisible reshape: err = %v", err)
	}
}

// TestStepSPMD runs a full training step across four lockstep workers and
// checks that every worker converges on the identical new state and metrics.
func TestStepSPMD(t *testing.T) {
	const workers = 4
	const accum = 2

	mesh, err := partition.NewMesh("mesh", []string{"dp"}, []int{workers})
	if err != nil {
		t.Fatal(err)
	}
	group, err := collective.NewGroup(workers)
	if err != nil {
		t.Fatal(err)
	}
	params := smallParams(t)
	specs := partition.ReplicatedLike(params)

	stepper, err := NewStepper(Config{
		AccumSteps: accum,
		Mesh:       mesh,
		Specs:      specs,
		Group:      group,
		LossGrad:   quadLossGrad,
	})
	if err != nil {
		t.Fatal(err)
	}
	state, err := NewTrainState(params, optim.NewAdamW(1e-3, 0))
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	states := make([]*TrainState, workers)
	metrics := make([]Metrics, workers)
	err = group.Run(context.Background(), func(_ context.Context, w int) error {
		batch := tokenBatch(t, 2, accum, 8, int64(100+w))
		ns, m, err := stepper.Step(state, batch, rand.New(rand.NewSource(int64(w))))
		if err != nil {
			return err
		}
		mu.Lock()
		states[w] = ns
		metrics[w] = m
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	for w := 1; w < workers; w++ {
		if metrics[w] != metrics[0] {
			t.Fatalf("worker %d metrics %+v differ from worker 0 %+v", w, metrics[w], metrics[0])
		}
		if _, err := tree.Zip(states[0].Params, states[w].Params, func(path string, a, b *tensor.Tensor) (struct{}, error) {
			for i := range a.Data {
				if a.Data[i] != b.Data[i] {
					t.Fatalf("worker %d param %q[%d] diverges", w, path, i)
				}
			}
			return struct{}{}, nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	if states[0].Step != 1 {
		t.Fatalf("step counter = %d, want 1", states[0].Step)
	}
	if math.Abs(math.Log(float64(metrics[0].Perplexity))-float64(metrics[0].Loss)) > 1e-4 {
		t.Fatalf("perplexity %v is not exp(loss %v)", metrics[0].Perplexity, metrics[0].Loss)
	}
}

// TestStepShardMismatch: a gradient layout that violates the declared specs
// must abort the step with ErrShapeMismatch.
func TestStepShardMismatch(t *testing.T) {
	mesh, err := partition.NewMesh("mesh", []string{"dp"}, []int{4})
	if err != nil {
		t.Fatal(err)
	}
	group, err := collective.NewGroup(1)
	if err != nil {
		t.Fatal(err)
	}
	params := smallParams(t)
	specs := partition.ReplicatedLike(params)
	// Rank-2 spec on the rank-1 bias: layout and spec cannot agree.
	specs["block/b"] = partition.OnAxes("dp", "dp")

	stepper, err := NewStepper(Config{
		AccumSteps: 2,
		Mesh:       mesh,
		Specs:      specs,
		Group:      group,
		LossGrad:   quadLossGrad,
	})
	if err != nil {
		t.Fatal(err)
	}
	state, err := NewTrainState(params, optim.NewAdamW(1e-3, 0))
	if err != nil {
		t.Fatal(err)
	}
	batch := tokenBatch(t, 2, 2, 8, 1)
	_, _, err = stepper.Step(state, batch, nil)
	if !errors.Is(err, partition.ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestEval(t *testing.T) {
	group, err := collective.NewGroup(1)
	if err != nil {
		t.Fatal(err)
	}
	mesh, err := partition.NewMesh("mesh", []string{"dp"}, []int{1})
	if err != nil {
		t.Fatal(err)
	}
	params := smallParams(t)
	stepper, err := NewStepper(Config{
		AccumSteps: 1,
		Mesh:       mesh,
		Specs:      partition.ReplicatedLike(params),
		Group:      group,
		LossGrad:   quadLossGrad,
		Loss: func(p *tree.Tree[*tensor.Tensor], b *tree.Tree[*tensor.IntTensor]) (float32, error) {
			l, _, err := quadLossGrad(p, b, nil)
			return l, err
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	state, err := NewTrainState(params, optim.NewAdamW(1e-3, 0))
	if err != nil {
		t.Fatal(err)
	}
	batch := tokenBatch(t, 2, 2, 8, 9)
	m, err := stepper.Eval(state, batch)
	if err != nil {
		t.Fatal(err)
	}
	if m.Loss <= 0 {
		t.Fatalf("eval loss = %v, want > 0", m.Loss)
	}
}
