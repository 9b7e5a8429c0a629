package collective

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/parallax-ml/parallax/internal/tensor"
	"github.com/parallax-ml/parallax/internal/tree"
)

func leafTree(t *testing.T, path string, vals []float32) *tree.Tree[*tensor.Tensor] {
	t.Helper()
	tr := tree.New[*tensor.Tensor]()
	if err := tr.Set(path, tensor.FromData([]int{len(vals)}, vals)); err != nil {
		t.Fatal(err)
	}
	return tr
}

// TestSingleParticipantIdentity: with one worker the collective is the
// identity on its input.
func TestSingleParticipantIdentity(t *testing.T) {
	g, err := NewGroup(1)
	if err != nil {
		t.Fatal(err)
	}
	if got := g.MeanScalar(3.25); got != 3.25 {
		t.Fatalf("MeanScalar = %v, want 3.25", got)
	}
	in := leafTree(t, "w", []float32{1, 2, 3})
	out, err := g.MeanTree(in)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatal("single-participant MeanTree did not return its input")
	}
}

func TestMeanScalarAcrossWorkers(t *testing.T) {
	g, err := NewGroup(4)
	if err != nil {
		t.Fatal(err)
	}
	results := make([]float32, 4)
	err = g.Run(context.Background(), func(_ context.Context, w int) error {
		results[w] = g.MeanScalar(float32(w))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for w, r := range results {
		if math.Abs(float64(r-1.5)) > 1e-6 {
			t.Fatalf("worker %d saw mean %v, want 1.5", w, r)
		}
	}
}

func TestMeanTreeAcrossWorkers(t *testing.T) {
	g, err := NewGroup(3)
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	outs := make([]*tree.Tree[*tensor.Tensor], 3)
	err = g.Run(context.Background(), func(_ context.Context, w int) error {
		in := leafTree(t, "w", []float32{float32(w), float32(2 * w)})
		out, err := g.MeanTree(in)
		if err != nil {
			return err
		}
		mu.Lock()
		outs[w] = out
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for w := 0; w < 3; w++ {
		v, ok := outs[w].Get("w")
		if !ok {
			t.Fatalf("worker %d result missing leaf", w)
		}
		if math.Abs(float64(v.Data[0]-1)) > 1e-6 || math.Abs(float64(v.Data[1]-2)) > 1e-6 {
			t.Fatalf("worker %d mean = %v, want [1 2]", w, v.Data)
		}
	}
	// All workers hold the identical result.
	if outs[0] != outs[1] || outs[1] != outs[2] {
		t.Fatal("workers received different result trees")
	}
}

// TestMeanTreeMismatch verifies that an incompatible contribution fails the
// phase for every participant rather than silently producing a wrong
// reduction.
func TestMeanTreeMismatch(t *testing.T) {
	g, err := NewGroup(2)
	if err != nil {
		t.Fatal(err)
	}
	errs := make([]error, 2)
	_ = g.Run(context.Background(), func(_ context.Context, w int) error {
		var in *tree.Tree[*tensor.Tensor]
		if w == 0 {
			in = leafTree(t, "w", []float32{1, 2})
		} else {
			in = leafTree(t, "w", []float32{1, 2, 3})
		}
		_, errs[w] = g.MeanTree(in)
		return nil
	})
	for w, e := range errs {
		if e == nil {
			t.Fatalf("worker %d did not observe the phase error", w)
		}
	}
}

// TestRepeatedPhases exercises the reusable barrier over several steps.
func TestRepeatedPhases(t *testing.T) {
	g, err := NewGroup(2)
	if err != nil {
		t.Fatal(err)
	}
	const steps = 5
	err = g.Run(context.Background(), func(_ context.Context, w int) error {
		for s := 0; s < steps; s++ {
			got := g.MeanScalar(float32(s + w))
			want := float32(s) + 0.5
			if math.Abs(float64(got-want)) > 1e-6 {
				t.Errorf("step %d worker %d: mean %v, want %v", s, w, got, want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
