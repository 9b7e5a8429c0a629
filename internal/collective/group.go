// Package collective implements the cross-worker synchronization used by
// the training step.  A Group is a fixed set of SPMD participants; the only
// collective it offers is a blocking mean all-reduce, which every
// participant must reach before any proceeds.
package collective

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/parallax-ml/parallax/internal/tensor"
	"github.com/parallax-ml/parallax/internal/tree"
)

// Group coordinates a fixed number of lockstep participants.  All
// participants must call the same sequence of collectives in the same
// order; the Group does not detect misuse beyond structural mismatches in
// the reduced trees.
type Group struct {
	n    int
	mu   sync.Mutex
	cond *sync.Cond

	// In-progress phase.
	phase     int
	arrived   int
	scalarSum float64
	treeSum   *tree.Tree[*tensor.Tensor]
	phaseErr  error

	// Snapshot of the last finished phase.  Written only when a phase
	// closes; a new phase cannot close until every waiter of the previous
	// one has returned, so waiters always observe their own phase's result.
	scalarOut float32
	treeOut   *tree.Tree[*tensor.Tensor]
	errOut    error
}

// NewGroup returns a group of n participants.  n must be at least 1.
func NewGroup(n int) (*Group, error) {
	if n < 1 {
		return nil, fmt.Errorf("collective: group size %d", n)
	}
	g := &Group{n: n}
	g.cond = sync.NewCond(&g.mu)
	return g, nil
}

// Size returns the number of participants.
func (g *Group) Size() int { return g.n }

// Run launches fn once per participant and blocks until all return.  The
// context is cancelled as soon as any participant fails, and the first
// error is returned.  There is no partial recovery: a failed participant
// aborts the whole step.
func (g *Group) Run(ctx context.Context, fn func(ctx context.Context, worker int) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < g.n; w++ {
		eg.Go(func() error {
			return fn(ctx, w)
		})
	}
	return eg.Wait()
}

// MeanScalar reduces one scalar per participant to their arithmetic mean.
// It blocks until every participant has contributed, then returns the
// identical mean to all of them.  With a single participant it is the
// identity.
func (g *Group) MeanScalar(v float32) float32 {
	if g.n == 1 {
		return v
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.scalarSum += float64(v)
	g.awaitPhaseLocked(func() {
		g.scalarOut = float32(g.scalarSum / float64(g.n))
	})
	return g.scalarOut
}

// MeanTree reduces one tensor tree per participant to their element-wise
// mean.  Every participant receives the same averaged tree, which must be
// treated as read-only.  Structural or shape mismatches between the
// contributed trees fail the whole phase for every participant.  With a
// single participant it is the identity.
func (g *Group) MeanTree(t *tree.Tree[*tensor.Tensor]) (*tree.Tree[*tensor.Tensor], error) {
	if g.n == 1 {
		return t, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phaseErr == nil {
		g.contributeTreeLocked(t)
	}
	g.awaitPhaseLocked(func() {
		if g.phaseErr == nil {
			inv := float32(1.0) / float32(g.n)
			_ = g.treeSum.Walk(func(_ string, v *tensor.Tensor) error {
				tensor.Scale(v.Data, inv)
				return nil
			})
		}
		g.treeOut = g.treeSum
	})
	if g.errOut != nil {
		return nil, g.errOut
	}
	return g.treeOut, nil
}

func (g *Group) contributeTreeLocked(t *tree.Tree[*tensor.Tensor]) {
	if g.treeSum == nil {
		sum, err := tree.Map(t, func(_ string, v *tensor.Tensor) (*tensor.Tensor, error) {
			return v.Clone(), nil
		})
		if err != nil {
			g.phaseErr = err
			return
		}
		g.treeSum = sum
		return
	}
	_, err := tree.Zip(g.treeSum, t, func(path string, acc, v *tensor.Tensor) (struct{}, error) {
		if len(acc.Data) != len(v.Data) {
			return struct{}{}, fmt.Errorf("collective: tensor size mismatch at %q: %d vs %d",
				path, len(acc.Data), len(v.Data))
		}
		tensor.Add(acc.Data, v.Data)
		return struct{}{}, nil
	})
	if err != nil {
		g.phaseErr = err
	}
}

// awaitPhaseLocked registers one arrival.  The last participant to arrive
// runs finish, snapshots the phase outcome, resets the in-progress state and
// wakes the waiters; everyone else blocks until the phase closes.
func (g *Group) awaitPhaseLocked(finish func()) {
	phase := g.phase
	g.arrived++
	if g.arrived == g.n {
		finish()
		g.errOut = g.phaseErr
		g.phaseErr = nil
		g.arrived = 0
		g.scalarSum = 0
		g.treeSum = nil
		g.phase++
		g.cond.Broadcast()
		return
	}
	for phase == g.phase {
		g.cond.Wait()
	}
}
