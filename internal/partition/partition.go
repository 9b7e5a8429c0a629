// Package partition describes how tensors in a tree are laid out across a
// device mesh, and validates that layout at synchronization boundaries.
//
// A Spec describes one tensor: per tensor axis, either the name of the mesh
// axis the tensor axis is split across, or the empty string for a replicated
// axis.  Axes beyond the spec's rank are implicitly replicated.  Specs are
// kept in a SpecSet keyed by tree path rather than attached to the tensors
// themselves.
package partition

import (
	"errors"
	"fmt"

	"github.com/parallax-ml/parallax/internal/tensor"
	"github.com/parallax-ml/parallax/internal/tree"
)

// ErrShapeMismatch is the sentinel for any disagreement between a declared
// partition spec and an actual tensor layout.  A step that trips it must
// abort; proceeding would silently corrupt the reduction or update.
var ErrShapeMismatch = errors.New("shape_mismatch")

type shapeMismatchError struct {
	path string
	msg  string
}

func (e shapeMismatchError) Error() string {
	return fmt.Sprintf("partition: %s at %q", e.msg, e.path)
}

func (e shapeMismatchError) Unwrap() error { return ErrShapeMismatch }

func newShapeMismatch(path, format string, args ...any) error {
	return shapeMismatchError{path: path, msg: fmt.Sprintf(format, args...)}
}

// Mesh is a fixed, named arrangement of devices with one size per logical
// parallelism axis.
type Mesh struct {
	Name  string
	Axes  []string
	Sizes []int
}

// NewMesh constructs a mesh.  Axis names must be unique and sizes positive.
func NewMesh(name string, axes []string, sizes []int) (*Mesh, error) {
	if len(axes) != len(sizes) {
		return nil, fmt.Errorf("partition: mesh %q has %d axes but %d sizes", name, len(axes), len(sizes))
	}
	seen := make(map[string]bool, len(axes))
	for i, a := range axes {
		if a == "" {
			return nil, fmt.Errorf("partition: mesh %q has an unnamed axis", name)
		}
		if seen[a] {
			return nil, fmt.Errorf("partition: mesh %q repeats axis %q", name, a)
		}
		seen[a] = true
		if sizes[i] <= 0 {
			return nil, fmt.Errorf("partition: mesh %q axis %q has size %d", name, a, sizes[i])
		}
	}
	return &Mesh{Name: name, Axes: append([]string(nil), axes...), Sizes: append([]int(nil), sizes...)}, nil
}

// AxisSize returns the number of devices along the named mesh axis.
func (m *Mesh) AxisSize(name string) (int, bool) {
	for i, a := range m.Axes {
		if a == name {
			return m.Sizes[i], true
		}
	}
	return 0, false
}

// NumDevices returns the total device count of the mesh.
func (m *Mesh) NumDevices() int {
	n := 1
	for _, s := range m.Sizes {
		n *= s
	}
	return n
}

// Spec declares, per tensor axis, which mesh axis that tensor axis is split
// across.  An empty string means the axis is replicated.
type Spec struct {
	Axes []string
}

// Replicated returns a spec with rank replicated axes.
func Replicated(rank int) Spec {
	return Spec{Axes: make([]string, rank)}
}

// OnAxes returns a spec binding successive tensor axes to the given mesh
// axes; use "" for a replicated tensor axis.
func OnAxes(meshAxes ...string) Spec {
	return Spec{Axes: append([]string(nil), meshAxes...)}
}

// Equal reports whether two specs declare the identical layout.
func (s Spec) Equal(o Spec) bool {
	if len(s.Axes) != len(o.Axes) {
		return false
	}
	for i := range s.Axes {
		if s.Axes[i] != o.Axes[i] {
			return false
		}
	}
	return true
}

// SpecSet maps tree paths to tensor specs.
type SpecSet map[string]Spec

// Equal reports whether two spec sets declare identical layouts for
// identical paths.  Gradients and parameters destined for the same update
// must satisfy this before the update rule runs.
func (ss SpecSet) Equal(o SpecSet) bool {
	if len(ss) != len(o) {
		return false
	}
	for p, s := range ss {
		os, ok := o[p]
		if !ok || !s.Equal(os) {
			return false
		}
	}
	return true
}

// ReplicatedLike builds a spec set declaring every leaf of t fully
// replicated.
func ReplicatedLike(t *tree.Tree[*tensor.Tensor]) SpecSet {
	ss := make(SpecSet, t.NumLeaves())
	_ = t.Walk(func(path string, v *tensor.Tensor) error {
		ss[path] = Replicated(v.Rank())
		return nil
	})
	return ss
}

// Constrain re-asserts that every leaf of t conforms to its declared spec on
// the given mesh.  It is the correctness guard applied before collective
// reductions and optimizer updates: a missing spec, an unknown mesh axis, a
// rank overflow, or a sharded dimension not divisible by its mesh axis size
// all fail with ErrShapeMismatch.
func Constrain(t *tree.Tree[*tensor.Tensor], specs SpecSet, mesh *Mesh) error {
	return t.Walk(func(path string, v *tensor.Tensor) error {
		spec, ok := specs[path]
		if !ok {
			return newShapeMismatch(path, "no partition spec declared")
		}
		if len(spec.Axes) > v.Rank() {
			return newShapeMismatch(path, "spec rank %d exceeds tensor rank %d", len(spec.Axes), v.Rank())
		}
		for i, axis := range spec.Axes {
			if axis == "" {
				continue
			}
			size, ok := mesh.AxisSize(axis)
			if !ok {
				return newShapeMismatch(path, "mesh %q has no axis %q", mesh.Name, axis)
			}
			if v.Dim(i)%size != 0 {
				return newShapeMismatch(path, "dim %d of length %d not divisible by mesh axis %q size %d",
					i, v.Dim(i), axis, size)
			}
		}
		return nil
	})
}
