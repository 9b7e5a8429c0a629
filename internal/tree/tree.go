// Package tree implements the nested, ordered containers that parameter,
// gradient and optimizer-state collections are stored in.  A Tree[T] is
// either a leaf holding a single value or a named mapping of sub-trees.
// Traversal is always in sorted key order so that whole-tree operations are
// deterministic.
package tree

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sep separates path components in the string form of a tree path.
const Sep = "/"

var (
	errNotMap     = errors.New("tree: node is not a map")
	errNotLeaf    = errors.New("tree: node is not a leaf")
	errEmptyPath  = errors.New("tree: empty path")
	errLeafExists = errors.New("tree: path already bound to a leaf")
)

// Tree is a nested mapping from names to values of type T.  The zero value
// is not usable; construct trees with New or Leaf.
type Tree[T any] struct {
	leaf     T
	isLeaf   bool
	children map[string]*Tree[T]
}

// New returns an empty map node.
func New[T any]() *Tree[T] {
	return &Tree[T]{children: make(map[string]*Tree[T])}
}

// Leaf returns a leaf node holding v.
func Leaf[T any](v T) *Tree[T] {
	return &Tree[T]{leaf: v, isLeaf: true}
}

// IsLeaf reports whether t is a leaf node.
func (t *Tree[T]) IsLeaf() bool { return t.isLeaf }

// Value returns the leaf value.  Calling Value on a map node panics.
func (t *Tree[T]) Value() T {
	if !t.isLeaf {
		panic(errNotLeaf)
	}
	return t.leaf
}

// Keys returns the child names of a map node in sorted order.
func (t *Tree[T]) Keys() []string {
	keys := make([]string, 0, len(t.children))
	for k := range t.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Child returns the named child of a map node.
func (t *Tree[T]) Child(name string) (*Tree[T], bool) {
	c, ok := t.children[name]
	return c, ok
}

// Set binds a leaf value at the given slash-separated path, creating
// intermediate map nodes as needed.
func (t *Tree[T]) Set(path string, v T) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return errEmptyPath
	}
	node := t
	for _, name := range parts[:len(parts)-1] {
		if node.isLeaf {
			return fmt.Errorf("%w: %q", errLeafExists, path)
		}
		child, ok := node.children[name]
		if !ok {
			child = New[T]()
			node.children[name] = child
		}
		node = child
	}
	if node.isLeaf {
		return fmt.Errorf("%w: %q", errLeafExists, path)
	}
	node.children[parts[len(parts)-1]] = Leaf(v)
	return nil
}

// Get returns the leaf value bound at path.
func (t *Tree[T]) Get(path string) (T, bool) {
	var zero T
	node := t
	for _, name := range splitPath(path) {
		if node.isLeaf {
			return zero, false
		}
		child, ok := node.children[name]
		if !ok {
			return zero, false
		}
		node = child
	}
	if !node.isLeaf {
		return zero, false
	}
	return node.leaf, true
}

// NumLeaves returns the number of leaves in the tree.
func (t *Tree[T]) NumLeaves() int {
	if t.isLeaf {
		return 1
	}
	n := 0
	for _, c := range t.children {
		n += c.NumLeaves()
	}
	return n
}

// Walk visits every leaf in sorted path order.  It stops at the first error
// returned by fn and propagates it.
func (t *Tree[T]) Walk(fn func(path string, v T) error) error {
	return t.walk("", fn)
}

func (t *Tree[T]) walk(prefix string, fn func(path string, v T) error) error {
	if t.isLeaf {
		return fn(prefix, t.leaf)
	}
	for _, k := range t.Keys() {
		p := k
		if prefix != "" {
			p = prefix + Sep + k
		}
		if err := t.children[k].walk(p, fn); err != nil {
			return err
		}
	}
	return nil
}

// Map builds a new tree with the same structure as t, where every leaf is
// the result of fn applied to the corresponding leaf of t.
func Map[T, U any](t *Tree[T], fn func(path string, v T) (U, error)) (*Tree[U], error) {
	return mapNode(t, "", fn)
}

func mapNode[T, U any](t *Tree[T], prefix string, fn func(string, T) (U, error)) (*Tree[U], error) {
	if t.isLeaf {
		u, err := fn(prefix, t.leaf)
		if err != nil {
			return nil, err
		}
		return Leaf(u), nil
	}
	out := New[U]()
	for _, k := range t.Keys() {
		p := k
		if prefix != "" {
			p = prefix + Sep + k
		}
		child, err := mapNode(t.children[k], p, fn)
		if err != nil {
			return nil, err
		}
		out.children[k] = child
	}
	return out, nil
}

// Zip builds a new tree by combining two structurally identical trees leaf
// by leaf.  A structural mismatch (differing node kinds or key sets) is an
// error naming the offending path.
func Zip[A, B, C any](a *Tree[A], b *Tree[B], fn func(path string, av A, bv B) (C, error)) (*Tree[C], error) {
	return zipNode(a, b, "", fn)
}

func zipNode[A, B, C any](a *Tree[A], b *Tree[B], prefix string, fn func(string, A, B) (C, error)) (*Tree[C], error) {
	if a.isLeaf != b.isLeaf {
		return nil, fmt.Errorf("tree: structure mismatch at %q: leaf vs map", prefix)
	}
	if a.isLeaf {
		c, err := fn(prefix, a.leaf, b.leaf)
		if err != nil {
			return nil, err
		}
		return Leaf(c), nil
	}
	aKeys := a.Keys()
	bKeys := b.Keys()
	if len(aKeys) != len(bKeys) {
		return nil, fmt.Errorf("tree: structure mismatch at %q: %d vs %d children", prefix, len(aKeys), len(bKeys))
	}
	out := New[C]()
	for i, k := range aKeys {
		if bKeys[i] != k {
			return nil, fmt.Errorf("tree: structure mismatch at %q: key %q vs %q", prefix, k, bKeys[i])
		}
		p := k
		if prefix != "" {
			p = prefix + Sep + k
		}
		child, err := zipNode(a.children[k], b.children[k], p, fn)
		if err != nil {
			return nil, err
		}
		out.children[k] = child
	}
	return out, nil
}

func splitPath(path string) []string {
	path = strings.Trim(path, Sep)
	if path == "" {
		return nil
	}
	return strings.Split(path, Sep)
}
