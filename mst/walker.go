package mst

import (
	"context"
	"errors"
	"fmt"
)

var ErrWalkerNotTree = errors.New("mst: tried to step into a leaf")

var ErrWalkerDone = errors.New("mst: walk is done")

type walkerFrame struct {
	curr    NodeEntry
	walking *MerkleSearchTree
	index   int
}

// A cursor over every entry of a tree, with an explicit stack instead of recursion.
//
// The walk starts at a tree entry for the root itself. walking is the node containing the current entry, which is nil while the cursor is on the root.
type Walker struct {
	root *MerkleSearchTree

	done    bool
	curr    NodeEntry
	walking *MerkleSearchTree
	index   int

	stack []walkerFrame
}

func NewWalker(root *MerkleSearchTree) *Walker {
	return &Walker{
		root: root,
		curr: treeEntry(root),
	}
}

func (w *Walker) Done() bool {
	return w.done
}

// Current returns the entry the walker is on. Only meaningful if the walk is not done.
func (w *Walker) Current() NodeEntry {
	return w.curr
}

// Returns the layer of the node being walked. On the root, this is one above the root's own layer.
func (w *Walker) Layer(ctx context.Context) (int, error) {
	if w.done {
		return -1, ErrWalkerDone
	}

	if w.walking != nil {
		return w.walking.getLayer(ctx)
	}

	if w.curr.isTree() {
		layer, err := w.curr.Tree.getLayer(ctx)
		if err != nil {
			return -1, err
		}
		return layer + 1, nil
	}

	return -1, fmt.Errorf("could not identify layer of walk")
}

// Moves to the next entry without descending into the current one. When a node is exhausted, the walker pops back up and steps over the parent entry.
func (w *Walker) StepOver(ctx context.Context) error {
	for !w.done {
		if w.walking == nil {
			// stepping over the root
			w.done = true
			return nil
		}

		entries, err := w.walking.getEntries(ctx)
		if err != nil {
			return err
		}

		w.index++
		if w.index < len(entries) {
			w.curr = entries[w.index]
			return nil
		}

		if len(w.stack) == 0 {
			w.done = true
			return nil
		}

		top := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		w.curr = top.curr
		w.walking = top.walking
		w.index = top.index
	}
	return nil
}

// Descends to the first entry of the current subtree. Stepping into the root of an empty tree ends the walk.
func (w *Walker) StepInto(ctx context.Context) error {
	if w.done {
		return nil
	}

	if !w.curr.isTree() {
		return ErrWalkerNotTree
	}

	next, err := w.curr.Tree.getEntries(ctx)
	if err != nil {
		return err
	}

	if len(next) == 0 {
		if w.walking == nil {
			w.done = true
			return nil
		}
		return fmt.Errorf("%w: tried to step into an empty subtree", ErrMalformedNode)
	}

	w.stack = append(w.stack, walkerFrame{
		curr:    w.curr,
		walking: w.walking,
		index:   w.index,
	})

	w.walking = w.curr.Tree
	w.curr = next[0]
	w.index = 0
	return nil
}

// Steps into subtrees and over leaves, visiting every entry in key order.
func (w *Walker) Advance(ctx context.Context) error {
	if w.done {
		return nil
	}
	if w.curr.isTree() {
		return w.StepInto(ctx)
	}
	return w.StepOver(ctx)
}

// tree entries the walker has stepped into, from the root down
func (w *Walker) path() []NodeEntry {
	out := make([]NodeEntry, 0, len(w.stack)+1)
	for _, f := range w.stack {
		out = append(out, f.curr)
	}
	return out
}
