package mst

import (
	"context"
	"errors"
	"strings"

	"github.com/ipfs/go-cid"
)

var errStopWalk = errors.New("stop walk")

// Calls cb for every entry in the tree, in key order, starting with a tree entry for the root. Subtree entries are visited before their contents.
func (mst *MerkleSearchTree) Walk(ctx context.Context, cb func(ne NodeEntry) error) error {
	w := NewWalker(mst)
	for !w.Done() {
		if err := cb(w.Current()); err != nil {
			return err
		}
		if err := w.Advance(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Returns every leaf of the tree, in key order.
func (mst *MerkleSearchTree) Leaves(ctx context.Context) ([]NodeEntry, error) {
	var out []NodeEntry
	if err := mst.Walk(ctx, func(ne NodeEntry) error {
		if ne.isLeaf() {
			out = append(out, ne)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (mst *MerkleSearchTree) LeafCount(ctx context.Context) (int, error) {
	var count int
	if err := mst.Walk(ctx, func(ne NodeEntry) error {
		if ne.isLeaf() {
			count++
		}
		return nil
	}); err != nil {
		return 0, err
	}
	return count, nil
}

// Returns every node of the tree (root included), in walk order.
func (mst *MerkleSearchTree) AllNodes(ctx context.Context) ([]*MerkleSearchTree, error) {
	var out []*MerkleSearchTree
	if err := mst.Walk(ctx, func(ne NodeEntry) error {
		if ne.isTree() {
			out = append(out, ne.Tree)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Returns, for every leaf, the list of entries from the root down to that leaf. The first element of each path is the root itself.
func (mst *MerkleSearchTree) Paths(ctx context.Context) ([][]NodeEntry, error) {
	var out [][]NodeEntry
	w := NewWalker(mst)
	for !w.Done() {
		if w.Current().isLeaf() {
			out = append(out, append(w.path(), w.Current()))
		}
		if err := w.Advance(ctx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Calls cb for every leaf with a key greater than or equal to the given key, in key order. Subtrees entirely to the left of the key are never loaded.
func (mst *MerkleSearchTree) WalkLeavesFrom(ctx context.Context, key string, cb func(key string, val cid.Cid) error) error {
	index, err := mst.findGtOrEqualLeafIndex(ctx, key)
	if err != nil {
		return err
	}

	entries, err := mst.getEntries(ctx)
	if err != nil {
		return err
	}

	if index > 0 {
		prev := entries[index-1]
		if prev.isTree() {
			if err := prev.Tree.WalkLeavesFrom(ctx, key, cb); err != nil {
				return err
			}
		}
	}

	for _, e := range entries[index:] {
		if e.isLeaf() {
			if err := cb(e.Key, e.Val); err != nil {
				return err
			}
		} else {
			if err := e.Tree.WalkLeavesFrom(ctx, key, cb); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lists up to count leaves with keys strictly between after and before. An empty after or before means unbounded; count <= 0 means no limit.
func (mst *MerkleSearchTree) List(ctx context.Context, count int, after, before string) ([]NodeEntry, error) {
	var out []NodeEntry
	err := mst.WalkLeavesFrom(ctx, after, func(key string, val cid.Cid) error {
		if key == after {
			return nil
		}
		if count > 0 && len(out) >= count {
			return errStopWalk
		}
		if before != "" && key >= before {
			return errStopWalk
		}
		out = append(out, leafEntry(key, val))
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, err
	}
	return out, nil
}

// Lists up to count leaves whose key starts with prefix. count <= 0 means no limit.
func (mst *MerkleSearchTree) ListWithPrefix(ctx context.Context, prefix string, count int) ([]NodeEntry, error) {
	var out []NodeEntry
	err := mst.WalkLeavesFrom(ctx, prefix, func(key string, val cid.Cid) error {
		if count > 0 && len(out) >= count {
			return errStopWalk
		}
		if !strings.HasPrefix(key, prefix) {
			return errStopWalk
		}
		out = append(out, leafEntry(key, val))
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, err
	}
	return out, nil
}

// Returns the pointers of every node on the search path for key, from the root down. Those nodes are enough to prove either the value of the key, or that the key is absent.
func (mst *MerkleSearchTree) CoveringProof(ctx context.Context, key string) ([]cid.Cid, error) {
	var out []cid.Cid
	node := mst
	for {
		ptr, err := node.GetPointer(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, ptr)

		index, err := node.findGtOrEqualLeafIndex(ctx, key)
		if err != nil {
			return nil, err
		}

		found, err := node.atIndex(ctx, index)
		if err != nil {
			return nil, err
		}
		if found.isLeaf() && found.Key == key {
			return out, nil
		}

		prev, err := node.atIndex(ctx, index-1)
		if err != nil {
			return nil, err
		}
		if !prev.isTree() {
			return out, nil
		}
		node = prev.Tree
	}
}
