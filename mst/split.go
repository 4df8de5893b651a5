package mst

import (
	"context"
	"fmt"
)

// Entry-list primitives. None of these modify the receiver: they copy the entry slice and return a new node with an outdated pointer.

func (mst *MerkleSearchTree) updateEntry(ctx context.Context, ix int, entry NodeEntry) (*MerkleSearchTree, error) {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return nil, err
	}

	nents := make([]NodeEntry, len(entries))
	copy(nents, entries[:ix])
	nents[ix] = entry
	copy(nents[ix+1:], entries[ix+1:])

	if err := checkTreeInvariant(nents); err != nil {
		return nil, err
	}

	return mst.newTree(nents), nil
}

func (mst *MerkleSearchTree) removeEntry(ctx context.Context, ix int) (*MerkleSearchTree, error) {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return nil, err
	}

	nents := make([]NodeEntry, len(entries)-1)
	copy(nents, entries[:ix])
	copy(nents[ix:], entries[ix+1:])

	if err := checkTreeInvariant(nents); err != nil {
		return nil, err
	}
	return mst.newTree(nents), nil
}

func (mst *MerkleSearchTree) append(ctx context.Context, ent NodeEntry) (*MerkleSearchTree, error) {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return nil, err
	}

	nents := make([]NodeEntry, len(entries)+1)
	copy(nents, entries)
	nents[len(nents)-1] = ent

	if err := checkTreeInvariant(nents); err != nil {
		return nil, err
	}
	return mst.newTree(nents), nil
}

func (mst *MerkleSearchTree) prepend(ctx context.Context, ent NodeEntry) (*MerkleSearchTree, error) {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return nil, err
	}

	nents := make([]NodeEntry, len(entries)+1)
	copy(nents[1:], entries)
	nents[0] = ent

	if err := checkTreeInvariant(nents); err != nil {
		return nil, err
	}
	return mst.newTree(nents), nil
}

func (mst *MerkleSearchTree) spliceIn(ctx context.Context, entry NodeEntry, ix int) (*MerkleSearchTree, error) {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return nil, err
	}

	nents := make([]NodeEntry, len(entries)+1)
	copy(nents, entries[:ix])
	nents[ix] = entry
	copy(nents[ix+1:], entries[ix:])

	if err := checkTreeInvariant(nents); err != nil {
		return nil, err
	}
	return mst.newTree(nents), nil
}

// Replaces the entry at ix with [left?, nl, right?]
func (mst *MerkleSearchTree) replaceWithSplit(ctx context.Context, ix int, left *MerkleSearchTree, nl NodeEntry, right *MerkleSearchTree) (*MerkleSearchTree, error) {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return nil, err
	}

	update := make([]NodeEntry, 0, len(entries)+2)
	update = append(update, entries[:ix]...)

	if left != nil {
		update = append(update, treeEntry(left))
	}

	update = append(update, nl)

	if right != nil {
		update = append(update, treeEntry(right))
	}

	update = append(update, entries[ix+1:]...)

	if err := checkTreeInvariant(update); err != nil {
		return nil, err
	}
	return mst.newTree(update), nil
}

// two subtree pointers may never be adjacent; there is no way to serialize that
func checkTreeInvariant(ents []NodeEntry) error {
	for i := 0; i < len(ents)-1; i++ {
		if ents[i].isTree() && ents[i+1].isTree() {
			return fmt.Errorf("%w: two subtrees next to each other (%d, %d)", ErrMalformedNode, i, i+1)
		}
	}
	return nil
}

// Splits a node around the given key: every entry lower than the key goes left, and everything else goes right. A subtree which straddles the key is split recursively.
//
// Returns nil instead of an empty node for either side.
func (mst *MerkleSearchTree) splitAround(ctx context.Context, key string) (*MerkleSearchTree, *MerkleSearchTree, error) {
	// halves inherit the layer of this node
	if _, err := mst.getLayer(ctx); err != nil {
		return nil, nil, err
	}

	index, err := mst.findGtOrEqualLeafIndex(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	leftData, err := mst.slice(ctx, 0, index)
	if err != nil {
		return nil, nil, err
	}
	rightData, err := mst.slice(ctx, index, -1)
	if err != nil {
		return nil, nil, err
	}

	left := mst.newTree(leftData)
	right := mst.newTree(rightData)

	// if the last entry on the left is a subtree, some of its keys may be greater than the split key
	if len(leftData) > 0 && leftData[len(leftData)-1].isTree() {
		lastInLeft := leftData[len(leftData)-1]

		left, err = left.removeEntry(ctx, len(leftData)-1)
		if err != nil {
			return nil, nil, err
		}

		subl, subr, err := lastInLeft.Tree.splitAround(ctx, key)
		if err != nil {
			return nil, nil, err
		}

		if subl != nil {
			left, err = left.append(ctx, treeEntry(subl))
			if err != nil {
				return nil, nil, err
			}
		}

		if subr != nil {
			right, err = right.prepend(ctx, treeEntry(subr))
			if err != nil {
				return nil, nil, err
			}
		}
	}

	leftEntries, err := left.getEntries(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(leftEntries) == 0 {
		left = nil
	}

	rightEntries, err := right.getEntries(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(rightEntries) == 0 {
		right = nil
	}

	return left, right, nil
}

// Merges toMerge onto the end of this node. Every key of toMerge must be greater than every key of this node, and both nodes must be on the same layer.
//
// If the boundary entries on both sides are subtrees, they get merged recursively.
func (mst *MerkleSearchTree) appendMerge(ctx context.Context, toMerge *MerkleSearchTree) (*MerkleSearchTree, error) {
	myLayer, err := mst.getLayer(ctx)
	if err != nil {
		return nil, err
	}

	otherLayer, err := toMerge.getLayer(ctx)
	if err != nil {
		return nil, err
	}

	if myLayer != otherLayer {
		return nil, fmt.Errorf("%w: %d != %d", ErrLayerMismatch, myLayer, otherLayer)
	}

	entries, err := mst.getEntries(ctx)
	if err != nil {
		return nil, err
	}

	toMergeEntries, err := toMerge.getEntries(ctx)
	if err != nil {
		return nil, err
	}

	nents := make([]NodeEntry, 0, len(entries)+len(toMergeEntries))

	if len(entries) > 0 && len(toMergeEntries) > 0 {
		lastInLeft := entries[len(entries)-1]
		firstInRight := toMergeEntries[0]

		if lastInLeft.isTree() && firstInRight.isTree() {
			merged, err := lastInLeft.Tree.appendMerge(ctx, firstInRight.Tree)
			if err != nil {
				return nil, err
			}

			nents = append(nents, entries[:len(entries)-1]...)
			nents = append(nents, treeEntry(merged))
			nents = append(nents, toMergeEntries[1:]...)

			if err := checkTreeInvariant(nents); err != nil {
				return nil, err
			}
			return mst.newTree(nents), nil
		}
	}

	nents = append(nents, entries...)
	nents = append(nents, toMergeEntries...)

	if err := checkTreeInvariant(nents); err != nil {
		return nil, err
	}
	return mst.newTree(nents), nil
}
