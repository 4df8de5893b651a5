package mst

import (
	"context"
	"fmt"
)

// Checks the structure of the whole tree: key order, key layers, no adjacent or empty subtrees, and that every node's pointer matches its encoded entries. Loads the entire tree.
func (mst *MerkleSearchTree) Verify(ctx context.Context) error {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return err
	}
	if len(entries) > 0 && layerForEntries(entries, mst.fanout) < 0 {
		return fmt.Errorf("%w: top of tree is just a pointer to child", ErrMalformedNode)
	}

	var lastKey string
	return mst.verifyStructure(ctx, -1, &lastKey)
}

func (mst *MerkleSearchTree) verifyStructure(ctx context.Context, layer int, lastKey *string) error {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		if layer >= 0 {
			return fmt.Errorf("%w: empty tree node", ErrMalformedNode)
		}
		// entire tree is empty
		return nil
	}

	if layer < 0 {
		layer, err = mst.getLayer(ctx)
		if err != nil {
			return err
		}
	}

	nodeLayer, err := mst.getLayer(ctx)
	if err != nil {
		return err
	}
	if nodeLayer != layer {
		return fmt.Errorf("%w: node has incorrect layer: %d (expected %d)", ErrMalformedNode, nodeLayer, layer)
	}

	lastWasChild := false
	for _, e := range entries {
		switch e.Kind {
		case EntryTree:
			if lastWasChild {
				return fmt.Errorf("%w: sibling children in entries list", ErrMalformedNode)
			}
			lastWasChild = true
			if layer == 0 {
				return fmt.Errorf("%w: child below layer zero", ErrMalformedNode)
			}
			if err := e.Tree.verifyStructure(ctx, layer-1, lastKey); err != nil {
				return err
			}
		case EntryLeaf:
			lastWasChild = false
			if *lastKey != "" && e.Key <= *lastKey {
				return fmt.Errorf("%w: out of order keys (%q after %q)", ErrMalformedNode, e.Key, *lastKey)
			}
			if !IsValidKey(e.Key) {
				return fmt.Errorf("%w: invalid key %q", ErrMalformedNode, e.Key)
			}
			if kl := leadingZerosOnHash(e.Key, mst.fanout); kl != layer {
				return fmt.Errorf("%w: wrong layer for key %q: %d", ErrMalformedNode, e.Key, kl)
			}
			*lastKey = e.Key
		default:
			return fmt.Errorf("%w: entry was neither child nor leaf", ErrMalformedNode)
		}
	}

	ptr, err := mst.GetPointer(ctx)
	if err != nil {
		return err
	}
	computed, err := cidForEntries(ctx, entries)
	if err != nil {
		return err
	}
	if ptr != computed {
		return fmt.Errorf("%w: node pointer %s does not match contents (%s)", ErrMalformedNode, ptr, computed)
	}

	return nil
}
