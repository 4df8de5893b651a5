package mst

import (
	"context"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/xlab/treeprint"
)

func DebugPrintMap(m map[string]cid.Cid) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s\t%s\n", k, m[k])
	}
}

// Renders the tree, loading every node. Leaves show their key, value and layer.
func (mst *MerkleSearchTree) DebugTree(ctx context.Context) (treeprint.Tree, error) {
	ptr, err := mst.GetPointer(ctx)
	if err != nil {
		return nil, err
	}
	layer, err := mst.getLayer(ctx)
	if err != nil {
		return nil, err
	}

	tree := treeprint.NewWithRoot(fmt.Sprintf("%s (layer %d)", ptr, layer))
	if err := mst.debugBranch(ctx, tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func (mst *MerkleSearchTree) debugBranch(ctx context.Context, branch treeprint.Tree) error {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.isLeaf() {
			branch.AddNode(fmt.Sprintf("%s -> %s (%d)", e.Key, e.Val, leadingZerosOnHash(e.Key, mst.fanout)))
			continue
		}

		ptr, err := e.Tree.GetPointer(ctx)
		if err != nil {
			return err
		}
		sub := branch.AddBranch(ptr.String())
		if err := e.Tree.debugBranch(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}
